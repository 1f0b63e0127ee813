// Package tui is the terminal client: a conversation list, the open thread
// and its search, all driven by the daemon through the transport client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/config"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/rowcalc"
	"github.com/matheus3301/threadline/internal/status"
	"github.com/matheus3301/threadline/internal/transport"
	"github.com/matheus3301/threadline/internal/tui/keys"
	"github.com/matheus3301/threadline/internal/tui/model"
	"github.com/matheus3301/threadline/internal/tui/ui"
	"github.com/matheus3301/threadline/internal/tui/views"
	"github.com/matheus3301/threadline/internal/wa"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageSearch        = "search"
	pageInfo          = "info"
	pageHelp          = "help"
	pageAuth          = "auth"

	refreshInterval = 5 * time.Second
	eventBuffer     = 256
	// renderWidth is the text width rows are wrapped to when no row model
	// has been calculated yet.
	renderWidth = 72
)

// Options configure the application.
type Options struct {
	Session string
	Config  *config.Config
	Logger  *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	registry *keys.Registry
	flash    *ui.FlashModel
	vm       *model.ViewModel
	client   *transport.Client
	engine   *rowcalc.Engine
	cfg      *config.Config
	session  string
	logger   *zap.Logger

	root        *tview.Flex
	logo        *ui.Logo
	sessionInfo *ui.SessionInfo
	menu        *ui.Menu
	crumbs      *ui.Crumbs
	flashBar    *ui.FlashBar
	prompt      *ui.Prompt

	list     *views.ConversationList
	thread   *views.MessageThread
	searchV  *views.SearchView
	info     *views.ConversationInfo
	help     *views.HelpView
	authView *views.AuthView

	current *openThread
	authing bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application on top of a started transport client.
func NewApp(c *transport.Client, opts Options) *App {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme, err := ui.ThemeByName(opts.Config.UI.Theme)
	if err != nil {
		opts.Logger.Warn("falling back to default theme", zap.Error(err))
		theme = ui.DefaultTheme()
	}

	a := &App{
		app:         tview.NewApplication(),
		theme:       theme,
		pages:       ui.NewPages(),
		registry:    keys.NewRegistry(),
		flash:       ui.NewFlashModel(),
		vm:          model.NewViewModel(model.RPCSource{RPC: c.RPC()}),
		client:      c,
		engine:      rowcalc.NewEngine(rowcalc.Metrics{}),
		cfg:         opts.Config,
		session:     opts.Session,
		logger:      opts.Logger.Named("tui"),
		logo:        ui.NewLogo(theme),
		sessionInfo: ui.NewSessionInfo(theme),
		menu:        ui.NewMenu(theme),
		crumbs:      ui.NewCrumbs(theme),
		flashBar:    ui.NewFlashBar(theme),
		prompt:      ui.NewPrompt(theme),
		list:        views.NewConversationList(theme),
		thread:      views.NewMessageThread(theme, renderWidth),
		searchV:     views.NewSearchView(theme),
		info:        views.NewConversationInfo(theme),
		help:        views.NewHelpView(theme),
		authView:    views.NewAuthView(theme),
		ctx:         ctx,
		cancel:      cancel,
	}
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Help: "Quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Help: "Show this help", Visible: true,
		Handler: func() { a.pages.Push(pageHelp) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: "::command", Help: "Command mode", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})

	a.registry.AddView(pageConversations, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Description: "/:filter", Help: "Filter conversations (is:group, is:dm, is:channel, is:unread)", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageConversations, "reload", &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:reload", Help: "Reload conversations", Visible: true,
		Handler: func() { go a.refresh() },
	})
	for n := 1; n <= 10; n++ {
		idx := n
		r := rune('0' + n%10)
		a.registry.AddView(pageConversations, fmt.Sprintf("jump%d", n), &keys.Action{
			Rune: r, Key: tcell.KeyRune,
			Handler: func() {
				if c, ok := a.list.ByIndex(idx); ok {
					a.open(c)
				}
			},
		})
	}

	threadKeys := []struct {
		name string
		r    rune
		help string
		fn   func()
	}{
		{"compose", 'i', "Write a message", a.compose},
		{"reply", 'r', "Reply to the selected message", a.reply},
		{"edit", 'e', "Edit the selected message", a.edit},
		{"pin", 'p', "Pin or unpin the selected message", a.togglePin},
		{"delete", 'x', "Delete the selected message", a.deleteSelected},
		{"older", 'g', "Load older messages", func() { a.loadMore(true) }},
		{"newer", 'G', "Load newer messages", func() { a.loadMore(false) }},
		{"search", '/', "Search this conversation", a.showSearch},
		{"details", 'd', "Conversation details", a.showInfo},
	}
	for _, k := range threadKeys {
		a.registry.AddView(pageThread, k.name, &keys.Action{
			Rune: k.r, Key: tcell.KeyRune,
			Description: fmt.Sprintf("%c:%s", k.r, k.name), Help: k.help, Visible: true,
			Handler: k.fn,
		})
	}

	a.help.SetSections([]views.HelpSection{
		{Title: "Global", Entries: append(a.registry.Table(""), keys.Entry{Key: "Esc", Help: "Cancel or go back"})},
		{Title: "Conversations", Entries: append(a.registry.Table(pageConversations),
			keys.Entry{Key: "1-9, 0", Help: "Open the Nth conversation"})},
		{Title: "Thread", Entries: a.registry.Table(pageThread)},
		{Title: "Commands", Entries: commandHelp},
	})
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, _ int) {
		if c, ok := a.list.ByIndex(row); ok {
			a.open(c)
		}
	})

	a.thread.Composer().SetOnSend(a.submitComposer)
	a.thread.Composer().SetOnCancel(func() {
		if a.current != nil {
			a.current.compose = composeState{}
		}
		a.app.SetFocus(a.thread.Rows())
	})

	a.searchV.SetOnQuery(func(query string) {
		ot := a.current
		if ot == nil {
			return
		}
		ot.run("search", func(ctx context.Context) error { return ot.vm.Search(ctx, query) })
	})
	a.searchV.SetOnSelect(func(msg entity.Message) {
		ot := a.current
		if ot == nil {
			return
		}
		a.pages.PopTo(pageThread)
		ref := msg.Ref()
		ot.run("move", func(ctx context.Context) error { return ot.vm.MoveToMessage(ctx, ref, msg.Time) })
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.list.SetFilter(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetCommands(Commands)
	a.prompt.SetOnChange(func(_ ui.PromptMode, text string) { a.list.SetFilter(text) })
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.list.ClearFilter()
		}
		a.hidePrompt()
	})

	a.pages.SetOnChange(a.pageChanged)
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.sessionInfo, 0, 2, false).
		AddItem(a.menu, 0, 3, false).
		AddItem(a.logo, 22, 0, false)

	a.pages.Mount(pageConversations, a.list)
	a.pages.Mount(pageThread, a.thread)
	a.pages.Mount(pageSearch, a.searchV)
	a.pages.Mount(pageInfo, a.info)
	a.pages.Mount(pageHelp, a.help)
	a.pages.Mount(pageAuth, a.authView)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 5, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.app.SetAfterDrawFunc(func(tcell.Screen) { a.trackVisibility() })

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Text inputs handle their own keys, including Escape.
		if isTextInput(a.app.GetFocus()) {
			return event
		}
		if event.Key() == tcell.KeyEscape {
			a.back()
			return nil
		}
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})

	a.pages.Reset(pageConversations)
}

func isTextInput(p tview.Primitive) bool {
	switch p.(type) {
	case *tview.InputField, *views.Composer, *ui.Prompt:
		return true
	}
	return false
}

// pageChanged runs the page lifecycle and refreshes the header.
func (a *App) pageChanged(stack []string, top ui.Component) {
	a.crumbs.Update(stack)
	if top == nil {
		return
	}
	a.menu.Update(top.Hints())
	a.app.SetFocus(a.focusFor(a.pages.Current()))
}

func (a *App) focusFor(page string) tview.Primitive {
	switch page {
	case pageThread:
		return a.thread.Rows()
	case pageSearch:
		return a.searchV.Input()
	case pageInfo:
		return a.info
	case pageHelp:
		return a.help
	case pageAuth:
		return a.authView
	default:
		return a.list
	}
}

// back pops the current page. Leaving the thread closes it.
func (a *App) back() {
	if a.pages.Depth() <= 1 {
		return
	}
	if a.pages.Pop() == pageThread {
		a.closeThread()
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.app.SetFocus(a.focusFor(a.pages.Current()))
}

func (a *App) runCommand(cmd Command) {
	if err := cmd.Validate(); err != nil {
		a.flash.Err(err)
		return
	}
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.pages.Push(pageHelp)
	case "reload":
		go a.refresh()
	case "info":
		a.showInfo()
	case "older":
		a.loadMore(true)
	case "newer":
		a.loadMore(false)
	case "search":
		if a.current == nil {
			a.flash.Warn("open a conversation to search it")
			return
		}
		a.pages.Push(pageSearch)
		a.searchV.Query(cmd.Args)
	case "open":
		var (
			c  api.Conversation
			ok bool
		)
		if n, isIndex := cmd.Index(); isIndex {
			c, ok = a.list.ByIndex(n)
		} else {
			c, ok = matchConversation(a.vm.Conversations(), cmd.Args)
		}
		if !ok {
			a.flash.Errorf("no conversation matches %q", cmd.Args)
			return
		}
		a.open(c)
	}
}

// matchConversation finds a conversation by id, then by exact name, then by
// name prefix, ignoring case.
func matchConversation(convs []api.Conversation, q string) (api.Conversation, bool) {
	for _, c := range convs {
		if c.ID == q {
			return c, true
		}
	}
	for _, c := range convs {
		if strings.EqualFold(c.Name, q) {
			return c, true
		}
	}
	lq := strings.ToLower(q)
	for _, c := range convs {
		if strings.HasPrefix(strings.ToLower(c.Name), lq) {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// Run loads the initial state and blocks until the application exits.
func (a *App) Run() error {
	events, unsubscribe := a.client.Subscribe("", eventBuffer)
	go a.watchEvents(events)
	go a.watchFlash()
	go func() {
		a.refresh()
		a.refreshLoop()
	}()

	err := a.app.Run()
	unsubscribe()
	a.cancel()
	return err
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.refresh()
		case <-a.ctx.Done():
			return
		}
	}
}

// refresh reloads status and conversations and redraws the chrome.
func (a *App) refresh() {
	if err := a.vm.LoadStatus(a.ctx); err != nil {
		a.logger.Warn("status refresh failed", zap.Error(err))
		a.flash.Err(err)
		return
	}
	if err := a.vm.LoadConversations(a.ctx); err != nil {
		a.logger.Warn("conversation refresh failed", zap.Error(err))
		a.flash.Err(err)
	}
	a.app.QueueUpdateDraw(func() {
		st := a.vm.Status()
		a.sessionInfo.Update(ui.SessionDataFrom(st))
		a.list.Update(a.vm.Conversations())
		a.flashBar.Update(a.flash.GetMessage())

		authRequired := st != nil && st.State == string(status.AuthRequired)
		switch {
		case authRequired && !a.authing:
			a.authing = true
			a.pages.Push(pageAuth)
			a.authView.ShowMessage("Starting authentication...")
			go a.runAuthFlow()
		case !authRequired && a.pages.Current() == pageAuth:
			a.pages.Reset(pageConversations)
		}
	})
}

func (a *App) watchEvents(events <-chan chatsdk.Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if a.vm.Apply(evt) {
				a.app.QueueUpdateDraw(func() { a.list.Update(a.vm.Conversations()) })
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) watchFlash() {
	for {
		select {
		case msg := <-a.flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(&msg) })
		case <-a.ctx.Done():
			return
		}
	}
}

// runAuthFlow streams pairing events from the daemon to the auth view.
func (a *App) runAuthFlow() {
	defer a.app.QueueUpdate(func() { a.authing = false })

	stream, err := a.client.RPC().Auth(a.ctx, &api.AuthRequest{})
	if err != nil {
		a.app.QueueUpdateDraw(func() { a.authView.ShowMessage("Auth error: " + err.Error()) })
		return
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.app.QueueUpdateDraw(func() { a.authView.ShowMessage("Auth stream ended: " + err.Error()) })
			}
			return
		}
		ev := *evt
		a.app.QueueUpdateDraw(func() { a.authView.Show(ev) })
		if ev.Type != wa.AuthEventQRCode {
			go a.refresh()
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.closeThread()
	a.cancel()
	a.app.Stop()
}
