package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/lock"
	"github.com/matheus3301/threadline/internal/session"
	"github.com/matheus3301/threadline/internal/transport"
	"github.com/matheus3301/threadline/internal/tui/views"
	"github.com/matheus3301/threadline/internal/wa"
)

const requestTimeout = 10 * time.Second

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "sessions" {
		if err := listSessions(os.Stdout, sessionName, *jsonFlag); err != nil {
			fail(err)
		}
		return
	}

	conn, err := transport.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &ctl{
		rpc:     api.NewHistoryClient(conn),
		session: sessionName,
		json:    *jsonFlag,
		out:     os.Stdout,
	}

	switch args[0] {
	case "status":
		err = c.status(ctx)
	case "auth":
		err = c.auth(ctx)
	case "conversations":
		err = c.conversations(ctx, args[1:])
	case "history":
		err = c.history(ctx, args[1:])
	case "tail":
		err = c.tail(ctx, args[1:])
	case "send":
		err = c.send(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: threadctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sessions                              List local sessions")
	fmt.Fprintln(os.Stderr, "  status                                Show session status")
	fmt.Fprintln(os.Stderr, "  auth                                  Pair the session by QR code")
	fmt.Fprintln(os.Stderr, "  conversations [-limit n]              List conversations")
	fmt.Fprintln(os.Stderr, "  history [-limit n] [-before ms] [-after ms] [-query q] <conversation>")
	fmt.Fprintln(os.Stderr, "                                        Print one page of history")
	fmt.Fprintln(os.Stderr, "  tail [conversation]                   Follow live events")
	fmt.Fprintln(os.Stderr, "  send [-reply id] <conversation> <text> Send a text message")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// listSessions prints the sessions on disk, marking the selected one and
// those whose daemon currently holds the lock.
func listSessions(w io.Writer, selected string, asJSON bool) error {
	names, err := session.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	type row struct {
		Name     string `json:"name"`
		Selected bool   `json:"selected"`
		Running  bool   `json:"running"`
	}
	rows := make([]row, 0, len(names))
	for _, name := range names {
		held, _ := lock.Holder(session.Dir(name))
		rows = append(rows, row{Name: name, Selected: name == selected, Running: held != nil})
	}
	if asJSON {
		return outputJSON(w, rows)
	}
	for _, r := range rows {
		mark, state := " ", "stopped"
		if r.Selected {
			mark = "*"
		}
		if r.Running {
			state = "running"
		}
		_, _ = fmt.Fprintf(w, "%s %-20s %s\n", mark, r.Name, state)
	}
	return nil
}

type ctl struct {
	rpc     *api.HistoryClient
	session string
	json    bool
	out     io.Writer
}

func (c *ctl) status(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.rpc.Status(ctx, &api.StatusRequest{})
	if err != nil {
		// A held lock with no answering socket means the daemon is booting.
		if held, herr := lock.Holder(session.Dir(c.session)); herr == nil && held != nil {
			return fmt.Errorf("daemon not answering (%w)", held)
		}
		return fmt.Errorf("daemon not running: %w", err)
	}
	if c.json {
		return outputJSON(c.out, resp)
	}
	_, _ = fmt.Fprintf(c.out, "Session:       %s\n", resp.Session)
	_, _ = fmt.Fprintf(c.out, "Status:        %s\n", resp.State)
	if resp.PhoneNumber != "" {
		_, _ = fmt.Fprintf(c.out, "Phone:         %s\n", resp.PhoneNumber)
	}
	if resp.SelfName != "" {
		_, _ = fmt.Fprintf(c.out, "Self:          %s\n", resp.SelfName)
	}
	_, _ = fmt.Fprintf(c.out, "Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	_, _ = fmt.Fprintf(c.out, "Conversations: %d\n", resp.ConversationCount)
	_, _ = fmt.Fprintf(c.out, "Messages:      %d\n", resp.MessageCount)
	if resp.DroppedEvents > 0 {
		_, _ = fmt.Fprintf(c.out, "Dropped:       %d\n", resp.DroppedEvents)
	}
	return nil
}

func (c *ctl) auth(ctx context.Context) error {
	stream, err := c.rpc.Auth(ctx, &api.AuthRequest{})
	if err != nil {
		return fmt.Errorf("start auth: %w", err)
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("auth stream: %w", err)
		}
		if c.json {
			if err := outputJSON(c.out, evt); err != nil {
				return err
			}
		} else {
			switch evt.Type {
			case wa.AuthEventQRCode:
				_, _ = fmt.Fprintf(c.out, "\nScan this QR code with WhatsApp:\n\n%s\n", views.RenderQR(evt.QRCode))
			case wa.AuthEventAuthenticated:
				_, _ = fmt.Fprintln(c.out, "Authenticated.")
			default:
				msg := evt.Message
				if msg == "" {
					msg = string(evt.Type)
				}
				_, _ = fmt.Fprintf(c.out, "Authentication failed: %s\n", msg)
			}
		}
		switch evt.Type {
		case wa.AuthEventAuthenticated:
			return nil
		case wa.AuthEventAuthFailed, wa.AuthEventTimeout:
			return errors.New("authentication did not complete")
		}
	}
}

func (c *ctl) conversations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("conversations", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum conversations to list")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := c.rpc.ListConversations(ctx, &api.ListConversationsRequest{Limit: *limit})
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if c.json {
		return outputJSON(c.out, resp)
	}
	if len(resp.Conversations) == 0 {
		_, _ = fmt.Fprintln(c.out, "No conversations.")
		return nil
	}
	for _, conv := range resp.Conversations {
		name := conv.Name
		if name == "" {
			name = conv.ID
		}
		_, _ = fmt.Fprintf(c.out, "%-30s %-40s %4d unread\n", name, conv.ID, conv.UnreadCount)
	}
	return nil
}

func (c *ctl) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 50, "page size")
	before := fs.Int64("before", 0, "only messages before this unix ms time")
	after := fs.Int64("after", 0, "only messages after this unix ms time")
	query := fs.String("query", "", "search text instead of paging")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: threadctl history [flags] <conversation>")
	}

	req := &api.FetchPageRequest{
		ConversationID: fs.Arg(0),
		Window:         chatsdk.Window{From: *after, To: *before, Limit: *limit, Newest: *after == 0},
		Query:          *query,
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := c.rpc.FetchPage(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if c.json {
		return outputJSON(c.out, resp)
	}
	for _, rec := range resp.Records {
		_, _ = fmt.Fprintln(c.out, formatRecord(rec, time.Local))
	}
	if resp.HasMore {
		_, _ = fmt.Fprintln(c.out, "(more)")
	}
	return nil
}

func (c *ctl) tail(ctx context.Context, args []string) error {
	req := &api.WatchRequest{}
	if len(args) > 0 {
		req.ConversationID = args[0]
	}
	stream, err := c.rpc.Watch(ctx, req)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for {
		env, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch stream: %w", err)
		}
		if c.json {
			if err := outputJSON(c.out, env); err != nil {
				return err
			}
			continue
		}
		evt, err := chatsdk.Decode(*env)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "skip: %v\n", err)
			continue
		}
		_, _ = fmt.Fprintln(c.out, formatEvent(evt, time.Local))
	}
}

func (c *ctl) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	reply := fs.Int64("reply", 0, "server id of the message to reply to")
	_ = fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("usage: threadctl send [-reply id] <conversation> <text>")
	}

	req := &chatsdk.SendRequest{
		ConversationID: fs.Arg(0),
		UniqueToken:    uuid.NewString(),
		Text:           strings.Join(fs.Args()[1:], " "),
	}
	if *reply != 0 {
		req.ReplyTo = &entity.Ref{ServerID: *reply}
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	ack, err := c.rpc.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if c.json {
		return outputJSON(c.out, ack)
	}
	if !ack.Accepted {
		return fmt.Errorf("send rejected: %s", ack.Message)
	}
	_, _ = fmt.Fprintf(c.out, "queued %s\n", req.UniqueToken)
	return nil
}

func formatRecord(rec entity.Record, loc *time.Location) string {
	who := rec.SenderName
	if who == "" {
		who = rec.ParticipantID
	}
	var flags []string
	if rec.Edited {
		flags = append(flags, "edited")
	}
	if rec.Pinned {
		flags = append(flags, "pinned")
	}
	if rec.Failed {
		flags = append(flags, "failed")
	}
	text := rec.Text
	if text == "" && rec.Kind != "" && rec.Kind != entity.KindText.String() {
		text = "<" + rec.Kind + ">"
	}
	line := fmt.Sprintf("%s #%d %s: %s",
		time.UnixMilli(rec.Time).In(loc).Format("2006-01-02 15:04"), rec.ServerID, who, text)
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ",") + "]"
	}
	return line
}

func formatEvent(evt chatsdk.Event, loc *time.Location) string {
	prefix := evt.Kind() + " " + evt.Conversation()
	switch e := evt.(type) {
	case chatsdk.NewMessage:
		return prefix + " " + formatRecord(e.Record, loc)
	case chatsdk.Edited:
		return fmt.Sprintf("%s #%d %q", prefix, e.Ref.ServerID, e.Text)
	case chatsdk.Deleted:
		return fmt.Sprintf("%s #%d", prefix, e.Ref.ServerID)
	case chatsdk.PinChanged:
		return fmt.Sprintf("%s #%d pinned=%v", prefix, e.Ref.ServerID, e.Pinned)
	case chatsdk.Sent:
		return fmt.Sprintf("%s %s -> #%d", prefix, e.UniqueToken, e.ServerID)
	case chatsdk.SendFailed:
		return fmt.Sprintf("%s %s %s", prefix, e.UniqueToken, e.Reason)
	case chatsdk.UnreadCountChanged:
		return fmt.Sprintf("%s %d", prefix, e.Count)
	default:
		return prefix
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
