package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/rowcalc"
	"github.com/matheus3301/threadline/internal/thread"
)

// Line is one terminal row of a rendered thread. Token is empty for day
// headers and spacing.
type Line struct {
	Text  string
	Token string
	Right bool
}

// RenderOptions controls thread rendering.
type RenderOptions struct {
	// Width is the wrap width for rows without a computed model.
	Width int
	// Local renders times in this zone. Nil means time.Local.
	Local *time.Location
}

// Lines flattens a snapshot into terminal rows, oldest first. Rows whose
// model is not computed yet are wrapped at opts.Width.
func Lines(snap *thread.Snapshot, opts RenderOptions) []Line {
	if snap == nil {
		return nil
	}
	if opts.Width <= 0 {
		opts.Width = 60
	}
	if opts.Local == nil {
		opts.Local = time.Local
	}
	var out []Line
	for _, sec := range snap.Sections {
		out = append(out, Line{Text: dayHeader(sec.Day.Time())})
		for _, row := range sec.Rows {
			out = append(out, rowLines(row, opts)...)
		}
	}
	return out
}

func dayHeader(day time.Time) string {
	return fmt.Sprintf("[::d]── %s ──[-:-:-]", day.Format("Mon, Jan 2 2006"))
}

func rowLines(row thread.Row, opts RenderOptions) []Line {
	m := row.Message
	tok := m.UniqueToken
	switch b := m.Body.(type) {
	case entity.Divider:
		return []Line{{Text: fmt.Sprintf("[yellow::b]── %d unread ──[-:-:-]", b.Unread), Token: tok}}
	case entity.System:
		return []Line{{Text: "[::d]" + tview.Escape(systemText(b)) + "[-:-:-]", Token: tok}}
	}

	model := row.Model
	me := model != nil && model.IsMe
	var lines []Line
	add := func(s string) { lines = append(lines, Line{Text: s, Token: tok, Right: me}) }

	if model != nil && model.GroupName != "" {
		add(fmt.Sprintf("[%s::b]%s[-:-:-]", model.AvatarColor, tview.Escape(sanitizeForTerminal(model.GroupName))))
	}
	switch b := m.Body.(type) {
	case entity.Reply:
		add("[::d]│ " + tview.Escape(sanitizeForTerminal(quoteText(b))) + "[-:-:-]")
	case entity.Forward:
		add("[::i]forwarded[-:-:-]")
	case entity.Upload:
		add(fmt.Sprintf("[::d]uploading %s %d%%[-:-:-]", tview.Escape(b.FileName), int(b.Progress*100)))
	}
	if a := attachmentOf(m); a != nil && a.Media != "" {
		add("[::d]" + tview.Escape(attachmentLabel(*a)) + "[-:-:-]")
	}
	for _, l := range textLines(m, model, opts.Width) {
		add(tview.Escape(sanitizeForTerminal(l)))
	}
	add("[::d]" + footer(&m, me, opts.Local) + "[-:-:-]")
	if model == nil || model.IsLastOfRun {
		lines = append(lines, Line{Token: tok, Right: me})
	}
	return lines
}

func textLines(m entity.Message, model *rowcalc.Model, width int) []string {
	if model != nil && len(model.TextLines) > 0 {
		return model.TextLines
	}
	if m.Text == "" {
		return nil
	}
	return strings.Split(wordwrap.String(m.Text, width), "\n")
}

func quoteText(r entity.Reply) string {
	text := r.Text
	if r.IsImage && text == "" {
		text = "photo"
	}
	if r.SenderName != "" {
		return r.SenderName + ": " + text
	}
	return text
}

func attachmentOf(m entity.Message) *entity.Attachment {
	switch b := m.Body.(type) {
	case entity.Text:
		return &b.Attachment
	case entity.Reply:
		return &b.Attachment
	case entity.Forward:
		return &b.Attachment
	}
	return nil
}

func attachmentLabel(a entity.Attachment) string {
	switch a.Media {
	case entity.MediaLocation:
		return fmt.Sprintf("[location %.5f,%.5f]", a.Latitude, a.Longitude)
	case entity.MediaFile:
		if a.FileName != "" {
			return "[file " + a.FileName + "]"
		}
	}
	if a.Width > 0 && a.Height > 0 {
		return fmt.Sprintf("[%s %dx%d]", a.Media, a.Width, a.Height)
	}
	return "[" + string(a.Media) + "]"
}

func systemText(s entity.System) string {
	switch s.Event {
	case entity.SystemJoined:
		return s.Actor + " joined"
	case entity.SystemLeft:
		return s.Actor + " left"
	case entity.SystemCallStarted:
		return "call started"
	case entity.SystemCallEnded:
		return "call ended"
	}
	return string(s.Event)
}

// footer is the time line under a message with its markers.
func footer(m *entity.Message, me bool, loc *time.Location) string {
	parts := []string{time.UnixMilli(m.Time).In(loc).Format("15:04")}
	if m.Edited {
		parts = append(parts, "edited")
	}
	if m.Pinned {
		parts = append(parts, "pinned")
	}
	if me {
		parts = append(parts, deliveryMark(m))
	}
	return strings.Join(parts, " · ")
}

func deliveryMark(m *entity.Message) string {
	switch {
	case m.Failed:
		return "failed"
	case m.IsPending():
		return "sending"
	case m.Delivery.Seen:
		return "seen"
	case m.Delivery.Delivered:
		return "delivered"
	default:
		return "sent"
	}
}
