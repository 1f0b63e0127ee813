package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/matheus3301/threadline/internal/tui/ui"
	"github.com/matheus3301/threadline/internal/wa"
)

// AuthView walks the user through pairing the session with a phone.
type AuthView struct {
	*tview.TextView
	theme *ui.Theme
	codes int
}

func NewAuthView(theme *ui.Theme) *AuthView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true).
		SetTitle(" Pair this session ").
		SetTitleColor(theme.TitleColor).
		SetBorderColor(theme.BorderColor).
		SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	return &AuthView{TextView: tv, theme: theme}
}

func (av *AuthView) Name() string { return "Auth" }
func (av *AuthView) Start() { av.codes = 0 }
func (av *AuthView) Stop() {}

func (av *AuthView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// Show renders one pairing event and reports whether pairing is over.
// Codes rotate while the phone has not scanned; each one replaces the last.
func (av *AuthView) Show(evt wa.AuthEvent) (done bool) {
	switch evt.Type {
	case wa.AuthEventQRCode:
		av.codes++
		av.Clear()
		_, _ = fmt.Fprintf(av, "\nOpen WhatsApp > Linked devices and scan:\n\n%s\n[::d]code %d, refreshes until scanned[-:-:-]",
			RenderQR(evt.QRCode), av.codes)
		return false
	case wa.AuthEventAuthenticated:
		av.ShowMessage("Paired. Loading conversations...")
	case wa.AuthEventTimeout:
		av.ShowMessage(orDefault(evt.Message, "Pairing timed out. Reopen the app to get a new code."))
	default:
		av.ShowMessage(orDefault(evt.Message, "Pairing failed"))
	}
	return true
}

// ShowMessage replaces the view with a single status line.
func (av *AuthView) ShowMessage(msg string) {
	av.Clear()
	_, _ = fmt.Fprintf(av, "\n\n%s", tview.Escape(msg))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// halfBlocks is indexed by top<<1 | bottom module.
var halfBlocks = [4]rune{' ', '▄', '▀', '█'}

// RenderQR draws content as a QR code in half-block characters, packing
// two module rows into one terminal line.
func RenderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "(cannot draw pairing code: " + err.Error() + ")"
	}
	bitmap := qr.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			idx := 0
			if bitmap[y][x] {
				idx |= 2
			}
			if y+1 < len(bitmap) && bitmap[y+1][x] {
				idx |= 1
			}
			sb.WriteRune(halfBlocks[idx])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
