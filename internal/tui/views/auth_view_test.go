package views

import (
	"strings"
	"testing"

	"github.com/matheus3301/threadline/internal/tui/ui"
	"github.com/matheus3301/threadline/internal/wa"
)

func TestRenderQR(t *testing.T) {
	out := RenderQR("2@pairing-ref,key,secret")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 10 {
		t.Fatalf("QR has %d lines", len(lines))
	}
	width := len([]rune(lines[0]))
	for i, l := range lines {
		if n := len([]rune(l)); n != width {
			t.Fatalf("line %d is %d runes wide, want %d", i, n, width)
		}
		if strings.Trim(l, " ▄▀█") != "" {
			t.Fatalf("line %d has unexpected runes: %q", i, l)
		}
	}
}

func TestAuthViewShow(t *testing.T) {
	av := NewAuthView(ui.DefaultTheme())
	if av.Show(wa.AuthEvent{Type: wa.AuthEventQRCode, QRCode: "a"}) {
		t.Error("a QR code does not end pairing")
	}
	av.Show(wa.AuthEvent{Type: wa.AuthEventQRCode, QRCode: "b"})
	if !strings.Contains(av.GetText(true), "code 2") {
		t.Errorf("second code not counted: %q", av.GetText(true))
	}

	tests := []struct {
		evt  wa.AuthEvent
		want string
	}{
		{wa.AuthEvent{Type: wa.AuthEventAuthenticated}, "Paired"},
		{wa.AuthEvent{Type: wa.AuthEventTimeout}, "timed out"},
		{wa.AuthEvent{Type: wa.AuthEventAuthFailed, Message: "device removed"}, "device removed"},
		{wa.AuthEvent{Type: wa.AuthEventAuthFailed}, "Pairing failed"},
	}
	for _, tt := range tests {
		if !av.Show(tt.evt) {
			t.Errorf("%s should end pairing", tt.evt.Type)
		}
		if got := av.GetText(true); !strings.Contains(got, tt.want) {
			t.Errorf("%s shows %q, want %q", tt.evt.Type, got, tt.want)
		}
	}
}
