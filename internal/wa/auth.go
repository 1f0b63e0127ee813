package wa

import (
	"context"

	"go.mau.fi/whatsmeow"
)

// AuthEventType names a step of QR pairing.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent is one pairing update as streamed to clients.
type AuthEvent struct {
	Type    AuthEventType `json:"type"`
	QRCode  string        `json:"qr_code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Terminal QR channel events and what the user is told about them.
var qrOutcomes = map[string]AuthEvent{
	whatsmeow.QRChannelSuccess.Event:                   {Type: AuthEventAuthenticated, Message: "authenticated"},
	whatsmeow.QRChannelTimeout.Event:                   {Type: AuthEventTimeout, Message: "QR code timeout"},
	whatsmeow.QRChannelClientOutdated.Event:            {Type: AuthEventAuthFailed, Message: "client version rejected by WhatsApp, update threadline"},
	whatsmeow.QRChannelScannedWithoutMultidevice.Event: {Type: AuthEventAuthFailed, Message: "enable multi-device on the phone and scan again"},
	whatsmeow.QRChannelErrUnexpectedEvent.Event:        {Type: AuthEventAuthFailed, Message: "unexpected pairing state"},
}

// StartQRAuth connects and streams pairing events. The channel closes after
// the first terminal event or when ctx ends.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	items, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan AuthEvent, 10)
	go func() {
		defer close(out)
		emit := func(evt AuthEvent) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// whatsmeow only fills the QR channel once Connect runs.
		if err := a.Connect(); err != nil {
			emit(AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}
		for item := range items {
			evt, done := authEventFor(item)
			if evt == nil {
				continue
			}
			if !emit(*evt) || done {
				return
			}
		}
	}()
	return out, nil
}

// authEventFor maps a QR channel item. done reports the end of the flow.
func authEventFor(item whatsmeow.QRChannelItem) (evt *AuthEvent, done bool) {
	if item.Event == whatsmeow.QRChannelEventCode {
		return &AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}, false
	}
	if known, ok := qrOutcomes[item.Event]; ok {
		return &known, true
	}
	if item.Error != nil {
		return &AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}, true
	}
	return nil, false
}
