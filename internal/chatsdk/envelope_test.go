package chatsdk

import (
	"testing"

	"github.com/matheus3301/threadline/internal/entity"
)

func TestEnvelopeKeepsConcreteType(t *testing.T) {
	in := Seen{ConversationID: "42", Ref: entity.Ref{ServerID: 9, Token: "t"}}
	env, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(env)
	if err != nil {
		t.Fatal(err)
	}
	seen, ok := out.(Seen)
	if !ok {
		t.Fatalf("decoded %T, want Seen", out)
	}
	if seen != in {
		t.Errorf("decoded %+v, want %+v", seen, in)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := Decode(Envelope{Kind: "message.teleported", Payload: []byte(`{}`)}); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestEveryKindDecodes(t *testing.T) {
	events := []Event{
		HistoryPage{}, NewMessage{}, Sent{}, SendFailed{}, Delivered{}, Seen{}, Edited{},
		Deleted{}, PinChanged{}, ParticipantChanged{}, UnreadCountChanged{},
		LastSeenUpdated{}, UploadProgress{}, UploadFinished{},
	}
	for _, e := range events {
		if _, ok := decoders[e.Kind()]; !ok {
			t.Errorf("no decoder for %s", e.Kind())
		}
	}
}
