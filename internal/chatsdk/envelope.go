package chatsdk

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire form of an event.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

var decoders = map[string]func([]byte) (Event, error){
	HistoryPage{}.Kind():        decodeAs[HistoryPage],
	NewMessage{}.Kind():         decodeAs[NewMessage],
	Sent{}.Kind():               decodeAs[Sent],
	SendFailed{}.Kind():         decodeAs[SendFailed],
	Delivered{}.Kind():          decodeAs[Delivered],
	Seen{}.Kind():               decodeAs[Seen],
	Edited{}.Kind():             decodeAs[Edited],
	Deleted{}.Kind():            decodeAs[Deleted],
	PinChanged{}.Kind():         decodeAs[PinChanged],
	ParticipantChanged{}.Kind(): decodeAs[ParticipantChanged],
	UnreadCountChanged{}.Kind(): decodeAs[UnreadCountChanged],
	LastSeenUpdated{}.Kind():    decodeAs[LastSeenUpdated],
	UploadProgress{}.Kind():     decodeAs[UploadProgress],
	UploadFinished{}.Kind():     decodeAs[UploadFinished],
}

func decodeAs[E Event](b []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode wraps an event for the wire.
func Encode(e Event) (Envelope, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return Envelope{Kind: e.Kind(), Payload: b}, nil
}

// Decode unwraps an event received from the wire.
func Decode(env Envelope) (Event, error) {
	dec, ok := decoders[env.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	e, err := dec(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return e, nil
}
