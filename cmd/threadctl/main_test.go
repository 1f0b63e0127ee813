package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/lock"
	"github.com/matheus3301/threadline/internal/session"
)

func TestFormatRecord(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC).UnixMilli()
	tests := []struct {
		name string
		rec  entity.Record
		want string
	}{
		{
			name: "text",
			rec:  entity.Record{ServerID: 7, SenderName: "Ann", Kind: "text", Text: "hi", Time: at},
			want: "2024-03-05 14:07 #7 Ann: hi",
		},
		{
			name: "falls back to participant and flags",
			rec:  entity.Record{ServerID: 8, ParticipantID: "bob@s", Kind: "text", Text: "yo", Time: at, Edited: true, Pinned: true},
			want: "2024-03-05 14:07 #8 bob@s: yo [edited,pinned]",
		},
		{
			name: "non-text placeholder",
			rec:  entity.Record{ServerID: 9, SenderName: "Ann", Kind: "upload", Time: at},
			want: "2024-03-05 14:07 #9 Ann: <upload>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRecord(tt.rec, time.UTC); got != tt.want {
				t.Errorf("formatRecord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent(chatsdk.Edited{ConversationID: "c", Ref: entity.Ref{ServerID: 3}, Text: "new"}, time.UTC)
	if got != `message.edited c #3 "new"` {
		t.Errorf("formatEvent = %q", got)
	}
	got = formatEvent(chatsdk.Seen{ConversationID: "c"}, time.UTC)
	if got != "message.seen c" {
		t.Errorf("formatEvent = %q", got)
	}
}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := outputJSON(&buf, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"n": 1`) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestListSessions(t *testing.T) {
	t.Setenv(session.HomeEnv, t.TempDir())
	for _, name := range []string{"main", "work"} {
		if err := os.MkdirAll(session.Dir(name), 0700); err != nil {
			t.Fatal(err)
		}
	}
	l, err := lock.Acquire(session.Dir("work"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	var buf bytes.Buffer
	if err := listSessions(&buf, "main", false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "* main") || !strings.HasSuffix(lines[0], "stopped") {
		t.Errorf("main line = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "running") {
		t.Errorf("work line = %q", lines[1])
	}
}
