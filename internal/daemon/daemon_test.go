package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/ingest"
	"github.com/matheus3301/threadline/internal/lock"
	"github.com/matheus3301/threadline/internal/status"
	"github.com/matheus3301/threadline/internal/store"
)

// shortDir returns a temp dir under /tmp to stay below the 104-char Unix
// socket path limit on macOS.
func shortDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func openStore(t *testing.T, dir string) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// serve starts a Server for svc on a socket in dir and returns a client.
func serve(t *testing.T, dir string, svc *api.HistoryService) *api.HistoryClient {
	t.Helper()
	socketPath := filepath.Join(dir, "d.sock")
	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zaptest.NewLogger(t), svc)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		api.CallOptions(),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return api.NewHistoryClient(conn)
}

func newService(db *store.DB, machine *status.SessionMachine, logger *zap.Logger) *api.HistoryService {
	events := bus.New[chatsdk.Event]()
	return api.NewHistoryService(api.Deps{
		SessionName: "test",
		DB:          db,
		Events:      events,
		Engine:      ingest.NewEngine(db, bus.New[ingest.Inbound](), events, logger),
		Machine:     machine,
		Logger:      logger,
	})
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir := shortDir(t, "threadline-test-*")
	sessionDir := filepath.Join(tmpDir, "test")

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db := openStore(t, sessionDir)
	logger := zaptest.NewLogger(t)
	machine := status.NewSessionMachine(nil)
	client := serve(t, sessionDir, newService(db, machine, logger))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Status(ctx, &api.StatusRequest{})
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if resp.Session != "test" {
		t.Errorf("session = %q, want test", resp.Session)
	}
	if resp.State != string(status.Booting) {
		t.Errorf("state = %v, want BOOTING", resp.State)
	}

	convs, err := client.ListConversations(ctx, &api.ListConversationsRequest{})
	if err != nil {
		t.Fatalf("ListConversations error = %v", err)
	}
	if len(convs.Conversations) != 0 {
		t.Errorf("expected 0 conversations, got %d", len(convs.Conversations))
	}

	const chat = "test@s.whatsapp.net"
	if err := db.UpsertConversation(&store.Conversation{ID: chat, Name: "Test", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessage(entity.Record{
		UniqueToken:    ingest.TokenFor("m1"),
		ConversationID: chat,
		ParticipantID:  chat,
		Kind:           entity.KindText.String(),
		Text:           "hello world",
		Time:           1000,
		Sent:           true,
	}, "m1"); err != nil {
		t.Fatal(err)
	}

	convs, err = client.ListConversations(ctx, &api.ListConversationsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(convs.Conversations) != 1 {
		t.Errorf("expected 1 conversation, got %d", len(convs.Conversations))
	}

	page, err := client.FetchPage(ctx, &api.FetchPageRequest{ConversationID: chat, Window: chatsdk.Window{Limit: 10}})
	if err != nil {
		t.Fatalf("FetchPage error = %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Text != "hello world" {
		t.Errorf("FetchPage records = %+v", page.Records)
	}

	found, err := client.FetchPage(ctx, &api.FetchPageRequest{ConversationID: chat, Query: "hello"})
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if len(found.Records) != 1 {
		t.Errorf("expected 1 search result, got %d", len(found.Records))
	}
}

// TestStatusTransitionsToAuthRequired verifies the daemon status leaves
// BOOTING when there are no credentials.
// Regression test: the daemon previously stayed in BOOTING forever because
// nothing transitioned the state machine after startup.
func TestStatusTransitionsToAuthRequired(t *testing.T) {
	tmpDir := shortDir(t, "threadline-auth-*")
	machine := status.NewSessionMachine(nil)

	// Simulate what registerLifecycle does when adapter is NOT logged in.
	_ = machine.Transition(status.AuthRequired)

	client := serve(t, tmpDir, newService(openStore(t, tmpDir), machine, zap.NewNop()))
	resp, err := client.Status(context.Background(), &api.StatusRequest{})
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if resp.State != string(status.AuthRequired) {
		t.Errorf("state = %v, want AUTH_REQUIRED; daemon must not stay in BOOTING when unauthenticated", resp.State)
	}
}

// TestStatusReflectsPostAuthTransition verifies that the status endpoint
// follows state changes after authentication completes.
// Regression: the Connected event once tried an invalid
// AUTH_REQUIRED→SYNCING transition; it must route through CONNECTING.
func TestStatusReflectsPostAuthTransition(t *testing.T) {
	tmpDir := shortDir(t, "threadline-post-auth-*")
	machine := status.NewSessionMachine(nil)
	_ = machine.Transition(status.AuthRequired)

	client := serve(t, tmpDir, newService(openStore(t, tmpDir), machine, zap.NewNop()))
	ctx := context.Background()

	steps := []struct {
		to   []status.State
		want status.State
	}{
		{nil, status.AuthRequired},
		{[]status.State{status.Connecting, status.Syncing}, status.Syncing},
		{[]status.State{status.Ready}, status.Ready},
	}
	for _, step := range steps {
		if err := machine.Walk(step.to...); err != nil {
			t.Fatalf("Walk(%v): %v", step.to, err)
		}
		resp, err := client.Status(ctx, &api.StatusRequest{})
		if err != nil {
			t.Fatal(err)
		}
		if resp.State != string(step.want) {
			t.Errorf("state = %v, want %v", resp.State, step.want)
		}
	}
}

// TestFxModuleWiring verifies NewServer takes Params rather than a bare
// string, which fx cannot resolve ("missing type: string").
func TestFxModuleWiring(t *testing.T) {
	tmpDir := shortDir(t, "threadline-fx-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	p := Params{SessionName: "fxtest", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), api.NewHistoryService(api.Deps{SessionName: "fxtest"}))
	if err != nil {
		t.Fatalf("NewServer() with Params failed: %v", err)
	}
	if srv.SocketPath() != socketPath {
		t.Errorf("SocketPath() = %q, want %q", srv.SocketPath(), socketPath)
	}

	info, statErr := os.Stat(socketPath)
	if statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 0600", perm)
	}

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop: %v", err)
	}
}

type fakeDirectory struct {
	participants []store.Participant
	aliases      []store.Alias
}

func (f fakeDirectory) Participants(context.Context) []store.Participant { return f.participants }
func (f fakeDirectory) Aliases(context.Context) []store.Alias           { return f.aliases }

func TestSyncDirectory(t *testing.T) {
	db := openStore(t, t.TempDir())
	const lid, pn = "123@lid", "5585@s.whatsapp.net"

	if err := db.UpsertConversation(&store.Conversation{ID: lid, Name: "Alice", LastMessageAt: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessage(entity.Record{
		UniqueToken:    ingest.TokenFor("x1"),
		ConversationID: lid,
		ParticipantID:  lid,
		Kind:           entity.KindText.String(),
		Text:           "hi",
		Time:           10,
		Sent:           true,
	}, "x1"); err != nil {
		t.Fatal(err)
	}

	dir := fakeDirectory{
		participants: []store.Participant{{ID: pn, Name: "Alice"}},
		aliases:      []store.Alias{{Alias: lid, Canonical: pn}},
	}
	syncDirectory(context.Background(), db, dir, zaptest.NewLogger(t))

	p, err := db.GetParticipant(pn)
	if err != nil || p == nil || p.DisplayName() != "Alice" {
		t.Fatalf("GetParticipant = %+v, %v", p, err)
	}
	if got, _ := db.Canonical(lid); got != pn {
		t.Errorf("Canonical(%q) = %q, want %q", lid, got, pn)
	}
	if sm, err := db.MessageByExternalID(pn, "x1"); err != nil || sm == nil {
		t.Errorf("message not moved to canonical conversation: %v", err)
	}
}
