package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func TestRemoveStaleSocket(t *testing.T) {
	dir := shortDir(t, "stale")

	if err := removeStaleSocket(filepath.Join(dir, "missing.sock")); err != nil {
		t.Errorf("missing path: %v", err)
	}

	sock := filepath.Join(dir, "old.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	// Closing a unix listener unlinks its file; keep the file around.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = ln.Close()
	if err := removeStaleSocket(sock); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(sock); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale socket still present: %v", err)
	}

	plain := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(plain, []byte("keep"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := removeStaleSocket(plain); err == nil {
		t.Error("a regular file must not be removed")
	}
}

func TestRecoverUnary(t *testing.T) {
	intercept := recoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/threadline.v1.History/Status"}

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("nil map")
	})
	if grpcstatus.Code(err) != codes.Internal {
		t.Errorf("panic became %v, want Internal", err)
	}

	resp, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Errorf("passthrough = %v, %v", resp, err)
	}
}
