package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/config"
	"github.com/matheus3301/threadline/internal/logging"
	"github.com/matheus3301/threadline/internal/session"
	"github.com/matheus3301/threadline/internal/store"
	"github.com/matheus3301/threadline/internal/transport"
	"github.com/matheus3301/threadline/internal/tui"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	debugFlag := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := run(sessionName, *debugFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(sessionName string, debug bool) error {
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := session.EnsureDir(sessionName); err != nil {
		return err
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	// The terminal belongs to the UI, so logs only go to the file.
	logger, err := logging.NewFile(session.LogPath(sessionName, "threadtui"), sessionName, level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	socketPath := session.SocketPath(sessionName)

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(socketPath) {
		fmt.Fprintf(os.Stderr, "daemon not running for session %q, starting...\n", sessionName)
		if err := startDaemon(sessionName); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			return fmt.Errorf("daemon did not become ready")
		}
	}

	cache, err := store.Open(session.CacheDBPath(sessionName))
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = cache.Close() }()
	if _, err := cache.Migrate(); err != nil {
		return fmt.Errorf("migrate cache: %w", err)
	}

	conn, err := transport.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client := transport.New(conn, cache, logger)
	client.Start("")
	defer client.Close()

	app := tui.NewApp(client, tui.Options{Session: sessionName, Config: cfg, Logger: logger})
	logger.Info("tui started", zap.String("socket", socketPath))
	return app.Run()
}

// probeDaemon checks if a daemon is running and responsive on the socket.
func probeDaemon(socketPath string) bool {
	conn, err := transport.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = api.NewHistoryClient(conn).Status(ctx, &api.StatusRequest{})
	return err == nil
}

func startDaemon(sessionName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	threadd := filepath.Join(filepath.Dir(executable), "threadd")

	if _, err := os.Stat(threadd); err != nil {
		threadd = "threadd"
	}

	cmd := exec.Command(threadd, "--session", sessionName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real RPC (not just socket connect).
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
