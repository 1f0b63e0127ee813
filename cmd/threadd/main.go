package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/daemon"
	"github.com/matheus3301/threadline/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	socketFlag := flag.String("socket", "", "socket path (defaults to the session directory)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, SocketPath: *socketFlag}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)

	app.Run()
}
