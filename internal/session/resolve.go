package session

import (
	"os"

	"github.com/matheus3301/threadline/internal/config"
)

// DefaultSessionName is used when nothing else names a session.
const DefaultSessionName = "main"

// SessionEnv names the session when no flag is given.
const SessionEnv = "THREADLINE_SESSION"

// Resolve picks the active session: the --session flag, then
// $THREADLINE_SESSION, then default_session from config.toml, then "main".
// An unreadable config is treated as absent.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(SessionEnv); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
