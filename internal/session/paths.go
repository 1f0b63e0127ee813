package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "THREADLINE_HOME"

// Files inside a session directory.
const (
	socketFile  = "daemon.sock"
	lockFile    = "LOCK"
	sessionFile = "session.db" // whatsmeow device store
	historyFile = "history.db" // daemon-owned history
	cacheFile   = "cache.db"   // client-side cache
	logsDir     = "logs"
)

// BaseDir returns $THREADLINE_HOME, or ~/.threadline.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".threadline")
}

func sessionsDir() string { return filepath.Join(BaseDir(), "sessions") }

// Dir is the directory holding everything that belongs to one session.
func Dir(name string) string {
	return filepath.Join(sessionsDir(), name)
}

func SocketPath(name string) string    { return filepath.Join(Dir(name), socketFile) }
func LockPath(name string) string      { return filepath.Join(Dir(name), lockFile) }
func SessionDBPath(name string) string { return filepath.Join(Dir(name), sessionFile) }
func AppDBPath(name string) string     { return filepath.Join(Dir(name), historyFile) }
func CacheDBPath(name string) string   { return filepath.Join(Dir(name), cacheFile) }
func LogDir(name string) string        { return filepath.Join(Dir(name), logsDir) }

// LogPath is the log file written by one binary of the session.
func LogPath(name, binary string) string {
	return filepath.Join(LogDir(name), binary+".log")
}

// ConfigPath is shared by all sessions.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session and log directories, private to the user.
func EnsureDir(name string) error {
	return os.MkdirAll(LogDir(name), 0700)
}

// List returns the names of existing sessions in sorted order. Directories
// whose names are not valid session names are skipped.
func List() ([]string, error) {
	entries, err := os.ReadDir(sessionsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
