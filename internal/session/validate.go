package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("invalid session name")

// A session name is a directory name and a flag value, so it keeps to a
// small alphabet and may not start with a dash.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func ValidateName(name string) error {
	if nameRegexp.MatchString(name) {
		return nil
	}
	reason := "use 1 to 64 of a-z, 0-9, '_' or '-'"
	if name != "" && (name[0] == '-' || name[0] == '_') {
		reason = "must start with a letter or digit"
	}
	return fmt.Errorf("%w %q: %s", ErrInvalidName, name, reason)
}
