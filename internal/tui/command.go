package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/threadline/internal/tui/keys"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':'). Known
// aliases are expanded to their full names.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	if full, ok := aliases[cmd.Name]; ok {
		cmd.Name = full
	}
	return cmd
}

var aliases = map[string]string{
	"q":    "quit",
	"s":    "search",
	"o":    "open",
	"h":    "help",
	"r":    "reload",
	"i":    "info",
	"top":  "older",
	"end":  "newer",
	"exit": "quit",
}

// Commands lists the command names accepted by Validate.
var Commands = []string{"quit", "search", "open", "help", "reload", "info", "older", "newer"}

var commandHelp = []keys.Entry{
	{Key: ":search <query>", Help: "Search the open conversation"},
	{Key: ":open <name|n>", Help: "Open a conversation by name, id or position"},
	{Key: ":older, :newer", Help: "Page the open conversation"},
	{Key: ":info", Help: "Conversation details"},
	{Key: ":reload", Help: "Reload conversations"},
	{Key: ":help", Help: "Show this help"},
	{Key: ":quit", Help: "Quit"},
}

// Validate checks that the command is known and carries the arguments it
// needs.
func (c Command) Validate() error {
	switch c.Name {
	case "search", "open":
		if c.Args == "" {
			return fmt.Errorf("%s: argument required", c.Name)
		}
	case "quit", "help", "reload", "info", "older", "newer":
	default:
		return fmt.Errorf("unknown command %q", c.Name)
	}
	return nil
}

// Index returns the argument as a 1-based list position.
func (c Command) Index() (int, bool) {
	n, err := strconv.Atoi(c.Args)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
