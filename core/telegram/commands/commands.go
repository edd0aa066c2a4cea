// Package commands describes slash commands registered with the bot menu.
package commands

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrIncomplete marks a command without a handler or description.
	ErrIncomplete = errors.New("command needs a handler and a description")
	// ErrNoSlash marks a command name without the leading slash.
	ErrNoSlash = errors.New("command name must start with /")
)

// Command is a slash command with its handler and menu metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands are answered only in the configured admin chat and stay out of the menu.
	AdminOnly bool
	Hidden    bool
	Aliases   []string
}

// Validate reports why c cannot be registered under name.
func (c Command) Validate(name string) error {
	if name == "" || c.Handler == nil || strings.TrimSpace(c.Description) == "" {
		return ErrIncomplete
	}
	if name[0] != '/' {
		return fmt.Errorf("%w: %q", ErrNoSlash, name)
	}
	return nil
}

// Visible reports whether c belongs in the public command menu.
func (c Command) Visible() bool {
	return !c.Hidden && !c.AdminOnly
}

// Matches reports whether text names c under name or one of its aliases.
// The bot mention suffix ("/start@pizza_bot") is ignored for slash commands.
func (c Command) Matches(name, text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(text, "/") {
		text, _, _ = strings.Cut(text, "@")
	} else {
		text = "/" + text
	}
	if text == name {
		return true
	}
	for _, alias := range c.Aliases {
		if text == alias || text == "/"+strings.TrimPrefix(alias, "/") {
			return true
		}
	}
	return false
}

// MenuEntry renders c for setMyCommands.
func (c Command) MenuEntry(name string) tele.Command {
	return tele.Command{Text: strings.TrimPrefix(name, "/"), Description: c.Description}
}
