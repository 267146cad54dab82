package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser:
		return true
	}
	return false
}

// Turn is a single message exchanged with a language model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an append-only sequence of turns. It is owned by a single
// caller and is not safe for concurrent use.
type Conversation struct {
	turns []Turn
}

// New returns a conversation seeded with the given turns.
func New(turns ...Turn) *Conversation {
	c := &Conversation{turns: make([]Turn, 0, len(turns)+4)}
	c.turns = append(c.turns, turns...)
	return c
}

// Append adds a turn at the end of the conversation.
func (c *Conversation) Append(role Role, content string) {
	c.turns = append(c.turns, Turn{Role: role, Content: content})
}

// Turns returns a copy of the turns in order.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Last returns the most recent turn, if any.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// Since returns a copy of the turns appended after the first n.
func (c *Conversation) Since(n int) []Turn {
	if n < 0 {
		n = 0
	}
	if n >= len(c.turns) {
		return nil
	}
	out := make([]Turn, len(c.turns)-n)
	copy(out, c.turns[n:])
	return out
}

func (c *Conversation) MarshalJSON() ([]byte, error) {
	if c.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.turns)
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	for i, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("turn %d: unknown role %q", i, t.Role)
		}
	}
	c.turns = turns
	return nil
}

// Log writes the full conversation to logger at debug level, one record per
// turn with line breaks flattened. Nothing is written unless the logger has
// debug enabled.
func Log(ctx context.Context, logger *slog.Logger, c *Conversation) {
	if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	flatten := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
	for i, t := range c.turns {
		logger.DebugContext(ctx, "conversation turn",
			"index", i,
			"role", string(t.Role),
			"content", flatten.Replace(t.Content),
		)
	}
}
