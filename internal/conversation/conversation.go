// Package conversation holds the chat turns that ground follow-up questions.
package conversation

import (
	"fmt"
	"strings"
)

type Role int

const (
	RoleUser Role = iota + 1
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Label is the speaker prefix used when a turn is rendered into a prompt.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "Human"
	case RoleAssistant:
		return "AI"
	default:
		return "Unknown"
	}
}

func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human":
		return RoleUser, nil
	case "assistant", "ai":
		return RoleAssistant, nil
	default:
		return 0, fmt.Errorf("unknown conversation role %q", raw)
	}
}

type Turn struct {
	Role Role
	Text string
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// RenderHistory serializes turns in chronological order, one "<Label>: <text>"
// line per turn.
func RenderHistory(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, turn.Role.Label()+": "+turn.Text)
	}
	return strings.Join(lines, "\n")
}
