package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/go-onnx-bridge/internal/status"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ParseMessages decodes a JSON array of {"role","content"} objects. An
// empty payload is an empty conversation.
func ParseMessages(payload string) ([]Message, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, nil
	}

	var msgs []Message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		return nil, fmt.Errorf("parse messages: %v: %w", err, status.ErrInvalidParams)
	}

	for i, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return nil, fmt.Errorf("message %d: unknown role %q: %w", i, m.Role, status.ErrInvalidParams)
		}
	}

	return msgs, nil
}

// RenderPrompt lays out a conversation in the chat template the decoder
// graphs are exported with, ending with an open assistant turn. A non-empty
// systemPrompt is placed first, ahead of any system messages.
func RenderPrompt(systemPrompt string, msgs []Message) string {
	var b strings.Builder

	turn := func(role Role, content string) {
		b.WriteString("<|")
		b.WriteString(string(role))
		b.WriteString("|>\n")
		b.WriteString(strings.TrimSpace(content))
		b.WriteString("</s>\n")
	}

	if s := strings.TrimSpace(systemPrompt); s != "" {
		turn(RoleSystem, s)
	}

	for _, m := range msgs {
		turn(m.Role, m.Content)
	}

	b.WriteString("<|assistant|>\n")

	return b.String()
}
