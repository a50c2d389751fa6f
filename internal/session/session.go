// Package session defines the conversation state threaded through the
// HealthBot flow: the transcript, the per-cycle learning fields, and the
// merge semantics that combine a step's partial update into the store.
package session

import (
	"encoding/json"
	"strings"

	"github.com/fabiolm/healthbot/internal/flow"
)

// Shared-store keys for the session state.
const (
	KeyMessages     = "messages"
	KeyTopic        = "topic"
	KeyResults      = "results"
	KeySummary      = "summary"
	KeyQuizQuestion = "quiz_question"
	KeyQuizAnswer   = "quiz_answer"
	KeyGrade        = "grade"
	KeyContinue     = "continue_learning"
	KeyHasResults   = "has_results"
	KeySourcesCount = "sources_count"
	KeyRunID        = "run_id"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Part is one element of a message content union: either plain text or a
// structured payload (e.g. a tool or multimodal fragment).
type Part struct {
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Content is a message body. On the wire it is either a bare string or an
// array of parts; in memory it is always a part list.
type Content []Part

// TextContent wraps a plain string as a single-part content.
func TextContent(s string) Content {
	return Content{{Text: s}}
}

// Flatten collapses the content into a single string. Text parts pass
// through; structured parts contribute their "text" field when present,
// otherwise their JSON encoding.
func (c Content) Flatten() string {
	if len(c) == 1 && c[0].Data == nil {
		return c[0].Text
	}
	parts := make([]string, 0, len(c))
	for _, p := range c {
		switch {
		case p.Data == nil:
			parts = append(parts, p.Text)
		case p.Text != "":
			parts = append(parts, p.Text)
		default:
			if text, ok := p.Data["text"].(string); ok {
				parts = append(parts, text)
				continue
			}
			raw, err := json.Marshal(p.Data)
			if err != nil {
				continue
			}
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, " ")
}

// MarshalJSON emits a bare string for single text-part content and a part
// array otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c) == 1 && c[0].Data == nil {
		return json.Marshal(c[0].Text)
	}
	return json.Marshal([]Part(c))
}

// UnmarshalJSON accepts a bare string, a part array, or an array of bare
// strings mixed with part objects.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = TextContent(s)
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts := make(Content, 0, len(raw))
	for _, item := range raw {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			parts = append(parts, Part{Text: text})
			continue
		}
		var part Part
		if err := json.Unmarshal(item, &part); err != nil {
			return err
		}
		parts = append(parts, part)
	}
	*c = parts
	return nil
}

// Message is one transcript entry.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Text returns the flattened message content.
func (m Message) Text() string {
	return m.Content.Flatten()
}

// UserMessage creates a user-role text message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

// AssistantMessage creates an assistant-role text message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// Grade is the structured quiz evaluation produced by the grading step.
type Grade struct {
	Score     int      `json:"score"`
	Feedback  string   `json:"feedback"`
	Citations []string `json:"citations"`
}

// Messages returns a copy of the transcript slice. Mutating the returned
// slice never affects the store.
func Messages(shared *flow.SharedStore) []Message {
	val, ok := shared.Get(KeyMessages)
	if !ok {
		return nil
	}
	msgs, ok := val.([]Message)
	if !ok {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// LastMessage returns the newest transcript entry.
func LastMessage(shared *flow.SharedStore) (Message, bool) {
	msgs := Messages(shared)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// GetGrade returns the grade field when set.
func GetGrade(shared *flow.SharedStore) (Grade, bool) {
	val, ok := shared.Get(KeyGrade)
	if !ok {
		return Grade{}, false
	}
	grade, ok := val.(Grade)
	return grade, ok
}

// Merge applies a partial state update to the store with the session's
// per-field semantics: the transcript appends, every other field overwrites,
// and a nil value clears the field. This is the only way steps write state.
func Merge(shared *flow.SharedStore, update map[string]any) {
	if update == nil {
		return
	}
	rest := make(map[string]any, len(update))
	for k, v := range update {
		if k != KeyMessages || v == nil {
			rest[k] = v
			continue
		}
		newMsgs, ok := v.([]Message)
		if !ok {
			rest[k] = v
			continue
		}
		shared.Set(KeyMessages, append(Messages(shared), newMsgs...))
	}
	shared.Merge(rest)
}

// ResetCycle is the update that starts a fresh learning cycle: every
// per-cycle field cleared together. The transcript and run id survive.
func ResetCycle() map[string]any {
	return map[string]any{
		KeyTopic:        nil,
		KeyResults:      nil,
		KeySummary:      nil,
		KeyQuizQuestion: nil,
		KeyQuizAnswer:   nil,
		KeyGrade:        nil,
	}
}
