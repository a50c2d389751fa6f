package session

import (
	"encoding/json"
	"fmt"

	"github.com/fabiolm/healthbot/internal/flow"
)

// Snapshot is the serializable form of a session's shared-store state.
// Pointer fields model values that are unset until a step produces them.
type Snapshot struct {
	Messages     []Message `json:"messages"`
	Topic        string    `json:"topic,omitempty"`
	Results      string    `json:"results,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	QuizQuestion string    `json:"quiz_question,omitempty"`
	QuizAnswer   string    `json:"quiz_answer,omitempty"`
	Grade        *Grade    `json:"grade,omitempty"`
	Continue     *bool     `json:"continue_learning,omitempty"`
	HasResults   *bool     `json:"has_results,omitempty"`
	SourcesCount *int      `json:"sources_count,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
}

// Capture builds a Snapshot from raw shared-store contents.
func Capture(state map[string]any) Snapshot {
	snap := Snapshot{
		Messages: []Message{},
	}
	if msgs, ok := state[KeyMessages].([]Message); ok {
		snap.Messages = append(snap.Messages, msgs...)
	}
	if v, ok := state[KeyTopic].(string); ok {
		snap.Topic = v
	}
	if v, ok := state[KeyResults].(string); ok {
		snap.Results = v
	}
	if v, ok := state[KeySummary].(string); ok {
		snap.Summary = v
	}
	if v, ok := state[KeyQuizQuestion].(string); ok {
		snap.QuizQuestion = v
	}
	if v, ok := state[KeyQuizAnswer].(string); ok {
		snap.QuizAnswer = v
	}
	if g, ok := state[KeyGrade].(Grade); ok {
		grade := g
		snap.Grade = &grade
	}
	if v, ok := state[KeyContinue].(bool); ok {
		b := v
		snap.Continue = &b
	}
	if v, ok := state[KeyHasResults].(bool); ok {
		b := v
		snap.HasResults = &b
	}
	if v, ok := state[KeySourcesCount].(int); ok {
		n := v
		snap.SourcesCount = &n
	}
	if v, ok := state[KeyRunID].(string); ok {
		snap.RunID = v
	}
	return snap
}

// CaptureStore builds a Snapshot directly from a shared store.
func CaptureStore(shared *flow.SharedStore) Snapshot {
	return Capture(shared.GetAll())
}

// State expands the snapshot back into raw shared-store contents with the
// in-memory types steps expect.
func (s Snapshot) State() map[string]any {
	state := map[string]any{
		KeyMessages: append([]Message{}, s.Messages...),
	}
	if s.Topic != "" {
		state[KeyTopic] = s.Topic
	}
	if s.Results != "" {
		state[KeyResults] = s.Results
	}
	if s.Summary != "" {
		state[KeySummary] = s.Summary
	}
	if s.QuizQuestion != "" {
		state[KeyQuizQuestion] = s.QuizQuestion
	}
	if s.QuizAnswer != "" {
		state[KeyQuizAnswer] = s.QuizAnswer
	}
	if s.Grade != nil {
		state[KeyGrade] = *s.Grade
	}
	if s.Continue != nil {
		state[KeyContinue] = *s.Continue
	}
	if s.HasResults != nil {
		state[KeyHasResults] = *s.HasResults
	}
	if s.SourcesCount != nil {
		state[KeySourcesCount] = *s.SourcesCount
	}
	if s.RunID != "" {
		state[KeyRunID] = s.RunID
	}
	return state
}

// EncodeState serializes raw shared-store contents to JSON via the typed
// snapshot, so a later DecodeState rebuilds the same in-memory types.
func EncodeState(state map[string]any) ([]byte, error) {
	raw, err := json.Marshal(Capture(state))
	if err != nil {
		return nil, fmt.Errorf("session: encode state: %w", err)
	}
	return raw, nil
}

// DecodeState deserializes JSON produced by EncodeState.
func DecodeState(raw []byte) (map[string]any, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("session: decode state: %w", err)
	}
	return snap.State(), nil
}
