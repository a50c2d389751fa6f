package nodes

import (
	"encoding/json"
	"strings"

	"github.com/fabiolm/healthbot/internal/session"
)

// ParseGrade extracts a structured grade from an LLM evaluation response.
// The response may wrap the JSON in a fenced code block; fences are stripped
// before parsing. When the JSON cannot be parsed or lacks required keys, the
// whole raw text becomes the feedback with a neutral score of 5. The score is
// always clamped to [0,10].
func ParseGrade(raw string) session.Grade {
	text := stripFences(raw)

	var payload struct {
		Score     *int     `json:"score"`
		Feedback  *string  `json:"feedback"`
		Citations []string `json:"citations"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil || payload.Score == nil || payload.Feedback == nil {
		return session.Grade{
			Score:     5,
			Feedback:  raw,
			Citations: []string{},
		}
	}

	citations := payload.Citations
	if citations == nil {
		citations = []string{}
	}
	return session.Grade{
		Score:     clampScore(*payload.Score),
		Feedback:  *payload.Feedback,
		Citations: citations,
	}
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, returning the inner text.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+len("```"):]
	} else {
		return text
	}

	if end := strings.Index(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}
