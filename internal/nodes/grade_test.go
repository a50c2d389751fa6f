package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiolm/healthbot/internal/session"
)

func TestParseGradePlainJSON(t *testing.T) {
	grade := ParseGrade(`{"score": 8, "feedback": "Well done.", "citations": ["insulin regulates blood sugar"]}`)

	assert.Equal(t, 8, grade.Score)
	assert.Equal(t, "Well done.", grade.Feedback)
	require.Len(t, grade.Citations, 1)
	assert.Equal(t, "insulin regulates blood sugar", grade.Citations[0])
}

func TestParseGradeFencedJSON(t *testing.T) {
	raw := "```json\n{\"score\": 3, \"feedback\": \"Review the summary.\", \"citations\": []}\n```"
	grade := ParseGrade(raw)

	assert.Equal(t, 3, grade.Score)
	assert.Equal(t, "Review the summary.", grade.Feedback)
	assert.Empty(t, grade.Citations)
}

func TestParseGradeBareFence(t *testing.T) {
	raw := "```\n{\"score\": 10, \"feedback\": \"Perfect.\", \"citations\": []}\n```"
	grade := ParseGrade(raw)

	assert.Equal(t, 10, grade.Score)
	assert.Equal(t, "Perfect.", grade.Feedback)
}

func TestParseGradeInvalidJSONFallsBack(t *testing.T) {
	raw := "The answer shows a reasonable understanding of the topic."
	grade := ParseGrade(raw)

	assert.Equal(t, 5, grade.Score)
	assert.Equal(t, raw, grade.Feedback)
	assert.NotNil(t, grade.Citations)
	assert.Empty(t, grade.Citations)
}

func TestParseGradeMissingKeysFallsBack(t *testing.T) {
	raw := `{"score": 7}`
	grade := ParseGrade(raw)

	assert.Equal(t, 5, grade.Score)
	assert.Equal(t, raw, grade.Feedback)
}

func TestParseGradeClampsScore(t *testing.T) {
	high := ParseGrade(`{"score": 42, "feedback": "x", "citations": []}`)
	assert.Equal(t, 10, high.Score)

	low := ParseGrade(`{"score": -3, "feedback": "x", "citations": []}`)
	assert.Equal(t, 0, low.Score)
}

func TestParseGradeNilCitationsBecomesEmpty(t *testing.T) {
	grade := ParseGrade(`{"score": 6, "feedback": "ok"}`)

	assert.NotNil(t, grade.Citations)
	assert.Empty(t, grade.Citations)
	assert.Equal(t, session.Grade{Score: 6, Feedback: "ok", Citations: []string{}}, grade)
}
