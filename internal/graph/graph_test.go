package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiolm/healthbot/internal/flow"
	"github.com/fabiolm/healthbot/internal/nodes"
	"github.com/fabiolm/healthbot/internal/search"
	"github.com/fabiolm/healthbot/internal/session"
)

// scriptedLLM answers summarize, quiz, and grade calls in graph order.
type scriptedLLM struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return resp, nil
}

type stubSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (s *stubSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func newTestEngine(t *testing.T, llm nodes.LLM, searcher nodes.Searcher) *flow.Engine {
	t.Helper()
	engine, err := NewEngine(llm, searcher, flow.NewMemoryCheckpointer())
	require.NoError(t, err)
	return engine
}

func cycleLLM() *scriptedLLM {
	return &scriptedLLM{responses: []string{
		"Diabetes is a condition where blood sugar stays too high.",
		"Question: What stays high in diabetes?\nA) Blood sugar\nB) Bone density\nC) Hearing\nD) Height",
		`{"score": 9, "feedback": "Correct, blood sugar stays high.", "citations": ["blood sugar stays too high"]}`,
	}}
}

func cycleSearcher() *stubSearcher {
	return &stubSearcher{results: []search.Result{
		{Title: "Diabetes overview", URL: "https://example.org/diabetes", Content: "Diabetes raises blood sugar."},
	}}
}

func TestSessionPausesAtEachHumanStep(t *testing.T) {
	engine := newTestEngine(t, cycleLLM(), cycleSearcher())
	ctx := context.Background()

	status, err := engine.Advance(ctx, "t1", StartUpdate("run-1"))
	require.NoError(t, err)
	assert.Equal(t, nodes.StepReceiveTopic, status.Pending)

	status, err = engine.Advance(ctx, "t1", UserTurn("diabetes"))
	require.NoError(t, err)
	assert.Equal(t, nodes.StepReceiveAnswer, status.Pending)

	status, err = engine.Advance(ctx, "t1", UserTurn("A"))
	require.NoError(t, err)
	assert.Equal(t, nodes.StepReceiveContinue, status.Pending)

	status, err = engine.Advance(ctx, "t1", UserTurn("no"))
	require.NoError(t, err)
	assert.True(t, status.Done)
}

func TestSessionFullCycleState(t *testing.T) {
	llm := cycleLLM()
	engine := newTestEngine(t, llm, cycleSearcher())
	ctx := context.Background()

	_, err := engine.Advance(ctx, "t1", StartUpdate("run-1"))
	require.NoError(t, err)

	status, err := engine.Advance(ctx, "t1", UserTurn("diabetes"))
	require.NoError(t, err)

	assert.Equal(t, "diabetes", status.Store.GetString(session.KeyTopic))
	assert.True(t, status.Store.GetBool(session.KeyHasResults))
	assert.Equal(t, 1, status.Store.GetInt(session.KeySourcesCount))
	assert.Contains(t, status.Store.GetString(session.KeyResults), "--- Source 1 ---")
	assert.Contains(t, status.Store.GetString(session.KeySummary), "blood sugar")

	// Quiz answer given lowercase must be normalized before grading.
	status, err = engine.Advance(ctx, "t1", UserTurn("a"))
	require.NoError(t, err)
	assert.Equal(t, "A", status.Store.GetString(session.KeyQuizAnswer))

	grade, ok := session.GetGrade(status.Store)
	require.True(t, ok)
	assert.Equal(t, 9, grade.Score)
	require.Len(t, grade.Citations, 1)

	msgs := session.Messages(status.Store)
	last := msgs[len(msgs)-1]
	assert.Equal(t, session.RoleAssistant, last.Role)
	assert.Contains(t, last.Text(), "learn about another health topic")

	assert.Equal(t, 3, llm.calls, "summarize, quiz, grade")
}

func TestSessionContinueLoopsWithCleanCycle(t *testing.T) {
	engine := newTestEngine(t, cycleLLM(), cycleSearcher())
	ctx := context.Background()

	_, err := engine.Advance(ctx, "t1", StartUpdate("run-1"))
	require.NoError(t, err)
	_, err = engine.Advance(ctx, "t1", UserTurn("diabetes"))
	require.NoError(t, err)
	status, err := engine.Advance(ctx, "t1", UserTurn("B"))
	require.NoError(t, err)
	transcript := len(session.Messages(status.Store))

	status, err = engine.Advance(ctx, "t1", UserTurn("Sim"))
	require.NoError(t, err)

	assert.False(t, status.Done)
	assert.Equal(t, nodes.StepReceiveTopic, status.Pending, "the loop restarts at the topic prompt")

	_, ok := status.Store.Get(session.KeyTopic)
	assert.False(t, ok, "topic from the previous cycle must be cleared")
	_, ok = status.Store.Get(session.KeyGrade)
	assert.False(t, ok, "grade from the previous cycle must be cleared")

	msgs := session.Messages(status.Store)
	assert.Greater(t, len(msgs), transcript, "the transcript keeps growing across cycles")
	assert.Equal(t, "run-1", status.Store.GetString(session.KeyRunID))
}

func TestSessionDeclineEndsThread(t *testing.T) {
	engine := newTestEngine(t, cycleLLM(), cycleSearcher())
	ctx := context.Background()

	_, err := engine.Advance(ctx, "t1", StartUpdate("run-1"))
	require.NoError(t, err)
	_, err = engine.Advance(ctx, "t1", UserTurn("diabetes"))
	require.NoError(t, err)
	_, err = engine.Advance(ctx, "t1", UserTurn("C"))
	require.NoError(t, err)

	status, err := engine.Advance(ctx, "t1", UserTurn("no thanks"))
	require.NoError(t, err)
	assert.True(t, status.Done)

	_, err = engine.Advance(ctx, "t1", UserTurn("diabetes"))
	assert.ErrorIs(t, err, flow.ErrThreadDone)
}

func TestSessionSearchFailureIsResumable(t *testing.T) {
	searcher := cycleSearcher()
	searcher.err = errors.New("search service unavailable")
	engine := newTestEngine(t, cycleLLM(), searcher)
	ctx := context.Background()

	_, err := engine.Advance(ctx, "t1", StartUpdate("run-1"))
	require.NoError(t, err)

	_, err = engine.Advance(ctx, "t1", UserTurn("diabetes"))
	require.Error(t, err)

	// The checkpoint still waits at the topic step; a retry succeeds.
	searcher.err = nil
	status, err := engine.Advance(ctx, "t1", UserTurn("diabetes"))
	require.NoError(t, err)
	assert.Equal(t, nodes.StepReceiveAnswer, status.Pending)
	assert.Equal(t, "diabetes", status.Store.GetString(session.KeyTopic))
}

func TestSessionNoSearchResultsStillReachesQuiz(t *testing.T) {
	searcher := &stubSearcher{results: []search.Result{}}
	engine := newTestEngine(t, cycleLLM(), searcher)
	ctx := context.Background()

	_, err := engine.Advance(ctx, "t1", StartUpdate("run-1"))
	require.NoError(t, err)

	status, err := engine.Advance(ctx, "t1", UserTurn("diabetes"))
	require.NoError(t, err)

	assert.Equal(t, nodes.StepReceiveAnswer, status.Pending)
	assert.False(t, status.Store.GetBool(session.KeyHasResults))
}

func TestGraphValidates(t *testing.T) {
	g := New(cycleLLM(), cycleSearcher())
	require.NoError(t, g.Validate())
}
