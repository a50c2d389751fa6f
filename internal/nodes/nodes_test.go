package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiolm/healthbot/internal/flow"
	"github.com/fabiolm/healthbot/internal/search"
	"github.com/fabiolm/healthbot/internal/session"
)

// fakeLLM returns canned responses and records the prompts it was given.
type fakeLLM struct {
	response string
	err      error
	calls    int
	system   string
	user     string
}

func (f *fakeLLM) Chat(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.system = system
	f.user = user
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// fakeSearcher returns canned results and records the query.
type fakeSearcher struct {
	results []search.Result
	err     error
	calls   int
	query   string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	f.calls++
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func runNode(t *testing.T, node flow.Node, shared *flow.SharedStore) flow.Action {
	t.Helper()
	action, err := flow.Run(context.Background(), node, shared)
	require.NoError(t, err)
	return action
}

func lastAssistantText(t *testing.T, shared *flow.SharedStore) string {
	t.Helper()
	msg, ok := session.LastMessage(shared)
	require.True(t, ok, "expected at least one message")
	require.Equal(t, session.RoleAssistant, msg.Role)
	return msg.Text()
}

func TestAskTopicNodeGreets(t *testing.T) {
	shared := flow.NewSharedStore()
	runNode(t, NewAskTopicNode(), shared)

	text := lastAssistantText(t, shared)
	assert.Contains(t, text, "health topic")
}

func TestReceiveTopicNodeStoresTopic(t *testing.T) {
	shared := flow.NewSharedStore()
	session.Merge(shared, map[string]any{
		session.KeyMessages: []session.Message{session.UserMessage("  diabetes  ")},
	})

	runNode(t, NewReceiveTopicNode(), shared)

	assert.Equal(t, "diabetes", shared.GetString(session.KeyTopic))
	assert.Contains(t, lastAssistantText(t, shared), "diabetes")
}

func TestReceiveTopicNodeFallsBackWithoutUserTurn(t *testing.T) {
	shared := flow.NewSharedStore()
	session.Merge(shared, map[string]any{
		session.KeyMessages: []session.Message{session.AssistantMessage("hi")},
	})

	runNode(t, NewReceiveTopicNode(), shared)

	assert.Equal(t, "general health", shared.GetString(session.KeyTopic))
}

func TestSearchNodeSkipsServiceOnEmptyTopic(t *testing.T) {
	searcher := &fakeSearcher{}
	shared := flow.NewSharedStore()

	runNode(t, NewSearchNode(searcher), shared)

	assert.Zero(t, searcher.calls, "service must not be invoked without a topic")
	assert.Equal(t, errNoTopicText, shared.GetString(session.KeyResults))
	assert.False(t, shared.GetBool(session.KeyHasResults))
}

func TestSearchNodeFormatsResults(t *testing.T) {
	searcher := &fakeSearcher{results: []search.Result{
		{URL: "https://example.org/a", Content: "first source"},
		{URL: "https://example.org/b", Content: "second source"},
	}}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyTopic, "asthma")

	runNode(t, NewSearchNode(searcher), shared)

	assert.Equal(t, "asthma reliable medical information", searcher.query)
	results := shared.GetString(session.KeyResults)
	assert.Contains(t, results, "--- Source 1 ---")
	assert.Contains(t, results, "--- Source 2 ---")
	assert.Contains(t, results, "https://example.org/a")
	assert.True(t, shared.GetBool(session.KeyHasResults))
	assert.Equal(t, 2, shared.GetInt(session.KeySourcesCount))
}

func TestSearchNodeNoResults(t *testing.T) {
	searcher := &fakeSearcher{results: []search.Result{}}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyTopic, "asthma")

	runNode(t, NewSearchNode(searcher), shared)

	assert.Equal(t, noResultsText, shared.GetString(session.KeyResults))
	assert.False(t, shared.GetBool(session.KeyHasResults))
}

func TestSearchNodeServiceErrorSurfaces(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("service down")}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyTopic, "asthma")

	_, err := flow.Run(context.Background(), NewSearchNode(searcher), shared)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asthma")
}

func TestSummarizeNode(t *testing.T) {
	llm := &fakeLLM{response: "Asthma narrows the airways."}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyTopic, "asthma")
	shared.Set(session.KeyResults, "--- Source 1 ---\nContent: details")

	runNode(t, NewSummarizeNode(llm), shared)

	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, llm.user, "asthma")
	assert.Contains(t, llm.user, "details")
	assert.Equal(t, "Asthma narrows the airways.", shared.GetString(session.KeySummary))
}

func TestSummarizeNodeMissingInputs(t *testing.T) {
	llm := &fakeLLM{response: "unused"}
	shared := flow.NewSharedStore()

	runNode(t, NewSummarizeNode(llm), shared)

	assert.Zero(t, llm.calls)
	assert.Equal(t, errNoSummaryData, shared.GetString(session.KeySummary))
}

func TestPresentSummaryNode(t *testing.T) {
	shared := flow.NewSharedStore()
	shared.Set(session.KeySummary, "A plain-language summary.")

	runNode(t, NewPresentSummaryNode(), shared)

	assert.Equal(t, "A plain-language summary.", lastAssistantText(t, shared))
}

func TestPresentSummaryNodePlaceholder(t *testing.T) {
	shared := flow.NewSharedStore()

	runNode(t, NewPresentSummaryNode(), shared)

	assert.Equal(t, errNoSummaryText, lastAssistantText(t, shared))
}

func TestCreateQuizNode(t *testing.T) {
	llm := &fakeLLM{response: "What does asthma affect?\nA) Airways\nB) Bones\nC) Skin\nD) Hearing"}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyTopic, "asthma")
	shared.Set(session.KeySummary, "Asthma narrows the airways.")

	runNode(t, NewCreateQuizNode(llm), shared)

	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, shared.GetString(session.KeyQuizQuestion), "A) Airways")
}

func TestCreateQuizNodeMissingInputs(t *testing.T) {
	llm := &fakeLLM{response: "unused"}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyTopic, "asthma")

	runNode(t, NewCreateQuizNode(llm), shared)

	assert.Zero(t, llm.calls)
	assert.Equal(t, errNoQuizText, shared.GetString(session.KeyQuizQuestion))
}

func TestPresentQuizNode(t *testing.T) {
	shared := flow.NewSharedStore()
	shared.Set(session.KeyQuizQuestion, "What does asthma affect?")

	runNode(t, NewPresentQuizNode(), shared)

	text := lastAssistantText(t, shared)
	assert.Contains(t, text, "What does asthma affect?")
	assert.Contains(t, text, "A, B, C or D")
}

func TestReceiveAnswerNode(t *testing.T) {
	shared := flow.NewSharedStore()
	session.Merge(shared, map[string]any{
		session.KeyMessages: []session.Message{session.UserMessage("option b")},
	})

	runNode(t, NewReceiveAnswerNode(), shared)

	assert.Equal(t, "B", shared.GetString(session.KeyQuizAnswer))
}

func TestReceiveAnswerNodeUnrecognizedInput(t *testing.T) {
	shared := flow.NewSharedStore()
	session.Merge(shared, map[string]any{
		session.KeyMessages: []session.Message{session.UserMessage("zebra")},
	})

	runNode(t, NewReceiveAnswerNode(), shared)

	answer, ok := shared.Get(session.KeyQuizAnswer)
	require.True(t, ok)
	assert.Equal(t, "", answer)
}

func TestGradeAnswerNode(t *testing.T) {
	llm := &fakeLLM{response: `{"score": 9, "feedback": "Correct.", "citations": ["narrows the airways"]}`}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyQuizQuestion, "What does asthma affect?")
	shared.Set(session.KeyQuizAnswer, "A")
	shared.Set(session.KeySummary, "Asthma narrows the airways.")

	runNode(t, NewGradeAnswerNode(llm), shared)

	grade, ok := session.GetGrade(shared)
	require.True(t, ok)
	assert.Equal(t, 9, grade.Score)
	assert.Equal(t, "Correct.", grade.Feedback)
}

func TestGradeAnswerNodeMissingInputs(t *testing.T) {
	llm := &fakeLLM{response: "unused"}
	shared := flow.NewSharedStore()
	shared.Set(session.KeyQuizQuestion, "What does asthma affect?")
	shared.Set(session.KeySummary, "Asthma narrows the airways.")

	runNode(t, NewGradeAnswerNode(llm), shared)

	assert.Zero(t, llm.calls)
	grade, ok := session.GetGrade(shared)
	require.True(t, ok)
	assert.Equal(t, 0, grade.Score)
	assert.Equal(t, errGradeInputText, grade.Feedback)
}

func TestPresentGradeNodeTiers(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{10, "Congratulations"},
		{7, "Congratulations"},
		{6, "right track"},
		{5, "right track"},
		{4, "Don't be discouraged"},
		{0, "Don't be discouraged"},
	}

	for _, tc := range cases {
		shared := flow.NewSharedStore()
		shared.Set(session.KeyGrade, session.Grade{Score: tc.score, Feedback: "fb", Citations: []string{}})

		runNode(t, NewPresentGradeNode(), shared)

		text := lastAssistantText(t, shared)
		assert.Contains(t, text, tc.want, "score %d", tc.score)
		assert.Contains(t, text, "fb")
	}
}

func TestPresentGradeNodeCitations(t *testing.T) {
	shared := flow.NewSharedStore()
	shared.Set(session.KeyGrade, session.Grade{
		Score:     8,
		Feedback:  "Good.",
		Citations: []string{"the airways narrow"},
	})

	runNode(t, NewPresentGradeNode(), shared)

	text := lastAssistantText(t, shared)
	assert.Contains(t, text, "Relevant excerpts")
	assert.Contains(t, text, `"the airways narrow"`)
}

func TestPresentGradeNodeMissingGrade(t *testing.T) {
	shared := flow.NewSharedStore()

	runNode(t, NewPresentGradeNode(), shared)

	assert.Equal(t, errNoGradeText, lastAssistantText(t, shared))
}

func TestReceiveContinueNodeAffirmativeResetsCycle(t *testing.T) {
	shared := flow.NewSharedStore()
	session.Merge(shared, map[string]any{
		session.KeyRunID: "run-1",
		session.KeyMessages: []session.Message{
			session.AssistantMessage("continue?"),
			session.UserMessage("Sim"),
		},
	})
	shared.Set(session.KeyTopic, "asthma")
	shared.Set(session.KeySummary, "summary")
	shared.Set(session.KeyQuizQuestion, "question")
	shared.Set(session.KeyQuizAnswer, "A")
	shared.Set(session.KeyGrade, session.Grade{Score: 8, Feedback: "fb", Citations: []string{}})
	shared.Set(session.KeyResults, "sources")

	action := runNode(t, NewReceiveContinueNode(), shared)

	assert.Equal(t, ActionContinue, action)
	assert.True(t, shared.GetBool(session.KeyContinue))
	for _, key := range []string{
		session.KeyTopic, session.KeyResults, session.KeySummary,
		session.KeyQuizQuestion, session.KeyQuizAnswer, session.KeyGrade,
	} {
		_, ok := shared.Get(key)
		assert.False(t, ok, "field %s should be cleared", key)
	}
	assert.Len(t, session.Messages(shared), 2)
	assert.Equal(t, "run-1", shared.GetString(session.KeyRunID))
}

func TestReceiveContinueNodeNegativeEnds(t *testing.T) {
	shared := flow.NewSharedStore()
	session.Merge(shared, map[string]any{
		session.KeyMessages: []session.Message{session.UserMessage("no")},
	})
	shared.Set(session.KeyTopic, "asthma")

	action := runNode(t, NewReceiveContinueNode(), shared)

	assert.Equal(t, ActionEnd, action)
	assert.False(t, shared.GetBool(session.KeyContinue))
	assert.Equal(t, "asthma", shared.GetString(session.KeyTopic), "per-cycle fields stay on a declined continue")
}

func TestQuizPromptForbidsRevealingAnswer(t *testing.T) {
	assert.True(t, strings.Contains(quizSystemPrompt, "DO NOT reveal"),
		"quiz prompt must instruct the model to withhold the correct answer")
}
