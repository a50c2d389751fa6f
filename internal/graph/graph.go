// Package graph assembles the HealthBot conversation flow: twelve named
// steps in a fixed order with one loop-back branch, suspended before the
// three steps that consume a human turn.
package graph

import (
	"fmt"

	"github.com/fabiolm/healthbot/internal/flow"
	"github.com/fabiolm/healthbot/internal/nodes"
	"github.com/fabiolm/healthbot/internal/session"
)

// New builds the HealthBot graph around the injected collaborators.
//
// Step order:
//
//	ask_topic → receive_topic → search → summarize → present_summary →
//	create_quiz → present_quiz → receive_answer → grade_answer →
//	present_grade → ask_continue → receive_continue → ask_topic | end
//
// Execution pauses before receive_topic, receive_answer, and
// receive_continue to await the user's turn.
func New(llm nodes.LLM, searcher nodes.Searcher) *flow.Graph {
	g := flow.NewGraph().
		AddNode(nodes.StepAskTopic, nodes.NewAskTopicNode()).
		AddNode(nodes.StepReceiveTopic, nodes.NewReceiveTopicNode()).
		AddNode(nodes.StepSearch, nodes.NewSearchNode(searcher)).
		AddNode(nodes.StepSummarize, nodes.NewSummarizeNode(llm)).
		AddNode(nodes.StepPresentSummary, nodes.NewPresentSummaryNode()).
		AddNode(nodes.StepCreateQuiz, nodes.NewCreateQuizNode(llm)).
		AddNode(nodes.StepPresentQuiz, nodes.NewPresentQuizNode()).
		AddNode(nodes.StepReceiveAnswer, nodes.NewReceiveAnswerNode()).
		AddNode(nodes.StepGradeAnswer, nodes.NewGradeAnswerNode(llm)).
		AddNode(nodes.StepPresentGrade, nodes.NewPresentGradeNode()).
		AddNode(nodes.StepAskContinue, nodes.NewAskContinueNode()).
		AddNode(nodes.StepReceiveContinue, nodes.NewReceiveContinueNode()).
		SetEntry(nodes.StepAskTopic).
		InterruptBefore(nodes.StepReceiveTopic, nodes.StepReceiveAnswer, nodes.StepReceiveContinue)

	g.Connect(nodes.StepAskTopic, flow.DefaultAction, nodes.StepReceiveTopic).
		Connect(nodes.StepReceiveTopic, flow.DefaultAction, nodes.StepSearch).
		Connect(nodes.StepSearch, flow.DefaultAction, nodes.StepSummarize).
		Connect(nodes.StepSummarize, flow.DefaultAction, nodes.StepPresentSummary).
		Connect(nodes.StepPresentSummary, flow.DefaultAction, nodes.StepCreateQuiz).
		Connect(nodes.StepCreateQuiz, flow.DefaultAction, nodes.StepPresentQuiz).
		Connect(nodes.StepPresentQuiz, flow.DefaultAction, nodes.StepReceiveAnswer).
		Connect(nodes.StepReceiveAnswer, flow.DefaultAction, nodes.StepGradeAnswer).
		Connect(nodes.StepGradeAnswer, flow.DefaultAction, nodes.StepPresentGrade).
		Connect(nodes.StepPresentGrade, flow.DefaultAction, nodes.StepAskContinue).
		Connect(nodes.StepAskContinue, flow.DefaultAction, nodes.StepReceiveContinue).
		Connect(nodes.StepReceiveContinue, nodes.ActionContinue, nodes.StepAskTopic).
		Connect(nodes.StepReceiveContinue, nodes.ActionEnd, flow.End)

	return g
}

// NewEngine builds the graph and wraps it in an engine with the session's
// append-aware merge semantics.
func NewEngine(llm nodes.LLM, searcher nodes.Searcher, ckpt flow.Checkpointer, opts ...flow.EngineOption) (*flow.Engine, error) {
	opts = append([]flow.EngineOption{flow.WithMergeFunc(session.Merge)}, opts...)
	engine, err := flow.NewEngine(New(llm, searcher), ckpt, opts...)
	if err != nil {
		return nil, fmt.Errorf("graph: build engine: %w", err)
	}
	return engine, nil
}

// StartUpdate is the first Advance payload of a session: it stamps the run
// identifier before any step executes.
func StartUpdate(runID string) map[string]any {
	return map[string]any{session.KeyRunID: runID}
}

// UserTurn is the Advance payload that appends one human message at a
// suspension point.
func UserTurn(text string) map[string]any {
	return map[string]any{
		session.KeyMessages: []session.Message{session.UserMessage(text)},
	}
}
