// Package nodes implements the HealthBot conversation steps. Each step is a
// flow.Node whose Exec produces a partial state update and whose Post merges
// it into the session with the transcript-append semantics.
//
// Steps never fail on missing preconditions: they produce a recognizable
// placeholder value that flows downstream and is visible to the user. Only
// external-service failures (network, non-2xx) surface as errors.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fabiolm/healthbot/internal/flow"
	"github.com/fabiolm/healthbot/internal/search"
	"github.com/fabiolm/healthbot/internal/session"
)

// Step names, also the node names in the graph.
const (
	StepAskTopic        = "ask_topic"
	StepReceiveTopic    = "receive_topic"
	StepSearch          = "search"
	StepSummarize       = "summarize"
	StepPresentSummary  = "present_summary"
	StepCreateQuiz      = "create_quiz"
	StepPresentQuiz     = "present_quiz"
	StepReceiveAnswer   = "receive_answer"
	StepGradeAnswer     = "grade_answer"
	StepPresentGrade    = "present_grade"
	StepAskContinue     = "ask_continue"
	StepReceiveContinue = "receive_continue"
)

// Router actions emitted at the continue/end branch.
const (
	ActionContinue flow.Action = "ask_topic"
	ActionEnd      flow.Action = "end"
)

// LLM is the language-model capability the steps need.
type LLM interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Searcher is the web-search capability the search step needs.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// mergePost is the shared Post implementation: merge the partial update Exec
// produced into the session state and continue on the default edge.
func mergePost(ctx context.Context, shared *flow.SharedStore, prepResult, execResult any) (flow.Action, error) {
	if update, ok := execResult.(map[string]any); ok {
		session.Merge(shared, update)
	}
	return flow.DefaultAction, nil
}

// NewAskTopicNode greets the user and asks for a health topic.
func NewAskTopicNode() flow.Node {
	return flow.NewNode(
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			return map[string]any{
				session.KeyMessages: []session.Message{session.AssistantMessage(greetingText)},
			}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewReceiveTopicNode extracts the topic from the user's last turn and
// confirms it. A non-user last message falls back to a generic topic.
func NewReceiveTopicNode() flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			msg, _ := session.LastMessage(shared)
			return msg, nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			msg, ok := prepResult.(session.Message)
			if !ok || msg.Role != session.RoleUser {
				return map[string]any{session.KeyTopic: "general health"}, nil
			}

			topic := strings.TrimSpace(msg.Text())
			slog.Debug("topic received", "topic", topic)

			confirmation := fmt.Sprintf(
				"Got it! I'll search for reliable information about **%s**. Please wait a moment... 🔍", topic)
			return map[string]any{
				session.KeyTopic:    topic,
				session.KeyMessages: []session.Message{session.AssistantMessage(confirmation)},
			}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewSearchNode looks the topic up through the search service and formats
// the sources. With an empty topic the service is never invoked and a
// placeholder error result is produced instead.
func NewSearchNode(searcher Searcher) flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			return shared.GetString(session.KeyTopic), nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			topic, _ := prepResult.(string)
			if topic == "" {
				return map[string]any{
					session.KeyResults:    errNoTopicText,
					session.KeyHasResults: false,
				}, nil
			}

			query := topic + " reliable medical information"
			slog.Debug("searching for topic", "topic", topic, "query", query)

			results, err := searcher.Search(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("search for %q: %w", topic, err)
			}

			if len(results) == 0 {
				return map[string]any{
					session.KeyResults:    noResultsText,
					session.KeyHasResults: false,
				}, nil
			}

			return map[string]any{
				session.KeyResults:      FormatResults(results),
				session.KeyHasResults:   true,
				session.KeySourcesCount: len(results),
			}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// FormatResults renders search hits as numbered source blocks.
func FormatResults(results []search.Result) string {
	var b strings.Builder
	for i, result := range results {
		fmt.Fprintf(&b, "\n--- Source %d ---\n", i+1)
		fmt.Fprintf(&b, "URL: %s\n", result.URL)
		fmt.Fprintf(&b, "Content: %s\n", result.Content)
	}
	return b.String()
}

// NewSummarizeNode turns the search results into a plain-language summary.
func NewSummarizeNode(llm LLM) flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			return map[string]any{
				session.KeyTopic:   shared.GetString(session.KeyTopic),
				session.KeyResults: shared.GetString(session.KeyResults),
			}, nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			data, _ := prepResult.(map[string]any)
			topic, _ := data[session.KeyTopic].(string)
			results, _ := data[session.KeyResults].(string)

			if topic == "" || results == "" {
				return map[string]any{session.KeySummary: errNoSummaryData}, nil
			}

			slog.Debug("generating summary", "topic", topic)
			summary, err := llm.Chat(ctx, summarizeSystemPrompt, summarizeUserPrompt(topic, results))
			if err != nil {
				return nil, fmt.Errorf("summarize %q: %w", topic, err)
			}
			return map[string]any{session.KeySummary: summary}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewPresentSummaryNode shows the summary as an assistant turn.
func NewPresentSummaryNode() flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			return shared.GetString(session.KeySummary), nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			summary, _ := prepResult.(string)
			if summary == "" {
				summary = errNoSummaryText
			}
			return map[string]any{
				session.KeyMessages: []session.Message{session.AssistantMessage(summary)},
			}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewCreateQuizNode generates one multiple-choice question from the summary.
// The correct answer is never revealed in the question text.
func NewCreateQuizNode(llm LLM) flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			return map[string]any{
				session.KeyTopic:   shared.GetString(session.KeyTopic),
				session.KeySummary: shared.GetString(session.KeySummary),
			}, nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			data, _ := prepResult.(map[string]any)
			topic, _ := data[session.KeyTopic].(string)
			summary, _ := data[session.KeySummary].(string)

			if topic == "" || summary == "" {
				return map[string]any{session.KeyQuizQuestion: errNoQuizText}, nil
			}

			slog.Debug("generating quiz question", "topic", topic)
			question, err := llm.Chat(ctx, quizSystemPrompt, quizUserPrompt(topic, summary))
			if err != nil {
				return nil, fmt.Errorf("create quiz for %q: %w", topic, err)
			}
			return map[string]any{session.KeyQuizQuestion: question}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewPresentQuizNode shows the quiz question with answering instructions.
func NewPresentQuizNode() flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			return shared.GetString(session.KeyQuizQuestion), nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			question, _ := prepResult.(string)
			if question == "" {
				return map[string]any{
					session.KeyMessages: []session.Message{session.AssistantMessage(errNoQuizText)},
				}, nil
			}

			text := fmt.Sprintf("\n---\n\nNow let's test your understanding! 📝\n\n%s\n\n"+
				"Type the letter of the alternative you consider correct (A, B, C or D):", question)
			return map[string]any{
				session.KeyMessages: []session.Message{session.AssistantMessage(text)},
			}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewReceiveAnswerNode normalizes the user's quiz answer to a single letter.
// A non-user last message or unrecognizable input yields an empty answer.
func NewReceiveAnswerNode() flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			msg, _ := session.LastMessage(shared)
			return msg, nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			msg, ok := prepResult.(session.Message)
			if !ok || msg.Role != session.RoleUser {
				return map[string]any{session.KeyQuizAnswer: ""}, nil
			}

			normalized := NormalizeAnswer(msg.Text())
			slog.Debug("answer received", "raw", msg.Text(), "normalized", normalized)
			return map[string]any{session.KeyQuizAnswer: normalized}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewGradeAnswerNode evaluates the answer against the summary via the LLM
// and parses the structured grade. With any required input missing the grade
// is a zero-score placeholder and the LLM is never called.
func NewGradeAnswerNode(llm LLM) flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			return map[string]any{
				session.KeyQuizQuestion: shared.GetString(session.KeyQuizQuestion),
				session.KeyQuizAnswer:   shared.GetString(session.KeyQuizAnswer),
				session.KeySummary:      shared.GetString(session.KeySummary),
			}, nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			data, _ := prepResult.(map[string]any)
			question, _ := data[session.KeyQuizQuestion].(string)
			answer, _ := data[session.KeyQuizAnswer].(string)
			summary, _ := data[session.KeySummary].(string)

			if question == "" || answer == "" || summary == "" {
				return map[string]any{
					session.KeyGrade: session.Grade{
						Score:     0,
						Feedback:  errGradeInputText,
						Citations: []string{},
					},
				}, nil
			}

			slog.Debug("evaluating answer", "answer", answer)
			response, err := llm.Chat(ctx, gradeSystemPrompt, gradeUserPrompt(question, answer, summary))
			if err != nil {
				return nil, fmt.Errorf("grade answer %q: %w", answer, err)
			}
			return map[string]any{session.KeyGrade: ParseGrade(response)}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewPresentGradeNode shows the evaluation: score, feedback, citations, and
// an encouragement line tiered by score.
func NewPresentGradeNode() flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			grade, ok := session.GetGrade(shared)
			if !ok {
				return nil, nil
			}
			return grade, nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			grade, ok := prepResult.(session.Grade)
			if !ok {
				return map[string]any{
					session.KeyMessages: []session.Message{session.AssistantMessage(errNoGradeText)},
				}, nil
			}
			return map[string]any{
				session.KeyMessages: []session.Message{session.AssistantMessage(FormatGrade(grade))},
			}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// FormatGrade renders the evaluation message shown to the user.
func FormatGrade(grade session.Grade) string {
	divider := strings.Repeat("=", 70)

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n📊 YOUR ANSWER EVALUATION\n%s\n\n", divider, divider)
	fmt.Fprintf(&b, "**Score: %d/10**\n\n", grade.Score)
	fmt.Fprintf(&b, "**Feedback:**\n%s\n\n", grade.Feedback)

	if len(grade.Citations) > 0 {
		b.WriteString("**Relevant excerpts from the summary:**\n")
		for i, citation := range grade.Citations {
			fmt.Fprintf(&b, "%d. %q\n", i+1, citation)
		}
		b.WriteString("\n")
	}

	b.WriteString(divider + "\n")

	switch {
	case grade.Score >= 7:
		b.WriteString("\n🎉 Congratulations! You demonstrated good understanding of the topic!\n")
	case grade.Score >= 5:
		b.WriteString("\n👍 You're on the right track! Review some points.\n")
	default:
		b.WriteString("\n📚 Don't be discouraged! Review the summary and keep learning.\n")
	}
	return b.String()
}

// NewAskContinueNode asks whether to start a new learning cycle.
func NewAskContinueNode() flow.Node {
	return flow.NewNode(
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			text := "\n" + strings.Repeat("=", 70) + "\n\n" + askContinueText
			return map[string]any{
				session.KeyMessages: []session.Message{session.AssistantMessage(text)},
			}, nil
		}),
		flow.WithPostFunc(mergePost),
	)
}

// NewReceiveContinueNode normalizes the continuation answer. An affirmative
// clears every per-cycle field so the next cycle starts clean; the transcript
// and run id survive. The node's action is the router decision.
func NewReceiveContinueNode() flow.Node {
	return flow.NewNode(
		flow.WithPrepFunc(func(ctx context.Context, shared *flow.SharedStore) (any, error) {
			msg, _ := session.LastMessage(shared)
			return msg, nil
		}),
		flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
			msg, ok := prepResult.(session.Message)
			if !ok || msg.Role != session.RoleUser {
				return map[string]any{session.KeyContinue: false}, nil
			}

			if !NormalizeContinue(msg.Text()) {
				return map[string]any{session.KeyContinue: false}, nil
			}

			update := session.ResetCycle()
			update[session.KeyContinue] = true
			return update, nil
		}),
		flow.WithPostFunc(func(ctx context.Context, shared *flow.SharedStore, prepResult, execResult any) (flow.Action, error) {
			if update, ok := execResult.(map[string]any); ok {
				session.Merge(shared, update)
			}
			return ShouldContinue(shared), nil
		}),
	)
}

// ShouldContinue is the router: a new cycle starts only when the user
// explicitly opted in; anything else ends the session.
func ShouldContinue(shared *flow.SharedStore) flow.Action {
	if shared.GetBool(session.KeyContinue) {
		return ActionContinue
	}
	return ActionEnd
}
