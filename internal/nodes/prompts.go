package nodes

import "fmt"

// Fixed assistant messages presented at user-interaction steps.
const (
	greetingText = "Hello! I'm HealthBot, your health education assistant. 🏥\n\n" +
		"I'm here to help you better understand medical conditions and health care.\n\n" +
		"What health topic would you like to learn about today?\n" +
		"(Examples: diabetes, hypertension, asthma, anxiety)"

	askContinueText = "Would you like to learn about another health topic? 🤔\n\n" +
		"Type 'yes' to continue or 'no' to end the session."

	noResultsText = "No reliable information found for this topic. " +
		"Please try a different or more specific health topic."
)

// Degraded-mode placeholders produced when a step's preconditions are
// missing. They flow downstream and are shown to the user instead of
// terminating the session.
const (
	errNoTopicText    = "Error: No topic provided."
	errNoSummaryData  = "Error: Missing data for summarization."
	errNoSummaryText  = "Error: No summary available."
	errNoQuizText     = "Error: Could not create quiz."
	errNoGradeText    = "Error: Could not evaluate your answer."
	errGradeInputText = "Error: Could not evaluate the answer."
)

const summarizeSystemPrompt = "You are a health educator specialized in communicating " +
	"medical information in clear and accessible language for patients.\n\n" +
	"Create an educational summary that:\n" +
	"- Uses simple language (avoid medical jargon)\n" +
	"- Is accurate and based ONLY on the provided sources\n" +
	"- Is between 200-250 words\n" +
	"- Is informative and practical\n\n" +
	"CRITICAL INSTRUCTION:\n" +
	"- Use ONLY the provided results; do NOT use outside knowledge\n" +
	"- Base your summary exclusively on the sources given\n" +
	"- Do not add information not present in the provided sources"

func summarizeUserPrompt(topic, results string) string {
	return fmt.Sprintf("Create an educational summary about **%s** based on these sources:\n\n%s", topic, results)
}

const quizSystemPrompt = "You are a medical educator specialized in creating " +
	"educational assessment questions.\n\n" +
	"Your task is to create ONE multiple choice question that:\n" +
	"- Tests understanding of the presented content\n" +
	"- Is clear and objective\n" +
	"- Has 4 alternatives (A, B, C, D)\n" +
	"- Has only ONE correct answer\n" +
	"- Is moderate difficulty\n\n" +
	"CRITICAL INSTRUCTIONS:\n" +
	"- Use ONLY the provided summary; do NOT use outside knowledge\n" +
	"- Base the question and all alternatives exclusively on the summary\n" +
	"- DO NOT reveal which answer is correct in your response\n" +
	"- DO NOT include phrases like 'Correct Answer:', 'The answer is', etc.\n" +
	"- ONLY provide the question and the four alternatives\n\n" +
	"Required format (NOTHING ELSE):\n" +
	"Question: [question text]\n" +
	"A) [alternative A]\n" +
	"B) [alternative B]\n" +
	"C) [alternative C]\n" +
	"D) [alternative D]"

func quizUserPrompt(topic, summary string) string {
	return fmt.Sprintf("Create a multiple choice question about **%s** based on this summary:\n\n%s\n\n"+
		"Remember: Only output the question and four alternatives. Do NOT reveal the correct answer!", topic, summary)
}

const gradeSystemPrompt = "You are an educational evaluator specialist.\n\n" +
	"Your task is to evaluate the student's answer and provide educational feedback.\n\n" +
	"CRITICAL INSTRUCTION:\n" +
	"- Use ONLY the educational summary provided; do NOT use outside knowledge\n" +
	"- Base your evaluation exclusively on the summary content\n" +
	"- Do not reference information not present in the provided summary\n\n" +
	"Analyze if the answer is correct based on the educational summary provided.\n\n" +
	"Return the evaluation in the FOLLOWING JSON FORMAT:\n" +
	"{\n" +
	"  \"score\": [number from 0 to 10],\n" +
	"  \"feedback\": \"[detailed explanation if correct or incorrect and why]\",\n" +
	"  \"citations\": [\"excerpt 1 from summary that justifies\", \"excerpt 2...\"]\n" +
	"}\n\n" +
	"SCORING:\n" +
	"- If answer is correct: score 8-10\n" +
	"- If partially correct: score 5-7\n" +
	"- If incorrect: score 0-4\n" +
	"- Always cite specific excerpts from the summary that justify the evaluation"

func gradeUserPrompt(question, answer, summary string) string {
	return fmt.Sprintf("QUESTION:\n%s\n\nSTUDENT'S ANSWER: %s\n\n"+
		"EDUCATIONAL SUMMARY (basis for evaluation):\n%s\n\n"+
		"Evaluate the answer and return in JSON format.", question, answer, summary)
}
