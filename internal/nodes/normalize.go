package nodes

import "strings"

// NormalizeAnswer maps free-form quiz input to a single letter A-D, or ""
// when no valid option can be recognized. Accepted forms: the bare letter in
// any case, digits 1-4, "option X" / "alternative X" phrases, and any input
// whose first character is a valid letter.
func NormalizeAnswer(raw string) string {
	answer := strings.ToUpper(strings.TrimSpace(raw))

	switch answer {
	case "A", "1":
		return "A"
	case "B", "2":
		return "B"
	case "C", "3":
		return "C"
	case "D", "4":
		return "D"
	}

	for _, letter := range []string{"A", "B", "C", "D"} {
		if strings.Contains(answer, "OPTION "+letter) || strings.Contains(answer, "ALTERNATIVE "+letter) {
			return letter
		}
	}

	if len(answer) > 0 && answer[0] >= 'A' && answer[0] <= 'D' {
		return string(answer[0])
	}
	return ""
}

// affirmatives is the multi-lingual set of continuation answers treated as
// "yes". Anything outside the set means "no".
var affirmatives = map[string]bool{
	"yes":  true,
	"y":    true,
	"sim":  true,
	"s":    true,
	"si":   true,
	"yeah": true,
	"yep":  true,
}

// NormalizeContinue maps free-form continuation input to a boolean.
func NormalizeContinue(raw string) bool {
	return affirmatives[strings.ToLower(strings.TrimSpace(raw))]
}
