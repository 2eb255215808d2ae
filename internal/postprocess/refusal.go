package postprocess

import "strings"

// refusalPhrases is the fixed list of phrases indicating a model ignored the
// tool output it was given and fell back to disclaiming live-data access.
// Matching is case-insensitive substring search.
var refusalPhrases = []string{
	"cannot access real-time",
	"can't access real-time",
	"cannot access the internet",
	"don't have access to real-time",
	"do not have access to real-time",
	"don't have access to current",
	"do not have access to current",
	"unable to access current",
	"my training data ends",
	"my knowledge cutoff",
	"my knowledge cut-off",
	"as an ai language model, i cannot",
	"i cannot browse the internet",
	"i can't browse the internet",
	"no access to live data",
	"i don't have real-time information",
}

// IsRefusal reports whether text contains any known refusal phrase.
func IsRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
