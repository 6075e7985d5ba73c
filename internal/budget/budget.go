// Package budget gates automatic posting on estimated generation cost.
package budget

import "strings"

// DefaultCapUSD is the per-submission generation cost ceiling.
const DefaultCapUSD = 0.02

// WithinBudget reports estimate <= cap. Negative estimates count as zero.
func WithinBudget(estimateUSD, capUSD float64) bool {
	if estimateUSD < 0 {
		estimateUSD = 0
	}
	return estimateUSD <= capUSD
}

var verbosePhrases = []string{
	"Do not paraphrase, summarize, or add commentary. ",
	"Extract key sentences and insights verbatim. ",
	"Please make sure to ",
	"carefully and ",
	"ensure that ",
	"according to Twitter's official rules",
	"(following Twitter's rules)",
	"following Twitter's rules",
}

// CompressPrompt drops blank lines, trims every line, removes filler phrases
// and collapses repeated spaces.
func CompressPrompt(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return strings.TrimSpace(prompt)
	}
	out := joinNonEmptyLines(prompt)
	for _, p := range verbosePhrases {
		out = strings.ReplaceAll(out, p, "")
	}
	for strings.Contains(out, "  ") {
		out = strings.ReplaceAll(out, "  ", " ")
	}
	return joinNonEmptyLines(out)
}

func joinNonEmptyLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
