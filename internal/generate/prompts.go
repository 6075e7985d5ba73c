package generate

import (
	"fmt"
	"strings"
)

var styleInstructions = map[string]string{
	"conversational": "Write in a conversational, friendly tone.",
	"analytical":     "Write in an analytical, data-driven tone.",
	"casual":         "Write in a casual, relaxed tone.",
	"enthusiastic":   "Write in an enthusiastic, energetic tone.",
}

// KnownStyle reports whether style has a tone instruction.
func KnownStyle(style string) bool {
	_, ok := styleInstructions[strings.ToLower(style)]
	return ok
}

func sourceLines(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Article Title: %s\n", in.Title)
	if in.SiteName != "" {
		fmt.Fprintf(&b, "Site: %s\n", in.SiteName)
	}
	if in.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", in.Author)
	}
	return b.String()
}

func styleOrNone(style string) string {
	if style == "" {
		return "none"
	}
	return style
}

// ThreadPrompt builds the thread generation prompt.
func ThreadPrompt(in Input, opts Options) string {
	mode := "Summarize and distill the key insights from the article in your own words."
	if opts.Extractive {
		mode = "Use ONLY the author's own words from the article. " +
			"Do not paraphrase, summarize, or add commentary. " +
			"Extract key sentences and insights verbatim."
	}
	hook := ""
	if opts.Hook {
		hook = "Start with a compelling hook tweet that grabs attention and makes people want to read the thread."
	}
	upper := 8
	if opts.ThreadCap >= 3 && opts.ThreadCap < upper {
		upper = opts.ThreadCap
	}

	var b strings.Builder
	b.WriteString("You are creating a Twitter/X thread from the following article.\n\n")
	b.WriteString(mode + "\n")
	if s := styleInstructions[strings.ToLower(opts.Style)]; s != "" {
		b.WriteString(s + "\n")
	}
	if hook != "" {
		b.WriteString(hook + "\n")
	}
	fmt.Fprintf(&b, "\nCreate a thread of 3-%d tweets. Each tweet must be under 280 characters (following Twitter's rules).\n\n", upper)
	b.WriteString(sourceLines(in))
	b.WriteString("\nArticle Content:\n")
	b.WriteString(in.Text)
	fmt.Fprintf(&b, `

Return your response as a JSON object with this structure:
{
  "tweets": [{"text": "First tweet..."}, {"text": "Second tweet..."}],
  "style_used": %q,
  "hook_used": %t
}
`, styleOrNone(opts.Style), opts.Hook)
	return b.String()
}

// SinglePrompt builds the single tweet prompt.
func SinglePrompt(in Input, opts Options) string {
	limit := 280
	if opts.SingleCap > 0 && opts.SingleCap < limit {
		limit = opts.SingleCap
	}
	var b strings.Builder
	b.WriteString("You are creating a single Twitter/X post from the following article.\n\n")
	b.WriteString("Distill the key insight or most compelling point from the article into one tweet.\n")
	fmt.Fprintf(&b, "The tweet must be under %d characters (following Twitter's rules).\n", limit)
	if s := styleInstructions[strings.ToLower(opts.Style)]; s != "" {
		b.WriteString(s + "\n")
	}
	b.WriteString("\n")
	b.WriteString(sourceLines(in))
	b.WriteString("\nArticle Content:\n")
	b.WriteString(in.Text)
	fmt.Fprintf(&b, `

Return your response as a JSON object with this structure:
{
  "text": "Your single tweet here...",
  "style_used": %q
}
`, styleOrNone(opts.Style))
	return b.String()
}

// ReferencePrompt builds the citation tweet prompt.
func ReferencePrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are creating a reference tweet to accompany a Twitter/X thread.\n\n")
	b.WriteString("Create a simple reference tweet that credits the original article.\n")
	b.WriteString(`Format: "Original: [Title] by [Author/Site]"` + "\n")
	b.WriteString("Keep it under 280 characters.\n\n")
	b.WriteString(sourceLines(in))
	b.WriteString(`
Return your response as a JSON object with this structure:
{
  "text": "Your reference tweet here..."
}
`)
	return b.String()
}
