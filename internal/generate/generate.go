// Package generate turns scraped article text into tweet content with an LLM.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"threadify/internal/budget"
	"threadify/internal/config"
	"threadify/internal/logging"
	"threadify/internal/model"
)

const (
	ModelMini = "gpt-4o-mini"
	Model4o   = "gpt-4o"

	largeThresholdWords = 2500
)

// Rate is a per-token price in USD.
type Rate struct {
	Input  float64
	Output float64
}

// Costs maps model names to their per-token prices.
var Costs = map[string]Rate{
	ModelMini: {Input: 0.150 / 1_000_000, Output: 0.600 / 1_000_000},
	Model4o:   {Input: 2.50 / 1_000_000, Output: 10.00 / 1_000_000},
}

func rateFor(m string) Rate {
	if r, ok := Costs[m]; ok {
		return r
	}
	return Costs[ModelMini]
}

// EstimateTokens approximates one token per four characters.
func EstimateTokens(text string) int { return len(text) / 4 }

// EstimateCost prices a prompt plus an expected output size. Unknown models
// are priced as gpt-4o-mini.
func EstimateCost(prompt string, expectedOutputTokens int, m string) float64 {
	r := rateFor(m)
	return float64(EstimateTokens(prompt))*r.Input + float64(expectedOutputTokens)*r.Output
}

// Cost prices actual usage.
func Cost(m string, tokensIn, tokensOut int) float64 {
	r := rateFor(m)
	return float64(tokensIn)*r.Input + float64(tokensOut)*r.Output
}

// ChooseModel picks gpt-4o for articles over 2500 words.
func ChooseModel(wordCount int) string {
	if wordCount > largeThresholdWords {
		return Model4o
	}
	return ModelMini
}

// Error is returned for every generation failure.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Input is the scraped snapshot the prompts are built from.
type Input struct {
	Title     string
	Text      string
	SiteName  string
	Author    string
	WordCount int
}

// Options select the output shape and tone.
type Options struct {
	Type       model.ContentType
	Style      string
	Hook       bool
	Extractive bool
	ThreadCap  int
	SingleCap  int
}

// OptionsFrom maps persisted run settings onto generation options.
func OptionsFrom(t model.ContentType, s model.Settings) Options {
	return Options{
		Type:       t,
		Style:      s.Style,
		Hook:       s.Hook,
		Extractive: s.Extractive,
		ThreadCap:  s.ThreadCap,
		SingleCap:  s.SingleCap,
	}
}

// Result is generated content plus its usage.
type Result struct {
	Tweets    []string
	StyleUsed string
	HookUsed  bool
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Model     string
}

// Generator produces threads, single tweets and reference tweets.
type Generator struct {
	llm            Completer
	defaultModel   string
	largeModel     string
	largeThreshold int
	jsonRetries    int
	compress       bool
}

func New(llm Completer, cfg config.LLMConfig, b config.BudgetConfig) *Generator {
	g := &Generator{
		llm:            llm,
		defaultModel:   cfg.DefaultModel,
		largeModel:     cfg.LargeModel,
		largeThreshold: cfg.LargeThresholdWords,
		jsonRetries:    cfg.JSONRetries,
		compress:       b.CompressPrompts,
	}
	if g.defaultModel == "" {
		g.defaultModel = ModelMini
	}
	if g.largeModel == "" {
		g.largeModel = Model4o
	}
	if g.largeThreshold <= 0 {
		g.largeThreshold = largeThresholdWords
	}
	if g.jsonRetries < 0 {
		g.jsonRetries = 0
	}
	return g
}

// ModelFor applies the configured size threshold.
func (g *Generator) ModelFor(wordCount int) string {
	if wordCount > g.largeThreshold {
		return g.largeModel
	}
	return g.defaultModel
}

type threadPayload struct {
	Tweets []struct {
		Text string `json:"text"`
	} `json:"tweets"`
	StyleUsed string `json:"style_used"`
	HookUsed  bool   `json:"hook_used"`
}

type singlePayload struct {
	Text      string `json:"text"`
	StyleUsed string `json:"style_used"`
}

// Generate produces a thread or a single tweet depending on opts.Type.
func (g *Generator) Generate(ctx context.Context, in Input, opts Options) (Result, error) {
	m := g.ModelFor(in.WordCount)
	if opts.Type == model.TypeSingle {
		var p singlePayload
		usage, err := g.call(ctx, m, SinglePrompt(in, opts), &p)
		if err != nil {
			return Result{}, err
		}
		text := strings.TrimSpace(p.Text)
		if text == "" {
			return Result{}, &Error{Msg: "Generated tweet is empty"}
		}
		return g.result([]string{text}, p.StyleUsed, false, usage, m), nil
	}

	var p threadPayload
	usage, err := g.call(ctx, m, ThreadPrompt(in, opts), &p)
	if err != nil {
		return Result{}, err
	}
	tweets := make([]string, 0, len(p.Tweets))
	for _, t := range p.Tweets {
		if s := strings.TrimSpace(t.Text); s != "" {
			tweets = append(tweets, s)
		}
	}
	if len(tweets) == 0 {
		return Result{}, &Error{Msg: "Generated thread has no tweets"}
	}
	if opts.ThreadCap > 0 && len(tweets) > opts.ThreadCap {
		tweets = tweets[:opts.ThreadCap]
	}
	return g.result(tweets, p.StyleUsed, p.HookUsed, usage, m), nil
}

// GenerateReference produces the citation tweet, always on the small model.
func (g *Generator) GenerateReference(ctx context.Context, in Input) (Result, error) {
	var p singlePayload
	usage, err := g.call(ctx, ModelMini, ReferencePrompt(in), &p)
	if err != nil {
		return Result{}, err
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return Result{}, &Error{Msg: "Generated reference is empty"}
	}
	return g.result([]string{text}, "", false, usage, ModelMini), nil
}

func (g *Generator) result(tweets []string, style string, hook bool, u Completion, m string) Result {
	return Result{
		Tweets:    tweets,
		StyleUsed: style,
		HookUsed:  hook,
		TokensIn:  u.TokensIn,
		TokensOut: u.TokensOut,
		CostUSD:   Cost(m, u.TokensIn, u.TokensOut),
		Model:     m,
	}
}

// call sends prompt and decodes the JSON reply into out. Undecodable replies
// are retried up to jsonRetries more times; usage accumulates across attempts.
func (g *Generator) call(ctx context.Context, m, prompt string, out any) (Completion, error) {
	if g.compress {
		prompt = budget.CompressPrompt(prompt)
	}
	var usage Completion
	for attempt := 0; attempt <= g.jsonRetries; attempt++ {
		c, err := g.llm.Complete(ctx, m, prompt)
		if err != nil {
			return usage, &Error{Msg: "OpenAI API error", Err: err}
		}
		usage.TokensIn += c.TokensIn
		usage.TokensOut += c.TokensOut
		if strings.TrimSpace(c.Content) == "" {
			return usage, &Error{Msg: "Empty response from OpenAI"}
		}
		err = json.Unmarshal([]byte(c.Content), out)
		if err == nil {
			return usage, nil
		}
		if attempt < g.jsonRetries {
			logging.Warn("llm_invalid_json", logging.Fields{"model": m, "attempt": attempt + 1})
			continue
		}
		return usage, &Error{Msg: fmt.Sprintf("Invalid JSON after %d retries", g.jsonRetries), Err: err}
	}
	return usage, &Error{Msg: fmt.Sprintf("Failed after %d retries", g.jsonRetries)}
}
