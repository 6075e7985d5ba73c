package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadify/internal/config"
	"threadify/internal/model"
)

type reply struct {
	c   Completion
	err error
}

type scriptedLLM struct {
	replies []reply
	models  []string
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, m, prompt string) (Completion, error) {
	s.models = append(s.models, m)
	s.prompts = append(s.prompts, prompt)
	if len(s.replies) == 0 {
		return Completion{}, errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.c, r.err
}

func content(s string, in, out int) reply { return reply{c: Completion{Content: s, TokensIn: in, TokensOut: out}} }

func newGen(llm Completer) *Generator {
	return New(llm, config.Default().LLM, config.BudgetConfig{})
}

var article = Input{Title: "Why Go", Text: "Go is simple. Go is fast.", SiteName: "Blog", Author: "Rob", WordCount: 900}

func TestChooseModelAndCosts(t *testing.T) {
	assert.Equal(t, ModelMini, ChooseModel(2500))
	assert.Equal(t, Model4o, ChooseModel(2501))
	assert.Equal(t, 10, EstimateTokens(strings.Repeat("a", 43)))
	assert.InDelta(t, 1000*0.15/1e6+500*0.60/1e6, Cost(ModelMini, 1000, 500), 1e-12)
	assert.InDelta(t, 1000*2.5/1e6+500*10.0/1e6, Cost(Model4o, 1000, 500), 1e-12)
	assert.Equal(t, Cost(ModelMini, 10, 10), Cost("unknown-model", 10, 10))
	assert.InDelta(t, 100*0.15/1e6+200*0.60/1e6, EstimateCost(strings.Repeat("x", 400), 200, ModelMini), 1e-12)
}

func TestGenerateThread(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{
		content(`{"tweets":[{"text":" Hook tweet "},{"text":""},{"text":"Second"},{"text":"Third"}],"style_used":"analytical","hook_used":true}`, 1200, 300),
	}}
	res, err := newGen(llm).Generate(context.Background(), article, Options{Type: model.TypeThread, Style: "analytical", Hook: true, Extractive: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hook tweet", "Second", "Third"}, res.Tweets)
	assert.Equal(t, "analytical", res.StyleUsed)
	assert.True(t, res.HookUsed)
	assert.Equal(t, ModelMini, res.Model)
	assert.Equal(t, 1200, res.TokensIn)
	assert.InDelta(t, Cost(ModelMini, 1200, 300), res.CostUSD, 1e-12)

	p := llm.prompts[0]
	assert.Contains(t, p, "Use ONLY the author's own words")
	assert.Contains(t, p, "analytical, data-driven")
	assert.Contains(t, p, "compelling hook")
	assert.Contains(t, p, "Create a thread of 3-8 tweets")
	assert.Contains(t, p, "Site: Blog")
	assert.Contains(t, p, "Author: Rob")
	assert.Contains(t, p, article.Text)
}

func TestGenerateThreadCapAndLargeModel(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{
		content(`{"tweets":[{"text":"1"},{"text":"2"},{"text":"3"},{"text":"4"},{"text":"5"}]}`, 10, 10),
	}}
	big := article
	big.WordCount = 4000
	res, err := newGen(llm).Generate(context.Background(), big, Options{Type: model.TypeThread, ThreadCap: 4})
	require.NoError(t, err)
	assert.Len(t, res.Tweets, 4)
	assert.Equal(t, []string{Model4o}, llm.models)
	assert.Contains(t, llm.prompts[0], "Create a thread of 3-4 tweets")
	assert.Contains(t, llm.prompts[0], "in your own words")
}

func TestGenerateSingle(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{content(`{"text":"One tweet.","style_used":"none"}`, 50, 20)}}
	res, err := newGen(llm).Generate(context.Background(), article, Options{Type: model.TypeSingle, SingleCap: 200})
	require.NoError(t, err)
	assert.Equal(t, []string{"One tweet."}, res.Tweets)
	assert.Contains(t, llm.prompts[0], "under 200 characters")
}

func TestGenerateReferenceUsesMini(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{content(`{"text":"Original: Why Go by Rob"}`, 40, 10)}}
	big := article
	big.WordCount = 9000
	res, err := newGen(llm).GenerateReference(context.Background(), big)
	require.NoError(t, err)
	assert.Equal(t, []string{"Original: Why Go by Rob"}, res.Tweets)
	assert.Equal(t, []string{ModelMini}, llm.models)
	assert.Contains(t, llm.prompts[0], `Format: "Original: [Title] by [Author/Site]"`)
	assert.NotContains(t, llm.prompts[0], article.Text)
}

func TestGenerateRetriesInvalidJSON(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{
		content(`not json`, 100, 5),
		content(`{"tweets":[{"text":"ok"}]}`, 100, 20),
	}}
	res, err := newGen(llm).Generate(context.Background(), article, Options{Type: model.TypeThread})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, res.Tweets)
	assert.Equal(t, 200, res.TokensIn)
	assert.Equal(t, 25, res.TokensOut)
	assert.Len(t, llm.models, 2)
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()
	opts := Options{Type: model.TypeThread}

	llm := &scriptedLLM{replies: []reply{content("{", 1, 1), content("{", 1, 1), content("{", 1, 1)}}
	_, err := newGen(llm).Generate(ctx, article, opts)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Invalid JSON after 2 retries"))
	assert.Len(t, llm.models, 3)

	llm = &scriptedLLM{replies: []reply{content("  ", 1, 0)}}
	_, err = newGen(llm).Generate(ctx, article, opts)
	require.Error(t, err)
	assert.Equal(t, "Empty response from OpenAI", err.Error())

	llm = &scriptedLLM{replies: []reply{{err: errors.New("boom")}}}
	_, err = newGen(llm).Generate(ctx, article, opts)
	require.Error(t, err)
	assert.Equal(t, "OpenAI API error: boom", err.Error())
	var gerr *Error
	assert.ErrorAs(t, err, &gerr)

	llm = &scriptedLLM{replies: []reply{content(`{"tweets":[]}`, 1, 1)}}
	_, err = newGen(llm).Generate(ctx, article, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tweets")
}

func TestGenerateCompressesPrompt(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{content(`{"tweets":[{"text":"a"}]}`, 1, 1)}}
	g := New(llm, config.Default().LLM, config.BudgetConfig{CompressPrompts: true})
	_, err := g.Generate(context.Background(), article, Options{Type: model.TypeThread})
	require.NoError(t, err)
	assert.NotContains(t, llm.prompts[0], "\n\n")
}

func TestOpenAIClient(t *testing.T) {
	var got chatRequest
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&got)) {
			return
		}
		if got.Model == "bad" {
			http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"text\":\"hi\"}"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer ts.Close()

	c := NewOpenAIClient(config.LLMConfig{APIKey: "sk-test", APIURL: ts.URL})
	out, err := c.Complete(context.Background(), ModelMini, "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"text":"hi"}`, out.Content)
	assert.Equal(t, 12, out.TokensIn)
	assert.Equal(t, 3, out.TokensOut)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)

	_, err = c.Complete(context.Background(), "bad", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")

	_, err = NewOpenAIClient(config.LLMConfig{APIURL: ts.URL}).Complete(context.Background(), ModelMini, "p")
	assert.Error(t, err)
}
