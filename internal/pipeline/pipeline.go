// Package pipeline sequences a submission from URL to persisted run and, for
// approved runs, through the posting engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"threadify/internal/budget"
	"threadify/internal/dedupe"
	"threadify/internal/generate"
	"threadify/internal/images"
	"threadify/internal/logging"
	"threadify/internal/metrics"
	"threadify/internal/model"
	"threadify/internal/poster"
	"threadify/internal/scrape"
	"threadify/internal/store/sqlitedb"
	"threadify/internal/util"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	dedupe.Lookup
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (model.Account, error)
	FirstAccount(ctx context.Context) (model.Account, error)
	CreateRun(ctx context.Context, r *model.Run, img *sqlitedb.StoredImage) error
	GetRun(ctx context.Context, id int64) (model.Run, error)
	SetRunStatus(ctx context.Context, id int64, status model.RunStatus, errMsg string) error
	TransitionRun(ctx context.Context, id int64, to model.RunStatus, from ...model.RunStatus) error
	ReplaceContentTweets(ctx context.Context, runID int64, tweets []model.Tweet, cost float64, tokensIn, tokensOut int) error
	UpdateRunSettings(ctx context.Context, id int64, s model.Settings) error
	UpdateTweetText(ctx context.Context, runID int64, role model.TweetRole, idx int, text string) error
	MarkTweetPosted(ctx context.Context, runID int64, role model.TweetRole, idx int, tweetID, permalink string, at time.Time) error
	RunImage(ctx context.Context, runID int64) (sqlitedb.StoredImage, error)
	MarkImageUsed(ctx context.Context, imageID int64) error
}

type Canonicalizer interface {
	Canonicalize(ctx context.Context, raw string) (string, error)
}

type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (scrape.Content, error)
}

type Generator interface {
	Generate(ctx context.Context, in generate.Input, opts generate.Options) (generate.Result, error)
	GenerateReference(ctx context.Context, in generate.Input) (generate.Result, error)
}

type ImageProcessor interface {
	ValidateAndProcess(ctx context.Context, imageURL string) (images.Processed, error)
}

type Poster interface {
	PostThread(ctx context.Context, req poster.ThreadRequest) poster.ThreadResult
	PostReference(ctx context.Context, token, text, replyTo string) (string, error)
}

// Deps wires the orchestrator. Images may be nil to disable hero images.
type Deps struct {
	Store         Store
	Canonicalizer Canonicalizer
	Scraper       Scraper
	Generator     Generator
	Images        ImageProcessor
	Poster        Poster
	// CapUSD is the auto-posting cost ceiling; nil means budget.DefaultCapUSD.
	CapUSD *float64
	// Key unseals account tokens.
	Key []byte
}

// Orchestrator runs submissions and their review workflow. At most one
// posting worker runs per run ID.
type Orchestrator struct {
	store  Store
	canon  Canonicalizer
	dedupe *dedupe.Detector
	scrape Scraper
	gen    Generator
	images ImageProcessor
	poster Poster
	capUSD float64
	key    []byte

	flight singleflight.Group
	now    func() time.Time
}

func New(d Deps) *Orchestrator {
	capUSD := budget.DefaultCapUSD
	if d.CapUSD != nil {
		capUSD = *d.CapUSD
	}
	return &Orchestrator{
		store:  d.Store,
		canon:  d.Canonicalizer,
		dedupe: dedupe.New(d.Store),
		scrape: d.Scraper,
		gen:    d.Generator,
		images: d.Images,
		poster: d.Poster,
		capUSD: capUSD,
		key:    d.Key,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest is one URL submission.
type SubmitRequest struct {
	URL      string
	Account  string
	Mode     model.Mode
	Type     model.ContentType
	Settings model.Settings
	Force    bool
}

// SubmitResult describes the persisted run. Duplicate is set when a review
// submission repeats an earlier run.
type SubmitResult struct {
	RunID      int64
	Status     model.RunStatus
	Mode       model.Mode
	Downgraded bool
	Duplicate  dedupe.Result
	CostUSD    float64
	Tweets     []model.Tweet
	Posting    *PostOutcome
}

// recoverInto turns a panic into ErrInternal on *err.
func recoverInto(err *error, op string) {
	if r := recover(); r != nil {
		logging.Error("panic_recovered", logging.Fields{"op": op, "panic": fmt.Sprint(r), "stack": string(debug.Stack())})
		*err = fmt.Errorf("%w: %v", ErrInternal, r)
	}
}

func internal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// Submit runs canonicalize, dedupe, scrape, image, generate, budget gate and
// persistence in order. Auto runs that stay approved are posted immediately.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (res SubmitResult, err error) {
	defer recoverInto(&err, "submit")
	started := time.Now()
	log := logging.With(logging.Fields{"submission_id": uuid.NewString(), "url": req.URL})

	mode, typ, err := normalizeRequest(req)
	if err != nil {
		return SubmitResult{}, err
	}
	acct, err := o.resolveAccount(ctx, req.Account)
	if err != nil {
		return SubmitResult{}, err
	}
	canonical, err := o.canon.Canonicalize(ctx, req.URL)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	log = log.WithField("canonical_url", canonical)

	dup, err := o.dedupe.Check(ctx, acct.ID, canonical, mode, req.Force)
	if err != nil {
		return SubmitResult{}, internal(err)
	}
	if dup.ShouldBlock {
		metrics.DuplicatesBlocked.Inc()
		log.WithField("previous_run_id", dup.PreviousRunID).Info("duplicate_blocked")
		return SubmitResult{}, &DuplicateError{PreviousRunID: dup.PreviousRunID}
	}
	if dup.IsDuplicate {
		log.WithField("previous_run_id", dup.PreviousRunID).Warn("duplicate_submission")
	}

	t := time.Now()
	content, err := o.scrape.Scrape(ctx, canonical)
	metrics.ObserveStage("scrape", t)
	if err != nil {
		log.WithError(err).Warn("scrape_failed")
		return SubmitResult{}, &ProcessingError{Stage: "scrape", Err: err}
	}

	hero := o.heroImage(ctx, req.Settings, content)

	in := generate.Input{
		Title:     content.Title,
		Text:      content.Text,
		SiteName:  content.SiteName,
		Author:    content.Author,
		WordCount: content.WordCount,
	}
	t = time.Now()
	gen, err := o.gen.Generate(ctx, in, generate.OptionsFrom(typ, req.Settings))
	metrics.ObserveStage("generate", t)
	if err != nil {
		log.WithError(err).Warn("generate_failed")
		return SubmitResult{}, &ProcessingError{Stage: "generate", Err: err}
	}
	cost, tokensIn, tokensOut := gen.CostUSD, gen.TokensIn, gen.TokensOut

	refText := ""
	if req.Settings.Reference != "" {
		refText, cost, tokensIn, tokensOut = o.referenceText(ctx, in, req.Settings, canonical, cost, tokensIn, tokensOut)
	}

	metrics.GenerationCost.Observe(cost)
	downgraded := false
	if !budget.WithinBudget(cost, o.capUSD) && mode == model.ModeAuto {
		mode = model.ModeReview
		downgraded = true
		metrics.BudgetDowngrades.Inc()
		log.WithField("cost_usd", cost).Info("budget_downgrade")
	}

	status := model.StatusReview
	if mode == model.ModeAuto {
		status = model.StatusApproved
	}
	run := &model.Run{
		SubmittedAt:  o.now(),
		AccountID:    acct.ID,
		URL:          req.URL,
		CanonicalURL: canonical,
		Mode:         mode,
		Type:         typ,
		Settings:     req.Settings,
		Status:       status,
		CostEstimate: cost,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		ScrapedTitle: content.Title,
		ScrapedText:  content.Text,
		WordCount:    content.WordCount,
	}
	for i, text := range gen.Tweets {
		tw := model.Tweet{Idx: i, Role: model.RoleContent, Text: text}
		if i == 0 && hero != nil {
			tw.MediaAlt = hero.alt
		}
		run.Tweets = append(run.Tweets, tw)
	}
	if refText != "" {
		run.Tweets = append(run.Tweets, model.Tweet{Idx: 0, Role: model.RoleReference, Text: refText})
	}
	var img *sqlitedb.StoredImage
	if hero != nil {
		img = &hero.stored
	}
	if err := o.store.CreateRun(ctx, run, img); err != nil {
		return SubmitResult{}, internal(err)
	}
	metrics.IncSubmission(string(mode), string(typ))
	metrics.ObserveStage("submit", started)
	log.WithFields(map[string]any{"run_id": run.ID, "status": string(status), "cost_usd": cost}).Info("run_created")

	res = SubmitResult{
		RunID:      run.ID,
		Status:     status,
		Mode:       mode,
		Downgraded: downgraded,
		Duplicate:  dup,
		CostUSD:    cost,
		Tweets:     run.Tweets,
	}
	if status != model.StatusApproved {
		return res, nil
	}
	out, err := o.post(ctx, run.ID, model.StatusApproved)
	if err != nil {
		return res, err
	}
	res.Posting = &out
	res.Status = out.Status
	if final, err := o.store.GetRun(ctx, run.ID); err == nil {
		res.Tweets = final.Tweets
	}
	return res, nil
}

func normalizeRequest(req SubmitRequest) (model.Mode, model.ContentType, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.ModeReview
	}
	if mode != model.ModeReview && mode != model.ModeAuto {
		return "", "", fmt.Errorf("%w: mode must be review or auto", ErrBadRequest)
	}
	typ := req.Type
	if typ == "" {
		typ = model.TypeThread
	}
	if typ != model.TypeThread && typ != model.TypeSingle {
		return "", "", fmt.Errorf("%w: type must be thread or single", ErrBadRequest)
	}
	if req.Settings.ThreadCap < 0 || req.Settings.SingleCap < 0 {
		return "", "", fmt.Errorf("%w: caps must not be negative", ErrBadRequest)
	}
	return mode, typ, nil
}

func (o *Orchestrator) resolveAccount(ctx context.Context, handle string) (model.Account, error) {
	handle = util.StripHandle(handle)
	if handle != "" {
		a, err := o.store.GetAccountByHandle(ctx, handle)
		if errors.Is(err, sqlitedb.ErrNotFound) {
			return model.Account{}, fmt.Errorf("%w: @%s", ErrAccountNotFound, handle)
		}
		return a, internal(err)
	}
	a, err := o.store.FirstAccount(ctx)
	if errors.Is(err, sqlitedb.ErrNotFound) {
		return model.Account{}, ErrNoAccounts
	}
	return a, internal(err)
}

type heroResult struct {
	stored sqlitedb.StoredImage
	alt    string
}

// heroImage is best effort: every failure is logged and yields nil.
func (o *Orchestrator) heroImage(ctx context.Context, s model.Settings, c scrape.Content) *heroResult {
	if !s.Image || o.images == nil {
		return nil
	}
	src := images.PickHero(c.HeroCandidates)
	if src == "" {
		return nil
	}
	t := time.Now()
	p, err := o.images.ValidateAndProcess(ctx, src)
	metrics.ObserveStage("image", t)
	if err != nil {
		logging.Warn("hero_image_skipped", logging.Fields{"source": src, "error": err.Error()})
		return nil
	}
	lede := c.Metadata["og:description"]
	if lede == "" {
		lede = c.Metadata["description"]
	}
	if lede == "" {
		lede = firstParagraph(c.Text)
	}
	return &heroResult{
		stored: sqlitedb.StoredImage{
			Image: model.Image{SourceURL: src, Width: p.Width, Height: p.Height},
			Data:  p.Data,
		},
		alt: images.AltTextFrom(c.Title, lede, images.DefaultAltTextMax),
	}
}

func firstParagraph(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// referenceText resolves the citation tweet. "auto" asks the generator; a
// generation failure drops the reference but keeps the run.
func (o *Orchestrator) referenceText(ctx context.Context, in generate.Input, s model.Settings, canonical string,
	cost float64, tokensIn, tokensOut int) (string, float64, int, int) {
	text := strings.TrimSpace(s.Reference)
	if strings.EqualFold(text, "auto") {
		r, err := o.gen.GenerateReference(ctx, in)
		if err != nil {
			logging.Warn("reference_generation_failed", logging.Fields{"error": err.Error()})
			return "", cost, tokensIn, tokensOut
		}
		text = r.Tweets[0]
		cost += r.CostUSD
		tokensIn += r.TokensIn
		tokensOut += r.TokensOut
	}
	return ReferenceWithLink(text, canonical, s.UTM), cost, tokensIn, tokensOut
}

// Get returns a run with its tweets.
func (o *Orchestrator) Get(ctx context.Context, runID int64) (model.Run, error) {
	r, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, sqlitedb.ErrNotFound) {
		return model.Run{}, ErrRunNotFound
	}
	return r, internal(err)
}
