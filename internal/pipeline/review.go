package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"threadify/internal/generate"
	"threadify/internal/logging"
	"threadify/internal/model"
	"threadify/internal/store/sqlitedb"
)

// MaxTweetChars is the platform's per-post character limit.
const MaxTweetChars = 280

func (o *Orchestrator) loadRun(ctx context.Context, runID int64) (model.Run, error) {
	r, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, sqlitedb.ErrNotFound) {
		return model.Run{}, ErrRunNotFound
	}
	return r, internal(err)
}

// UpdateTweet edits one content tweet of a run awaiting posting.
func (o *Orchestrator) UpdateTweet(ctx context.Context, runID int64, idx int, text string) (err error) {
	defer recoverInto(&err, "update_tweet")
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: tweet text cannot be empty", ErrBadRequest)
	}
	if n := utf8.RuneCountInString(text); n > MaxTweetChars {
		return fmt.Errorf("%w: tweet is %d characters (max %d)", ErrBadRequest, n, MaxTweetChars)
	}
	run, err := o.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != model.StatusReview && run.Status != model.StatusApproved {
		return stateError("run %d is %s", runID, run.Status)
	}
	err = o.store.UpdateTweetText(ctx, runID, model.RoleContent, idx, text)
	switch {
	case errors.Is(err, sqlitedb.ErrNotFound):
		return ErrTweetNotFound
	case errors.Is(err, sqlitedb.ErrConflict):
		return stateError("tweet %d is already posted", idx)
	case err != nil:
		return internal(err)
	}
	logging.Info("tweet_updated", logging.Fields{"run_id": runID, "idx": idx})
	return nil
}

// Regenerate re-runs generation from the stored scrape snapshot. A non-nil
// settings replaces the run's persisted settings first.
func (o *Orchestrator) Regenerate(ctx context.Context, runID int64, settings *model.Settings) (run model.Run, err error) {
	defer recoverInto(&err, "regenerate")
	run, err = o.loadRun(ctx, runID)
	if err != nil {
		return model.Run{}, err
	}
	if run.Status != model.StatusReview {
		return model.Run{}, stateError("run %d is %s", runID, run.Status)
	}
	if settings != nil {
		// hero image and reference are fixed at submission
		s := *settings
		s.Image = run.Settings.Image
		s.Reference = run.Settings.Reference
		s.UTM = run.Settings.UTM
		run.Settings = s
	}
	in := generate.Input{Title: run.ScrapedTitle, Text: run.ScrapedText, WordCount: run.WordCount}
	gen, err := o.gen.Generate(ctx, in, generate.OptionsFrom(run.Type, run.Settings))
	if err != nil {
		return model.Run{}, &ProcessingError{Stage: "generate", Err: err}
	}

	alt := ""
	if c := run.ContentTweets(); len(c) > 0 {
		alt = c[0].MediaAlt
	}
	tweets := make([]model.Tweet, len(gen.Tweets))
	for i, text := range gen.Tweets {
		tweets[i] = model.Tweet{Idx: i, Role: model.RoleContent, Text: text}
	}
	if len(tweets) > 0 {
		tweets[0].MediaAlt = alt
	}
	if settings != nil {
		if err := o.store.UpdateRunSettings(ctx, runID, run.Settings); err != nil {
			return model.Run{}, internal(err)
		}
	}
	if err := o.store.ReplaceContentTweets(ctx, runID, tweets, gen.CostUSD, gen.TokensIn, gen.TokensOut); err != nil {
		return model.Run{}, internal(err)
	}
	logging.Info("run_regenerated", logging.Fields{"run_id": runID, "tweets": len(tweets), "cost_usd": gen.CostUSD})
	return o.loadRun(ctx, runID)
}
