package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"threadify/internal/logging"
	"threadify/internal/model"
	"threadify/internal/poster"
	"threadify/internal/secrets"
	"threadify/internal/store/sqlitedb"
)

// PostOutcome reports one posting invocation. FailedAt is -1 on success.
type PostOutcome struct {
	Status           model.RunStatus
	TweetIDs         []string
	FailedAt         int
	Error            string
	ReferenceTweetID string
}

// Approve moves a review run to approved and posts it. Runs already approved
// are posted as-is.
func (o *Orchestrator) Approve(ctx context.Context, runID int64) (out PostOutcome, err error) {
	defer recoverInto(&err, "approve")
	err = o.store.TransitionRun(ctx, runID, model.StatusApproved, model.StatusReview)
	switch {
	case errors.Is(err, sqlitedb.ErrNotFound):
		return PostOutcome{}, ErrRunNotFound
	case errors.Is(err, sqlitedb.ErrConflict):
		// already approved is fine; anything else is rejected by post
	case err != nil:
		return PostOutcome{}, internal(err)
	default:
		logging.Info("run_approved", logging.Fields{"run_id": runID})
	}
	return o.post(ctx, runID, model.StatusApproved)
}

// Resume continues a failed (or never started) thread after the last posted
// tweet.
func (o *Orchestrator) Resume(ctx context.Context, runID int64) (out PostOutcome, err error) {
	defer recoverInto(&err, "resume")
	return o.post(ctx, runID, model.StatusFailed, model.StatusApproved)
}

// post runs postRun under a per-run singleflight key so concurrent callers
// share one worker.
func (o *Orchestrator) post(ctx context.Context, runID int64, from ...model.RunStatus) (PostOutcome, error) {
	v, err, shared := o.flight.Do(strconv.FormatInt(runID, 10), func() (any, error) {
		return o.postRun(ctx, runID, from...)
	})
	if shared {
		logging.Debug("posting_shared", logging.Fields{"run_id": runID})
	}
	if err != nil {
		return PostOutcome{}, err
	}
	return v.(PostOutcome), nil
}

// postedPrefix returns the identifiers of the leading run of posted tweets.
func postedPrefix(content []model.Tweet) []string {
	var ids []string
	for _, t := range content {
		if !t.Posted() {
			break
		}
		ids = append(ids, t.PostedTweetID)
	}
	return ids
}

func (o *Orchestrator) postRun(ctx context.Context, runID int64, from ...model.RunStatus) (out PostOutcome, err error) {
	run, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, sqlitedb.ErrNotFound) {
		return PostOutcome{}, ErrRunNotFound
	}
	if err != nil {
		return PostOutcome{}, internal(err)
	}
	acct, err := o.store.GetAccount(ctx, run.AccountID)
	if err != nil {
		return PostOutcome{}, internal(fmt.Errorf("load account: %w", err))
	}
	token, err := secrets.Unseal(acct.TokenSealed, o.key)
	if err != nil {
		return PostOutcome{}, internal(fmt.Errorf("unseal token for @%s: %w", acct.Handle, err))
	}

	if err := o.store.TransitionRun(ctx, runID, model.StatusPosting, from...); err != nil {
		if errors.Is(err, sqlitedb.ErrConflict) {
			return PostOutcome{}, stateError("run %d is %s", runID, run.Status)
		}
		return PostOutcome{}, internal(err)
	}

	// bookkeeping must land even if the caller goes away mid-thread
	bg := context.WithoutCancel(ctx)
	log := logging.With(logging.Fields{"run_id": runID, "account": acct.Handle})
	defer func() {
		if r := recover(); r != nil {
			_ = o.store.SetRunStatus(bg, runID, model.StatusFailed, fmt.Sprintf("internal error: %v", r))
			panic(r)
		}
	}()

	content := run.ContentTweets()
	texts := make([]string, len(content))
	for i, t := range content {
		texts[i] = t.Text
	}
	previous := postedPrefix(content)
	req := poster.ThreadRequest{
		Token:       string(token),
		Texts:       texts,
		ResumeFrom:  len(previous),
		PreviousIDs: previous,
	}
	markPosted := func(idx int, id string) error {
		return o.store.MarkTweetPosted(bg, runID, model.RoleContent, content[idx].Idx, id,
			model.Permalink(acct.Handle, id), o.now())
	}
	recorded := make(map[int]bool, len(content))
	req.OnPosted = func(idx int, id string) error {
		if err := markPosted(idx, id); err != nil {
			log.WithError(err).WithField("idx", idx).Error("mark_posted_failed")
			return err
		}
		recorded[idx] = true
		return nil
	}
	var imageID int64
	if req.ResumeFrom == 0 && len(content) > 0 {
		if img, err := o.store.RunImage(ctx, runID); err == nil && len(img.Data) > 0 {
			req.MediaFirst = img.Data
			req.MediaAlt = content[0].MediaAlt
			imageID = img.ID
		} else if err != nil && !errors.Is(err, sqlitedb.ErrNotFound) {
			log.WithError(err).Warn("load_image_failed")
		}
	}

	log.WithFields(map[string]any{"resume_from": req.ResumeFrom, "items": len(texts)}).Info("posting_started")
	res := o.poster.PostThread(ctx, req)
	if imageID != 0 && len(res.TweetIDs) > 0 {
		if err := o.store.MarkImageUsed(bg, imageID); err != nil {
			log.WithError(err).Warn("mark_image_used_failed")
		}
	}
	out = PostOutcome{Status: model.StatusCompleted, TweetIDs: res.TweetIDs, FailedAt: res.FailedAt}

	if !res.Success {
		// live tweets must be recorded or a resume would post them twice
		for idx := req.ResumeFrom; idx < len(res.TweetIDs) && idx < len(content); idx++ {
			if recorded[idx] {
				continue
			}
			if err := markPosted(idx, res.TweetIDs[idx]); err != nil {
				log.WithError(err).WithField("idx", idx).Error("mark_posted_retry_failed")
			}
		}
		msg := fmt.Sprintf("Posting failed at tweet %d: %s", res.FailedAt+1, res.ErrorMessage())
		out.Status = model.StatusFailed
		out.Error = msg
		if err := o.store.SetRunStatus(bg, runID, model.StatusFailed, msg); err != nil {
			return out, internal(err)
		}
		log.WithFields(map[string]any{"failed_at": res.FailedAt, "rate_limited": poster.IsRateLimited(res.Err)}).Warn("posting_failed")
		return out, nil
	}

	if ref, ok := run.ReferenceTweet(); ok && !ref.Posted() && len(res.TweetIDs) > 0 {
		last := res.TweetIDs[len(res.TweetIDs)-1]
		id, err := o.poster.PostReference(ctx, string(token), ref.Text, last)
		if err != nil {
			log.WithError(err).Warn("reference_post_failed")
		} else {
			out.ReferenceTweetID = id
			if err := o.store.MarkTweetPosted(bg, runID, model.RoleReference, ref.Idx, id, model.Permalink(acct.Handle, id), o.now()); err != nil {
				log.WithError(err).Error("mark_posted_failed")
			}
		}
	}
	if err := o.store.SetRunStatus(bg, runID, model.StatusCompleted, ""); err != nil {
		return out, internal(err)
	}
	log.WithField("tweets", len(res.TweetIDs)).Info("posting_completed")
	return out, nil
}
