// Package poster publishes tweets and reply-chained threads with pacing,
// per-item retries and resumable partial failure.
package poster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"threadify/internal/config"
	"threadify/internal/logging"
	"threadify/internal/metrics"
	"threadify/internal/xclient"
)

// Caller is the platform surface the engine needs.
type Caller interface {
	CreateTweet(ctx context.Context, token string, payload xclient.TweetRequest) (xclient.Response, error)
	UploadMedia(ctx context.Context, token string, media []byte) (string, error)
	CreateMediaMetadata(ctx context.Context, token, mediaID, altText string) error
}

// Engine posts single tweets and threads. It holds no per-run state, so
// callers must not run two invocations for the same run concurrently.
type Engine struct {
	caller     Caller
	maxRetries int
	pace       time.Duration
	jitter     time.Duration

	// injectable for tests
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// NewEngine returns an Engine that posts through c, paced and retried per cfg.
func NewEngine(c Caller, cfg config.PostingConfig) *Engine {
	e := &Engine{
		caller:     c,
		maxRetries: cfg.MaxRetries,
		pace:       time.Duration(cfg.PaceSeconds * float64(time.Second)),
		jitter:     time.Duration(cfg.JitterSeconds * float64(time.Second)),
		sleep:      sleepCtx,
		randFloat:  rand.Float64,
	}
	if e.maxRetries < 1 {
		e.maxRetries = 3
	}
	if cfg.PaceSeconds <= 0 {
		e.pace = 3 * time.Second
	}
	if cfg.JitterSeconds < 0 {
		e.jitter = 0
	}
	return e
}

// SingleRequest describes one tweet.
type SingleRequest struct {
	Token    string
	Text     string
	Media    []byte
	MediaAlt string
	ReplyTo  string
}

// PostResult is the platform's answer for one tweet.
type PostResult struct {
	TweetID string
	Text    string
}

// PostSingle uploads media (if any) once, then creates the tweet, retrying
// failures with a 2^attempt second backoff. A 429 on the last attempt yields
// *RateLimitError; any other exhausted failure yields *PostError.
func (e *Engine) PostSingle(ctx context.Context, req SingleRequest) (PostResult, error) {
	payload := xclient.TweetRequest{Text: req.Text}
	if req.ReplyTo != "" {
		payload.Reply = &xclient.ReplyRef{InReplyToTweetID: req.ReplyTo}
	}
	if len(req.Media) > 0 {
		mediaID, err := e.uploadMedia(ctx, req.Token, req.Media, req.MediaAlt)
		if err != nil {
			return PostResult{}, err
		}
		payload.Media = &xclient.MediaAttach{MediaIDs: []string{mediaID}}
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		last := attempt == e.maxRetries-1
		resp, err := e.caller.CreateTweet(ctx, req.Token, payload)
		var reason string
		switch {
		case err != nil:
			if last {
				return PostResult{}, &PostError{Msg: "Failed to post tweet: " + err.Error(), Err: err}
			}
			reason = "transport"
		case resp.StatusCode == http.StatusTooManyRequests:
			if last {
				return PostResult{}, &RateLimitError{Reset: resp.Header.Get("x-rate-limit-reset")}
			}
			reason = "rate_limit"
		case resp.StatusCode >= 400:
			if last {
				return PostResult{}, &PostError{Msg: "Failed to post tweet: " + resp.ErrorMessage()}
			}
			reason = "status"
		default:
			id, err := resp.TweetID()
			if err == nil {
				return PostResult{TweetID: id, Text: req.Text}, nil
			}
			if last {
				return PostResult{}, &PostError{Msg: "Failed to post tweet: " + err.Error(), Err: err}
			}
			reason = "decode"
		}

		metrics.IncPostRetry(reason)
		wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		logging.Warn("post_retry", logging.Fields{"attempt": attempt + 1, "reason": reason, "wait_s": wait.Seconds()})
		if err := e.sleep(ctx, wait); err != nil {
			return PostResult{}, &PostError{Msg: "Failed to post tweet: " + err.Error(), Err: err}
		}
	}
	return PostResult{}, &PostError{Msg: "Failed to post tweet after retries"}
}

// uploadMedia runs detached from cancellation so an interrupted caller never
// leaves a half-finished upload that a resume would repeat.
func (e *Engine) uploadMedia(ctx context.Context, token string, media []byte, alt string) (string, error) {
	uctx := context.WithoutCancel(ctx)
	mediaID, err := e.caller.UploadMedia(uctx, token, media)
	if err != nil {
		return "", &PostError{Msg: "Failed to upload media", Err: err}
	}
	if alt != "" && mediaID != "" {
		if err := e.caller.CreateMediaMetadata(uctx, token, mediaID, alt); err != nil {
			logging.Warn("media_alt_text_failed", logging.Fields{"media_id": mediaID, "error": err.Error()})
		}
	}
	return mediaID, nil
}

// ThreadRequest describes a thread post or a resumption of one.
type ThreadRequest struct {
	Token      string
	Texts      []string
	MediaFirst []byte
	MediaAlt   string
	// ResumeFrom is the first index to post; PreviousIDs are the identifiers
	// already assigned to indexes before it.
	ResumeFrom  int
	PreviousIDs []string
	// OnPosted, when set, is called after each item is accepted. An error
	// stops the walk; the accepted identifier stays in the result.
	OnPosted func(idx int, tweetID string) error
}

// ThreadResult reports how far posting got. FailedAt is -1 on success.
type ThreadResult struct {
	Success  bool
	TweetIDs []string
	FailedAt int
	Err      error
}

// ErrorMessage returns the failure description, or "".
func (r ThreadResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// PostThread posts Texts[ResumeFrom:] in order, each replying to the previous
// identifier. Items after the first one posted in this call wait pace±jitter.
// The first failure stops the walk.
func (e *Engine) PostThread(ctx context.Context, req ThreadRequest) ThreadResult {
	ids := append([]string(nil), req.PreviousIDs...)
	lastID := ""
	if len(ids) > 0 {
		lastID = ids[len(ids)-1]
	}
	start := req.ResumeFrom
	if start < 0 {
		start = 0
	}
	fail := func(idx int, err error) ThreadResult {
		metrics.IncPost("failed")
		return ThreadResult{Success: false, TweetIDs: ids, FailedAt: idx, Err: err}
	}

	for idx := start; idx < len(req.Texts); idx++ {
		if idx > start {
			if err := e.sleep(ctx, e.delay()); err != nil {
				return fail(idx, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return fail(idx, err)
		}

		single := SingleRequest{Token: req.Token, Text: req.Texts[idx], ReplyTo: lastID}
		if idx == 0 && len(req.MediaFirst) > 0 {
			single.Media = req.MediaFirst
			single.MediaAlt = req.MediaAlt
		}
		res, err := e.PostSingle(ctx, single)
		if err != nil {
			return fail(idx, err)
		}
		if res.TweetID == "" {
			return fail(idx, &PostError{Msg: "Unknown error: no tweet id returned"})
		}
		metrics.IncPost("ok")
		ids = append(ids, res.TweetID)
		lastID = res.TweetID
		if req.OnPosted != nil {
			if err := req.OnPosted(idx, res.TweetID); err != nil {
				return fail(idx+1, &PostError{Msg: "Failed to record posted tweet: " + err.Error(), Err: err})
			}
		}
	}
	return ThreadResult{Success: true, TweetIDs: ids, FailedAt: -1}
}

// PostReference posts the citation reply. It is never part of thread numbering.
func (e *Engine) PostReference(ctx context.Context, token, text, replyTo string) (string, error) {
	res, err := e.PostSingle(ctx, SingleRequest{Token: token, Text: text, ReplyTo: replyTo})
	if err != nil {
		return "", err
	}
	if res.TweetID == "" {
		return "", fmt.Errorf("%w: no tweet id returned", ErrPostFailed)
	}
	return res.TweetID, nil
}

func (e *Engine) delay() time.Duration {
	offset := (e.randFloat()*2 - 1) * float64(e.jitter)
	return e.pace + time.Duration(offset)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRateLimited reports whether err carries a rate-limit exhaustion.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
