package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"threadify/internal/canonical"
	"threadify/internal/logging"
	"threadify/internal/model"
	"threadify/internal/pipeline"
)

type submitRequest struct {
	URL        string `json:"url"`
	Mode       string `json:"mode"`
	Type       string `json:"type"`
	Account    string `json:"account"`
	Style      string `json:"style"`
	Hook       bool   `json:"hook"`
	Extractive bool   `json:"extractive"`
	Image      bool   `json:"image"`
	Reference  string `json:"reference"`
	UTM        string `json:"utm"`
	ThreadCap  int    `json:"thread_cap"`
	SingleCap  int    `json:"single_cap"`
	Force      bool   `json:"force"`
}

type tweetView struct {
	Idx           int        `json:"idx"`
	Role          string     `json:"role"`
	Text          string     `json:"text"`
	MediaAlt      string     `json:"media_alt,omitempty"`
	PostedTweetID string     `json:"posted_tweet_id,omitempty"`
	Permalink     string     `json:"permalink,omitempty"`
	PostedAt      *time.Time `json:"posted_at,omitempty"`
}

type submitResponse struct {
	Status      string      `json:"status"`
	RunID       int64       `json:"run_id"`
	Mode        string      `json:"mode"`
	Downgraded  bool        `json:"downgraded,omitempty"`
	DuplicateOf int64       `json:"duplicate_of,omitempty"`
	CostUSD     float64     `json:"cost_usd"`
	ReviewURL   string      `json:"review_url,omitempty"`
	Error       string      `json:"error,omitempty"`
	Tweets      []tweetView `json:"tweets,omitempty"`
}

type runView struct {
	ID           int64          `json:"id"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	URL          string         `json:"url"`
	CanonicalURL string         `json:"canonical_url"`
	Mode         string         `json:"mode"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Settings     model.Settings `json:"settings"`
	CostUSD      float64        `json:"cost_usd"`
	TokensIn     int            `json:"tokens_in"`
	TokensOut    int            `json:"tokens_out"`
	Error        string         `json:"error,omitempty"`
	Title        string         `json:"title"`
	WordCount    int            `json:"word_count"`
	Tweets       []tweetView    `json:"tweets"`
}

type postView struct {
	Status           string   `json:"status"`
	TweetIDs         []string `json:"tweet_ids"`
	FailedAt         *int     `json:"failed_at,omitempty"`
	Error            string   `json:"error,omitempty"`
	ReferenceTweetID string   `json:"reference_tweet_id,omitempty"`
}

func tweetViews(tweets []model.Tweet) []tweetView {
	out := make([]tweetView, 0, len(tweets))
	for _, t := range tweets {
		out = append(out, tweetView{
			Idx:           t.Idx,
			Role:          string(t.Role),
			Text:          t.Text,
			MediaAlt:      t.MediaAlt,
			PostedTweetID: t.PostedTweetID,
			Permalink:     t.Permalink,
			PostedAt:      t.PostedAt,
		})
	}
	return out
}

func newRunView(r model.Run) runView {
	return runView{
		ID:           r.ID,
		SubmittedAt:  r.SubmittedAt,
		URL:          r.URL,
		CanonicalURL: r.CanonicalURL,
		Mode:         string(r.Mode),
		Type:         string(r.Type),
		Status:       string(r.Status),
		Settings:     r.Settings,
		CostUSD:      r.CostEstimate,
		TokensIn:     r.TokensIn,
		TokensOut:    r.TokensOut,
		Error:        r.ErrorMessage,
		Title:        r.ScrapedTitle,
		WordCount:    r.WordCount,
		Tweets:       tweetViews(r.Tweets),
	}
}

func newPostView(o pipeline.PostOutcome) postView {
	v := postView{Status: string(o.Status), TweetIDs: o.TweetIDs, Error: o.Error, ReferenceTweetID: o.ReferenceTweetID}
	if v.TweetIDs == nil {
		v.TweetIDs = []string{}
	}
	if o.FailedAt >= 0 {
		at := o.FailedAt
		v.FailedAt = &at
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	res, err := s.svc.Submit(r.Context(), pipeline.SubmitRequest{
		URL:     req.URL,
		Account: req.Account,
		Mode:    model.Mode(req.Mode),
		Type:    model.ContentType(req.Type),
		Force:   req.Force,
		Settings: model.Settings{
			Style:      req.Style,
			Hook:       req.Hook,
			Extractive: req.Extractive,
			Image:      req.Image,
			Reference:  req.Reference,
			UTM:        req.UTM,
			ThreadCap:  req.ThreadCap,
			SingleCap:  req.SingleCap,
		},
	})
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	out := submitResponse{
		Status:     string(res.Status),
		RunID:      res.RunID,
		Mode:       string(res.Mode),
		Downgraded: res.Downgraded,
		CostUSD:    res.CostUSD,
		Tweets:     tweetViews(res.Tweets),
	}
	if res.Duplicate.IsDuplicate {
		out.DuplicateOf = res.Duplicate.PreviousRunID
	}
	if res.Status == model.StatusReview {
		out.ReviewURL = s.reviewURL(res.RunID)
	}
	if res.Posting != nil {
		out.Error = res.Posting.Error
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) reviewURL(runID int64) string {
	return fmt.Sprintf("%s/api/runs/%d", strings.TrimRight(s.publicURL, "/"), runID)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	run, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunView(run))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	out, err := s.svc.Approve(r.Context(), id)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostView(out))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	out, err := s.svc.Resume(r.Context(), id)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostView(out))
}

func (s *Server) handleUpdateTweet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	idx64, ok := pathInt(w, r, "idx")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.svc.UpdateTweet(r.Context(), id, int(idx64), body.Text); err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegenerate accepts an optional settings object; an empty body keeps
// the run's stored settings.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	var settings *model.Settings
	if len(bytes.TrimSpace(raw)) > 0 {
		settings = &model.Settings{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(settings); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	run, err := s.svc.Regenerate(r.Context(), id, settings)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunView(run))
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// writePipelineError maps orchestrator errors onto status codes.
func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *pipeline.DuplicateError
	var perr *pipeline.ProcessingError
	var cerr *canonical.Error
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorBody{Error: dup.Error(), PreviousRunID: dup.PreviousRunID})
	case errors.As(err, &cerr):
		writeError(w, http.StatusBadRequest, cerr.Error())
	case errors.Is(err, pipeline.ErrInvalidURL),
		errors.Is(err, pipeline.ErrBadRequest),
		errors.Is(err, pipeline.ErrAccountNotFound),
		errors.Is(err, pipeline.ErrNoAccounts):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrRunNotFound), errors.Is(err, pipeline.ErrTweetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusBadGateway, perr.Error())
	default:
		logging.Error("api_internal_error", logging.Fields{
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
