package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"threadify/internal/config"
	"threadify/internal/metrics"
)

// TweetRequest is the v2 create-tweet payload.
type TweetRequest struct {
	Text  string       `json:"text"`
	Reply *ReplyRef    `json:"reply,omitempty"`
	Media *MediaAttach `json:"media,omitempty"`
}

// ReplyRef makes a tweet a reply to InReplyToTweetID.
type ReplyRef struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

// MediaAttach lists uploaded media to attach to a tweet.
type MediaAttach struct {
	MediaIDs []string `json:"media_ids"`
}

// Response is a fully read HTTP response. CreateTweet hands it back raw so the
// caller owns status handling and retries.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ErrorMessage extracts errors[0].message (or detail) from an X error envelope.
func (r Response) ErrorMessage() string {
	var env struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(r.Body, &env); err == nil {
		if len(env.Errors) > 0 && env.Errors[0].Message != "" {
			return env.Errors[0].Message
		}
		if env.Detail != "" {
			return env.Detail
		}
	}
	return "Unknown error"
}

// TweetID extracts data.id from a successful create-tweet response.
func (r Response) TweetID() (string, error) {
	var out struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return "", fmt.Errorf("decode tweet response: %w", err)
	}
	return out.Data.ID, nil
}

// HTTPClient talks to X API v2 for tweets and v1.1 for media, authenticating
// each call with the posting account's user token.
type HTTPClient struct {
	baseURL     string
	uploadURL   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

// NewHTTPClient returns a client using cfg's endpoints, timeout and upload retries.
func NewHTTPClient(cfg config.XConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	backoff := time.Duration(cfg.BaseBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = "https://api.twitter.com/2"
	}
	upload := cfg.UploadBaseURL
	if upload == "" {
		upload = "https://upload.twitter.com/1.1"
	}
	return &HTTPClient{
		baseURL:     base,
		uploadURL:   upload,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     newLimiter(cfg.RPS, cfg.Burst),
		maxAttempts: attempts,
		baseBackoff: backoff,
	}
}

func auth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
}

// CreateTweet posts one tweet. It does not retry.
func (c *HTTPClient) CreateTweet(ctx context.Context, token string, payload TweetRequest) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tweets", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	auth(req, token)
	req.Header.Set("Content-Type", "application/json")
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	return readResponse(resp)
}

// UploadMedia uploads image bytes and returns the media handle. It does not
// retry, so a failed upload is never silently duplicated.
func (c *HTTPClient) UploadMedia(ctx context.Context, token string, media []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("media", "media.jpg")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(media); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"/media/upload.json", &buf)
	if err != nil {
		return "", err
	}
	auth(req, token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	r, err := readResponse(resp)
	if err != nil {
		return "", err
	}
	if r.StatusCode >= 400 {
		return "", fmt.Errorf("media upload status %d: %s", r.StatusCode, r.ErrorMessage())
	}
	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return "", fmt.Errorf("decode media upload: %w", err)
	}
	if out.MediaIDString == "" {
		return "", errors.New("media upload returned no media_id_string")
	}
	return out.MediaIDString, nil
}

// CreateMediaMetadata attaches alt text to an uploaded media handle.
func (c *HTTPClient) CreateMediaMetadata(ctx context.Context, token, mediaID, altText string) error {
	payload := map[string]any{"media_id": mediaID, "alt_text": map[string]string{"text": altText}}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"/media/metadata/create.json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	auth(req, token)
	req.Header.Set("Content-Type", "application/json")
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("x api status %d", resp.StatusCode)
	}
	return nil
}

// Me returns the username the token belongs to.
func (c *HTTPClient) Me(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return "", err
	}
	auth(req, token)
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("x api status %d", resp.StatusCode)
	}
	var raw struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}
	return raw.Data.Username, nil
}

func readResponse(resp *http.Response) (Response, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// doWithRetry retries 429/5xx and transport errors with exponential backoff,
// honoring Retry-After when present.
func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		try := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			try.Body = body
		}
		resp, err := c.httpClient.Do(try)
		if err == nil {
			if resp.StatusCode != http.StatusTooManyRequests && (resp.StatusCode < 500 || resp.StatusCode > 599) {
				return resp, nil
			}
			if attempt == c.maxAttempts {
				return resp, nil
			}
			ra := resp.Header.Get("Retry-After")
			_ = resp.Body.Close()
			wait := backoff
			if ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					wait = time.Duration(secs) * time.Second
				} else if t, err := http.ParseTime(ra); err == nil {
					if d := time.Until(t); d > 0 {
						wait = d
					}
				}
			}
			// jitter +/-20%
			jitter := time.Duration(float64(wait) * 0.2)
			if jitter > 0 {
				wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			metrics.IncAPIRetry(req.URL.Path)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		metrics.IncAPIRetry(req.URL.Path)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
