// Package scrape fetches an article page and extracts its title, readable
// text and social metadata.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"golang.org/x/net/html"

	"threadify/internal/config"
	"threadify/internal/util"
)

const (
	DefaultMinWordCount        = 200
	DefaultReadabilityMinWords = 100
	noTitle                    = "[no-title]"
)

// Error is returned for every scrape failure.
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

// Content is the extracted snapshot of a page.
type Content struct {
	Title          string
	Text           string
	SiteName       string
	Author         string
	WordCount      int
	TooShort       bool
	HeroCandidates []string
	Metadata       map[string]string
}

// Scraper fetches pages over HTTP.
type Scraper struct {
	client         *http.Client
	userAgent      string
	maxBytes       int64
	minWords       int
	readabilityMin int
}

func New(cfg config.ScrapeConfig) *Scraper {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Scraper{
		client:         &http.Client{Timeout: timeout},
		userAgent:      cfg.UserAgent,
		maxBytes:       cfg.MaxBytes,
		minWords:       cfg.MinWordCount,
		readabilityMin: cfg.ReadabilityMinWords,
	}
	if s.userAgent == "" {
		s.userAgent = "Mozilla/5.0 (compatible; threadify/1.0)"
	}
	if s.maxBytes <= 0 {
		s.maxBytes = 5 << 20
	}
	if s.minWords <= 0 {
		s.minWords = DefaultMinWordCount
	}
	if s.readabilityMin <= 0 {
		s.readabilityMin = DefaultReadabilityMinWords
	}
	return s
}

// Scrape fetches pageURL and extracts its content.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (Content, error) {
	data, err := s.fetch(ctx, pageURL)
	if err != nil {
		return Content{}, err
	}
	return Extract(data, pageURL, s.minWords, s.readabilityMin)
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &Error{Msg: "Failed to fetch URL", Err: err}
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Msg: "Failed to fetch URL", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &Error{Msg: fmt.Sprintf("HTTP %d error", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return nil, &Error{Msg: "Failed to fetch URL", Err: err}
	}
	return data, nil
}

// Extract parses an HTML document. The readability article wins when it has
// at least readabilityMin words; otherwise the DOM walker text is used.
func Extract(data []byte, pageURL string, minWords, readabilityMin int) (Content, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Content{}, &Error{Msg: "Empty HTML content"}
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Content{}, &Error{Msg: "Failed to parse HTML", Err: err}
	}
	parsedURL, _ := url.Parse(pageURL)
	meta := extractMeta(doc)

	var articleTitle, articleText string
	article, err := readability.FromReader(bytes.NewReader(data), parsedURL)
	if err == nil && article.Node != nil {
		var buf bytes.Buffer
		_ = article.RenderText(&buf)
		articleTitle = strings.TrimSpace(article.Title())
		articleText = util.NormalizeLines(buf.String())
	}

	text := articleText
	if util.WordCount(text) < readabilityMin {
		if walked := extractReadableText(doc); walked != "" {
			text = walked
		}
	}
	if strings.TrimSpace(text) == "" {
		return Content{}, &Error{Msg: "No text content extracted"}
	}

	wc := util.WordCount(text)
	return Content{
		Title:          pickTitle(meta, extractTitle(doc), articleTitle),
		Text:           text,
		SiteName:       firstNonEmpty(meta["og:site_name"], meta["site_name"]),
		Author:         firstNonEmpty(meta["author"], meta["article:author"], meta["twitter:creator"]),
		WordCount:      wc,
		TooShort:       wc < minWords,
		HeroCandidates: heroCandidates(meta, parsedURL),
		Metadata:       meta,
	}, nil
}

func pickTitle(meta map[string]string, docTitle, articleTitle string) string {
	if t := firstNonEmpty(meta["og:title"], meta["twitter:title"], docTitle, articleTitle); t != "" {
		return t
	}
	return noTitle
}

func heroCandidates(meta map[string]string, base *url.URL) []string {
	var out []string
	seen := map[string]bool{}
	for _, key := range []string{"og:image", "twitter:image"} {
		raw := meta[key]
		if raw == "" {
			continue
		}
		if base != nil {
			if ref, err := url.Parse(raw); err == nil {
				raw = base.ResolveReference(ref).String()
			}
		}
		if !seen[raw] {
			seen[raw] = true
			out = append(out, raw)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
