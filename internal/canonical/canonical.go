// Package canonical normalizes submitted URLs into stable deduplication keys.
package canonical

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultMaxRedirects bounds redirect following when no limit is configured.
const DefaultMaxRedirects = 5

// trackingParams are dropped from the query string, matched case-insensitively.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {}, "utm_id": {},
	"fbclid": {}, "fb_action_ids": {}, "fb_action_types": {}, "fb_ref": {}, "fb_source": {},
	"twclid": {}, "gclid": {}, "msclkid": {},
	"mc_cid": {}, "mc_eid": {},
	"_hsenc": {}, "_hsmi": {},
	"mkt_tok": {},
	"ref": {}, "source": {},
}

// IsTrackingParam reports whether key is on the tracking deny-list.
func IsTrackingParam(key string) bool {
	_, ok := trackingParams[strings.ToLower(key)]
	return ok
}

// Error is returned for any input that cannot be canonicalized.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Prober performs a single non-following lookup of rawURL and reports the
// status code and Location header.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (status int, location string, err error)
}

// HTTPProber issues GET requests without following redirects.
type HTTPProber struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPProber returns a prober with a 10s timeout that sends userAgent.
func NewHTTPProber(userAgent string) *HTTPProber {
	return &HTTPProber{UserAgent: userAgent, Client: &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (p *HTTPProber) Probe(ctx context.Context, rawURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, "", err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, resp.Header.Get("Location"), nil
}

// Canonicalizer turns raw URLs into canonical keys.
type Canonicalizer struct {
	FollowRedirects bool
	MaxRedirects    int
	Prober          Prober
}

// New builds a Canonicalizer. A nil prober defaults to NewHTTPProber when
// redirects are followed.
func New(followRedirects bool, maxRedirects int, prober Prober) *Canonicalizer {
	if prober == nil && followRedirects {
		prober = NewHTTPProber("")
	}
	return &Canonicalizer{FollowRedirects: followRedirects, MaxRedirects: maxRedirects, Prober: prober}
}

// Canonicalize normalizes raw. The result always uses https, a lowercase host
// without "www." or a default port, no fragment, no trailing slash (except root),
// and a query string sorted by key with tracking parameters removed.
func (c *Canonicalizer) Canonicalize(ctx context.Context, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &Error{Reason: "URL cannot be empty"}
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}
	u, err := parse(s)
	if err != nil {
		return "", err
	}
	if c.FollowRedirects && c.Prober != nil {
		final, err := c.follow(ctx, s)
		if err != nil {
			return "", err
		}
		if u, err = parse(final); err != nil {
			return "", err
		}
	}
	return assemble(u), nil
}

// Canonicalize normalizes raw without following redirects.
func Canonicalize(raw string) (string, error) {
	return (&Canonicalizer{}).Canonicalize(context.Background(), raw)
}

func parse(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, &Error{Reason: "Invalid URL format", Err: err}
	}
	if u.Host == "" {
		return nil, &Error{Reason: "URL must have a valid domain"}
	}
	return u, nil
}

// follow walks the redirect chain starting at start. A transport failure or a
// redirect without Location ends the walk at the current URL.
func (c *Canonicalizer) follow(ctx context.Context, start string) (string, error) {
	max := c.MaxRedirects
	if max < 0 {
		max = DefaultMaxRedirects
	}
	visited := make(map[string]struct{}, max)
	current := start
	for i := 0; i < max; i++ {
		if _, seen := visited[current]; seen {
			return "", &Error{Reason: "Redirect loop detected", Err: fmt.Errorf("at %s", current)}
		}
		visited[current] = struct{}{}

		status, location, err := c.Prober.Probe(ctx, current)
		if err != nil {
			return current, nil
		}
		if !isRedirect(status) {
			return current, nil
		}
		if location == "" {
			return current, nil
		}
		current = resolve(current, location)
	}
	return "", &Error{Reason: fmt.Sprintf("Too many redirects (max %d)", max)}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolve applies location relative to current: absolute URLs as-is,
// "/"-prefixed against the host, anything else against the current directory.
func resolve(current, location string) string {
	lower := strings.ToLower(location)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return location
	}
	cu, err := url.Parse(current)
	if err != nil {
		return location
	}
	origin := cu.Scheme + "://" + cu.Host
	if strings.HasPrefix(location, "/") {
		return origin + location
	}
	base := cu.EscapedPath()
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i]
	} else {
		base = ""
	}
	return origin + base + "/" + location
}

func assemble(u *url.URL) string {
	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(normalizeHost(u.Host))
	b.WriteString(normalizePath(u.EscapedPath()))
	if q := normalizeQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	if i := strings.LastIndex(host, ":"); i >= 0 {
		if port := host[i+1:]; port == "80" || port == "443" {
			host = host[:i]
		}
	}
	return host
}

func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// normalizeQuery keeps blank values and duplicate keys. Values of one key keep
// their relative order; keys are emitted in sorted order. Pairs split on "&"
// only, so ";" and undecodable escapes stay part of the value.
func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values := make(map[string][]string)
	var keys []string
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		k, v = unescapeLenient(k), unescapeLenient(v)
		if IsTrackingParam(k) {
			continue
		}
		if _, seen := values[k]; !seen {
			keys = append(keys, k)
		}
		values[k] = append(values[k], v)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		for _, v := range values[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// unescapeLenient decodes "+" and valid %XX sequences and leaves any other
// "%" as a literal character.
func unescapeLenient(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	}
	return c - '0'
}
