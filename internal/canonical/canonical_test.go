package canonical

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hop struct {
	status   int
	location string
	err      error
}

// mapProber answers from a fixed table; unknown URLs return 200.
type mapProber struct {
	hops  map[string]hop
	calls []string
}

func (m *mapProber) Probe(_ context.Context, rawURL string) (int, string, error) {
	m.calls = append(m.calls, rawURL)
	h, ok := m.hops[rawURL]
	if !ok {
		return http.StatusOK, "", nil
	}
	return h.status, h.location, h.err
}

func TestCanonicalizeNormalization(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"example.com/path", "https://example.com/path"},
		{"https://EXAMPLE.COM/path", "https://example.com/path"},
		{"https://www.example.com/path", "https://example.com/path"},
		{"https://example.com/path#section", "https://example.com/path"},
		{"https://example.com/path/", "https://example.com/path"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com", "https://example.com/"},
		{"http://example.com/path", "https://example.com/path"},
		{"https://example.com/path?z=1&a=2&m=3", "https://example.com/path?a=2&m=3&z=1"},
		{"http://example.com:80/path", "https://example.com/path"},
		{"https://example.com:443/path", "https://example.com/path"},
		{"https://example.com:8080/path", "https://example.com:8080/path"},
		{"  https://example.com/path  ", "https://example.com/path"},
		{"https://example.com/Path/To/Page", "https://example.com/Path/To/Page"},
		{"https://example.com/p?q=hello+world&flag", "https://example.com/p?flag=&q=hello+world"},
		{
			"HTTP://WWW.Example.COM:443/Path/To/Page/?utm_campaign=test&z=last&a=first&fbclid=track#section",
			"https://example.com/Path/To/Page?a=first&z=last",
		},
	}
	for _, tc := range cases {
		got, err := Canonicalize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestCanonicalizeStripsTrackingParams(t *testing.T) {
	got, err := Canonicalize("https://example.com/a?utm_source=x&fbclid=y&GCLID=z&real_param=value&Ref=home")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?real_param=value", got)
}

func TestCanonicalizeKeepsDuplicateKeyOrder(t *testing.T) {
	got, err := Canonicalize("https://example.com/p?tag=python&id=1&tag=coding")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/p?id=1&tag=python&tag=coding", got)
}

func TestCanonicalizeKeepsLiteralQueryBytes(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://x.com/p?id=1;v=2", "https://x.com/p?id=1%3Bv%3D2"},
		{"https://x.com/p?id=2;v=3", "https://x.com/p?id=2%3Bv%3D3"},
		{"https://x.com/p?q=100%", "https://x.com/p?q=100%25"},
		{"https://x.com/p?q=50%", "https://x.com/p?q=50%25"},
		{"https://x.com/p?q=a%zz%20b", "https://x.com/p?q=a%25zz+b"},
		{"https://x.com/p?q=a+b&flag", "https://x.com/p?flag=&q=a+b"},
		{"https://x.com/p?q=100%25", "https://x.com/p?q=100%25"},
	}
	for _, tc := range cases {
		got, err := Canonicalize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)

		again, err := Canonicalize(got)
		require.NoError(t, err)
		assert.Equal(t, got, again, "idempotent for %s", tc.in)
	}
}

func TestCanonicalizeQueryOrderIsIrrelevant(t *testing.T) {
	a, err := Canonicalize("https://x.com/p?b=2&a=1")
	require.NoError(t, err)
	b, err := Canonicalize("https://x.com/p?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeHostNormalizationMatches(t *testing.T) {
	a, err := Canonicalize("HTTP://WWW.Example.COM:80/x")
	require.NoError(t, err)
	b, err := Canonicalize("https://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://WWW.Example.COM:443/Path/To/Page/?utm_campaign=test&z=last&a=first#frag",
		"example.com",
		"https://example.com//",
		"https://example.com/a%20b/?q=a+b&q=%2F&empty=",
		"https://example.com:8080/x?b=&a=1",
		"https://sub.example.org/caf%C3%A9",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		require.NoError(t, err, in)
		twice, err := Canonicalize(once)
		require.NoError(t, err, once)
		assert.Equal(t, once, twice, in)
	}
}

func TestCanonicalizeErrors(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "cannot be empty"},
		{"   ", "cannot be empty"},
		{"https://", "valid domain"},
		{"https:///path/only", "valid domain"},
		{"https://exa mple.com/", "Invalid URL format"},
	}
	for _, tc := range cases {
		_, err := Canonicalize(tc.in)
		require.Error(t, err, tc.in)
		var cerr *Error
		require.True(t, errors.As(err, &cerr), tc.in)
		assert.Contains(t, err.Error(), tc.want, tc.in)
	}
}

func TestFollowRedirects(t *testing.T) {
	ctx := context.Background()

	t.Run("absolute", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{
			"https://example.com/old": {status: 301, location: "https://example.com/new"},
		}}
		got, err := New(true, 5, p).Canonicalize(ctx, "https://example.com/old")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/new", got)
	})

	t.Run("chain", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{
			"https://example.com/1": {status: 302, location: "https://example.com/2"},
			"https://example.com/2": {status: 307, location: "https://example.com/final"},
		}}
		got, err := New(true, 5, p).Canonicalize(ctx, "https://example.com/1")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/final", got)
		assert.Len(t, p.calls, 3)
	})

	t.Run("host relative", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{
			"https://example.com/old": {status: 301, location: "/new"},
		}}
		got, err := New(true, 5, p).Canonicalize(ctx, "https://example.com/old")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/new", got)
	})

	t.Run("path relative", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{
			"https://example.com/blog/old": {status: 308, location: "new-post"},
		}}
		got, err := New(true, 5, p).Canonicalize(ctx, "https://example.com/blog/old")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/blog/new-post", got)
	})

	t.Run("loop", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{
			"https://example.com/a": {status: 301, location: "https://example.com/b"},
			"https://example.com/b": {status: 301, location: "https://example.com/a"},
		}}
		_, err := New(true, 5, p).Canonicalize(ctx, "https://example.com/a")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Redirect loop")
	})

	t.Run("too many", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{}}
		for i := 0; i < 10; i++ {
			from := fmt.Sprintf("https://example.com/%d", i)
			p.hops[from] = hop{status: 301, location: fmt.Sprintf("https://example.com/%d", i+1)}
		}
		_, err := New(true, 3, p).Canonicalize(ctx, "https://example.com/0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Too many redirects")
	})

	t.Run("missing location", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{"https://example.com/page": {status: 301}}}
		got, err := New(true, 5, p).Canonicalize(ctx, "https://example.com/page")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/page", got)
	})

	t.Run("transport error keeps url", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{"https://example.com/page": {err: errors.New("network down")}}}
		got, err := New(true, 5, p).Canonicalize(ctx, "https://example.com/page")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/page", got)
	})

	t.Run("disabled", func(t *testing.T) {
		p := &mapProber{hops: map[string]hop{
			"https://example.com/old": {status: 301, location: "https://example.com/new"},
		}}
		got, err := New(false, 5, p).Canonicalize(ctx, "https://example.com/old")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/old", got)
		assert.Empty(t, p.calls)
	})
}

func TestHTTPProberDoesNotFollow(t *testing.T) {
	var agents []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.UserAgent())
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p := NewHTTPProber("threadify-test/1.0")
	status, loc, err := p.Probe(context.Background(), ts.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, status)
	assert.Equal(t, "/new", loc)
	assert.Equal(t, []string{"threadify-test/1.0"}, agents)
}

func TestCanonicalizerSendsConfiguredUserAgent(t *testing.T) {
	var agents []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.UserAgent())
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p := NewHTTPProber("threadify/0.1")
	_, err := New(true, 5, p).Canonicalize(context.Background(), ts.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []string{"threadify/0.1"}, agents)
}
