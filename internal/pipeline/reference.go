package pipeline

import (
	"net/url"
	"strings"
)

// WithUTM appends utm_campaign=campaign to link's query. An empty campaign or
// an unparsable link returns link unchanged.
func WithUTM(link, campaign string) string {
	campaign = strings.TrimSpace(campaign)
	if campaign == "" {
		return link
	}
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	q.Set("utm_campaign", campaign)
	u.RawQuery = q.Encode()
	return u.String()
}

// ReferenceWithLink makes sure the citation text carries the article link,
// tagged with the campaign when one is set.
func ReferenceWithLink(text, canonical, campaign string) string {
	text = strings.TrimSpace(text)
	link := WithUTM(canonical, campaign)
	if i := strings.Index(text, canonical); i >= 0 {
		return text[:i] + link + text[i+len(canonical):]
	}
	if text == "" {
		return link
	}
	return text + " " + link
}
