package scrape

import (
	"strings"

	"golang.org/x/net/html"

	"threadify/internal/util"
)

// extractMeta collects og:*, twitter:*, article:* and a few named meta tags.
// The first occurrence of a key wins.
func extractMeta(doc *html.Node) map[string]string {
	meta := map[string]string{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			content := attrVal(n, "content")
			if content != "" {
				key := strings.ToLower(firstNonEmpty(attrVal(n, "property"), attrVal(n, "name")))
				switch {
				case strings.HasPrefix(key, "og:"), strings.HasPrefix(key, "twitter:"), strings.HasPrefix(key, "article:"):
				case key == "author", key == "description":
				case key == "application-name", key == "site_name":
					key = "site_name"
				default:
					key = ""
				}
				if key != "" {
					if _, ok := meta[key]; !ok {
						meta[key] = strings.TrimSpace(content)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta
}

func extractTitle(node *html.Node) string {
	var titleNode *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			titleNode = n
			return
		}
		for c := n.FirstChild; c != nil && titleNode == nil; c = c.NextSibling {
			find(c)
		}
	}
	find(node)
	if titleNode == nil {
		return ""
	}
	var buf strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(titleNode)
	return util.NormalizeWhitespace(buf.String())
}

// extractReadableText walks the body, breaking at block elements and skipping
// page chrome.
func extractReadableText(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "footer", "header", "aside", "form", "template", "title", "head":
				return
			case "p", "div", "section", "article", "li", "pre", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6", "br":
				b.WriteString("\n\n")
			}
			if hasAttr(n, "hidden") || attrVal(n, "aria-hidden") == "true" {
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return util.NormalizeLines(b.String())
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
