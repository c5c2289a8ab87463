package scraper

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// anchorRE matches inline anchor markup left in raw text content. Used by
// RewriteLinks for sources that arrive as text rather than parsed nodes.
var anchorRE = regexp.MustCompile(`(?is)<a\s[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)

// ExtractText renders the text of an element, converting anchors into the
// inline form "[label](url)" so a language model can still follow references
// after the surrounding markup is gone. Fragment anchors and javascript:
// pseudo-links keep only their label.
func ExtractText(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			return
		}
		if node.Type == html.ElementNode && node.Data == "a" {
			label := strings.TrimSpace(plainText(node))
			href := attr(node, "href")
			if label == "" || strings.HasPrefix(href, "#") || strings.Contains(href, "javascript:") {
				sb.WriteString(" " + label + " ")
				return
			}
			sb.WriteString(" [" + label + "](" + href + ") ")
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
		if node.Type == html.ElementNode {
			sb.WriteString(" ")
		}
	}
	visit(n)
	return collapseWhitespace(sb.String())
}

// RewriteLinks converts anchor markup embedded in plain text into the
// "[label](url)" inline form. It is idempotent: the output carries no anchor
// markup, so a second pass returns its input unchanged, and text without
// anchors passes through untouched.
func RewriteLinks(text string) string {
	if !strings.Contains(text, "<a") {
		return text
	}
	return anchorRE.ReplaceAllStringFunc(text, func(match string) string {
		groups := anchorRE.FindStringSubmatch(match)
		href := groups[1]
		label := collapseWhitespace(stripTags(groups[2]))
		if label == "" || strings.HasPrefix(href, "#") || strings.Contains(href, "javascript:") {
			return label
		}
		return "[" + label + "](" + href + ")"
	})
}

var tagRE = regexp.MustCompile(`(?s)<[^>]*>`)

func stripTags(s string) string {
	return tagRE.ReplaceAllString(s, " ")
}

func plainText(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return collapseWhitespace(sb.String())
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}
