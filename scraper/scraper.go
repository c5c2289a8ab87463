// Package scraper extracts wiki pages into a recursive section tree keyed on
// HTML heading levels. The tree is the raw input of the ingestion pipeline.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Document is one scraped source. It is immutable once built; scraping the
// same URL again produces a fresh Document revision.
type Document struct {
	WikiName string     `json:"wiki_name"`
	WikiURL  string     `json:"wiki_url"`
	Version  string     `json:"version"`
	Sections []*Section `json:"sections"`
}

// Section is a node of the heading tree. Children are owned exclusively by
// their parent; there are no back-references.
type Section struct {
	Title    string     `json:"title"`
	Content  string     `json:"content"`
	Children []*Section `json:"topics"`
}

// Source names a wiki to scrape.
type Source struct {
	Name string
	URL  string
}

type Scraper struct {
	client    *http.Client
	userAgent string
}

func New() *Scraper {
	return &Scraper{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	}
}

// Scrape fetches the source URL and parses it into a Document.
func (s *Scraper) Scrape(ctx context.Context, src Source) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create scrape request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %s", src.URL, resp.Status)
	}

	doc, err := ParseHTML(src.Name, src.URL, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.URL, err)
	}
	return doc, nil
}

// headerLevel maps heading element names to their depth.
var headerLevel = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// ParseHTML builds the section tree from an HTML page. Content elements (p,
// li) attach to the innermost open heading; text outside any heading is
// discarded. The heading stack keeps the invariant that parents always have a
// strictly lower level than their children.
func ParseHTML(name, url string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	content := findContentRoot(root)
	if content == nil {
		return nil, fmt.Errorf("main content not found for %s", name)
	}

	doc := &Document{
		WikiName: name,
		WikiURL:  url,
		Version:  time.Now().UTC().Format("2006-01-02"),
	}

	type frame struct {
		level   int
		section *Section
	}
	// Level 0 sentinel holds the top-level sections.
	sentinel := &Section{}
	stack := []frame{{level: 0, section: sentinel}}

	walkElements(content, func(n *html.Node) bool {
		level, isHeading := headerLevel[n.Data]
		if isHeading {
			title := headingTitle(n)
			if title == "" {
				return false
			}

			section := &Section{Title: title}
			for stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			parent := stack[len(stack)-1].section
			parent.Children = append(parent.Children, section)
			stack = append(stack, frame{level: level, section: section})
			return false
		}

		if n.Data == "p" || n.Data == "li" {
			if len(stack) == 1 {
				return false
			}
			text := ExtractText(n)
			if text == "" {
				return false
			}
			current := stack[len(stack)-1].section
			if current.Content == "" {
				current.Content = text
			} else {
				current.Content += "\n" + text
			}
			return false
		}

		return true
	})

	doc.Sections = sentinel.Children
	return doc, nil
}

// findContentRoot prefers the MediaWiki content container; falls back to body.
func findContentRoot(n *html.Node) *html.Node {
	var body, content *html.Node
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if content != nil {
			return
		}
		if node.Type == html.ElementNode {
			if node.Data == "div" && attr(node, "id") == "mw-content-text" {
				content = node
				return
			}
			if node.Data == "body" && body == nil {
				body = node
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	if content != nil {
		return content
	}
	return body
}

// walkElements visits element nodes in document order. The callback returns
// whether the walker should descend into the node's children.
func walkElements(root *html.Node, fn func(*html.Node) bool) {
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		if fn(child) {
			walkElements(child, fn)
		}
	}
}

// headingTitle prefers the MediaWiki headline span; falls back to the full
// heading text.
func headingTitle(n *html.Node) string {
	var headline *html.Node
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if headline != nil {
			return
		}
		if node.Type == html.ElementNode && node.Data == "span" &&
			strings.Contains(attr(node, "class"), "mw-headline") {
			headline = node
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	if headline != nil {
		return plainText(headline)
	}
	return plainText(n)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
