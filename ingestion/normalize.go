// Package ingestion turns scraped section trees and uploaded files into
// deduplicated, breadcrumb-annotated chunks and writes them, embedded, into
// the vector index.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/falabr/ouvidoria-agent/scraper"
)

// BreadcrumbSeparator joins ancestor titles into the rendered breadcrumb.
const BreadcrumbSeparator = " > "

// SectionRecord is one flattened section: the breadcrumb trail from document
// root, the section's own content, and the change-detection hash.
type SectionRecord struct {
	Breadcrumb string
	Path       []string
	Content    string
	Hash       string
}

// Flatten walks the section tree depth-first and emits a record per section
// that carries non-empty content. Sections whose title matches the blacklist
// are pruned together with their subtree. Sections without content are not
// emitted but their children are still visited, so the breadcrumb keeps
// growing through them. The walk uses an explicit stack; source trees can be
// arbitrarily deep.
func Flatten(doc *scraper.Document, blacklist []string) []SectionRecord {
	type frame struct {
		section *scraper.Section
		path    []string
	}

	records := make([]SectionRecord, 0)
	stack := make([]frame, 0, len(doc.Sections))
	for i := len(doc.Sections) - 1; i >= 0; i-- {
		stack = append(stack, frame{section: doc.Sections[i], path: []string{doc.WikiName}})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if isBlacklisted(top.section.Title, blacklist) {
			continue
		}

		path := append(append([]string{}, top.path...), top.section.Title)

		if content := strings.TrimSpace(top.section.Content); content != "" {
			breadcrumb := strings.Join(path, BreadcrumbSeparator)
			records = append(records, SectionRecord{
				Breadcrumb: breadcrumb,
				Path:       path,
				Content:    content,
				Hash:       SectionHash(breadcrumb, content),
			})
		}

		for i := len(top.section.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{section: top.section.Children[i], path: path})
		}
	}

	return records
}

func isBlacklisted(title string, blacklist []string) bool {
	lowered := strings.ToLower(title)
	for _, entry := range blacklist {
		if entry == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}

// SectionHash digests the canonical (breadcrumb, content) pair. It is
// whitespace-sensitive on purpose: trivial formatting churn re-embeds the
// section rather than risking a stale index entry.
func SectionHash(breadcrumb, content string) string {
	sum := sha256.Sum256([]byte(breadcrumb + "\n" + content))
	return hex.EncodeToString(sum[:])
}

// ChangeKind classifies a freshly normalized section against the previously
// stored hash for the same breadcrumb.
type ChangeKind int

const (
	ChangeUnchanged ChangeKind = iota
	ChangeNew
	ChangeModified
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeModified:
		return "modified"
	default:
		return "unchanged"
	}
}

// DetectChange compares the stored hash (empty when the breadcrumb was never
// indexed) with the freshly computed one.
func DetectChange(stored, fresh string) ChangeKind {
	switch {
	case stored == "":
		return ChangeNew
	case stored == fresh:
		return ChangeUnchanged
	default:
		return ChangeModified
	}
}
