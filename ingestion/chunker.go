package ingestion

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	defaultChunkSize    = 1024
	defaultChunkOverlap = 200
)

// Chunk is one bounded-size slice of a section's content. Body is the raw
// slice; Text prepends the breadcrumb header so the chunk stays retrievable
// on its own. OverlapHead counts the bytes at the start of Body that repeat
// the predecessor's tail.
type Chunk struct {
	Index       int
	Breadcrumb  string
	Body        string
	Text        string
	OverlapHead int
	SectionHash string
}

// SplitSection cuts a section's content into chunks of at most size runes
// (header excluded), with consecutive chunks sharing up to overlap runes.
// Boundaries are sentence- or line-aligned, never mid-word, and the split is
// deterministic: identical input and configuration always produce identical
// chunks, which the hash-based skip logic depends on.
func SplitSection(rec SectionRecord, size, overlap int) []Chunk {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = defaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}

	units := splitUnits(rec.Content)
	if len(units) == 0 {
		return nil
	}

	type pending struct {
		body        string
		overlapHead int
	}

	bodies := make([]pending, 0, 1)
	current := make([]string, 0, 8)
	currentLen := 0
	carryBytes := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		bodies = append(bodies, pending{
			body:        strings.Join(current, ""),
			overlapHead: carryBytes,
		})
	}

	for _, unit := range units {
		unitLen := utf8.RuneCountInString(unit)
		if currentLen+unitLen > size && len(current) > 0 {
			flush()

			// Carry whole trailing units into the overlap region so no
			// sentence is orphaned at the cut.
			carry := make([]string, 0, len(current))
			carryLen := 0
			for i := len(current) - 1; i >= 0; i-- {
				l := utf8.RuneCountInString(current[i])
				if carryLen+l > overlap {
					break
				}
				carry = append([]string{current[i]}, carry...)
				carryLen += l
			}
			current = carry
			currentLen = carryLen
			carryBytes = len(strings.Join(carry, ""))
		}
		current = append(current, unit)
		currentLen += unitLen
	}
	flush()

	chunks := make([]Chunk, len(bodies))
	for i, p := range bodies {
		header := "## Contexto: " + rec.Breadcrumb
		if len(bodies) > 1 {
			header += fmt.Sprintf(" (Parte %d/%d)", i+1, len(bodies))
		}
		chunks[i] = Chunk{
			Index:       i,
			Breadcrumb:  rec.Breadcrumb,
			Body:        p.body,
			Text:        header + "\n" + p.body,
			OverlapHead: p.overlapHead,
			SectionHash: rec.Hash,
		}
	}
	return chunks
}

// JoinChunks reverses SplitSection: concatenating bodies while dropping each
// declared overlap head reconstructs the section content exactly.
func JoinChunks(chunks []Chunk) string {
	var sb strings.Builder
	for i, chunk := range chunks {
		body := chunk.Body
		if i > 0 {
			body = body[chunk.OverlapHead:]
		}
		sb.WriteString(body)
	}
	return sb.String()
}

// splitUnits cuts content into sentence- or newline-terminated slices whose
// concatenation is byte-identical to the input.
func splitUnits(content string) []string {
	if content == "" {
		return nil
	}

	units := make([]string, 0, 8)
	start := 0
	for i, r := range content {
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		end := i + utf8.RuneLen(r)
		// Sentence punctuation only terminates a unit at a word boundary, so
		// "3.5" or "R$ 1.200" stays whole.
		if r != '\n' && end < len(content) {
			next, _ := utf8.DecodeRuneInString(content[end:])
			if next != ' ' && next != '\t' && next != '\n' {
				continue
			}
		}
		units = append(units, content[start:end])
		start = end
	}
	if start < len(content) {
		units = append(units, content[start:])
	}
	return units
}
