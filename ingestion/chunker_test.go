package ingestion_test

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/falabr/ouvidoria-agent/ingestion"
)

func sectionWith(content string) ingestion.SectionRecord {
	breadcrumb := "Manual > Denúncias"
	return ingestion.SectionRecord{
		Breadcrumb: breadcrumb,
		Path:       []string{"Manual", "Denúncias"},
		Content:    content,
		Hash:       ingestion.SectionHash(breadcrumb, content),
	}
}

func longContent(sentences int) string {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&sb, "A frase número %d explica um detalhe do registro de manifestações. ", i)
	}
	return strings.TrimRight(sb.String(), " ")
}

func TestSplitSectionSingleChunk(t *testing.T) {
	rec := sectionWith("Conteúdo curto que cabe inteiro.")
	chunks := ingestion.SplitSection(rec, 1024, 200)

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	chunk := chunks[0]
	if chunk.Body != rec.Content {
		t.Errorf("Body = %q, want full content", chunk.Body)
	}
	wantHeader := "## Contexto: Manual > Denúncias\n"
	if !strings.HasPrefix(chunk.Text, wantHeader) {
		t.Errorf("Text = %q, want prefix %q", chunk.Text, wantHeader)
	}
	if strings.Contains(chunk.Text, "Parte") {
		t.Error("single chunk should not carry a Parte marker")
	}
	if chunk.OverlapHead != 0 {
		t.Errorf("OverlapHead = %d, want 0", chunk.OverlapHead)
	}
}

func TestSplitSectionRoundTrip(t *testing.T) {
	rec := sectionWith(longContent(40))
	chunks := ingestion.SplitSection(rec, 200, 60)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	if got := ingestion.JoinChunks(chunks); got != rec.Content {
		t.Fatalf("JoinChunks did not reconstruct content:\ngot:  %q\nwant: %q", got, rec.Content)
	}
}

func TestSplitSectionHeadersNumberParts(t *testing.T) {
	rec := sectionWith(longContent(40))
	chunks := ingestion.SplitSection(rec, 200, 60)

	total := len(chunks)
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d Index = %d", i, chunk.Index)
		}
		want := fmt.Sprintf("## Contexto: %s (Parte %d/%d)\n", rec.Breadcrumb, i+1, total)
		if !strings.HasPrefix(chunk.Text, want) {
			t.Errorf("chunk %d Text prefix = %q, want %q", i, firstLine(chunk.Text), strings.TrimSuffix(want, "\n"))
		}
		if chunk.SectionHash != rec.Hash {
			t.Errorf("chunk %d carries hash %q, want section hash", i, chunk.SectionHash)
		}
	}
}

func TestSplitSectionOverlapCarriesWholeUnits(t *testing.T) {
	rec := sectionWith(longContent(40))
	chunks := ingestion.SplitSection(rec, 200, 100)

	overlapped := 0
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.OverlapHead == 0 {
			continue
		}
		overlapped++
		head := cur.Body[:cur.OverlapHead]
		if !strings.HasSuffix(prev.Body, head) {
			t.Errorf("chunk %d overlap head is not the predecessor's tail", i)
		}
	}
	if overlapped == 0 {
		t.Fatal("no chunk carried an overlap head")
	}
	if got := ingestion.JoinChunks(chunks); got != rec.Content {
		t.Fatal("overlapped chunks did not reconstruct the content")
	}
}

func TestSplitSectionDeterministic(t *testing.T) {
	rec := sectionWith(longContent(30))
	a := ingestion.SplitSection(rec, 256, 64)
	b := ingestion.SplitSection(rec, 256, 64)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical input produced different chunkings")
	}
}

func TestSplitSectionRespectsRuneBudget(t *testing.T) {
	rec := sectionWith(longContent(40))
	size := 200
	chunks := ingestion.SplitSection(rec, size, 60)

	// Every sentence here is far below the budget, so no chunk body may
	// exceed it.
	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk.Body); n > size {
			t.Errorf("chunk %d body has %d runes, budget %d", i, n, size)
		}
	}
}

func TestSplitSectionKeepsDecimalNumbersWhole(t *testing.T) {
	rec := sectionWith("O valor de R$ 1.200,50 foi informado. A taxa é 3.5 por cento. Fim.")
	chunks := ingestion.SplitSection(rec, 30, 0)
	if got := ingestion.JoinChunks(chunks); got != rec.Content {
		t.Fatalf("round trip failed: %q", got)
	}
	for _, chunk := range chunks {
		if strings.HasPrefix(chunk.Body, "200,50") || strings.HasPrefix(chunk.Body, "5 por") {
			t.Errorf("split happened inside a number: %q", chunk.Body)
		}
	}
}

func TestSplitSectionEmptyContent(t *testing.T) {
	rec := sectionWith("")
	if chunks := ingestion.SplitSection(rec, 100, 20); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
