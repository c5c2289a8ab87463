package scraper_test

import (
	"strings"
	"testing"

	"github.com/falabr/ouvidoria-agent/scraper"
)

const wikiPage = `<html><body>
<div id="mw-content-text">
<p>Texto introdutório fora de qualquer seção.</p>
<h2><span class="mw-headline">Denúncias</span></h2>
<p>Uma denúncia comunica um ato ilícito.</p>
<h3><span class="mw-headline">Como registrar</span></h3>
<p>Acesse o formulário.</p>
<ul><li>Informe o órgão responsável.</li><li>Descreva o ocorrido.</li></ul>
<h2><span class="mw-headline">Elogios</span></h2>
<p>Um elogio reconhece um bom atendimento.</p>
</div>
</body></html>`

func TestParseHTMLBuildsSectionTree(t *testing.T) {
	doc, err := scraper.ParseHTML("Manual", "http://wiki.example/manual", strings.NewReader(wikiPage))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}

	if doc.WikiName != "Manual" {
		t.Errorf("WikiName = %q, want Manual", doc.WikiName)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("top-level sections = %d, want 2", len(doc.Sections))
	}

	denuncias := doc.Sections[0]
	if denuncias.Title != "Denúncias" {
		t.Errorf("first section title = %q", denuncias.Title)
	}
	if !strings.Contains(denuncias.Content, "ato ilícito") {
		t.Errorf("section content = %q, missing paragraph text", denuncias.Content)
	}
	if len(denuncias.Children) != 1 {
		t.Fatalf("Denúncias children = %d, want 1", len(denuncias.Children))
	}

	como := denuncias.Children[0]
	if como.Title != "Como registrar" {
		t.Errorf("child title = %q", como.Title)
	}
	for _, want := range []string{"Acesse o formulário.", "Informe o órgão responsável.", "Descreva o ocorrido."} {
		if !strings.Contains(como.Content, want) {
			t.Errorf("child content missing %q, got %q", want, como.Content)
		}
	}

	if doc.Sections[1].Title != "Elogios" {
		t.Errorf("second section title = %q", doc.Sections[1].Title)
	}
}

func TestParseHTMLDiscardsTextOutsideHeadings(t *testing.T) {
	doc, err := scraper.ParseHTML("Manual", "http://wiki.example", strings.NewReader(wikiPage))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	for _, section := range doc.Sections {
		if strings.Contains(section.Content, "introdutório") {
			t.Errorf("preamble text leaked into section %q", section.Title)
		}
	}
}

func TestParseHTMLFallsBackToBody(t *testing.T) {
	page := `<html><body><h2>Título</h2><p>Conteúdo sem container MediaWiki.</p></body></html>`
	doc, err := scraper.ParseHTML("Simples", "http://example", strings.NewReader(page))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Title != "Título" {
		t.Fatalf("sections = %+v, want single Título section", doc.Sections)
	}
}

func TestParseHTMLSkipsDeeperHeadingAfterPop(t *testing.T) {
	page := `<html><body><div id="mw-content-text">
<h3><span class="mw-headline">Filho</span></h3><p>a</p>
<h2><span class="mw-headline">Pai</span></h2><p>b</p>
<h3><span class="mw-headline">Outro filho</span></h3><p>c</p>
</div></body></html>`
	doc, err := scraper.ParseHTML("X", "http://example", strings.NewReader(page))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("top-level sections = %d, want 2 (orphan h3 plus h2)", len(doc.Sections))
	}
	pai := doc.Sections[1]
	if pai.Title != "Pai" || len(pai.Children) != 1 || pai.Children[0].Title != "Outro filho" {
		t.Fatalf("unexpected tree under Pai: %+v", pai)
	}
}

func TestRewriteLinksInline(t *testing.T) {
	in := `Veja o <a href="https://falabr.cgu.gov.br">portal Fala.BR</a> para registrar.`
	got := scraper.RewriteLinks(in)
	want := `Veja o [portal Fala.BR](https://falabr.cgu.gov.br) para registrar.`
	if got != want {
		t.Fatalf("RewriteLinks = %q, want %q", got, want)
	}
}

func TestRewriteLinksIdempotent(t *testing.T) {
	in := `Texto com <a href="http://a">um link</a> e <a href="#frag">âncora local</a>.`
	once := scraper.RewriteLinks(in)
	twice := scraper.RewriteLinks(once)
	if once != twice {
		t.Fatalf("second pass changed output:\nonce:  %q\ntwice: %q", once, twice)
	}
	if strings.Contains(once, "<a") {
		t.Fatalf("anchor markup survived: %q", once)
	}
	if strings.Contains(once, "#frag") {
		t.Fatalf("fragment href kept: %q", once)
	}
}

func TestRewriteLinksPassThrough(t *testing.T) {
	in := "Texto simples sem marcação."
	if got := scraper.RewriteLinks(in); got != in {
		t.Fatalf("plain text changed: %q", got)
	}
}
