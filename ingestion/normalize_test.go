package ingestion_test

import (
	"strings"
	"testing"

	"github.com/falabr/ouvidoria-agent/ingestion"
	"github.com/falabr/ouvidoria-agent/scraper"
)

func manualDoc() *scraper.Document {
	return &scraper.Document{
		WikiName: "Manual",
		Sections: []*scraper.Section{
			{
				Title:   "Denúncias",
				Content: "Uma denúncia comunica um ato ilícito.",
				Children: []*scraper.Section{
					{Title: "Como registrar", Content: "Acesse o formulário."},
					{Title: "Anonimato", Content: "O denunciante pode se identificar ou não."},
				},
			},
			{
				// Container sections carry no text of their own but still
				// extend the breadcrumb of their children.
				Title: "Perfis",
				Children: []*scraper.Section{
					{Title: "Cidadão", Content: "Registra e acompanha manifestações."},
				},
			},
			{
				Title:   "Atualizações do sistema",
				Content: "Notas de versão.",
				Children: []*scraper.Section{
					{Title: "Versão 2", Content: "Mudanças internas."},
				},
			},
		},
	}
}

func TestFlattenBreadcrumbsAndOrder(t *testing.T) {
	records := ingestion.Flatten(manualDoc(), nil)

	breadcrumbs := make([]string, len(records))
	for i, rec := range records {
		breadcrumbs[i] = rec.Breadcrumb
	}

	want := []string{
		"Manual > Denúncias",
		"Manual > Denúncias > Como registrar",
		"Manual > Denúncias > Anonimato",
		"Manual > Perfis > Cidadão",
		"Manual > Atualizações do sistema",
		"Manual > Atualizações do sistema > Versão 2",
	}
	if len(breadcrumbs) != len(want) {
		t.Fatalf("records = %v, want %v", breadcrumbs, want)
	}
	for i := range want {
		if breadcrumbs[i] != want[i] {
			t.Errorf("record %d breadcrumb = %q, want %q", i, breadcrumbs[i], want[i])
		}
	}
}

func TestFlattenPrunesBlacklistedSubtree(t *testing.T) {
	records := ingestion.Flatten(manualDoc(), []string{"Atualizações do sistema"})

	for _, rec := range records {
		if strings.Contains(rec.Breadcrumb, "Atualizações") {
			t.Errorf("blacklisted branch leaked: %q", rec.Breadcrumb)
		}
	}
	if len(records) != 4 {
		t.Fatalf("records after prune = %d, want 4", len(records))
	}
}

func TestFlattenBlacklistIsCaseInsensitive(t *testing.T) {
	records := ingestion.Flatten(manualDoc(), []string{"atualizações DO sistema"})
	for _, rec := range records {
		if strings.Contains(rec.Breadcrumb, "Atualizações") {
			t.Errorf("case-insensitive match failed, kept %q", rec.Breadcrumb)
		}
	}
}

func TestFlattenEmptyParentNotEmitted(t *testing.T) {
	records := ingestion.Flatten(manualDoc(), nil)
	for _, rec := range records {
		if rec.Breadcrumb == "Manual > Perfis" {
			t.Fatal("content-less container was emitted as a record")
		}
	}
}

func TestFlattenHashMatchesContent(t *testing.T) {
	records := ingestion.Flatten(manualDoc(), nil)
	for _, rec := range records {
		if rec.Hash != ingestion.SectionHash(rec.Breadcrumb, rec.Content) {
			t.Errorf("hash of %q does not match recomputation", rec.Breadcrumb)
		}
	}
}

func TestSectionHashSensitivity(t *testing.T) {
	base := ingestion.SectionHash("A > B", "conteúdo")
	if base != ingestion.SectionHash("A > B", "conteúdo") {
		t.Fatal("hash not deterministic")
	}
	if base == ingestion.SectionHash("A > B", "conteúdo ") {
		t.Error("whitespace change did not alter hash")
	}
	if base == ingestion.SectionHash("A > C", "conteúdo") {
		t.Error("breadcrumb change did not alter hash")
	}
}

func TestDetectChange(t *testing.T) {
	cases := []struct {
		name   string
		stored string
		fresh  string
		want   ingestion.ChangeKind
	}{
		{"never indexed", "", "abc", ingestion.ChangeNew},
		{"same hash", "abc", "abc", ingestion.ChangeUnchanged},
		{"different hash", "abc", "def", ingestion.ChangeModified},
	}
	for _, tc := range cases {
		if got := ingestion.DetectChange(tc.stored, tc.fresh); got != tc.want {
			t.Errorf("%s: DetectChange = %v, want %v", tc.name, got, tc.want)
		}
	}
}
