package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/falabr/ouvidoria-agent/chat"
	"github.com/falabr/ouvidoria-agent/vectorstore"
)

func TestRetrieveFiltersBelowFloor(t *testing.T) {
	searcher := &stubSearcher{results: []vectorstore.SearchResult{
		manualResult(0.9),
		manualResult(0.34),
	}}
	r := chat.NewRetriever(&queryEmbedder{}, searcher, 0.35)

	got, err := r.Retrieve(context.Background(), "como registrar", 5, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1 above floor", len(got))
	}
	if got[0].Score != 0.9 {
		t.Errorf("kept score = %v", got[0].Score)
	}
}

func TestRetrieveFoldsRecentUserTurns(t *testing.T) {
	embedder := &queryEmbedder{}
	r := chat.NewRetriever(embedder, &stubSearcher{}, 0.35)

	history := []chat.Turn{
		{Role: chat.RoleUser, Text: "Como registro uma denúncia?", At: time.Now()},
		{Role: chat.RoleAssistant, Text: "Pelo formulário do Fala.BR.", At: time.Now()},
	}
	if _, err := r.Retrieve(context.Background(), "E quanto tempo demora?", 5, history); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(embedder.queries) != 1 {
		t.Fatalf("embedded %d queries, want 1", len(embedder.queries))
	}
	folded := embedder.queries[0]
	if !strings.Contains(folded, "Como registro uma denúncia?") {
		t.Errorf("folded query missing prior user turn: %q", folded)
	}
	if strings.Contains(folded, "formulário do Fala.BR") {
		t.Errorf("assistant turn leaked into query: %q", folded)
	}
	if !strings.HasSuffix(folded, "E quanto tempo demora?") {
		t.Errorf("current question is not last: %q", folded)
	}
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	r := chat.NewRetriever(&failingEmbedder{}, &stubSearcher{}, 0.35)

	_, err := r.Retrieve(context.Background(), "qualquer pergunta", 5, nil)
	if err == nil {
		t.Fatal("expected error from failing embedder")
	}
	if !errors.Is(err, chat.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestRetrieveWithoutHistoryUsesQueryVerbatim(t *testing.T) {
	embedder := &queryEmbedder{}
	r := chat.NewRetriever(embedder, &stubSearcher{}, 0.35)

	if _, err := r.Retrieve(context.Background(), "pergunta isolada", 5, nil); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if embedder.queries[0] != "pergunta isolada" {
		t.Errorf("query = %q", embedder.queries[0])
	}
}
