package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/falabr/ouvidoria-agent/embeddings"
	"github.com/falabr/ouvidoria-agent/vectorstore"
)

// historyWindow is how many prior user turns fold into the retrieval query so
// pronouns and ellipses resolve across turns.
const historyWindow = 3

// Searcher is the read-only slice of the vector store the retriever needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]vectorstore.SearchResult, error)
}

// Retriever embeds a (history-aware) query and returns chunks above the
// relevance floor, highest score first. It has no side effects.
type Retriever struct {
	embedder embeddings.Embedder
	store    Searcher
	floor    float64
}

func NewRetriever(embedder embeddings.Embedder, store Searcher, floor float64) *Retriever {
	return &Retriever{embedder: embedder, store: store, floor: floor}
}

// Retrieve returns up to k chunks for the query. Prior user turns are
// concatenated ahead of the current text; scores below the floor are dropped,
// so an empty result means "no supporting context", never an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, history []Turn) ([]Retrieved, error) {
	folded := foldHistory(query, history)

	vectors, err := r.embedder.Embed(ctx, []string{folded})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrProviderUnavailable, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: embedder returned no vectors", ErrProviderUnavailable)
	}

	results, err := r.store.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	retrieved := make([]Retrieved, 0, len(results))
	for _, res := range results {
		if res.Score < r.floor {
			continue
		}
		retrieved = append(retrieved, Retrieved{
			Document:   res.Document,
			Breadcrumb: res.Breadcrumb,
			Text:       res.Text,
			Score:      res.Score,
		})
	}
	return retrieved, nil
}

func foldHistory(query string, history []Turn) string {
	prior := make([]string, 0, historyWindow)
	for i := len(history) - 1; i >= 0 && len(prior) < historyWindow; i-- {
		if history[i].Role != RoleUser {
			continue
		}
		if strings.TrimSpace(history[i].Text) == strings.TrimSpace(query) {
			continue
		}
		prior = append([]string{history[i].Text}, prior...)
	}
	if len(prior) == 0 {
		return query
	}
	return strings.Join(prior, "\n") + "\n" + query
}
