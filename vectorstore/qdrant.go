package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// QdrantStore talks to Qdrant over its REST API. It assumes cosine distance,
// so scores come back already normalized with higher meaning more similar.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewQdrantStore(opts QdrantOptions) *QdrantStore {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

var _ Store = (*QdrantStore)(nil)

type qdrantPayload struct {
	Document    string `json:"document"`
	Breadcrumb  string `json:"breadcrumb"`
	ChunkIndex  int    `json:"chunk_index"`
	Text        string `json:"text"`
	SourceURL   string `json:"source_url"`
	CollectedAt string `json:"collected_at"`
	DocType     string `json:"doc_type"`
	Orgao       string `json:"orgao"`
	Topic       string `json:"topic"`
	Hash        string `json:"hash"`
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant answers 200 when the collection already exists with the same
	// schema and 409 otherwise.
	return s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
}

func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, rec := range records {
		points[i] = map[string]any{
			"id":     rec.ID.String(),
			"vector": rec.Embedding,
			"payload": qdrantPayload{
				Document:    rec.Document,
				Breadcrumb:  rec.Breadcrumb,
				ChunkIndex:  rec.ChunkIndex,
				Text:        rec.Text,
				SourceURL:   rec.Payload.SourceURL,
				CollectedAt: rec.Payload.CollectedAt.UTC().Format(time.RFC3339),
				DocType:     rec.Payload.DocType,
				Orgao:       rec.Payload.Orgao,
				Topic:       rec.Payload.Topic,
				Hash:        rec.Payload.Hash,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

func (s *QdrantStore) Search(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = 5
	}

	req := map[string]any{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		collected, _ := time.Parse(time.RFC3339, r.Payload.CollectedAt)
		results = append(results, SearchResult{
			Document:   r.Payload.Document,
			Breadcrumb: r.Payload.Breadcrumb,
			Text:       r.Payload.Text,
			Score:      r.Score,
			Payload: Payload{
				SourceURL:   r.Payload.SourceURL,
				CollectedAt: collected,
				DocType:     r.Payload.DocType,
				Orgao:       r.Payload.Orgao,
				Topic:       r.Payload.Topic,
				Hash:        r.Payload.Hash,
			},
		})
	}
	return results, nil
}

func (s *QdrantStore) SectionHashes(ctx context.Context, document string) (map[string]string, error) {
	hashes := make(map[string]string)
	var offset any

	for {
		req := map[string]any{
			"filter":       documentFilter(document),
			"with_payload": []string{"breadcrumb", "hash"},
			"limit":        256,
		}
		if offset != nil {
			req["offset"] = offset
		}

		var resp struct {
			Result struct {
				Points []struct {
					Payload qdrantPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp); err != nil {
			return nil, err
		}
		for _, point := range resp.Result.Points {
			hashes[point.Payload.Breadcrumb] = point.Payload.Hash
		}
		if resp.Result.NextPageOffset == nil {
			return hashes, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *QdrantStore) DeleteSections(ctx context.Context, document string, breadcrumbs []string) error {
	if len(breadcrumbs) == 0 {
		return nil
	}
	filter := documentFilter(document)
	filter["must"] = append(filter["must"].([]map[string]any), map[string]any{
		"key":   "breadcrumb",
		"match": map[string]any{"any": breadcrumbs},
	})
	body := map[string]any{"filter": filter}
	return s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"),
		map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *QdrantStore) Drop(ctx context.Context) error {
	return s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
}

func documentFilter(document string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "document", "match": map[string]any{"value": document}},
		},
	}
}

func (s *QdrantStore) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.baseURL, s.collection, suffix)
}

func (s *QdrantStore) do(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call qdrant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s: status %s", method, url, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}
