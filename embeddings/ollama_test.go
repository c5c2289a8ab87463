package embeddings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/falabr/ouvidoria-agent/embeddings"
)

func ollamaServer(t *testing.T, handler http.HandlerFunc) embeddings.Embedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return embeddings.NewOllamaEmbedder(embeddings.Options{
		OllamaHost: srv.URL,
		Model:      "nomic-embed-text",
		Dimension:  3,
	})
}

func TestOllamaEmbedderEmbedsEachText(t *testing.T) {
	var prompts []string
	e := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		prompts = append(prompts, req["prompt"])
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	})

	vectors, err := e.Embed(context.Background(), []string{"primeiro", "segundo"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 3 {
		t.Fatalf("vectors = %v", vectors)
	}
	if len(prompts) != 2 || prompts[0] != "primeiro" {
		t.Fatalf("prompts = %v", prompts)
	}
}

func TestOllamaEmbedderReportsErrorStatus(t *testing.T) {
	e := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model 'nomic-embed-text' not found"})
	})

	_, err := e.Embed(context.Background(), []string{"texto"})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want the server's error message", err)
	}
	if strings.Contains(err.Error(), "dimension") {
		t.Errorf("err = %v, status failure misreported as a dimension problem", err)
	}
}

func TestOllamaEmbedderRejectsEmptyEmbedding(t *testing.T) {
	e := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	})

	if _, err := e.Embed(context.Background(), []string{"texto"}); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestOllamaEmbedderRejectsWrongDimension(t *testing.T) {
	e := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2}})
	})

	_, err := e.Embed(context.Background(), []string{"texto"})
	if err == nil || !strings.Contains(err.Error(), "dimension mismatch") {
		t.Fatalf("err = %v, want dimension mismatch", err)
	}
}
