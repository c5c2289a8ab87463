package config_test

import (
	"testing"

	"github.com/falabr/ouvidoria-agent/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	if cfg.Embeddings.Provider != config.ProviderOllama {
		t.Errorf("Embeddings.Provider = %q", cfg.Embeddings.Provider)
	}
	if cfg.Embeddings.Dimension != 768 {
		t.Errorf("Embeddings.Dimension = %d", cfg.Embeddings.Dimension)
	}
	if cfg.VectorStore != config.StorePostgres {
		t.Errorf("VectorStore = %q", cfg.VectorStore)
	}
	if cfg.ChunkSize != 1024 || cfg.ChunkOverlap != 200 {
		t.Errorf("chunking = %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v", cfg.ConfidenceThreshold)
	}
	if cfg.RelevanceFloor != 0.35 {
		t.Errorf("RelevanceFloor = %v", cfg.RelevanceFloor)
	}
	if cfg.ForceRebuild {
		t.Error("ForceRebuild defaults to true")
	}
	if len(cfg.TopicBlacklist) == 0 {
		t.Error("TopicBlacklist default is empty")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VECTOR_STORE", "qdrant")
	t.Setenv("CHUNK_SIZE", "512")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("FORCE_REBUILD_INDEX", "true")
	t.Setenv("TOPIC_BLACKLIST", "Seção A; Seção B")

	cfg := config.Load()

	if cfg.VectorStore != config.StoreQdrant {
		t.Errorf("VectorStore = %q", cfg.VectorStore)
	}
	if cfg.ChunkSize != 512 {
		t.Errorf("ChunkSize = %d", cfg.ChunkSize)
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Errorf("ConfidenceThreshold = %v", cfg.ConfidenceThreshold)
	}
	if !cfg.ForceRebuild {
		t.Error("ForceRebuild override ignored")
	}
	if len(cfg.TopicBlacklist) != 2 || cfg.TopicBlacklist[0] != "Seção A" {
		t.Errorf("TopicBlacklist = %v", cfg.TopicBlacklist)
	}
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "not-a-number")
	t.Setenv("CONFIDENCE_THRESHOLD", "high")

	cfg := config.Load()
	if cfg.ChunkSize != 1024 {
		t.Errorf("ChunkSize = %d, want default", cfg.ChunkSize)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want default", cfg.ConfidenceThreshold)
	}
}
