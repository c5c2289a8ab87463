package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StorePostgres = "postgres"
	StoreQdrant   = "qdrant"
)

// Config carries every tunable of the ingestion and query paths. It is built
// once in main and passed by value into each component so the two paths can be
// exercised with different settings in the same process.
type Config struct {
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings Embeddings
	LLM        LLM

	VectorStore string
	QdrantURL   string
	QdrantKey   string
	Collection  string

	DataDir string

	ChunkSize    int
	ChunkOverlap int

	// ConfidenceThreshold gates direct answers: the blended confidence must be
	// strictly above it. RelevanceFloor is the minimum similarity score below
	// which retrieved context is treated as absent.
	ConfidenceThreshold float64
	RelevanceFloor      float64

	ForceRebuild bool

	// TopicBlacklist lists section titles pruned during normalization
	// together with their subtrees.
	TopicBlacklist []string
}

type Embeddings struct {
	Provider  string
	Model     string
	Dimension int
}

type LLM struct {
	Provider string
	Model    string
}

func Load() Config {
	return Config{
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/ouvidoria?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: Embeddings{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOllama),
			Model:     getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 768),
		},
		LLM: LLM{
			Provider: getEnv("LLM_PROVIDER", ProviderOllama),
			Model:    getEnv("LLM_MODEL", "llama3"),
		},

		VectorStore: getEnv("VECTOR_STORE", StorePostgres),
		QdrantURL:   getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantKey:   getEnv("QDRANT_API_KEY", ""),
		Collection:  getEnv("COLLECTION_NAME", "ouvidoria_knowledge"),

		DataDir: getEnv("DATA_DIR", "data/raw"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1024),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.6),
		RelevanceFloor:      getEnvFloat("RELEVANCE_FLOOR", 0.35),

		ForceRebuild: getEnvBool("FORCE_REBUILD_INDEX", false),

		TopicBlacklist: getEnvList("TOPIC_BLACKLIST", defaultBlacklist),
	}
}

// defaultBlacklist mirrors the Fala.BR wiki sections that carry no value for
// citizen-facing answers (admin screens, changelogs, internal support).
var defaultBlacklist = []string{
	"Ouvidoria",
	"Configurações (Gestor/Cadastrador/Administrador)",
	"Integração Fala.BR e outros sistemas",
	"Dúvidas, Suporte Técnico do Sistema e Sugestões",
	"Atualizações do sistema",
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ";")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
