package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/falabr/ouvidoria-agent/api"
	"github.com/falabr/ouvidoria-agent/chat"
	"github.com/falabr/ouvidoria-agent/config"
	"github.com/falabr/ouvidoria-agent/database"
	"github.com/falabr/ouvidoria-agent/embeddings"
	"github.com/falabr/ouvidoria-agent/ingestion"
	"github.com/falabr/ouvidoria-agent/knowledge"
	"github.com/falabr/ouvidoria-agent/llm"
	"github.com/falabr/ouvidoria-agent/scraper"
	"github.com/falabr/ouvidoria-agent/vectorstore"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "reconcile":
		reconcileCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// newStore selects the vector store backend from configuration. The returned
// cleanup is safe to call once, even when it is a no-op.
func newStore(ctx context.Context, cfg config.Config) (vectorstore.Store, func(), error) {
	switch cfg.VectorStore {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection: %w", err)
		}
		return vectorstore.NewPostgresStore(pool), pool.Close, nil
	case config.StoreQdrant:
		store := vectorstore.NewQdrantStore(vectorstore.QdrantOptions{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantKey,
			Collection: cfg.Collection,
		})
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore)
	}
}

// newGraph connects the knowledge graph. A failed connection degrades to a nil
// graph with a warning; graph data enriches answers but never blocks them.
func newGraph(ctx context.Context, cfg config.Config, logger *log.Logger) (knowledge.Graph, func()) {
	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Printf("neo4j unavailable, continuing without graph: %v", err)
		return nil, func() {}
	}
	return knowledge.NewNeo4jGraph(driver), func() { driver.Close(ctx) }
}

func newChatService(cfg config.Config, store vectorstore.Store, graph knowledge.Graph, logger *log.Logger) (*chat.Service, error) {
	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	return chat.NewService(
		chat.NewClassifier(llmClient),
		chat.NewRetriever(embedder, store, cfg.RelevanceFloor),
		chat.NewComposer(llmClient),
		graph,
		logger,
		chat.Options{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			RelevanceFloor:      cfg.RelevanceFloor,
		},
	), nil
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "directory with documents to ingest (.json trees, .pdf, .txt, .md)")
	wikiURL := flags.String("url", "", "wiki page URL to scrape and ingest instead of a directory")
	wikiName := flags.String("name", "", "document name for the scraped wiki (defaults to its URL)")
	force := flags.Bool("force", cfg.ForceRebuild, "drop the collection and rebuild the index from scratch")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	graph, closeGraph := newGraph(ctx, cfg, logger)
	defer closeGraph()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	svc := ingestion.NewService(store, embedder, graph, logger, cfg.Embeddings.Dimension)
	opts := ingestion.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Blacklist:    cfg.TopicBlacklist,
		ForceRebuild: *force,
	}

	if strings.TrimSpace(*wikiURL) != "" {
		name := *wikiName
		if name == "" {
			name = *wikiURL
		}
		logger.Printf("scraping %s using %s/%s embeddings", *wikiURL, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)
		sources := []scraper.Source{{Name: name, URL: *wikiURL}}
		if err := svc.IngestSources(ctx, scraper.New(), sources, opts); err != nil {
			logger.Fatalf("ingestion failed: %v", err)
		}
		return
	}

	logger.Printf("ingesting documents from %s using %s/%s embeddings", *dataDir, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err := svc.IngestDirectory(ctx, *dataDir, opts); err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	message := flags.String("message", "", "single message to send (omit for interactive mode)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	graph, closeGraph := newGraph(ctx, cfg, logger)
	defer closeGraph()

	svc, err := newChatService(cfg, store, graph, logger)
	if err != nil {
		logger.Fatalf("chat setup: %v", err)
	}

	sessionID := uuid.NewString()

	if strings.TrimSpace(*message) != "" {
		reply, err := svc.HandleTurn(ctx, sessionID, *message)
		if err != nil {
			logger.Fatalf("chat failed: %v", err)
		}
		printReply(reply)
		return
	}

	fmt.Println("Assistente da Ouvidoria. Digite sua mensagem (Ctrl+D para sair).")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		reply, err := svc.HandleTurn(ctx, sessionID, text)
		if err != nil {
			logger.Printf("turn failed: %v", err)
			continue
		}
		printReply(reply)
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("read input: %v", err)
	}
}

func printReply(reply chat.Reply) {
	fmt.Println(reply.Message)
	if reply.Suggestion != nil {
		fmt.Println()
		fmt.Println("Sugestão de registro:")
		fmt.Printf("  Tipo:   %s\n", reply.Suggestion.Tipo)
		if reply.Suggestion.Orgao != "" {
			fmt.Printf("  Órgão:  %s\n", reply.Suggestion.Orgao)
		}
		if reply.Suggestion.Resumo != "" {
			fmt.Printf("  Resumo: %s\n", reply.Suggestion.Resumo)
		}
	}
	if len(reply.Sources) > 0 {
		fmt.Println()
		fmt.Println("Fontes:")
		for idx, source := range reply.Sources {
			fmt.Printf("%d. %s (score %.2f)\n", idx+1, source.Breadcrumb, source.Score)
			if source.Insight.SectionCount > 0 {
				fmt.Printf("   Seções indexadas: %d\n", source.Insight.SectionCount)
			}
			if len(source.Insight.Topics) > 0 {
				fmt.Printf("   Tópicos: %s\n", strings.Join(source.Insight.Topics, ", "))
			}
		}
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", ":8080", "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	graph, closeGraph := newGraph(ctx, cfg, logger)
	defer closeGraph()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	chatSvc, err := newChatService(cfg, store, graph, logger)
	if err != nil {
		logger.Fatalf("chat setup: %v", err)
	}

	server := api.New(cfg, api.Deps{
		Chat:    chatSvc,
		Ingest:  ingestion.NewService(store, embedder, graph, logger, cfg.Embeddings.Dimension),
		Store:   store,
		Scraper: scraper.New(),
	}, logger)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func reconcileCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("reconcile", flag.ExitOnError)
	wikiURL := flags.String("url", "", "wiki page URL to re-scrape")
	wikiName := flags.String("name", "", "document name (defaults to the URL)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse reconcile flags: %v", err)
	}
	if strings.TrimSpace(*wikiURL) == "" {
		logger.Fatal("reconcile requires --url")
	}
	name := *wikiName
	if name == "" {
		name = *wikiURL
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	doc, err := scraper.New().Scrape(ctx, scraper.Source{Name: name, URL: *wikiURL})
	if err != nil {
		logger.Fatalf("scrape source: %v", err)
	}

	svc := ingestion.NewService(store, embedder, nil, logger, cfg.Embeddings.Dimension)
	pruned, err := svc.Reconcile(ctx, doc, cfg.TopicBlacklist)
	if err != nil {
		logger.Fatalf("reconcile failed: %v", err)
	}
	logger.Printf("pruned %d orphaned section(s)", pruned)
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete the knowledge index. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	if err := store.Drop(ctx); err != nil {
		logger.Fatalf("clear index: %v", err)
	}
	logger.Println("knowledge index cleared")
}

func printUsage() {
	fmt.Println("Usage: ouvidoria-agent <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  ingest     Scrape or load documents and index them (--dir, --url, --name, --force)")
	fmt.Println("  chat       Talk to the assistant (--message for one-shot, otherwise interactive)")
	fmt.Println("  serve      Run the HTTP API (--addr)")
	fmt.Println("  reconcile  Prune index sections removed from a source (--url, --name)")
	fmt.Println("  clear      Delete the knowledge index (--confirm)")
}
