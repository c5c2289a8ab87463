package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/falabr/ouvidoria-agent/embeddings"
	"github.com/falabr/ouvidoria-agent/knowledge"
	"github.com/falabr/ouvidoria-agent/scraper"
	"github.com/falabr/ouvidoria-agent/vectorstore"
)

const (
	// embedBatchSize bounds how many chunk texts go into one embedding call.
	embedBatchSize = 16
	// embedWorkers bounds concurrent embedding calls per document.
	embedWorkers = 4
	// documentWorkers bounds concurrently ingested documents.
	documentWorkers = 4
)

// Options tunes one ingestion run.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Blacklist    []string
	// Orgao is stamped into every record payload for downstream routing.
	Orgao string
	// ForceRebuild bypasses the change detector and recreates the collection.
	ForceRebuild bool
}

// Stats summarizes what one document ingestion did.
type Stats struct {
	Sections  int
	Unchanged int
	New       int
	Modified  int
	Chunks    int
}

// Service runs the offline pipeline: flatten, detect changes, chunk, embed,
// upsert, and mirror the section structure into the knowledge graph.
type Service struct {
	store     vectorstore.Store
	embedder  embeddings.Embedder
	graph     knowledge.Graph
	logger    *log.Logger
	dimension int
}

func NewService(store vectorstore.Store, embedder embeddings.Embedder, graph knowledge.Graph, logger *log.Logger, dimension int) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:     store,
		embedder:  embedder,
		graph:     graph,
		logger:    logger,
		dimension: dimension,
	}
}

// IngestDocument pushes one normalized document revision into the index.
// Unchanged sections are skipped entirely; modified sections have their old
// records deleted before the fresh ones are upserted, so the record count per
// section never grows across re-ingestion.
func (s *Service) IngestDocument(ctx context.Context, doc *scraper.Document, docType string, opts Options) (Stats, error) {
	var stats Stats
	if s.embedder == nil {
		return stats, fmt.Errorf("embedder not configured")
	}

	if opts.ForceRebuild {
		if err := s.store.Drop(ctx); err != nil {
			s.logger.Printf("drop collection before rebuild: %v", err)
		}
	}
	if err := s.store.EnsureCollection(ctx, s.dimension); err != nil {
		return stats, fmt.Errorf("ensure collection: %w", err)
	}

	records := Flatten(doc, opts.Blacklist)
	stats.Sections = len(records)
	if len(records) == 0 {
		s.logger.Printf("document %q produced no sections", doc.WikiName)
		return stats, nil
	}

	stored := map[string]string{}
	if !opts.ForceRebuild {
		var err error
		stored, err = s.store.SectionHashes(ctx, doc.WikiName)
		if err != nil {
			return stats, fmt.Errorf("load stored hashes: %w", err)
		}
	}

	changed := make([]SectionRecord, 0, len(records))
	modified := make([]string, 0)
	for _, rec := range records {
		switch DetectChange(stored[rec.Breadcrumb], rec.Hash) {
		case ChangeUnchanged:
			stats.Unchanged++
		case ChangeNew:
			stats.New++
			changed = append(changed, rec)
		case ChangeModified:
			stats.Modified++
			changed = append(changed, rec)
			modified = append(modified, rec.Breadcrumb)
		}
	}

	if len(changed) == 0 {
		s.logger.Printf("document %q unchanged (%d sections), skipping embedding", doc.WikiName, stats.Sections)
		return stats, nil
	}

	// Clearing modified sections first keeps the per-section record count
	// stable even when the new revision has fewer chunks.
	if err := s.store.DeleteSections(ctx, doc.WikiName, modified); err != nil {
		return stats, fmt.Errorf("clear modified sections: %w", err)
	}

	collectedAt := time.Now().UTC()
	batches := s.buildBatches(doc, docType, changed, collectedAt, opts)

	indexed, err := s.embedAndUpsert(ctx, doc.WikiName, batches)
	stats.Chunks = indexed
	if err != nil {
		return stats, err
	}

	if s.graph != nil {
		if graphErr := s.graph.SyncDocument(ctx, graphDocument(doc, docType, records)); graphErr != nil {
			s.logger.Printf("knowledge graph sync for %q: %v", doc.WikiName, graphErr)
		}
	}

	s.logger.Printf("ingested %q: %d sections (%d new, %d modified, %d unchanged), %d chunks",
		doc.WikiName, stats.Sections, stats.New, stats.Modified, stats.Unchanged, stats.Chunks)
	return stats, nil
}

type recordBatch struct {
	records []vectorstore.Record
}

func (s *Service) buildBatches(doc *scraper.Document, docType string, changed []SectionRecord, collectedAt time.Time, opts Options) []recordBatch {
	all := make([]vectorstore.Record, 0, len(changed))
	for _, rec := range changed {
		topic := rec.Path[len(rec.Path)-1]
		if len(rec.Path) > 1 {
			topic = rec.Path[1]
		}
		for _, chunk := range SplitSection(rec, opts.ChunkSize, opts.ChunkOverlap) {
			all = append(all, vectorstore.Record{
				ID:         vectorstore.ChunkID(doc.WikiName, rec.Breadcrumb, chunk.Index),
				Document:   doc.WikiName,
				Breadcrumb: rec.Breadcrumb,
				ChunkIndex: chunk.Index,
				Text:       chunk.Text,
				Payload: vectorstore.Payload{
					SourceURL:   doc.WikiURL,
					CollectedAt: collectedAt,
					DocType:     docType,
					Orgao:       opts.Orgao,
					Topic:       topic,
					Hash:        chunk.SectionHash,
				},
			})
		}
	}

	batches := make([]recordBatch, 0, len(all)/embedBatchSize+1)
	for start := 0; start < len(all); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(all) {
			end = len(all)
		}
		batches = append(batches, recordBatch{records: all[start:end]})
	}
	return batches
}

// embedAndUpsert embeds batches concurrently under a bounded pool. A batch is
// embedded fully before any of it is upserted, so a provider failure leaves
// no half-upserted batch behind; failed batches do not block the others, and
// deterministic ids make a retried run idempotent.
func (s *Service) embedAndUpsert(ctx context.Context, document string, batches []recordBatch) (int, error) {
	var (
		group   errgroup.Group
		mu      sync.Mutex
		indexed int
		errs    []error
	)
	group.SetLimit(embedWorkers)

	for i := range batches {
		batch := batches[i]
		group.Go(func() error {
			n, err := s.processBatch(ctx, document, batch)
			mu.Lock()
			indexed += n
			if err != nil {
				errs = append(errs, err)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	if len(errs) > 0 {
		return indexed, errors.Join(errs...)
	}
	return indexed, nil
}

// processBatch embeds and upserts one batch, returning how many records were
// written. Sections the store reports as moved since the run was planned are
// skipped, not overwritten.
func (s *Service) processBatch(ctx context.Context, document string, batch recordBatch) (int, error) {
	records, err := s.verifyStoredHashes(ctx, document, batch.records)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		// One retry; timeouts and transport errors are treated alike.
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vectors))
	}

	for i := range records {
		records[i].Embedding = vectors[i]
	}

	if err := s.store.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert batch: %w", err)
	}
	return len(records), nil
}

// verifyStoredHashes re-reads the stored section hashes right before a batch
// is written. A section that now carries a hash different from the one this
// run computed was changed by a concurrent writer after the run was planned;
// overwriting it would silently discard that revision, so the section is
// flagged for manual review and dropped from the batch instead.
func (s *Service) verifyStoredHashes(ctx context.Context, document string, records []vectorstore.Record) ([]vectorstore.Record, error) {
	current, err := s.store.SectionHashes(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("verify stored hashes: %w", err)
	}

	kept := make([]vectorstore.Record, 0, len(records))
	for _, rec := range records {
		if hash, ok := current[rec.Breadcrumb]; ok && hash != rec.Payload.Hash {
			s.logger.Printf("MANUAL REVIEW: %v for %q, section skipped", ErrHashMismatch, rec.Breadcrumb)
			continue
		}
		kept = append(kept, rec)
	}
	return kept, nil
}

// Reconcile prunes index records whose section no longer exists in the
// current document revision. It is invoked manually (CLI or API), not on
// every ingestion cycle.
func (s *Service) Reconcile(ctx context.Context, doc *scraper.Document, blacklist []string) (int, error) {
	stored, err := s.store.SectionHashes(ctx, doc.WikiName)
	if err != nil {
		return 0, fmt.Errorf("load stored hashes: %w", err)
	}

	current := make(map[string]struct{})
	for _, rec := range Flatten(doc, blacklist) {
		current[rec.Breadcrumb] = struct{}{}
	}

	orphaned := make([]string, 0)
	for breadcrumb := range stored {
		if _, ok := current[breadcrumb]; !ok {
			orphaned = append(orphaned, breadcrumb)
		}
	}
	if len(orphaned) == 0 {
		return 0, nil
	}

	if err := s.store.DeleteSections(ctx, doc.WikiName, orphaned); err != nil {
		return 0, fmt.Errorf("prune orphaned sections: %w", err)
	}
	s.logger.Printf("reconciled %q: pruned %d orphaned section(s)", doc.WikiName, len(orphaned))
	return len(orphaned), nil
}

// IngestSources scrapes and ingests wikis concurrently. Failures are isolated
// per document and reported together at the end.
func (s *Service) IngestSources(ctx context.Context, sc *scraper.Scraper, sources []scraper.Source, opts Options) error {
	var (
		group errgroup.Group
		mu    sync.Mutex
		errs  []error
	)
	group.SetLimit(documentWorkers)

	// A forced rebuild must drop the collection exactly once, not per worker.
	if opts.ForceRebuild {
		if err := s.store.Drop(ctx); err != nil {
			s.logger.Printf("drop collection before rebuild: %v", err)
		}
		if err := s.store.EnsureCollection(ctx, s.dimension); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}
	}
	perDoc := opts
	perDoc.ForceRebuild = false

	for _, src := range sources {
		source := src
		group.Go(func() error {
			doc, err := sc.Scrape(ctx, source)
			if err == nil {
				_, err = s.IngestDocument(ctx, doc, DocTypeWiki, perDoc)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", source.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	return errors.Join(errs...)
}

// IngestDirectory walks a data directory and ingests every supported file:
// scraped trees saved as .json, plus flat .pdf and .txt uploads.
func (s *Service) IngestDirectory(ctx context.Context, dir string, opts Options) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}

	entries := make([]string, 0)
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".json", ".pdf", ".txt", ".md":
			entries = append(entries, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk data directory: %w", err)
	}

	if len(entries) == 0 {
		s.logger.Printf("no ingestable files found in %s", dir)
		return nil
	}

	if opts.ForceRebuild {
		if err := s.store.Drop(ctx); err != nil {
			s.logger.Printf("drop collection before rebuild: %v", err)
		}
		if err := s.store.EnsureCollection(ctx, s.dimension); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}
	}
	perDoc := opts
	perDoc.ForceRebuild = false

	var errs []error
	for _, path := range entries {
		if err := s.ingestFile(ctx, path, perDoc); err != nil {
			s.logger.Printf("ingest failed for %s: %v", path, err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) ingestFile(ctx context.Context, path string, opts Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	name := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(name), ".json") {
		var doc scraper.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode document tree: %w", err)
		}
		if doc.WikiName == "" {
			doc.WikiName = strings.TrimSuffix(name, filepath.Ext(name))
		}
		_, err = s.IngestDocument(ctx, &doc, DocTypeWiki, opts)
		return err
	}

	doc, docType, err := LoadFile(name, "file://"+path, data)
	if err != nil {
		return err
	}
	_, err = s.IngestDocument(ctx, doc, docType, opts)
	return err
}

func graphDocument(doc *scraper.Document, docType string, records []SectionRecord) knowledge.Document {
	sections := make([]knowledge.Section, 0, len(records))
	topicSet := make(map[string]struct{})
	for i, rec := range records {
		sections = append(sections, knowledge.Section{
			Breadcrumb: rec.Breadcrumb,
			Title:      rec.Path[len(rec.Path)-1],
			Depth:      len(rec.Path) - 1,
			Order:      i,
			Hash:       rec.Hash,
		})
		if len(rec.Path) > 1 {
			topicSet[rec.Path[1]] = struct{}{}
		}
	}
	topics := make([]string, 0, len(topicSet))
	for topic := range topicSet {
		topics = append(topics, topic)
	}
	return knowledge.Document{
		Name:    doc.WikiName,
		URL:     doc.WikiURL,
		Version: doc.Version,
		Type:    docType,
		Topics:  topics,
		// Sections arrive in flatten order.
		Sections: sections,
	}
}
