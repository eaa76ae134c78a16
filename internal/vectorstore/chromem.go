package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("patternd.vectorstore.chromem")

const (
	backendChromem = "chromem"

	metaCompany   = "company"
	metaPatternID = "pattern_id"
)

// ChromemConfig holds configuration for the embedded index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the index
	// in memory only.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted collections.
	Compress bool `koanf:"compress"`

	// CollectionPrefix is prepended to the company to name its collection.
	// Default: "observations:"
	CollectionPrefix string `koanf:"collection_prefix"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "observations:"
	}
}

// ChromemIndex implements Index on chromem-go with one collection per
// company.
type ChromemIndex struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemIndex opens an embedded index.
func NewChromemIndex(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.Bool("compress", config.Compress),
	)
	return &ChromemIndex{db: db, embedder: embedder, config: config, logger: logger}, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemIndex) collectionName(company string) string {
	return s.config.CollectionPrefix + company
}

func (s *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Upsert embeds and stores entries, grouped by company.
func (s *ChromemIndex) Upsert(ctx context.Context, entries []Entry) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	defer func() { recordOp(backendChromem, "upsert", err) }()

	byCompany := groupEntries(entries)
	span.SetAttributes(
		attribute.Int("entry_count", len(entries)),
		attribute.Int("company_count", len(byCompany)),
	)

	for company, group := range byCompany {
		if company == "" {
			return ErrInvalidCompany
		}
		texts := make([]string, len(group))
		for i, e := range group {
			texts[i] = e.Text
		}
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		if len(vectors) != len(group) {
			return fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(group))
		}

		collection, err := s.db.GetOrCreateCollection(s.collectionName(company), nil, s.embeddingFunc())
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("getting collection for %s: %w", company, err)
		}

		docs := make([]chromem.Document, len(group))
		for i, e := range group {
			docs[i] = chromem.Document{
				ID:        e.ObservationID,
				Content:   e.Text,
				Metadata:  map[string]string{metaCompany: company, metaPatternID: e.PatternID},
				Embedding: vectors[i],
			}
		}
		// concurrency of 1 since embeddings are precomputed
		if err := collection.AddDocuments(ctx, docs, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("adding documents for %s: %w", company, err)
		}
	}
	return nil
}

// Delete removes entries from the company's collection.
func (s *ChromemIndex) Delete(ctx context.Context, company string, observationIDs []string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Delete")
	defer span.End()
	defer func() { recordOp(backendChromem, "delete", err) }()

	if len(observationIDs) == 0 {
		return nil
	}
	collection := s.db.GetCollection(s.collectionName(company), s.embeddingFunc())
	if collection == nil {
		return nil
	}
	if err := collection.Delete(ctx, nil, nil, observationIDs...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting from %s: %w", company, err)
	}
	return nil
}

// Search queries the company's collection. k is capped at the collection
// size. chromem filters on exact metadata values only, so a pattern scope
// runs one query per pattern id and merges the results.
func (s *ChromemIndex) Search(ctx context.Context, company, text string, k int, patternIDs []string) (matches []Match, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("company", company),
		attribute.Int("k", k),
		attribute.Int("pattern_ids.count", len(patternIDs)),
	)

	start := time.Now()
	defer func() {
		searchDuration.WithLabelValues(backendChromem).Observe(time.Since(start).Seconds())
		recordOp(backendChromem, "search", err)
	}()

	if k <= 0 || strings.TrimSpace(text) == "" {
		return []Match{}, nil
	}
	collection := s.db.GetCollection(s.collectionName(company), s.embeddingFunc())
	if collection == nil {
		return []Match{}, nil
	}
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	query, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var wheres []map[string]string
	if len(patternIDs) == 0 {
		wheres = []map[string]string{nil}
	}
	seen := make(map[string]bool, len(patternIDs))
	for _, id := range patternIDs {
		if !seen[id] {
			seen[id] = true
			wheres = append(wheres, map[string]string{metaPatternID: id})
		}
	}

	matches = []Match{}
	for _, where := range wheres {
		results, err := collection.QueryEmbedding(ctx, query, k, where, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("querying %s: %w", company, err)
		}
		for _, r := range results {
			matches = append(matches, Match{ObservationID: r.ID, Score: float64(r.Similarity)})
		}
	}
	if len(wheres) > 1 {
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
		if len(matches) > k {
			matches = matches[:k]
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// Count returns the number of entries indexed for company.
func (s *ChromemIndex) Count(company string) int {
	collection := s.db.GetCollection(s.collectionName(company), s.embeddingFunc())
	if collection == nil {
		return 0
	}
	return collection.Count()
}

// Close is a no-op; persistent collections are written on every change.
func (s *ChromemIndex) Close() error {
	return nil
}

// groupEntries partitions entries by company, dropping empty text.
func groupEntries(entries []Entry) map[string][]Entry {
	out := make(map[string][]Entry)
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" || e.ObservationID == "" {
			continue
		}
		out[e.Company] = append(out[e.Company], e)
	}
	return out
}
