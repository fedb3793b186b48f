package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/metrics"
	"github.com/medcode-agent/backend/internal/vector/milvus"
	"github.com/medcode-agent/backend/pkg/logger"
)

// Embedder turns catalog descriptions into vectors. The same model must be
// used for ingestion and for query-time retrieval.
type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader ingests reference code catalogs into the vector index. Catalogs
// arrive as CSV with columns code, description and, for the diagnosis
// catalog, category and disease.
type Loader struct {
	index     *milvus.Client
	embedder  Embedder
	batchSize int
}

func NewLoader(index *milvus.Client, embedder Embedder) *Loader {
	return &Loader{
		index:     index,
		embedder:  embedder,
		batchSize: 100,
	}
}

// EnsureCollections creates and loads any missing catalog collections.
func (l *Loader) EnsureCollections(ctx context.Context, collections []string) error {
	for _, name := range collections {
		if err := l.index.EnsureCollection(ctx, name); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
	}
	return nil
}

// LoadEntries embeds and inserts already-parsed catalog entries in batches.
// Returns the number of entries ingested; rows without a code or description
// are skipped.
func (l *Loader) LoadEntries(ctx context.Context, collection string, entries []milvus.CatalogEntry) (int, error) {
	total := 0
	for start := 0; start < len(entries); start += l.batchSize {
		end := start + l.batchSize
		if end > len(entries) {
			end = len(entries)
		}

		batch := make([]milvus.CatalogEntry, 0, end-start)
		for _, entry := range entries[start:end] {
			if entry.Code == "" || entry.Description == "" {
				continue
			}
			batch = append(batch, entry)
		}
		if len(batch) == 0 {
			continue
		}

		if err := l.insertBatch(ctx, collection, batch); err != nil {
			return total, err
		}
		total += len(batch)
	}

	metrics.CatalogEntriesLoaded.WithLabelValues(collection).Add(float64(total))
	logger.Info("Catalog entries loaded",
		zap.String("collection", collection),
		zap.Int("entries", total),
	)

	return total, nil
}

// LoadCSV reads one catalog file, embeds descriptions in batches and inserts
// the entries into the named collection. Returns the number of entries
// ingested.
func (l *Loader) LoadCSV(ctx context.Context, collection string, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read catalog header: %w", err)
	}
	columns := columnIndex(header)
	if _, ok := columns["code"]; !ok {
		return 0, fmt.Errorf("catalog %s has no code column", collection)
	}
	if _, ok := columns["description"]; !ok {
		return 0, fmt.Errorf("catalog %s has no description column", collection)
	}

	total := 0
	batch := make([]milvus.CatalogEntry, 0, l.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.insertBatch(ctx, collection, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("read catalog row: %w", err)
		}

		entry := milvus.CatalogEntry{
			Code:        field(record, columns, "code"),
			Description: field(record, columns, "description"),
			Category:    field(record, columns, "category"),
			Disease:     field(record, columns, "disease"),
		}
		if entry.Code == "" || entry.Description == "" {
			continue
		}

		batch = append(batch, entry)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}

	if err := flush(); err != nil {
		return total, err
	}

	metrics.CatalogEntriesLoaded.WithLabelValues(collection).Add(float64(total))
	logger.Info("Catalog loaded",
		zap.String("collection", collection),
		zap.Int("entries", total),
	)

	return total, nil
}

func (l *Loader) insertBatch(ctx context.Context, collection string, batch []milvus.CatalogEntry) error {
	texts := make([]string, len(batch))
	for i, entry := range batch {
		texts[i] = entry.Description
	}

	embeddings, err := l.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed catalog batch: %w", err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(batch))
	}

	for i := range batch {
		batch[i].Embedding = embeddings[i]
	}

	if err := l.index.Insert(ctx, collection, batch); err != nil {
		return fmt.Errorf("insert catalog batch: %w", err)
	}

	return nil
}

func columnIndex(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return columns
}

func field(record []string, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
