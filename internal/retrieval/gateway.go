package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/metrics"
	"github.com/medcode-agent/backend/pkg/logger"
	"github.com/medcode-agent/backend/pkg/utils"
)

// ErrRetrieval marks an unreachable or malformed vector backend response.
// Callers treat it as fatal for the stage; no partial results are returned.
var ErrRetrieval = errors.New("retrieval failure")

// Embedder turns query text into vectors. Determinism is required: the same
// model embeds queries and the reference catalogs.
type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
}

// Index is the similarity backend, one collection per code space.
type Index interface {
	Search(ctx context.Context, collection string, vectors [][]float32, topK int) ([][]coding.Candidate, error)
}

// EmbeddingCache memoizes query embeddings. Misses and cache errors fall
// through to the embedder.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// Gateway implements the batched retrieval protocol: one embedding round
// trip and one index round trip per stage, regardless of term count.
type Gateway struct {
	embedder    Embedder
	index       Index
	cache       EmbeddingCache
	cacheTTL    time.Duration
	collections map[coding.CodeSpace]string
}

func NewGateway(embedder Embedder, index Index, cache EmbeddingCache, cacheTTL time.Duration, collections map[coding.CodeSpace]string) *Gateway {
	return &Gateway{
		embedder:    embedder,
		index:       index,
		cache:       cache,
		cacheTTL:    cacheTTL,
		collections: collections,
	}
}

// Search embeds all queries, runs one batched nearest-neighbor search and
// returns projected candidates keyed by originating query.
func (g *Gateway) Search(ctx context.Context, space coding.CodeSpace, queries []string, k int) (map[string][]coding.Candidate, error) {
	if len(queries) == 0 {
		return map[string][]coding.Candidate{}, nil
	}

	collection, ok := g.collections[space]
	if !ok {
		return nil, fmt.Errorf("%w: no collection configured for code space %s", ErrRetrieval, space)
	}

	vectors, err := g.embedQueries(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", ErrRetrieval, err)
	}

	raw, err := g.index.Search(ctx, collection, vectors, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	if len(raw) != len(queries) {
		return nil, fmt.Errorf("%w: backend returned %d result sets for %d queries", ErrRetrieval, len(raw), len(queries))
	}

	results := make(map[string][]coding.Candidate, len(queries))
	for i, query := range queries {
		results[query] = Project(space, raw[i])
		metrics.RetrievalCandidates.WithLabelValues(string(space)).Observe(float64(len(raw[i])))
	}

	logger.Debug("Retrieval batch completed",
		zap.String("space", string(space)),
		zap.Int("queries", len(queries)),
		zap.Int("topK", k),
	)

	return results, nil
}

// embedQueries resolves embeddings through the cache and embeds all misses
// in one batch call.
func (g *Gateway) embedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	vectors := make([][]float32, len(queries))
	missing := make([]int, 0, len(queries))

	for i, query := range queries {
		if g.cache == nil {
			missing = append(missing, i)
			continue
		}
		vec, ok, err := g.cache.GetEmbedding(ctx, g.cacheKey(query))
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok {
			vectors[i] = vec
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = queries[i]
	}

	embedded, err := g.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(missing))
	}

	for j, i := range missing {
		vectors[i] = embedded[j]
		if g.cache != nil {
			if err := g.cache.SetEmbedding(ctx, g.cacheKey(queries[i]), embedded[j], g.cacheTTL); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
	}

	return vectors, nil
}

func (g *Gateway) cacheKey(query string) string {
	return g.embedder.EmbeddingModel() + ":" + utils.HashString(query)
}
