package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medcode-agent/backend/internal/coding"
)

type fakeEmbedder struct {
	calls     int
	lastTexts []string
	err       error
}

func (f *fakeEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.lastTexts = texts
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i), 1.0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbeddingModel() string {
	return "text-embedding-3-small"
}

type fakeIndex struct {
	calls   int
	results [][]coding.Candidate
	err     error
}

func (f *fakeIndex) Search(ctx context.Context, collection string, vectors [][]float32, topK int) ([][]coding.Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	results := make([][]coding.Candidate, len(vectors))
	for i := range vectors {
		results[i] = []coding.Candidate{{Code: "X", Score: 0.9}}
	}
	return results, nil
}

type fakeCache struct {
	entries map[string][]float32
	sets    int
}

func (f *fakeCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	vec, ok := f.entries[key]
	return vec, ok, nil
}

func (f *fakeCache) SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error {
	f.sets++
	if f.entries == nil {
		f.entries = map[string][]float32{}
	}
	f.entries[key] = embedding
	return nil
}

func testCollections() map[coding.CodeSpace]string {
	return map[coding.CodeSpace]string{
		coding.SpaceDiagnosis: "icd10cm",
		coding.SpaceProcedure: "cpt4",
		coding.SpaceSupply:    "hcpcs_level2",
	}
}

func TestSearchSingleRoundTrips(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	gateway := NewGateway(embedder, index, nil, time.Hour, testCollections())

	queries := []string{"hypertension", "type 2 diabetes", "asthma", "migraine"}
	results, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, queries, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if embedder.calls != 1 {
		t.Errorf("embedder called %d times for %d queries, want exactly 1", embedder.calls, len(queries))
	}
	if index.calls != 1 {
		t.Errorf("index called %d times for %d queries, want exactly 1", index.calls, len(queries))
	}
	if len(results) != len(queries) {
		t.Errorf("got %d result sets, want %d", len(results), len(queries))
	}
	for _, q := range queries {
		if _, ok := results[q]; !ok {
			t.Errorf("no result set for query %q", q)
		}
	}
}

func TestSearchEmptyQueries(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	gateway := NewGateway(embedder, index, nil, time.Hour, testCollections())

	results, err := gateway.Search(context.Background(), coding.SpaceSupply, nil, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %v, want empty map", results)
	}
	if embedder.calls != 0 || index.calls != 0 {
		t.Error("no queries should mean no backend round trips")
	}
}

func TestSearchCachedEmbeddingsSkipEmbedder(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	cache := &fakeCache{}
	gateway := NewGateway(embedder, index, cache, time.Hour, testCollections())

	queries := []string{"hypertension", "asthma"}
	if _, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, queries, 5); err != nil {
		t.Fatalf("first Search() error = %v", err)
	}
	if embedder.calls != 1 || cache.sets != 2 {
		t.Fatalf("first search: embedder calls = %d, cache writes = %d", embedder.calls, cache.sets)
	}

	if _, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, queries, 5); err != nil {
		t.Fatalf("second Search() error = %v", err)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder called %d times, want cached second search to skip it", embedder.calls)
	}
}

func TestSearchPartialCacheHitEmbedsOnlyMisses(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	cache := &fakeCache{}
	gateway := NewGateway(embedder, index, cache, time.Hour, testCollections())

	if _, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, []string{"hypertension"}, 5); err != nil {
		t.Fatalf("warmup Search() error = %v", err)
	}

	if _, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, []string{"hypertension", "asthma"}, 5); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if embedder.calls != 2 {
		t.Fatalf("embedder called %d times, want 2", embedder.calls)
	}
	if len(embedder.lastTexts) != 1 || embedder.lastTexts[0] != "asthma" {
		t.Errorf("second embed batch = %v, want only the cache miss", embedder.lastTexts)
	}
}

func TestSearchErrorsWrapRetrievalSentinel(t *testing.T) {
	t.Run("unknown code space", func(t *testing.T) {
		gateway := NewGateway(&fakeEmbedder{}, &fakeIndex{}, nil, time.Hour, testCollections())
		_, err := gateway.Search(context.Background(), coding.CodeSpace("ndc"), []string{"x"}, 5)
		if !errors.Is(err, ErrRetrieval) {
			t.Errorf("error = %v, want %v", err, ErrRetrieval)
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		embedder := &fakeEmbedder{err: errors.New("api down")}
		gateway := NewGateway(embedder, &fakeIndex{}, nil, time.Hour, testCollections())
		_, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, []string{"x"}, 5)
		if !errors.Is(err, ErrRetrieval) {
			t.Errorf("error = %v, want %v", err, ErrRetrieval)
		}
	})

	t.Run("index failure", func(t *testing.T) {
		index := &fakeIndex{err: errors.New("collection missing")}
		gateway := NewGateway(&fakeEmbedder{}, index, nil, time.Hour, testCollections())
		_, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, []string{"x"}, 5)
		if !errors.Is(err, ErrRetrieval) {
			t.Errorf("error = %v, want %v", err, ErrRetrieval)
		}
	})

	t.Run("result set count mismatch", func(t *testing.T) {
		index := &fakeIndex{results: [][]coding.Candidate{}}
		gateway := NewGateway(&fakeEmbedder{}, index, nil, time.Hour, testCollections())
		_, err := gateway.Search(context.Background(), coding.SpaceDiagnosis, []string{"x"}, 5)
		if !errors.Is(err, ErrRetrieval) {
			t.Errorf("error = %v, want %v", err, ErrRetrieval)
		}
	})
}
