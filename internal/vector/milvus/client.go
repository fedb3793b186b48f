package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/pkg/logger"
)

// Client wraps the Milvus connection shared by all three catalog
// collections. Safe for concurrent use by in-flight runs.
type Client struct {
	client    client.Client
	vectorDim int
}

// CatalogEntry is one reference catalog row. Category and Disease are
// populated for the diagnosis catalog only.
type CatalogEntry struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Disease     string    `json:"disease,omitempty"`
	Embedding   []float32 `json:"-"`
}

func NewClient(endpoint, apiKey string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(context.Background(), client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.Int("vector_dim", vectorDim),
	)

	return &Client{
		client:    c,
		vectorDim: vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads a catalog collection if it does not
// exist yet. All three catalogs share the same schema; the diagnosis
// catalog simply leaves category and disease populated.
func (m *Client) EnsureCollection(ctx context.Context, name string) error {
	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", name))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    "Billing code reference catalog embeddings",
		Fields: []*entity.Field{
			{
				Name:       "code",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "description",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "1024",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "disease",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, name, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", name))

	return nil
}

// Insert writes catalog entries in one batch.
func (m *Client) Insert(ctx context.Context, collection string, entries []CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	codes := make([]string, len(entries))
	embeddings := make([][]float32, len(entries))
	descriptions := make([]string, len(entries))
	categories := make([]string, len(entries))
	diseases := make([]string, len(entries))

	for i, e := range entries {
		codes[i] = e.Code
		embeddings[i] = e.Embedding
		descriptions[i] = e.Description
		categories[i] = e.Category
		diseases[i] = e.Disease
	}

	_, err := m.client.Insert(
		ctx,
		collection,
		"",
		entity.NewColumnVarChar("code", codes),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("description", descriptions),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnVarChar("disease", diseases),
	)
	if err != nil {
		return fmt.Errorf("failed to insert catalog entries: %w", err)
	}

	err = m.client.Flush(ctx, collection, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Catalog entries inserted",
		zap.String("collection", collection),
		zap.Int("count", len(entries)),
	)

	return nil
}

// Search runs one nearest-neighbor query for every vector in a single round
// trip and returns candidates per vector, ordered by descending similarity.
func (m *Client) Search(ctx context.Context, collection string, vectors [][]float32, topK int) ([][]coding.Candidate, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	searchVectors := make([]entity.Vector, len(vectors))
	for i, v := range vectors {
		searchVectors[i] = entity.FloatVector(v)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		collection,
		[]string{},
		"",
		[]string{"code", "description", "category", "disease"},
		searchVectors,
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([][]coding.Candidate, len(vectors))
	for vi, sr := range searchResult {
		if vi >= len(vectors) {
			break
		}

		codeCol := sr.Fields.GetColumn("code")
		descCol := sr.Fields.GetColumn("description")
		categoryCol := sr.Fields.GetColumn("category")
		diseaseCol := sr.Fields.GetColumn("disease")

		candidates := make([]coding.Candidate, 0, sr.ResultCount)
		for i := 0; i < sr.ResultCount; i++ {
			code, _ := codeCol.Get(i)
			desc, _ := descCol.Get(i)
			category, _ := categoryCol.Get(i)
			disease, _ := diseaseCol.Get(i)

			candidates = append(candidates, coding.Candidate{
				Code:        code.(string),
				Description: desc.(string),
				Category:    category.(string),
				Disease:     disease.(string),
				Score:       float64(sr.Scores[i]),
			})
		}
		results[vi] = candidates
	}

	logger.Debug("Vector search completed",
		zap.String("collection", collection),
		zap.Int("queries", len(vectors)),
		zap.Int("topK", topK),
	)

	return results, nil
}
