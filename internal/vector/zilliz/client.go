package zilliz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/pkg/logger"
	"github.com/pitch-perfect/backend/pkg/utils"
)

const (
	fieldPitchID   = "pitch_id"
	fieldOrgID     = "org_id"
	fieldTitle     = "title"
	fieldEmbedding = "embedding"
	fieldCreatedAt = "created_at"

	maxTitleLength = 256
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// PitchVector is one indexed pitch.
type PitchVector struct {
	PitchID   string
	OrgID     string
	Title     string
	Embedding []float32
	CreatedAt time.Time
}

type SearchResult struct {
	PitchID string
	Title   string
	Score   float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.load(ctx)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Pitch text embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldPitchID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldOrgID,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     fieldTitle,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": fmt.Sprintf("%d", maxTitleLength*4),
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", z.vectorDim),
				},
			},
			{
				Name:     fieldCreatedAt,
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.load(ctx); err != nil {
		return err
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

func (z *Client) load(ctx context.Context) error {
	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Upsert replaces the vector for a pitch.
func (z *Client) Upsert(ctx context.Context, v PitchVector) error {
	if len(v.Embedding) != z.vectorDim {
		return fmt.Errorf("embedding has %d dimensions, collection expects %d", len(v.Embedding), z.vectorDim)
	}

	if err := z.Delete(ctx, v.PitchID); err != nil {
		return err
	}

	_, err := z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldPitchID, []string{v.PitchID}),
		entity.NewColumnVarChar(fieldOrgID, []string{v.OrgID}),
		entity.NewColumnVarChar(fieldTitle, []string{utils.Truncate(v.Title, maxTitleLength)}),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, [][]float32{v.Embedding}),
		entity.NewColumnInt64(fieldCreatedAt, []int64{v.CreatedAt.Unix()}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pitch vector: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Pitch vector indexed", zap.String("pitch_id", v.PitchID))
	return nil
}

func (z *Client) Delete(ctx context.Context, pitchID string) error {
	expr := fmt.Sprintf("%s in [%s]", fieldPitchID, quote(pitchID))
	if err := z.client.Delete(ctx, z.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete pitch vector: %w", err)
	}
	return nil
}

// Search returns the org's pitches closest to the embedding, nearest first.
func (z *Client) Search(ctx context.Context, embedding []float32, orgID string, topK int) ([]SearchResult, error) {
	expr := fmt.Sprintf("%s == %s", fieldOrgID, quote(orgID))

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		[]string{fieldPitchID, fieldTitle},
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results, err := toResults(searchResult)
	if err != nil {
		return nil, err
	}

	logger.Info("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("org_id", orgID),
	)

	return results, nil
}

func toResults(searchResult []client.SearchResult) ([]SearchResult, error) {
	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn(fieldPitchID)
		titleCol := sr.Fields.GetColumn(fieldTitle)
		if idCol == nil {
			continue
		}

		for i := 0; i < sr.ResultCount; i++ {
			raw, err := idCol.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read search result: %w", err)
			}
			id, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected pitch_id type %T", raw)
			}

			var title string
			if titleCol != nil {
				if v, err := titleCol.Get(i); err == nil {
					title, _ = v.(string)
				}
			}

			results = append(results, SearchResult{
				PitchID: id,
				Title:   title,
				Score:   sr.Scores[i],
			})
		}
	}
	return results, nil
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
