package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/providers"
)

// Store indexes entity embeddings in Qdrant. Each entity becomes one point;
// the point id is derived from the entity id so re-indexing is idempotent.
type Store struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
	embedder    providers.Embedder
	logger      zerolog.Logger
}

// Hit is one vector search result.
type Hit struct {
	EntityID    string
	Name        string
	Type        string
	Description string
	DatasetID   string
	SourcePage  int
	Score       float64
}

// New connects to Qdrant over gRPC and ensures the collection exists with
// the embedder's dimension and cosine distance.
func New(ctx context.Context, cfg config.QdrantConfig, embedder providers.Embedder, logger zerolog.Logger) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant dial %s: %v", domain.ErrStoreUnavailable, addr, err)
	}

	s := &Store{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
		embedder:    embedder,
		logger:      logger,
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) ensureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", domain.ErrStoreUnavailable, err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.embedder.Dimension()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	s.logger.Info().Str("collection", s.collection).Int("dimension", s.embedder.Dimension()).
		Msg("qdrant collection created")
	return nil
}

// pointID derives the deterministic point uuid for an entity.
func pointID(entityID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(entityID)).String()
}

// embeddingText is what gets embedded for an entity.
func embeddingText(e domain.Entity) string {
	if e.Description == "" {
		return e.Name
	}
	return e.Name + ": " + e.Description
}

// IndexEntities embeds and upserts a batch of entities.
func (s *Store) IndexEntities(ctx context.Context, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = embeddingText(e)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(entities))
	for i, e := range entities {
		payload := map[string]*pb.Value{
			"entity_id":   stringValue(e.ID),
			"name":        stringValue(e.Name),
			"type":        stringValue(string(e.Type)),
			"description": stringValue(e.Description),
			"dataset_id":  stringValue(e.DatasetID),
			"document_id": stringValue(e.SourceDocumentID),
			"chunk_id":    stringValue(e.SourceChunkID),
			"source_page": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(e.SourcePage)}},
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(e.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: vectors[i]},
			}},
			Payload: payload,
		}
	}

	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest entities, optionally
// filtered by dataset and entity types.
func (s *Store) Search(ctx context.Context, query string, datasetID string, entityTypes []string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vectors[0],
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if filter := buildFilter(datasetID, entityTypes); filter != nil {
		req.Filter = filter
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		hits = append(hits, hitFromPoint(point))
	}
	return hits, nil
}

func buildFilter(datasetID string, entityTypes []string) *pb.Filter {
	var must []*pb.Condition
	if datasetID != "" {
		must = append(must, keywordCondition("dataset_id", datasetID))
	}
	if len(entityTypes) > 0 {
		should := make([]*pb.Condition, 0, len(entityTypes))
		for _, t := range entityTypes {
			should = append(should, keywordCondition("type", t))
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{Should: should}},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// DeleteByDataset removes every point of a dataset.
func (s *Store) DeleteByDataset(ctx context.Context, datasetID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{keywordCondition("dataset_id", datasetID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete by dataset: %w", err)
	}
	return nil
}

// Count returns the number of indexed points, dataset-scoped when datasetID
// is non-empty.
func (s *Store) Count(ctx context.Context, datasetID string) (int64, error) {
	req := &pb.CountPoints{CollectionName: s.collection}
	if datasetID != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{keywordCondition("dataset_id", datasetID)}}
	}
	resp, err := s.points.Count(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

// Reset drops and recreates the collection.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return s.ensureCollection(ctx)
}

func hitFromPoint(point *pb.ScoredPoint) Hit {
	payload := point.GetPayload()
	hit := Hit{
		EntityID:    payloadString(payload, "entity_id"),
		Name:        payloadString(payload, "name"),
		Type:        payloadString(payload, "type"),
		Description: payloadString(payload, "description"),
		DatasetID:   payloadString(payload, "dataset_id"),
		Score:       float64(point.GetScore()),
	}
	if v, ok := payload["source_page"]; ok {
		hit.SourcePage = int(v.GetIntegerValue())
	}
	return hit
}

func payloadString(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
