package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

// VectorSearcher is the vector leg of hybrid retrieval.
type VectorSearcher interface {
	Search(ctx context.Context, query, datasetID string, entityTypes []string, topK int) ([]vectorstore.Hit, error)
}

// GraphSearcher is the graph leg plus subgraph expansion.
type GraphSearcher interface {
	SearchEntities(ctx context.Context, query string, f graphstore.SearchFilter) ([]graphstore.EntityHit, error)
	SearchWithContext(ctx context.Context, query string, f graphstore.SearchFilter) ([]graphstore.EntityHit, error)
	Neighbors(ctx context.Context, entityID string, maxDepth, limit int) (*domain.GraphData, error)
}

// Service runs vector, graph, and fused hybrid retrieval.
type Service struct {
	vectors VectorSearcher
	graph   GraphSearcher
	cfg     config.SearchConfig
	logger  zerolog.Logger
}

// NewService wires the retrieval service.
func NewService(vectors VectorSearcher, graph GraphSearcher, cfg config.SearchConfig, logger zerolog.Logger) *Service {
	return &Service{vectors: vectors, graph: graph, cfg: cfg, logger: logger}
}

const neighborLimit = 50

// Search executes one retrieval request. Hybrid mode runs both legs in
// parallel with top_k*2 each and fuses with RRF; single modes pass their leg
// through with descending scores.
func (s *Service) Search(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error) {
	if q.Query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if q.Mode == "" {
		q.Mode = domain.ModeHybrid
	}
	if q.TopK <= 0 {
		q.TopK = s.cfg.VectorTopK
	}

	start := time.Now()
	var items []domain.SearchResultItem
	var err error

	switch q.Mode {
	case domain.ModeVector:
		items, err = s.vectorOnly(ctx, q)
	case domain.ModeGraph:
		items, err = s.graphOnly(ctx, q)
	case domain.ModeHybrid:
		items, err = s.hybrid(ctx, q)
	default:
		return nil, fmt.Errorf("%w: unknown search mode %q", domain.ErrInvalidInput, q.Mode)
	}
	if err != nil {
		return nil, err
	}

	if len(items) > q.TopK {
		items = items[:q.TopK]
	}

	result := &domain.SearchResult{
		Query:            q.Query,
		Mode:             q.Mode,
		Results:          items,
		TotalCount:       len(items),
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}

	if q.IncludeGraph && len(items) > 0 {
		depth := q.MaxGraphDepth
		if depth <= 0 {
			depth = s.cfg.GraphMaxDepth
		}
		graph, err := s.graph.Neighbors(ctx, items[0].ID, depth, neighborLimit)
		if err != nil {
			// The ranked list is still useful without the subgraph.
			s.logger.Warn().Err(err).Str("entity_id", items[0].ID).Msg("graph expansion failed")
		} else if !graph.Empty() {
			result.Graph = graph
		}
	}

	return result, nil
}

func (s *Service) vectorOnly(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResultItem, error) {
	hits, err := s.vectors.Search(ctx, q.Query, q.DatasetID, q.EntityTypes, q.TopK)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SearchResultItem, len(hits))
	for i, h := range hits {
		items[i] = domain.SearchResultItem{
			ID:          h.EntityID,
			Name:        h.Name,
			Type:        h.Type,
			Description: h.Description,
			Score:       h.Score,
			Source:      domain.SourceVector,
		}
		if h.SourcePage > 0 {
			items[i].Properties = map[string]any{"source_page": h.SourcePage}
		}
	}
	return items, nil
}

func (s *Service) graphOnly(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResultItem, error) {
	hits, err := s.graph.SearchEntities(ctx, q.Query, graphstore.SearchFilter{
		DatasetID:   q.DatasetID,
		EntityTypes: q.EntityTypes,
		Limit:       q.TopK,
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.SearchResultItem, len(hits))
	for i, h := range hits {
		items[i] = domain.SearchResultItem{
			ID:          h.ID,
			Name:        h.Name,
			Type:        h.Type,
			Description: h.Description,
			Score:       h.Confidence,
			Source:      domain.SourceGraph,
		}
		if h.SourcePage > 0 {
			items[i].Properties = map[string]any{"source_page": h.SourcePage}
		}
	}
	return items, nil
}

func (s *Service) hybrid(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResultItem, error) {
	// Each leg over-fetches so fusion has enough overlap to rerank.
	legK := q.TopK * 2

	var vectorHits []vectorstore.Hit
	var graphHits []graphstore.EntityHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.vectors.Search(gctx, q.Query, q.DatasetID, q.EntityTypes, legK)
		if err != nil {
			return fmt.Errorf("vector leg: %w", err)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.graph.SearchEntities(gctx, q.Query, graphstore.SearchFilter{
			DatasetID:   q.DatasetID,
			EntityTypes: q.EntityTypes,
			Limit:       legK,
		})
		if err != nil {
			return fmt.Errorf("graph leg: %w", err)
		}
		graphHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return FuseRRF(vectorHits, graphHits, s.cfg.RRFK), nil
}

// SearchWithExpansion runs a hybrid search and attaches each top result's
// immediate connections, used by the conversation engine's search actions.
func (s *Service) SearchWithExpansion(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error) {
	result, err := s.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	for i := range result.Results {
		if i >= 3 {
			break
		}
		graph, err := s.graph.Neighbors(ctx, result.Results[i].ID, 1, 10)
		if err != nil || graph.Empty() {
			continue
		}
		for _, edge := range graph.Edges {
			other := edge.Target
			if other == result.Results[i].ID {
				other = edge.Source
			}
			result.Results[i].Connections = append(result.Results[i].Connections, map[string]any{
				"entity_id": other,
				"type":      edge.Type,
				"label":     nodeLabel(graph, other),
			})
		}
	}
	return result, nil
}

func nodeLabel(graph *domain.GraphData, id string) string {
	for _, n := range graph.Nodes {
		if n.ID == id {
			return n.Label
		}
	}
	return ""
}
