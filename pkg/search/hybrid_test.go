package search

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

type fakeVectors struct {
	hits     []vectorstore.Hit
	err      error
	lastTopK int
}

func (f *fakeVectors) Search(ctx context.Context, query, datasetID string, entityTypes []string, topK int) ([]vectorstore.Hit, error) {
	f.lastTopK = topK
	return f.hits, f.err
}

type fakeGraph struct {
	hits        []graphstore.EntityHit
	ctxHits     []graphstore.EntityHit
	ctxFiltered []graphstore.EntityHit
	ctxFilters  []graphstore.SearchFilter
	neighbors   *domain.GraphData
	err         error
	lastLimit   int
}

func (f *fakeGraph) SearchEntities(ctx context.Context, query string, filter graphstore.SearchFilter) ([]graphstore.EntityHit, error) {
	f.lastLimit = filter.Limit
	return f.hits, f.err
}

func (f *fakeGraph) SearchWithContext(ctx context.Context, query string, filter graphstore.SearchFilter) ([]graphstore.EntityHit, error) {
	f.ctxFilters = append(f.ctxFilters, filter)
	if filter.SourceDocumentID != "" {
		return f.ctxFiltered, f.err
	}
	return f.ctxHits, f.err
}

func (f *fakeGraph) Neighbors(ctx context.Context, entityID string, maxDepth, limit int) (*domain.GraphData, error) {
	if f.neighbors == nil {
		return &domain.GraphData{}, nil
	}
	return f.neighbors, nil
}

func testConfig() config.SearchConfig {
	return config.SearchConfig{VectorTopK: 10, GraphMaxDepth: 2, RRFK: 60}
}

func TestSearchHybridFusesBothLegs(t *testing.T) {
	vectors := &fakeVectors{hits: []vectorstore.Hit{
		{EntityID: "ent_a", Name: "Alpha"},
		{EntityID: "ent_b", Name: "Beta"},
	}}
	graph := &fakeGraph{hits: []graphstore.EntityHit{
		{ID: "ent_b", Name: "Beta"},
	}}
	s := NewService(vectors, graph, testConfig(), zerolog.Nop())

	result, err := s.Search(context.Background(), domain.SearchQuery{Query: "beta", TopK: 5})
	require.NoError(t, err)

	assert.Equal(t, domain.ModeHybrid, result.Mode, "hybrid is the default mode")
	require.NotEmpty(t, result.Results)
	assert.Equal(t, "ent_b", result.Results[0].ID)
	assert.Equal(t, domain.SourceHybrid, result.Results[0].Source)

	// Each leg over-fetches at twice the requested depth.
	assert.Equal(t, 10, vectors.lastTopK)
	assert.Equal(t, 10, graph.lastLimit)
}

func TestSearchVectorMode(t *testing.T) {
	vectors := &fakeVectors{hits: []vectorstore.Hit{
		{EntityID: "ent_a", Name: "Alpha", Score: 0.87},
	}}
	s := NewService(vectors, &fakeGraph{}, testConfig(), zerolog.Nop())

	result, err := s.Search(context.Background(), domain.SearchQuery{
		Query: "alpha", Mode: domain.ModeVector, TopK: 5,
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.SourceVector, result.Results[0].Source)
	assert.InDelta(t, 0.87, result.Results[0].Score, 1e-9, "vector mode keeps raw scores")
}

func TestSearchGraphMode(t *testing.T) {
	graph := &fakeGraph{hits: []graphstore.EntityHit{
		{ID: "ent_g", Name: "GraphHit", Confidence: 0.7},
	}}
	s := NewService(&fakeVectors{}, graph, testConfig(), zerolog.Nop())

	result, err := s.Search(context.Background(), domain.SearchQuery{
		Query: "hit", Mode: domain.ModeGraph, TopK: 5,
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.SourceGraph, result.Results[0].Source)
}

func TestSearchRejectsEmptyQueryAndUnknownMode(t *testing.T) {
	s := NewService(&fakeVectors{}, &fakeGraph{}, testConfig(), zerolog.Nop())

	_, err := s.Search(context.Background(), domain.SearchQuery{Query: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Search(context.Background(), domain.SearchQuery{Query: "x", Mode: "telepathy"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	var hits []vectorstore.Hit
	for i := 0; i < 10; i++ {
		hits = append(hits, vectorstore.Hit{EntityID: string(rune('a' + i)), Name: "n"})
	}
	s := NewService(&fakeVectors{hits: hits}, &fakeGraph{}, testConfig(), zerolog.Nop())

	result, err := s.Search(context.Background(), domain.SearchQuery{Query: "x", TopK: 3})
	require.NoError(t, err)
	assert.Len(t, result.Results, 3)
	assert.Equal(t, 3, result.TotalCount)
}

func TestSearchIncludeGraphExpandsTopResult(t *testing.T) {
	graph := &fakeGraph{
		hits: []graphstore.EntityHit{{ID: "ent_a", Name: "Alpha"}},
		neighbors: &domain.GraphData{
			Nodes: []domain.GraphNode{{ID: "ent_a", Label: "Alpha"}, {ID: "ent_b", Label: "Beta"}},
			Edges: []domain.GraphEdge{{Source: "ent_a", Target: "ent_b", Type: "RELATED_TO"}},
		},
	}
	s := NewService(&fakeVectors{}, graph, testConfig(), zerolog.Nop())

	result, err := s.Search(context.Background(), domain.SearchQuery{
		Query: "alpha", Mode: domain.ModeGraph, IncludeGraph: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Graph)
	assert.Len(t, result.Graph.Nodes, 2)
}

func TestSearchLegFailureFailsHybrid(t *testing.T) {
	vectors := &fakeVectors{err: errors.New("qdrant down")}
	s := NewService(vectors, &fakeGraph{}, testConfig(), zerolog.Nop())

	_, err := s.Search(context.Background(), domain.SearchQuery{Query: "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "vector leg")
}
