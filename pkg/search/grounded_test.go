package search

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
)

func TestSearchGroundedScopesKeywordsToDocument(t *testing.T) {
	graph := &fakeGraph{ctxFiltered: []graphstore.EntityHit{
		{ID: "ent_a", Name: "해지환급금", Confidence: 0.9, Context: "3년 경과 후 해지 시"},
		{ID: "ent_b", Name: "환급률", Confidence: 0.8},
		{ID: "ent_c", Name: "변액연금", Confidence: 0.7},
	}}
	s := NewService(&fakeVectors{}, graph, testConfig(), zerolog.Nop())

	result, err := s.SearchGrounded(context.Background(), domain.SearchQuery{
		Query: "변액연금 해지 환급금 알려주세요", DatasetID: "ds-1", TopK: 5,
	}, "doc-1")
	require.NoError(t, err)

	// "알려주세요" strips away; the three content words each get one sweep,
	// all scoped to the selected document.
	require.Len(t, graph.ctxFilters, 3)
	for _, f := range graph.ctxFilters {
		assert.Equal(t, "doc-1", f.SourceDocumentID)
		assert.Equal(t, "ds-1", f.DatasetID)
		assert.Equal(t, groundedPerKeyword, f.Limit)
	}

	// The same hits come back per keyword; dedup keeps each entity once.
	require.Len(t, result.Results, 3)
	assert.Equal(t, "ent_a", result.Results[0].ID, "highest confidence first")
	assert.Contains(t, result.Results[0].Description, "3년 경과 후", "context rides along for the answer prompt")
}

func TestSearchGroundedRetriesWithoutDocumentWhenSparse(t *testing.T) {
	graph := &fakeGraph{
		ctxFiltered: []graphstore.EntityHit{
			{ID: "ent_a", Name: "해지환급금", Confidence: 0.9},
		},
		ctxHits: []graphstore.EntityHit{
			{ID: "ent_a", Name: "해지환급금", Confidence: 0.9},
			{ID: "ent_b", Name: "환급률", Confidence: 0.8},
			{ID: "ent_c", Name: "변액연금", Confidence: 0.7},
		},
	}
	s := NewService(&fakeVectors{}, graph, testConfig(), zerolog.Nop())

	result, err := s.SearchGrounded(context.Background(), domain.SearchQuery{
		Query: "변액연금 해지 환급금 알려주세요", DatasetID: "ds-1", TopK: 5,
	}, "doc-1")
	require.NoError(t, err)

	// One document-scoped hit is too thin; the sweep reruns unscoped.
	require.Len(t, result.Results, 3)
	require.Len(t, graph.ctxFilters, 6)
	assert.Equal(t, "doc-1", graph.ctxFilters[0].SourceDocumentID)
	assert.Empty(t, graph.ctxFilters[5].SourceDocumentID)
}

func TestSearchGroundedNoDocumentSearchesOnce(t *testing.T) {
	graph := &fakeGraph{ctxHits: []graphstore.EntityHit{
		{ID: "ent_a", Name: "보험금", Confidence: 0.5},
	}}
	s := NewService(&fakeVectors{}, graph, testConfig(), zerolog.Nop())

	result, err := s.SearchGrounded(context.Background(), domain.SearchQuery{
		Query: "보험금 지급", DatasetID: "ds-1", TopK: 5,
	}, "")
	require.NoError(t, err)

	// A thin result without a document scope has nothing wider to retry.
	require.Len(t, result.Results, 1)
	for _, f := range graph.ctxFilters {
		assert.Empty(t, f.SourceDocumentID)
	}
}

func TestSearchGroundedExpandsTopResult(t *testing.T) {
	graph := &fakeGraph{
		ctxHits: []graphstore.EntityHit{{ID: "ent_a", Name: "보험금", Confidence: 0.9}},
		neighbors: &domain.GraphData{
			Nodes: []domain.GraphNode{{ID: "ent_a", Label: "보험금"}, {ID: "ent_b", Label: "지급일"}},
			Edges: []domain.GraphEdge{{Source: "ent_a", Target: "ent_b", Type: "RELATED_TO"}},
		},
	}
	s := NewService(&fakeVectors{}, graph, testConfig(), zerolog.Nop())

	result, err := s.SearchGrounded(context.Background(), domain.SearchQuery{
		Query: "보험금 지급", DatasetID: "ds-1", TopK: 5, IncludeGraph: true,
	}, "")
	require.NoError(t, err)
	require.NotNil(t, result.Graph)
	assert.Len(t, result.Graph.Nodes, 2)
}

func TestSearchGroundedEmptyQuery(t *testing.T) {
	s := NewService(&fakeVectors{}, &fakeGraph{}, testConfig(), zerolog.Nop())
	_, err := s.SearchGrounded(context.Background(), domain.SearchQuery{Query: "  "}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
