package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

func TestFuseRRFOverlapWinsAndIsHybrid(t *testing.T) {
	vector := []vectorstore.Hit{
		{EntityID: "ent_a", Name: "Alpha", Score: 0.9},
		{EntityID: "ent_b", Name: "Beta", Score: 0.8},
	}
	graph := []graphstore.EntityHit{
		{ID: "ent_b", Name: "Beta"},
		{ID: "ent_c", Name: "Gamma"},
	}

	items := FuseRRF(vector, graph, 60)
	require.Len(t, items, 3)

	// Beta appears in both lists, so it outranks both single-list items.
	assert.Equal(t, "ent_b", items[0].ID)
	assert.Equal(t, domain.SourceHybrid, items[0].Source)

	expected := 1.0/float64(60+1+1) + 1.0/float64(60+0+1)
	assert.InDelta(t, expected, items[0].Score, 1e-9)
}

func TestFuseRRFProvenance(t *testing.T) {
	items := FuseRRF(
		[]vectorstore.Hit{{EntityID: "ent_v", Name: "VectorOnly"}},
		[]graphstore.EntityHit{{ID: "ent_g", Name: "GraphOnly"}},
		60)
	require.Len(t, items, 2)

	bySource := map[string]string{}
	for _, it := range items {
		bySource[it.ID] = it.Source
	}
	assert.Equal(t, domain.SourceVector, bySource["ent_v"])
	assert.Equal(t, domain.SourceGraph, bySource["ent_g"])
}

func TestFuseRRFRankNotRawScore(t *testing.T) {
	// Raw vector scores do not leak into fusion; only ranks matter.
	vector := []vectorstore.Hit{
		{EntityID: "ent_a", Name: "Alpha", Score: 0.01},
		{EntityID: "ent_b", Name: "Beta", Score: 0.99},
	}
	items := FuseRRF(vector, nil, 60)
	require.Len(t, items, 2)
	assert.Equal(t, "ent_a", items[0].ID, "first-ranked item wins regardless of raw score")
}

func TestFuseRRFTieBreaksOnVectorRank(t *testing.T) {
	vector := []vectorstore.Hit{
		{EntityID: "ent_z", Name: "Zebra"},
	}
	graph := []graphstore.EntityHit{
		{ID: "ent_a", Name: "Apple", Confidence: 0.99},
	}

	// Both items land rank 0 in one list each: identical scores. The
	// vector-ranked item wins the tie regardless of name or confidence.
	for i := 0; i < 10; i++ {
		items := FuseRRF(vector, graph, 60)
		require.Len(t, items, 2)
		assert.Equal(t, "ent_z", items[0].ID, "vector rank wins the tie")
	}
}

func TestFuseRRFEmptyInputs(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, nil, 60))

	items := FuseRRF(nil, []graphstore.EntityHit{{ID: "ent_a", Name: "A"}}, 0)
	require.Len(t, items, 1)
	assert.InDelta(t, 1.0/61.0, items[0].Score, 1e-9, "k defaults to 60")
}
