package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/upstream"
)

type fakeGraph struct {
	entities   []domain.Entity
	rels       []domain.Relationship
	processed  map[string]bool
	markCalls  []string
	pageCalls  map[string]int
	upsertErr  error
	markedOnly bool
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{processed: map[string]bool{}, pageCalls: map[string]int{}}
}

func (g *fakeGraph) UpsertEntities(ctx context.Context, entities []domain.Entity) error {
	if g.upsertErr != nil {
		return g.upsertErr
	}
	g.entities = append(g.entities, entities...)
	return nil
}

func (g *fakeGraph) UpsertRelationships(ctx context.Context, rels []domain.Relationship, datasetID string) (int, error) {
	g.rels = append(g.rels, rels...)
	return 0, nil
}

func (g *fakeGraph) ProcessedChunkIDs(ctx context.Context, datasetID string) (map[string]bool, error) {
	out := make(map[string]bool, len(g.processed))
	for k, v := range g.processed {
		out[k] = v
	}
	return out, nil
}

func (g *fakeGraph) MarkChunkProcessed(ctx context.Context, datasetID, documentID, chunkID string, entityCount int) error {
	g.markCalls = append(g.markCalls, chunkID)
	return nil
}

func (g *fakeGraph) UpdateEntityPages(ctx context.Context, datasetID, documentID string, pages map[string]int) (int, error) {
	for k, v := range pages {
		g.pageCalls[k] = v
	}
	return len(pages), nil
}

type fakeVectors struct {
	indexed []domain.Entity
}

func (v *fakeVectors) IndexEntities(ctx context.Context, entities []domain.Entity) error {
	v.indexed = append(v.indexed, entities...)
	return nil
}

type fakeExtractor struct {
	entitiesByChunk map[string][]domain.Entity
	failChunks      map[string]bool
	calls           []string
}

func (x *fakeExtractor) ExtractEntities(ctx context.Context, chunk domain.Chunk, datasetID string) ([]domain.Entity, error) {
	x.calls = append(x.calls, chunk.ChunkID)
	if x.failChunks[chunk.ChunkID] {
		return nil, errors.New("llm exploded")
	}
	return x.entitiesByChunk[chunk.ChunkID], nil
}

func (x *fakeExtractor) ExtractRelationships(ctx context.Context, chunk domain.Chunk, entities []domain.Entity, datasetID string) ([]domain.Relationship, error) {
	if len(entities) < 2 {
		return nil, nil
	}
	return []domain.Relationship{{
		ID:               "rel_test",
		SourceEntityID:   entities[0].ID,
		TargetEntityID:   entities[1].ID,
		SourceEntityName: entities[0].Name,
		TargetEntityName: entities[1].Name,
		Type:             domain.RelRelatedTo,
	}}, nil
}

type fakeSource struct {
	docs     []upstream.Document
	segments map[string][]upstream.Segment
}

func (s *fakeSource) Documents(ctx context.Context, datasetID string) ([]upstream.Document, error) {
	return s.docs, nil
}

func (s *fakeSource) Segments(ctx context.Context, documentID string) ([]upstream.Segment, error) {
	return s.segments[documentID], nil
}

func (s *fakeSource) FileKey(ctx context.Context, fileID string) (string, error) {
	return "", fmt.Errorf("no files in test")
}

func testBuilder(graph *fakeGraph, extractor *fakeExtractor, source *fakeSource) (*Builder, *fakeVectors) {
	vectors := &fakeVectors{}
	b := NewBuilder(graph, vectors, extractor, source, nil, NewRegistry(),
		config.BuildConfig{ChunkSize: 1000}, zerolog.Nop())
	return b, vectors
}

func segmentsFor(docID string, contents ...string) []upstream.Segment {
	segs := make([]upstream.Segment, len(contents))
	for i, c := range contents {
		segs[i] = upstream.Segment{ID: fmt.Sprintf("seg-%d", i), DocumentID: docID, Position: i, Content: c}
	}
	return segs
}

func TestBuildExtractsAndIndexes(t *testing.T) {
	docID := "doc-1"
	chunk0 := domain.ChunkID(docID, domain.ChunkSourceSegments, 0)
	graph := newFakeGraph()
	extractor := &fakeExtractor{entitiesByChunk: map[string][]domain.Entity{
		chunk0: {
			{ID: "ent_a", Name: "Acme", DatasetID: "ds-1"},
			{ID: "ent_b", Name: "Widget", DatasetID: "ds-1"},
		},
	}}
	source := &fakeSource{
		docs:     []upstream.Document{{ID: docID, Name: "policy.pdf", DatasetID: "ds-1"}},
		segments: map[string][]upstream.Segment{docID: segmentsFor(docID, "Acme makes Widget.")},
	}

	b, vectors := testBuilder(graph, extractor, source)
	opts := Options{Resume: true}
	require.NoError(t, b.Start("ds-1", opts))
	b.Run(context.Background(), "ds-1", opts)

	progress, ok := b.Registry().Get("ds-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, 1, progress.CompletedSegments)
	assert.Equal(t, 2, progress.EntitiesExtracted)
	assert.Equal(t, 1, progress.RelationshipsExtracted)
	assert.True(t, progress.ResumeMode)
	assert.False(t, progress.HiFidelityMode)

	assert.Len(t, graph.entities, 2)
	assert.Len(t, graph.rels, 1)
	assert.Len(t, vectors.indexed, 2)
	assert.Equal(t, []string{chunk0}, graph.markCalls)
}

func TestBuildResumesSkippingProcessedChunks(t *testing.T) {
	docID := "doc-1"
	chunk0 := domain.ChunkID(docID, domain.ChunkSourceSegments, 0)
	chunk1 := domain.ChunkID(docID, domain.ChunkSourceSegments, 1)

	graph := newFakeGraph()
	graph.processed[chunk0] = true

	extractor := &fakeExtractor{entitiesByChunk: map[string][]domain.Entity{
		chunk1: {{ID: "ent_c", Name: "Seoul"}},
	}}
	source := &fakeSource{
		docs:     []upstream.Document{{ID: docID, Name: "policy.pdf"}},
		segments: map[string][]upstream.Segment{docID: segmentsFor(docID, "first", "second")},
	}

	b, _ := testBuilder(graph, extractor, source)
	opts := Options{Resume: true}
	require.NoError(t, b.Start("ds-1", opts))
	b.Run(context.Background(), "ds-1", opts)

	progress, _ := b.Registry().Get("ds-1")
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, 1, progress.SkippedSegments)
	assert.Equal(t, 1, progress.CompletedSegments)
	assert.Equal(t, []string{chunk1}, extractor.calls, "processed chunk must not hit the LLM again")
}

func TestBuildNonResumeReprocessesMarkedChunks(t *testing.T) {
	docID := "doc-1"
	chunk0 := domain.ChunkID(docID, domain.ChunkSourceSegments, 0)

	graph := newFakeGraph()
	graph.processed[chunk0] = true

	extractor := &fakeExtractor{entitiesByChunk: map[string][]domain.Entity{
		chunk0: {{ID: "ent_a", Name: "Acme"}},
	}}
	source := &fakeSource{
		docs:     []upstream.Document{{ID: docID, Name: "policy.pdf"}},
		segments: map[string][]upstream.Segment{docID: segmentsFor(docID, "revised content")},
	}

	b, _ := testBuilder(graph, extractor, source)
	opts := Options{Resume: false}
	require.NoError(t, b.Start("ds-1", opts))
	b.Run(context.Background(), "ds-1", opts)

	// A non-resume rebuild ignores the done markers, so a chunk whose
	// content changed gets re-extracted.
	assert.Equal(t, []string{chunk0}, extractor.calls)
	progress, _ := b.Registry().Get("ds-1")
	assert.Equal(t, 0, progress.SkippedSegments)
	assert.Equal(t, 1, progress.CompletedSegments)
	assert.False(t, progress.ResumeMode)
}

func TestBuildChunkFailureIsWarningNotFatal(t *testing.T) {
	docID := "doc-1"
	chunk0 := domain.ChunkID(docID, domain.ChunkSourceSegments, 0)
	chunk1 := domain.ChunkID(docID, domain.ChunkSourceSegments, 1)

	graph := newFakeGraph()
	extractor := &fakeExtractor{
		failChunks: map[string]bool{chunk0: true},
		entitiesByChunk: map[string][]domain.Entity{
			chunk1: {{ID: "ent_d", Name: "Survivor"}},
		},
	}
	source := &fakeSource{
		docs:     []upstream.Document{{ID: docID, Name: "policy.pdf"}},
		segments: map[string][]upstream.Segment{docID: segmentsFor(docID, "bad", "good")},
	}

	b, _ := testBuilder(graph, extractor, source)
	require.NoError(t, b.Start("ds-1", Options{}))
	b.Run(context.Background(), "ds-1", Options{})

	progress, _ := b.Registry().Get("ds-1")
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Len(t, progress.Warnings, 1)
	assert.Contains(t, progress.Warnings[0], chunk0)
	assert.Len(t, graph.entities, 1, "the healthy chunk still lands")
}

func TestBuildMarksZeroEntityChunks(t *testing.T) {
	docID := "doc-1"
	chunk0 := domain.ChunkID(docID, domain.ChunkSourceSegments, 0)

	graph := newFakeGraph()
	extractor := &fakeExtractor{entitiesByChunk: map[string][]domain.Entity{}}
	source := &fakeSource{
		docs:     []upstream.Document{{ID: docID, Name: "empty.pdf"}},
		segments: map[string][]upstream.Segment{docID: segmentsFor(docID, "nothing notable here")},
	}

	b, _ := testBuilder(graph, extractor, source)
	require.NoError(t, b.Start("ds-1", Options{}))
	b.Run(context.Background(), "ds-1", Options{})

	// Even with zero entities the chunk gets a marker, so a re-run skips it.
	assert.Equal(t, []string{chunk0}, graph.markCalls)
}

func TestBuildRejectsConcurrentRuns(t *testing.T) {
	b, _ := testBuilder(newFakeGraph(), &fakeExtractor{}, &fakeSource{})
	require.NoError(t, b.Start("ds-1", Options{}))

	err := b.Start("ds-1", Options{})
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	// A different dataset is unaffected.
	assert.NoError(t, b.Start("ds-2", Options{}))
}

func TestBuildDocumentFilter(t *testing.T) {
	graph := newFakeGraph()
	extractor := &fakeExtractor{entitiesByChunk: map[string][]domain.Entity{}}
	source := &fakeSource{
		docs: []upstream.Document{
			{ID: "doc-1", Name: "one.pdf"},
			{ID: "doc-2", Name: "two.pdf"},
		},
		segments: map[string][]upstream.Segment{
			"doc-1": segmentsFor("doc-1", "alpha"),
			"doc-2": segmentsFor("doc-2", "beta"),
		},
	}

	b, _ := testBuilder(graph, extractor, source)
	opts := Options{DocumentIDs: []string{"doc-2"}}
	require.NoError(t, b.Start("ds-1", opts))
	b.Run(context.Background(), "ds-1", opts)

	progress, _ := b.Registry().Get("ds-1")
	assert.Equal(t, 1, progress.TotalDocuments)
	require.Len(t, extractor.calls, 1)
	assert.Equal(t, domain.ChunkID("doc-2", domain.ChunkSourceSegments, 0), extractor.calls[0])
}

func TestBuildEmptyDatasetFails(t *testing.T) {
	b, _ := testBuilder(newFakeGraph(), &fakeExtractor{}, &fakeSource{})
	require.NoError(t, b.Start("ds-1", Options{}))
	b.Run(context.Background(), "ds-1", Options{})

	progress, _ := b.Registry().Get("ds-1")
	assert.Equal(t, StatusError, progress.Status)
	assert.Contains(t, progress.Error, "no documents")
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("ds-1", false, false))

	// Running builds refuse to clear.
	assert.ErrorIs(t, r.Clear("ds-1"), domain.ErrAlreadyRunning)

	r.Finish("ds-1", nil)
	assert.NoError(t, r.Clear("ds-1"))
	_, ok := r.Get("ds-1")
	assert.False(t, ok)
}
