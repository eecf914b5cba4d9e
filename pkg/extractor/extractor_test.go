package extractor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/providers"
)

type stubLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts *providers.GenerateOptions) (string, error) {
	return s.GenerateWithSystem(ctx, "", prompt, opts)
}

func (s *stubLLM) GenerateWithSystem(ctx context.Context, system, prompt string, opts *providers.GenerateOptions) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.response, s.err
}

func testChunk() domain.Chunk {
	return domain.Chunk{
		ChunkID:    domain.ChunkID("doc-1", domain.ChunkSourceSegments, 0),
		DocumentID: "doc-1",
		Index:      0,
		Content:    "Acme Corp launched the Widget product in Seoul.",
		Page:       3,
	}
}

func TestExtractEntities(t *testing.T) {
	llm := &stubLLM{response: `[
		{"name": "Acme Corp", "type": "organization", "description": "A company.", "confidence": 0.95},
		{"name": "Widget", "type": "product", "description": "A product.", "confidence": 0.9},
		{"name": "Seoul", "type": "LOCATION", "description": "A city.", "confidence": 0.8}
	]`}
	x := New(llm, 0, zerolog.Nop())

	entities, err := x.ExtractEntities(context.Background(), testChunk(), "ds-1")
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, "Acme Corp", entities[0].Name)
	assert.Equal(t, domain.EntityOrganization, entities[0].Type)
	assert.Equal(t, domain.EntityID("ds-1", "Acme Corp"), entities[0].ID)
	assert.Equal(t, "doc-1", entities[0].SourceDocumentID)
	assert.Equal(t, "doc-1_seg_0", entities[0].SourceChunkID)
	assert.Equal(t, 3, entities[0].SourcePage)

	// Type strings normalize case-insensitively.
	assert.Equal(t, domain.EntityLocation, entities[2].Type)
}

func TestExtractEntitiesStableIDs(t *testing.T) {
	// Same dataset and name, different casing and spacing: same id.
	assert.Equal(t,
		domain.EntityID("ds-1", "Acme Corp"),
		domain.EntityID("ds-1", "  ACME CORP  "))
	// Different dataset: different id.
	assert.NotEqual(t,
		domain.EntityID("ds-1", "Acme Corp"),
		domain.EntityID("ds-2", "Acme Corp"))
}

func TestExtractEntitiesFencedResponse(t *testing.T) {
	llm := &stubLLM{response: "```json\n[{\"name\": \"Acme\", \"type\": \"organization\", \"confidence\": 0.9}]\n```"}
	x := New(llm, 0, zerolog.Nop())

	entities, err := x.ExtractEntities(context.Background(), testChunk(), "ds-1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme", entities[0].Name)
}

func TestExtractEntitiesProseWrappedResponse(t *testing.T) {
	llm := &stubLLM{response: `Here are the entities I found:
[{"name": "Acme", "type": "organization", "confidence": 0.9}]
Let me know if you need more.`}
	x := New(llm, 0, zerolog.Nop())

	entities, err := x.ExtractEntities(context.Background(), testChunk(), "ds-1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
}

func TestExtractEntitiesMissingConfidenceDefaultsToFull(t *testing.T) {
	llm := &stubLLM{response: `[{"name": "Acme", "type": "organization", "description": "A company."}]`}
	x := New(llm, 0, zerolog.Nop())

	entities, err := x.ExtractEntities(context.Background(), testChunk(), "ds-1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, 1.0, entities[0].Confidence, "omitted confidence means full confidence")
}

func TestClampUnit(t *testing.T) {
	assert.Equal(t, 1.0, clampUnit(0), "missing value defaults to 1")
	assert.Equal(t, 1.0, clampUnit(-0.2))
	assert.Equal(t, 1.0, clampUnit(1.7))
	assert.Equal(t, 0.42, clampUnit(0.42))
}

func TestExtractEntitiesUnknownTypeCoerced(t *testing.T) {
	llm := &stubLLM{response: `[{"name": "Thing", "type": "gadget", "confidence": 0.7}]`}
	x := New(llm, 0, zerolog.Nop())

	entities, err := x.ExtractEntities(context.Background(), testChunk(), "ds-1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, domain.EntityOther, entities[0].Type)
}

func TestExtractEntitiesDeduplicates(t *testing.T) {
	llm := &stubLLM{response: `[
		{"name": "Acme", "type": "organization", "confidence": 0.9},
		{"name": "ACME", "type": "organization", "confidence": 0.8}
	]`}
	x := New(llm, 0, zerolog.Nop())

	entities, err := x.ExtractEntities(context.Background(), testChunk(), "ds-1")
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestExtractEntitiesEmptyChunk(t *testing.T) {
	llm := &stubLLM{response: `[]`}
	x := New(llm, 0, zerolog.Nop())

	chunk := testChunk()
	chunk.Content = "   "
	entities, err := x.ExtractEntities(context.Background(), chunk, "ds-1")
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Empty(t, llm.prompts, "blank chunks should not hit the LLM")
}

func TestExtractRelationships(t *testing.T) {
	entities := []domain.Entity{
		{ID: domain.EntityID("ds-1", "Acme Corp"), Name: "Acme Corp"},
		{ID: domain.EntityID("ds-1", "Widget"), Name: "Widget"},
	}
	llm := &stubLLM{response: `[
		{"source": "Acme Corp", "target": "Widget", "type": "CREATED_BY", "description": "Acme makes Widget.", "weight": 0.9, "confidence": 0.85}
	]`}
	x := New(llm, 0, zerolog.Nop())

	rels, err := x.ExtractRelationships(context.Background(), testChunk(), entities, "ds-1")
	require.NoError(t, err)
	require.Len(t, rels, 1)

	assert.Equal(t, entities[0].ID, rels[0].SourceEntityID)
	assert.Equal(t, entities[1].ID, rels[0].TargetEntityID)
	assert.Equal(t, domain.RelCreatedBy, rels[0].Type)
	assert.Equal(t, domain.RelationshipID(entities[0].ID, entities[1].ID, domain.RelCreatedBy), rels[0].ID)
}

func TestExtractRelationshipsFuzzyNameMatch(t *testing.T) {
	entities := []domain.Entity{
		{ID: "ent_a", Name: "Acme Corporation"},
		{ID: "ent_b", Name: "Widget"},
	}
	// The LLM abbreviated the source name; substring matching resolves it.
	llm := &stubLLM{response: `[
		{"source": "Acme", "target": "Widget", "type": "USES", "weight": 0.5, "confidence": 0.5}
	]`}
	x := New(llm, 0, zerolog.Nop())

	rels, err := x.ExtractRelationships(context.Background(), testChunk(), entities, "ds-1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "ent_a", rels[0].SourceEntityID)
}

func TestExtractRelationshipsDropsUnmatched(t *testing.T) {
	entities := []domain.Entity{
		{ID: "ent_a", Name: "Acme"},
		{ID: "ent_b", Name: "Widget"},
	}
	llm := &stubLLM{response: `[
		{"source": "Acme", "target": "Nonexistent Entity", "type": "USES", "weight": 0.5, "confidence": 0.5},
		{"source": "Acme", "target": "Acme", "type": "USES", "weight": 0.5, "confidence": 0.5}
	]`}
	x := New(llm, 0, zerolog.Nop())

	rels, err := x.ExtractRelationships(context.Background(), testChunk(), entities, "ds-1")
	require.NoError(t, err)
	assert.Empty(t, rels, "unmatched endpoints and self-loops are dropped")
}

func TestExtractRelationshipsFewerThanTwoEntities(t *testing.T) {
	llm := &stubLLM{response: `[]`}
	x := New(llm, 0, zerolog.Nop())

	rels, err := x.ExtractRelationships(context.Background(), testChunk(),
		[]domain.Entity{{ID: "ent_a", Name: "Solo"}}, "ds-1")
	require.NoError(t, err)
	assert.Empty(t, rels)
	assert.Empty(t, llm.prompts)
}

func TestExtractRelationshipsUnknownTypeDefaults(t *testing.T) {
	entities := []domain.Entity{
		{ID: "ent_a", Name: "Acme"},
		{ID: "ent_b", Name: "Widget"},
	}
	llm := &stubLLM{response: `[
		{"source": "Acme", "target": "Widget", "type": "manufactures", "weight": 0.5, "confidence": 0.5}
	]`}
	x := New(llm, 0, zerolog.Nop())

	rels, err := x.ExtractRelationships(context.Background(), testChunk(), entities, "ds-1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, domain.RelRelatedTo, rels[0].Type)
}

func TestBalancedSliceSkipsBracketsInStrings(t *testing.T) {
	raw := `noise [{"name": "a [weird] name"}] trailing`
	got, ok := balancedSlice(raw, '[', ']')
	require.True(t, ok)
	assert.Equal(t, `[{"name": "a [weird] name"}]`, got)
}
