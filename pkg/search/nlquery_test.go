package search

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/providers"
	"github.com/llmflow/graphrag/pkg/upstream"
)

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts *providers.GenerateOptions) (string, error) {
	return s.GenerateWithSystem(ctx, "", prompt, opts)
}

func (s *scriptedLLM) GenerateWithSystem(ctx context.Context, system, prompt string, opts *providers.GenerateOptions) (string, error) {
	if s.calls >= len(s.responses) {
		return "fallback answer", nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

type fakeReader struct {
	fakeGraph
	rows      []map[string]any
	execErr   error
	lastQuery string
	dataset   *domain.GraphData
}

func (f *fakeReader) DatasetGraph(ctx context.Context, datasetID string, limit int) (*domain.GraphData, error) {
	if f.dataset == nil {
		return &domain.GraphData{}, nil
	}
	return f.dataset, nil
}

func (f *fakeReader) Stats(ctx context.Context, datasetID string) (*domain.GraphStats, error) {
	return &domain.GraphStats{EntityCount: int64(len(f.hits))}, nil
}

func (f *fakeReader) ExecuteReadQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	f.lastQuery = query
	if graphstore.IsUnsafeQuery(query) {
		return nil, domain.ErrUnsafeQuery
	}
	return f.rows, f.execErr
}

type fakeDocs struct {
	docs []upstream.Document
}

func (f *fakeDocs) DocumentName(ctx context.Context, documentID string) string { return documentID }

func (f *fakeDocs) SearchDocuments(ctx context.Context, datasetID, term string, limit int) ([]upstream.Document, error) {
	return f.docs, nil
}

func newNLQuery(reader *fakeReader, llm providers.LLM, docs DocSearcher) *NLQuery {
	hybrid := NewService(&fakeVectors{}, reader, testConfig(), zerolog.Nop())
	narrator := NewNarrator(reader, llm, docs, zerolog.Nop())
	return NewNLQuery(reader, llm, hybrid, narrator, docs, zerolog.Nop())
}

func TestNLQueryGeneratedCypherPath(t *testing.T) {
	reader := &fakeReader{rows: []map[string]any{{"name": "변액연금", "type": "product"}}}
	llm := &scriptedLLM{responses: []string{
		"MATCH (e:Entity) WHERE e.dataset_id = 'ds-1' RETURN e.name AS name LIMIT 20",
		"변액연금은 투자실적에 따라 연금액이 변동하는 상품입니다.",
	}}
	q := newNLQuery(reader, llm, nil)

	resp, err := q.Answer(context.Background(), domain.NaturalLanguageQuery{
		Question: "변액연금이 뭐야?", DatasetID: "ds-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.CypherQuery)
	assert.Contains(t, resp.Answer, "변액연금")
	assert.False(t, resp.NeedsClarification)
}

func TestNLQueryExpandsGraphFromResultEntity(t *testing.T) {
	reader := &fakeReader{rows: []map[string]any{
		{"e": map[string]any{"id": "ent_abc123", "name": "변액연금"}},
	}}
	reader.neighbors = &domain.GraphData{Nodes: []domain.GraphNode{
		{ID: "ent_abc123", Label: "변액연금", Type: "product"},
	}}
	llm := &scriptedLLM{responses: []string{
		"MATCH (e:Entity) RETURN e LIMIT 1",
		"answer",
	}}
	q := newNLQuery(reader, llm, nil)

	resp, err := q.Answer(context.Background(), domain.NaturalLanguageQuery{
		Question: "변액연금이 뭐야?", DatasetID: "ds-1",
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Graph)
	assert.Len(t, resp.Graph.Nodes, 1)
}

func TestNLQueryUnsafeCypherFallsBack(t *testing.T) {
	reader := &fakeReader{
		fakeGraph: fakeGraph{hits: []graphstore.EntityHit{{ID: "ent_a", Name: "변액연금", Description: "상품 설명"}}},
	}
	llm := &scriptedLLM{responses: []string{
		"MATCH (e:Entity) DELETE e",
		"answer from fallback context",
	}}
	q := newNLQuery(reader, llm, nil)

	resp, err := q.Answer(context.Background(), domain.NaturalLanguageQuery{
		Question: "tell me about the product", DatasetID: "ds-1",
	})
	require.NoError(t, err)

	// The mutating query never produces an answer path; the hybrid
	// fallback supplies the context instead.
	assert.Empty(t, resp.CypherQuery)
	assert.NotEmpty(t, resp.Answer)
}

func TestNLQueryNonCypherResponseFallsBack(t *testing.T) {
	reader := &fakeReader{
		fakeGraph: fakeGraph{hits: []graphstore.EntityHit{{ID: "ent_a", Name: "Thing"}}},
	}
	llm := &scriptedLLM{responses: []string{
		"I cannot write that query, sorry.",
		"answer",
	}}
	q := newNLQuery(reader, llm, nil)

	resp, err := q.Answer(context.Background(), domain.NaturalLanguageQuery{
		Question: "question", DatasetID: "ds-1",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.CypherQuery)
	assert.Equal(t, "answer", resp.Answer)
}

func TestNLQueryClarificationForAmbiguousProduct(t *testing.T) {
	reader := &fakeReader{}
	docs := &fakeDocs{docs: []upstream.Document{
		{ID: "doc-1", Name: "무배당 변액연금보험 1형"},
		{ID: "doc-2", Name: "무배당 변액연금보험 2형"},
	}}
	q := newNLQuery(reader, &scriptedLLM{}, docs)

	resp, err := q.Answer(context.Background(), domain.NaturalLanguageQuery{
		Question: "변액연금 해지 환급금 알려줘", DatasetID: "ds-1",
	})
	require.NoError(t, err)

	assert.True(t, resp.NeedsClarification)
	require.NotNil(t, resp.Clarification)
	assert.Len(t, resp.Clarification.Options, 2)
	assert.Empty(t, resp.Answer, "no answer until the caller picks a document")
}

func TestNLQueryScopedDocumentSkipsClarification(t *testing.T) {
	reader := &fakeReader{rows: []map[string]any{{"name": "x"}}}
	docs := &fakeDocs{docs: []upstream.Document{
		{ID: "doc-1", Name: "변액연금 1형"},
		{ID: "doc-2", Name: "변액연금 2형"},
	}}
	llm := &scriptedLLM{responses: []string{
		"MATCH (e:Entity) RETURN e.name AS name LIMIT 5",
		"answer",
	}}
	q := newNLQuery(reader, llm, docs)

	resp, err := q.Answer(context.Background(), domain.NaturalLanguageQuery{
		Question: "변액연금 해지 환급금", DatasetID: "ds-1", DocumentID: "doc-2",
	})
	require.NoError(t, err)
	assert.False(t, resp.NeedsClarification)
	assert.NotEmpty(t, resp.Answer)
}

func TestNLQueryEmptyQuestion(t *testing.T) {
	q := newNLQuery(&fakeReader{}, &scriptedLLM{}, nil)
	_, err := q.Answer(context.Background(), domain.NaturalLanguageQuery{Question: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCleanCypher(t *testing.T) {
	assert.Equal(t, "MATCH (n) RETURN n", cleanCypher("MATCH (n) RETURN n"))
	assert.Equal(t, "MATCH (n) RETURN n", cleanCypher("```cypher\nMATCH (n) RETURN n\n```"))
	assert.Empty(t, cleanCypher("Sure! Here is the query you asked for."))
	assert.Empty(t, cleanCypher(""))
}

func TestFormatGraphContextCapsAndNames(t *testing.T) {
	graph := &domain.GraphData{}
	for i := 0; i < 30; i++ {
		graph.Nodes = append(graph.Nodes, domain.GraphNode{
			ID:    string(rune('a' + i%26)),
			Label: "Entity" + strings.Repeat("x", i%3),
			Type:  "concept",
		})
	}
	text := formatGraphContext(graph)

	assert.LessOrEqual(t, strings.Count(text, "\n"), promptNodeLimit+2)
	assert.NotContains(t, text, "ent_", "prompt context uses names, not ids")
}
