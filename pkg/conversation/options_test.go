package conversation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/upstream"
)

type fakeDocLister struct {
	docs []upstream.Document
}

func (f *fakeDocLister) Documents(ctx context.Context, datasetID string) ([]upstream.Document, error) {
	return f.docs, nil
}

type fakeTypeLister struct {
	stats *domain.GraphStats
}

func (f *fakeTypeLister) Stats(ctx context.Context, datasetID string) (*domain.GraphStats, error) {
	return f.stats, nil
}

func TestResolveDocumentOptions(t *testing.T) {
	resolver := NewDynamicOptions(&fakeDocLister{docs: []upstream.Document{
		{ID: "doc-1", Name: "무배당 변액연금보험 1형"},
		{ID: "doc-2", Name: "무배당 변액연금보험 2형"},
	}}, nil, zerolog.Nop())

	options, err := resolver.ResolveOptions(context.Background(), "dify_documents", "ds-1")
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, "doc-1", options[0].Value)
	assert.Equal(t, "무배당 변액연금보험 1형", options[0].Label)
}

func TestResolveEntityTypeOptions(t *testing.T) {
	resolver := NewDynamicOptions(nil, &fakeTypeLister{stats: &domain.GraphStats{
		EntityTypes: map[string]int64{"product": 12, "concept": 7, "date": 3},
	}}, zerolog.Nop())

	options, err := resolver.ResolveOptions(context.Background(), "neo4j_entity_types", "ds-1")
	require.NoError(t, err)
	require.Len(t, options, 3)
	assert.Equal(t, "concept", options[0].Value, "types are listed in sorted order")
	assert.Equal(t, "product", options[2].Value)
}

func TestResolveUnknownSource(t *testing.T) {
	resolver := NewDynamicOptions(nil, nil, zerolog.Nop())
	_, err := resolver.ResolveOptions(context.Background(), "crystal_ball", "ds-1")
	assert.Error(t, err)
}

func TestClarifyResolvesDynamicOptions(t *testing.T) {
	flow := newMemFlow()
	rewired := false
	for i := range flow.flow.Conditions {
		if flow.flow.Conditions[i].ConditionType == domain.CondSelectOne {
			flow.flow.Conditions[i].Options = nil
			flow.flow.Conditions[i].OptionsSource = "DYNAMIC:dify_documents"
			rewired = true
		}
	}
	require.True(t, rewired)

	sessions, _ := testSessions(t)
	engine, err := NewEngine(flow, sessions, &fakeRetriever{}, fakeAnswerer{}, &fixedLLM{}, zerolog.Nop())
	require.NoError(t, err)
	engine.SetOptionResolver(NewDynamicOptions(&fakeDocLister{docs: []upstream.Document{
		{ID: "doc-1", Name: "종신보험 약관"},
	}}, nil, zerolog.Nop()))

	resp, err := engine.Chat(context.Background(), domain.ConversationMessage{
		Message: "종신보험 보험금 청구 서류 알려줘",
	})
	require.NoError(t, err)

	require.True(t, resp.NeedsInput)
	require.Len(t, resp.Options, 1)
	assert.Equal(t, "doc-1", resp.Options[0].Value)
	assert.Equal(t, "종신보험 약관", resp.Options[0].Label)
}
