package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/upstream"
)

// DocumentLister lists the indexed documents of a dataset.
type DocumentLister interface {
	Documents(ctx context.Context, datasetID string) ([]upstream.Document, error)
}

// TypeLister reports the entity type histogram of a dataset.
type TypeLister interface {
	Stats(ctx context.Context, datasetID string) (*domain.GraphStats, error)
}

// DynamicOptions resolves DYNAMIC option sources against live stores. The
// supported sources are "dify_documents" and "neo4j_entity_types".
type DynamicOptions struct {
	docs   DocumentLister
	graph  TypeLister
	logger zerolog.Logger
}

func NewDynamicOptions(docs DocumentLister, graph TypeLister, logger zerolog.Logger) *DynamicOptions {
	return &DynamicOptions{docs: docs, graph: graph, logger: logger}
}

func (d *DynamicOptions) ResolveOptions(ctx context.Context, source, datasetID string) ([]domain.Option, error) {
	switch source {
	case "dify_documents":
		return d.documentOptions(ctx, datasetID)
	case "neo4j_entity_types":
		return d.typeOptions(ctx, datasetID)
	default:
		return nil, fmt.Errorf("unknown options source: %s", source)
	}
}

func (d *DynamicOptions) documentOptions(ctx context.Context, datasetID string) ([]domain.Option, error) {
	if d.docs == nil {
		return nil, fmt.Errorf("document source not configured")
	}
	docs, err := d.docs.Documents(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	options := make([]domain.Option, 0, len(docs))
	for _, doc := range docs {
		options = append(options, domain.Option{Value: doc.ID, Label: doc.Name})
	}
	return options, nil
}

func (d *DynamicOptions) typeOptions(ctx context.Context, datasetID string) ([]domain.Option, error) {
	if d.graph == nil {
		return nil, fmt.Errorf("graph store not configured")
	}
	stats, err := d.graph.Stats(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(stats.EntityTypes))
	for name := range stats.EntityTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	options := make([]domain.Option, 0, len(names))
	for _, name := range names {
		options = append(options, domain.Option{Value: name, Label: name})
	}
	return options, nil
}
