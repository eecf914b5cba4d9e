package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/providers"
)

// Graph context fed to prompts is capped so answers stay inside the model's
// window even for dense subgraphs.
const (
	promptNodeLimit = 20
	promptEdgeLimit = 30
)

// GraphReader is the read surface the narrative and NL-query paths need.
type GraphReader interface {
	GraphSearcher
	DatasetGraph(ctx context.Context, datasetID string, limit int) (*domain.GraphData, error)
	Stats(ctx context.Context, datasetID string) (*domain.GraphStats, error)
	ExecuteReadQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// DocResolver maps document ids to names and finds candidate documents for
// clarification.
type DocResolver interface {
	DocumentName(ctx context.Context, documentID string) string
}

// Narrator turns subgraphs into grounded prose.
type Narrator struct {
	graph  GraphReader
	llm    providers.LLM
	docs   DocResolver
	logger zerolog.Logger
}

// NewNarrator wires the narrative generator. docs may be nil; sources then
// carry raw document ids.
func NewNarrator(graph GraphReader, llm providers.LLM, docs DocResolver, logger zerolog.Logger) *Narrator {
	return &Narrator{graph: graph, llm: llm, docs: docs, logger: logger}
}

const answerSystemPrompt = `You are a knowledgeable assistant answering questions from a knowledge graph.
Answer in the language of the question.
Ground every statement in the provided context. If the context does not cover the question, say so.
Refer to entities by their names. Never mention internal identifiers, UUIDs, or node ids.`

const narrativeSystemPrompt = `You are a storyteller summarizing a knowledge graph for a human reader.
Write flowing prose in the language of the question. Use entity names only.
Never mention internal identifiers, UUIDs, node ids, or the word "graph".`

// formatGraphContext renders a subgraph as prompt text, capped at
// promptNodeLimit nodes and promptEdgeLimit edges.
func formatGraphContext(graph *domain.GraphData) string {
	if graph.Empty() {
		return ""
	}

	var sb strings.Builder
	names := make(map[string]string, len(graph.Nodes))

	sb.WriteString("Entities:\n")
	for i, n := range graph.Nodes {
		if i >= promptNodeLimit {
			break
		}
		names[n.ID] = n.Label
		sb.WriteString("- ")
		sb.WriteString(n.Label)
		if n.Type != "" {
			sb.WriteString(" (")
			sb.WriteString(n.Type)
			sb.WriteString(")")
		}
		if desc, ok := n.Properties["description"].(string); ok && desc != "" {
			sb.WriteString(": ")
			sb.WriteString(desc)
		}
		sb.WriteString("\n")
	}

	if len(graph.Edges) > 0 {
		sb.WriteString("Relationships:\n")
		for i, e := range graph.Edges {
			if i >= promptEdgeLimit {
				break
			}
			src, ok1 := names[e.Source]
			dst, ok2 := names[e.Target]
			if !ok1 || !ok2 {
				continue
			}
			sb.WriteString("- ")
			sb.WriteString(src)
			sb.WriteString(" ")
			sb.WriteString(strings.ToLower(strings.ReplaceAll(e.Type, "_", " ")))
			sb.WriteString(" ")
			sb.WriteString(dst)
			if e.Properties != nil {
				if desc, ok := e.Properties["description"].(string); ok && desc != "" {
					sb.WriteString(" (")
					sb.WriteString(desc)
					sb.WriteString(")")
				}
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Answer generates a grounded answer from context text.
func (n *Narrator) Answer(ctx context.Context, question, contextText string) (string, error) {
	if strings.TrimSpace(contextText) == "" {
		contextText = "(no relevant information found)"
	}
	prompt := fmt.Sprintf("Context:\n%s\nQuestion: %s", contextText, question)
	return n.llm.GenerateWithSystem(ctx, answerSystemPrompt, prompt, &providers.GenerateOptions{Temperature: 0.3})
}

// Narrative generates a story-style summary of context text.
func (n *Narrator) Narrative(ctx context.Context, question, contextText string) (string, error) {
	if strings.TrimSpace(contextText) == "" {
		return "", nil
	}
	prompt := fmt.Sprintf("Context:\n%s\nTopic: %s\nWrite a short narrative summary.", contextText, question)
	return n.llm.GenerateWithSystem(ctx, narrativeSystemPrompt, prompt, &providers.GenerateOptions{Temperature: 0.5})
}

// EntityStory tells the story of one entity from its neighborhood.
func (n *Narrator) EntityStory(ctx context.Context, entityID string, depth int) (*domain.NarrativeResponse, error) {
	graph, err := n.graph.Neighbors(ctx, entityID, depth, neighborLimit)
	if err != nil {
		return nil, err
	}
	if graph.Empty() {
		return nil, fmt.Errorf("%w: entity %s", domain.ErrNotFound, entityID)
	}

	subject := graph.Nodes[0].Label
	contextText := formatGraphContext(graph)
	story, err := n.Narrative(ctx, subject, contextText)
	if err != nil {
		return nil, err
	}

	return &domain.NarrativeResponse{
		Question:  subject,
		Narrative: story,
		Graph:     graph,
		Sources:   n.sourcesFromGraph(ctx, graph),
	}, nil
}

// DatasetSummary summarizes what a dataset's graph contains.
func (n *Narrator) DatasetSummary(ctx context.Context, datasetID string) (*domain.NarrativeResponse, error) {
	stats, err := n.graph.Stats(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if stats.EntityCount == 0 {
		return nil, fmt.Errorf("%w: dataset %s has no graph", domain.ErrNotFound, datasetID)
	}

	graph, err := n.graph.DatasetGraph(ctx, datasetID, neighborLimit)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The knowledge base holds %d entities and %d relationships.\n",
		stats.EntityCount, stats.RelationshipCount)
	for typ, count := range stats.EntityTypes {
		fmt.Fprintf(&sb, "- %s: %d\n", typ, count)
	}
	sb.WriteString(formatGraphContext(graph))

	summary, err := n.Narrative(ctx, "overview of the knowledge base", sb.String())
	if err != nil {
		return nil, err
	}

	return &domain.NarrativeResponse{
		Question:  "dataset summary",
		Narrative: summary,
		Graph:     graph,
		Sources:   n.sourcesFromGraph(ctx, graph),
	}, nil
}

// sourcesFromGraph collects the distinct source documents behind a subgraph,
// resolving ids to display names when a resolver is wired.
func (n *Narrator) sourcesFromGraph(ctx context.Context, graph *domain.GraphData) []map[string]any {
	if graph.Empty() {
		return []map[string]any{}
	}

	seen := make(map[string]bool)
	sources := []map[string]any{}
	for _, node := range graph.Nodes {
		docID, _ := node.Properties["source_document_id"].(string)
		if docID == "" || seen[docID] {
			continue
		}
		seen[docID] = true

		source := map[string]any{"document_id": docID}
		if n.docs != nil {
			source["document_name"] = n.docs.DocumentName(ctx, docID)
		}
		if page, ok := node.Properties["source_page"].(int64); ok && page > 0 {
			source["page"] = page
		}
		sources = append(sources, source)
	}
	return sources
}
