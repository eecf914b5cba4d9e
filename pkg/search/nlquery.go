package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/providers"
	"github.com/llmflow/graphrag/pkg/upstream"
)

// ProductTerms are the insurance product families the service recognizes in
// questions. A question naming one without a document scope may need
// clarification when several documents cover that family.
var ProductTerms = []string{"변액연금", "변액적립", "즉시연금", "월지급", "종신", "건강"}

// DocSearcher finds candidate documents for clarification prompts.
type DocSearcher interface {
	DocResolver
	SearchDocuments(ctx context.Context, datasetID, term string, limit int) ([]upstream.Document, error)
}

// NLQuery answers free-form questions by generating a graph query, with
// retrieval fallbacks when generation fails or returns nothing.
type NLQuery struct {
	graph    GraphReader
	llm      providers.LLM
	hybrid   *Service
	narrator *Narrator
	docs     DocSearcher
	logger   zerolog.Logger
}

// NewNLQuery wires the NL-query pipeline. docs may be nil, disabling
// clarification.
func NewNLQuery(graph GraphReader, llm providers.LLM, hybrid *Service, narrator *Narrator, docs DocSearcher, logger zerolog.Logger) *NLQuery {
	return &NLQuery{graph: graph, llm: llm, hybrid: hybrid, narrator: narrator, docs: docs, logger: logger}
}

const cypherSystemPrompt = `You translate questions into a single read-only Cypher query. Respond with the query only, no prose, no markdown fences.`

const cypherPromptTemplate = `Graph schema:
- Nodes: (:Entity {id, name, type, description, dataset_id, source_document_id, source_page, confidence})
- Entity types: person, organization, location, date, concept, product, event, technology, document, topic, other.
- Relationships between Entity nodes carry {id, description, weight, confidence}. Relationship types include RELATED_TO, PART_OF, HAS, CONTAINS, IS_A, USES, ABOUT and similar.

Rules:
- MATCH/RETURN only. Never use CREATE, MERGE, SET, DELETE, REMOVE, or DROP.
- Always filter on dataset_id = '%s'%s.
- Match names with toLower(...) CONTAINS for robustness.
- LIMIT 20 or less.

Question: %s

Cypher:`

// Answer runs the full NL-query flow for a question.
func (q *NLQuery) Answer(ctx context.Context, req domain.NaturalLanguageQuery) (*domain.NarrativeResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	start := time.Now()
	resp := &domain.NarrativeResponse{Question: req.Question, Sources: []map[string]any{}}

	// A product question without a document scope may be ambiguous across
	// documents; ask the caller to pick one before answering.
	if clarification := q.checkClarification(ctx, req); clarification != nil {
		resp.NeedsClarification = true
		resp.Clarification = clarification
		resp.ProcessingTimeMS = elapsedMS(start)
		return resp, nil
	}

	contextText, graph, sources := q.gatherContext(ctx, req, resp)

	answer, err := q.narrator.Answer(ctx, req.Question, contextText)
	if err != nil {
		return nil, err
	}
	resp.Answer = answer
	resp.Graph = graph
	resp.Sources = sources

	if req.IncludeNarrative && !graph.Empty() {
		narrative, err := q.narrator.Narrative(ctx, req.Question, formatGraphContext(graph))
		if err != nil {
			q.logger.Warn().Err(err).Msg("narrative generation failed")
		} else {
			resp.Narrative = narrative
		}
	}

	resp.ProcessingTimeMS = elapsedMS(start)
	return resp, nil
}

// gatherContext walks the fallback chain: generated query, hybrid search,
// keyword search, dataset sample. It always returns some context, possibly
// empty, and never fails the request.
func (q *NLQuery) gatherContext(ctx context.Context, req domain.NaturalLanguageQuery, resp *domain.NarrativeResponse) (string, *domain.GraphData, []map[string]any) {
	if rows, cypher, ok := q.tryGeneratedQuery(ctx, req); ok {
		resp.CypherQuery = cypher
		graph := q.expandFromRows(ctx, rows)
		sources := []map[string]any{}
		if !graph.Empty() {
			sources = q.narrator.sourcesFromGraph(ctx, graph)
		}
		return formatRows(rows), graph, sources
	}

	if text, graph, sources, ok := q.tryHybrid(ctx, req); ok {
		return text, graph, sources
	}

	if text, sources, ok := q.tryKeyword(ctx, req); ok {
		return text, &domain.GraphData{}, sources
	}

	// Last resort: a sample of the dataset graph so the model can at least
	// say what the knowledge base covers.
	graph, err := q.graph.DatasetGraph(ctx, req.DatasetID, neighborLimit)
	if err != nil || graph.Empty() {
		return "", &domain.GraphData{}, []map[string]any{}
	}
	return formatGraphContext(graph), graph, q.narrator.sourcesFromGraph(ctx, graph)
}

func (q *NLQuery) tryGeneratedQuery(ctx context.Context, req domain.NaturalLanguageQuery) ([]map[string]any, string, bool) {
	docFilter := ""
	if req.DocumentID != "" {
		docFilter = fmt.Sprintf(" AND source_document_id = '%s'", req.DocumentID)
	}
	prompt := fmt.Sprintf(cypherPromptTemplate, req.DatasetID, docFilter, req.Question)

	raw, err := q.llm.GenerateWithSystem(ctx, cypherSystemPrompt, prompt, &providers.GenerateOptions{Temperature: 0})
	if err != nil {
		q.logger.Warn().Err(err).Msg("cypher generation failed, falling back")
		return nil, "", false
	}

	cypher := cleanCypher(raw)
	if cypher == "" {
		return nil, "", false
	}

	rows, err := q.graph.ExecuteReadQuery(ctx, cypher, nil)
	if err != nil {
		if errors.Is(err, domain.ErrUnsafeQuery) {
			q.logger.Warn().Str("query", cypher).Msg("generated query rejected as unsafe")
		} else {
			q.logger.Debug().Err(err).Msg("generated query failed, falling back")
		}
		return nil, "", false
	}
	if len(rows) == 0 {
		return nil, "", false
	}
	return rows, cypher, true
}

// expandFromRows seeds a visualization subgraph from the first entity id
// found in the query result. Rows without entity ids yield an empty graph.
func (q *NLQuery) expandFromRows(ctx context.Context, rows []map[string]any) *domain.GraphData {
	id := entityIDFromRows(rows)
	if id == "" {
		return &domain.GraphData{}
	}
	graph, err := q.graph.Neighbors(ctx, id, 1, neighborLimit)
	if err != nil {
		q.logger.Debug().Err(err).Str("entity_id", id).Msg("result expansion failed")
		return &domain.GraphData{}
	}
	return graph
}

func entityIDFromRows(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	for _, v := range rows[0] {
		switch val := v.(type) {
		case string:
			if strings.HasPrefix(val, "ent_") {
				return val
			}
		case map[string]any:
			if id, ok := val["id"].(string); ok && strings.HasPrefix(id, "ent_") {
				return id
			}
		}
	}
	return ""
}

func (q *NLQuery) tryHybrid(ctx context.Context, req domain.NaturalLanguageQuery) (string, *domain.GraphData, []map[string]any, bool) {
	result, err := q.hybrid.Search(ctx, domain.SearchQuery{
		Query:        req.Question,
		Mode:         domain.ModeHybrid,
		DatasetID:    req.DatasetID,
		IncludeGraph: true,
	})
	if err != nil || len(result.Results) == 0 {
		return "", nil, nil, false
	}

	var sb strings.Builder
	sources := []map[string]any{}
	for _, item := range result.Results {
		sb.WriteString("- ")
		sb.WriteString(item.Name)
		if item.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(item.Description)
		}
		sb.WriteString("\n")
	}

	graph := result.Graph
	if graph == nil {
		graph = &domain.GraphData{}
	} else {
		sb.WriteString(formatGraphContext(graph))
		sources = q.narrator.sourcesFromGraph(ctx, graph)
	}
	return sb.String(), graph, sources, true
}

func (q *NLQuery) tryKeyword(ctx context.Context, req domain.NaturalLanguageQuery) (string, []map[string]any, bool) {
	terms := KeywordTerms(req.Question)
	if len(terms) == 0 {
		terms = []string{strings.TrimSpace(req.Question)}
	}
	if len(terms) > 3 {
		terms = terms[:3]
	}

	var hits []graphstore.EntityHit
	seen := map[string]bool{}
	for _, term := range terms {
		found, err := q.graph.SearchWithContext(ctx, term, graphstore.SearchFilter{
			DatasetID:        req.DatasetID,
			SourceDocumentID: req.DocumentID,
			Limit:            10,
		})
		if err != nil {
			continue
		}
		for _, h := range found {
			if !seen[h.ID] {
				seen[h.ID] = true
				hits = append(hits, h)
			}
		}
	}
	if len(hits) == 0 {
		return "", nil, false
	}

	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString("- ")
		sb.WriteString(h.Name)
		if h.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(h.Description)
		}
		if h.Context != "" {
			sb.WriteString(" ")
			sb.WriteString(h.Context)
		}
		sb.WriteString("\n")
	}
	return sb.String(), []map[string]any{}, true
}

// checkClarification returns a clarification request when the question names
// a product family covered by multiple documents and no document is scoped.
func (q *NLQuery) checkClarification(ctx context.Context, req domain.NaturalLanguageQuery) *domain.ClarificationRequest {
	if q.docs == nil || req.DocumentID != "" || req.DatasetID == "" {
		return nil
	}

	term := ""
	for _, t := range ProductTerms {
		if strings.Contains(req.Question, t) {
			term = t
			break
		}
	}
	if term == "" {
		return nil
	}

	docs, err := q.docs.SearchDocuments(ctx, req.DatasetID, term, 5)
	if err != nil || len(docs) < 2 {
		return nil
	}

	options := make([]domain.ClarificationOption, len(docs))
	for i, d := range docs {
		options[i] = domain.ClarificationOption{DocumentID: d.ID, DocumentName: d.Name}
	}
	return &domain.ClarificationRequest{
		Message: fmt.Sprintf("'%s' 관련 문서가 여러 건 있습니다. 어떤 상품에 대해 답변할까요?", term),
		Options: options,
	}
}

// Suggestions proposes example questions from what the dataset actually
// contains.
func (q *NLQuery) Suggestions(ctx context.Context, datasetID string) ([]string, error) {
	graph, err := q.graph.DatasetGraph(ctx, datasetID, 20)
	if err != nil {
		return nil, err
	}

	suggestions := []string{}
	for _, node := range graph.Nodes {
		if len(suggestions) >= 5 {
			break
		}
		switch node.Type {
		case string(domain.EntityProduct):
			suggestions = append(suggestions, fmt.Sprintf("%s에 대해 설명해 주세요", node.Label))
		case string(domain.EntityConcept):
			suggestions = append(suggestions, fmt.Sprintf("%s이란 무엇인가요?", node.Label))
		case string(domain.EntityOrganization):
			suggestions = append(suggestions, fmt.Sprintf("%s은 어떤 역할을 하나요?", node.Label))
		}
	}
	if len(suggestions) == 0 && len(graph.Nodes) > 0 {
		suggestions = append(suggestions, fmt.Sprintf("%s에 대해 알려주세요", graph.Nodes[0].Label))
	}
	return suggestions, nil
}

// cleanCypher strips fences and prose from a generated query and keeps it
// only when it looks like a read query.
func cleanCypher(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```cypher")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "MATCH") && !strings.HasPrefix(upper, "OPTIONAL MATCH") {
		return ""
	}
	return s
}

// formatRows renders query result rows as prompt context.
func formatRows(rows []map[string]any) string {
	var sb strings.Builder
	for i, row := range rows {
		if i >= 20 {
			break
		}
		sb.WriteString("- ")
		first := true
		for k, v := range row {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s: %v", k, v)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
