package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
)

const (
	// groundedPerKeyword caps how many hits each keyword contributes.
	groundedPerKeyword = 5
	// groundedMinResults is the threshold below which a document-scoped
	// search widens to the whole dataset.
	groundedMinResults = 3
	groundedKeywordCap = 5
)

// SearchGrounded answers a consultation question with per-keyword graph
// retrieval. The question is reduced to content keywords; each keyword is
// searched with surrounding context, scoped to documentID when given.
// When the scoped pass yields too few hits the search is retried over the
// whole dataset, so a stale document scope cannot starve the answer.
func (s *Service) SearchGrounded(ctx context.Context, q domain.SearchQuery, documentID string) (*domain.SearchResult, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if q.TopK <= 0 {
		q.TopK = s.cfg.VectorTopK
	}

	terms := KeywordTerms(q.Query)
	if len(terms) == 0 {
		terms = []string{strings.TrimSpace(q.Query)}
	}
	if len(terms) > groundedKeywordCap {
		terms = terms[:groundedKeywordCap]
	}

	start := time.Now()

	hits := s.groundedPass(ctx, terms, q.DatasetID, documentID)
	if documentID != "" && len(hits) < groundedMinResults {
		hits = s.groundedPass(ctx, terms, q.DatasetID, "")
	}

	items := make([]domain.SearchResultItem, 0, len(hits))
	for _, h := range hits {
		item := domain.SearchResultItem{
			ID:          h.ID,
			Name:        h.Name,
			Type:        h.Type,
			Description: h.Description,
			Score:       h.Confidence,
			Source:      domain.SourceGraph,
		}
		if h.Context != "" {
			if item.Description != "" {
				item.Description += " | " + h.Context
			} else {
				item.Description = h.Context
			}
		}
		if h.SourcePage > 0 {
			item.Properties = map[string]any{"source_page": h.SourcePage}
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > q.TopK {
		items = items[:q.TopK]
	}

	result := &domain.SearchResult{
		Query:            q.Query,
		Mode:             domain.ModeGraph,
		Results:          items,
		TotalCount:       len(items),
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}

	if q.IncludeGraph && len(items) > 0 {
		depth := q.MaxGraphDepth
		if depth <= 0 {
			depth = s.cfg.GraphMaxDepth
		}
		graph, err := s.graph.Neighbors(ctx, items[0].ID, depth, neighborLimit)
		if err != nil {
			s.logger.Warn().Err(err).Str("entity_id", items[0].ID).Msg("graph expansion failed")
		} else if !graph.Empty() {
			result.Graph = graph
		}
	}
	return result, nil
}

// groundedPass runs one keyword sweep, deduplicating by entity id. A failed
// keyword is logged and skipped; the other keywords still contribute.
func (s *Service) groundedPass(ctx context.Context, terms []string, datasetID, documentID string) []graphstore.EntityHit {
	seen := make(map[string]bool)
	var hits []graphstore.EntityHit
	for _, term := range terms {
		found, err := s.graph.SearchWithContext(ctx, term, graphstore.SearchFilter{
			DatasetID:        datasetID,
			SourceDocumentID: documentID,
			Limit:            groundedPerKeyword,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("term", term).Msg("grounded keyword search failed")
			continue
		}
		for _, h := range found {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			hits = append(hits, h)
		}
	}
	return hits
}
