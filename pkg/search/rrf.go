package search

import (
	"sort"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

// FuseRRF merges the vector and graph result lists with reciprocal rank
// fusion. Each list contributes 1/(k + rank + 1) per item; items present in
// both lists sum both contributions and are marked hybrid. Ties break on
// vector rank first, then graph confidence, then id so ordering is
// deterministic.
func FuseRRF(vectorHits []vectorstore.Hit, graphHits []graphstore.EntityHit, k int) []domain.SearchResultItem {
	if k <= 0 {
		k = 60
	}

	type fused struct {
		item       domain.SearchResultItem
		inVector   bool
		inGraph    bool
		vectorRank int
		graphConf  float64
	}
	byID := make(map[string]*fused)

	for rank, hit := range vectorHits {
		f, ok := byID[hit.EntityID]
		if !ok {
			f = &fused{
				item: domain.SearchResultItem{
					ID:          hit.EntityID,
					Name:        hit.Name,
					Type:        hit.Type,
					Description: hit.Description,
				},
				vectorRank: -1,
			}
			if hit.SourcePage > 0 {
				f.item.Properties = map[string]any{"source_page": hit.SourcePage}
			}
			byID[hit.EntityID] = f
		}
		f.inVector = true
		f.vectorRank = rank
		f.item.Score += 1.0 / float64(k+rank+1)
	}

	for rank, hit := range graphHits {
		f, ok := byID[hit.ID]
		if !ok {
			f = &fused{
				item: domain.SearchResultItem{
					ID:          hit.ID,
					Name:        hit.Name,
					Type:        hit.Type,
					Description: hit.Description,
				},
				vectorRank: -1,
			}
			if hit.SourcePage > 0 {
				f.item.Properties = map[string]any{"source_page": hit.SourcePage}
			}
			byID[hit.ID] = f
		}
		f.inGraph = true
		f.graphConf = hit.Confidence
		f.item.Score += 1.0 / float64(k+rank+1)
		if f.item.Description == "" {
			f.item.Description = hit.Description
		}
	}

	list := make([]*fused, 0, len(byID))
	for _, f := range byID {
		switch {
		case f.inVector && f.inGraph:
			f.item.Source = domain.SourceHybrid
		case f.inVector:
			f.item.Source = domain.SourceVector
		default:
			f.item.Source = domain.SourceGraph
		}
		list = append(list, f)
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.item.Score != b.item.Score {
			return a.item.Score > b.item.Score
		}
		// vectorRank -1 means the item never appeared in the vector list.
		if a.vectorRank != b.vectorRank {
			if a.vectorRank == -1 {
				return false
			}
			if b.vectorRank == -1 {
				return true
			}
			return a.vectorRank < b.vectorRank
		}
		if a.graphConf != b.graphConf {
			return a.graphConf > b.graphConf
		}
		return a.item.ID < b.item.ID
	})

	items := make([]domain.SearchResultItem, len(list))
	for i, f := range list {
		items[i] = f.item
	}
	return items
}
