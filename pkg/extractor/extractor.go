package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/providers"
)

const (
	entityTruncateLimit   = 4000
	relationTruncateLimit = 1500
	maxEntitiesPerChunk   = 20
)

// Extractor turns chunk text into entities and relationships via two LLM
// passes. The second pass only sees names the first pass produced, so edges
// always resolve to extracted entities.
type Extractor struct {
	llm     providers.LLM
	timeout time.Duration
	logger  zerolog.Logger
}

// New builds an extractor over the given LLM. A positive timeout bounds each
// extraction call; extraction runs much longer than answering, so it carries
// its own budget instead of the LLM client's default.
func New(llm providers.LLM, timeout time.Duration, logger zerolog.Logger) *Extractor {
	return &Extractor{llm: llm, timeout: timeout, logger: logger}
}

// rawEntity mirrors the JSON shape the entity prompt requests.
type rawEntity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
	Confidence  float64  `json:"confidence"`
}

// rawRelationship mirrors the JSON shape the relationship prompt requests.
type rawRelationship struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	Confidence  float64 `json:"confidence"`
}

const entitySystemPrompt = `You are a knowledge extraction engine. You respond with a JSON array only, no prose, no markdown fences.`

const entityPromptTemplate = `Extract the named entities from the following text.

Rules:
- Allowed types: person, organization, location, date, concept, product, event, technology, document, topic, other.
- Use the surface form from the text as the entity name. Keep the original language.
- Write a one-sentence description grounded in the text.
- confidence is a number between 0 and 1.
- Return at most %d entities, the most important first.

Respond with a JSON array of objects:
[{"name": "...", "type": "...", "description": "...", "aliases": [], "confidence": 0.9}]

Text:
%s`

const relationshipPromptTemplate = `Given these entities extracted from a text, identify the relationships between them.

Entities: %s

Rules:
- source and target must be names from the entity list above, verbatim.
- Allowed types: RELATED_TO, MENTIONS, WORKS_FOR, LOCATED_IN, PART_OF, CREATED_BY, BELONGS_TO, DEPENDS_ON, SIMILAR_TO, CAUSED_BY, LEADS_TO, CONTAINS, USES, IS_A, HAS, ABOUT, OTHER.
- weight and confidence are numbers between 0 and 1.
- Only include relationships the text supports.

Respond with a JSON array of objects:
[{"source": "...", "target": "...", "type": "RELATED_TO", "description": "...", "weight": 0.8, "confidence": 0.9}]

Text:
%s`

// ExtractEntities runs the entity pass over one chunk. The returned entities
// carry stable ids and full source attribution.
func (x *Extractor) ExtractEntities(ctx context.Context, chunk domain.Chunk, datasetID string) ([]domain.Entity, error) {
	text := truncate(chunk.Content, entityTruncateLimit)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	prompt := fmt.Sprintf(entityPromptTemplate, maxEntitiesPerChunk, text)
	raw, err := x.llm.GenerateWithSystem(ctx, entitySystemPrompt, prompt,
		&providers.GenerateOptions{Temperature: 0, Timeout: x.timeout})
	if err != nil {
		return nil, err
	}

	var parsed []rawEntity
	if err := unmarshalArray(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse entity response: %w", err)
	}

	seen := make(map[string]bool)
	var entities []domain.Entity
	for _, r := range parsed {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		entities = append(entities, domain.Entity{
			ID:               domain.EntityID(datasetID, name),
			Name:             name,
			Type:             domain.NormalizeEntityType(r.Type),
			Description:      strings.TrimSpace(r.Description),
			Aliases:          r.Aliases,
			DatasetID:        datasetID,
			SourceDocumentID: chunk.DocumentID,
			SourceChunkID:    chunk.ChunkID,
			SourcePage:       chunk.Page,
			Confidence:       clampUnit(r.Confidence),
		})
		if len(entities) >= maxEntitiesPerChunk {
			break
		}
	}
	return entities, nil
}

// ExtractRelationships runs the relationship pass over the same chunk,
// restricted to the given entities. Edges whose endpoints do not match any
// extracted entity name are dropped.
func (x *Extractor) ExtractRelationships(ctx context.Context, chunk domain.Chunk, entities []domain.Entity, datasetID string) ([]domain.Relationship, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	text := truncate(chunk.Content, relationTruncateLimit)

	prompt := fmt.Sprintf(relationshipPromptTemplate, strings.Join(names, ", "), text)
	raw, err := x.llm.GenerateWithSystem(ctx, entitySystemPrompt, prompt,
		&providers.GenerateOptions{Temperature: 0, Timeout: x.timeout})
	if err != nil {
		return nil, err
	}

	var parsed []rawRelationship
	if err := unmarshalArray(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse relationship response: %w", err)
	}

	var rels []domain.Relationship
	dropped := 0
	for _, r := range parsed {
		source := matchEntity(r.Source, entities)
		target := matchEntity(r.Target, entities)
		if source == nil || target == nil || source.ID == target.ID {
			dropped++
			continue
		}

		typ := domain.NormalizeRelationshipType(r.Type)
		rels = append(rels, domain.Relationship{
			ID:               domain.RelationshipID(source.ID, target.ID, typ),
			SourceEntityID:   source.ID,
			TargetEntityID:   target.ID,
			SourceEntityName: source.Name,
			TargetEntityName: target.Name,
			Type:             typ,
			Description:      strings.TrimSpace(r.Description),
			Weight:           clampUnit(r.Weight),
			Confidence:       clampUnit(r.Confidence),
			SourceDocumentID: chunk.DocumentID,
		})
	}
	if dropped > 0 {
		x.logger.Debug().Int("dropped", dropped).Str("chunk_id", chunk.ChunkID).
			Msg("relationships with unmatched endpoints dropped")
	}
	return rels, nil
}

// matchEntity resolves an LLM-emitted name against the extracted entities.
// Exact case-insensitive match wins; otherwise substring containment in
// either direction. The LLM often abbreviates or expands names slightly.
func matchEntity(name string, entities []domain.Entity) *domain.Entity {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}

	for i := range entities {
		if strings.ToLower(entities[i].Name) == needle {
			return &entities[i]
		}
	}
	for i := range entities {
		candidate := strings.ToLower(entities[i].Name)
		if strings.Contains(candidate, needle) || strings.Contains(needle, candidate) {
			return &entities[i]
		}
	}
	return nil
}

// unmarshalArray parses a JSON array out of an LLM response, tolerating
// markdown fences and surrounding prose.
func unmarshalArray(raw string, v any) error {
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}
	extracted, ok := balancedSlice(cleaned, '[', ']')
	if !ok {
		return fmt.Errorf("no JSON array found in response")
	}
	return json.Unmarshal([]byte(extracted), v)
}

// stripFences removes a leading/trailing markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// balancedSlice returns the first balanced open..close region of s, skipping
// brackets inside string literals.
func balancedSlice(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	// Truncate on a rune boundary.
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// clampUnit bounds a confidence or weight to (0, 1]. Missing values default
// to full confidence rather than dragging fused rankings down.
func clampUnit(f float64) float64 {
	if f <= 0 || f > 1 {
		return 1
	}
	return f
}
