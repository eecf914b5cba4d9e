package graphstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
)

// Store is the labeled-property-graph store backed by Neo4j. It holds the
// knowledge graph (Entity nodes, typed relationships) and the conversation
// flow graph (Intent/Condition/Action/Response nodes).
type Store struct {
	driver neo4j.DriverWithContext
	logger zerolog.Logger
}

// New connects to Neo4j and ensures constraints and indexes exist.
func New(ctx context.Context, cfg config.Neo4jConfig, logger zerolog.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s := &Store{driver: driver, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
		"CREATE CONSTRAINT processed_chunk_id IF NOT EXISTS FOR (c:ProcessedChunk) REQUIRE c.chunk_id IS UNIQUE",
		"CREATE CONSTRAINT intent_id IF NOT EXISTS FOR (i:Intent) REQUIRE i.id IS UNIQUE",
		"CREATE CONSTRAINT condition_id IF NOT EXISTS FOR (c:Condition) REQUIRE c.id IS UNIQUE",
		"CREATE CONSTRAINT action_id IF NOT EXISTS FOR (a:Action) REQUIRE a.id IS UNIQUE",
		"CREATE CONSTRAINT response_id IF NOT EXISTS FOR (r:Response) REQUIRE r.id IS UNIQUE",
		"CREATE INDEX entity_dataset_name IF NOT EXISTS FOR (e:Entity) ON (e.dataset_id, e.name)",
		"CREATE INDEX entity_dataset_type IF NOT EXISTS FOR (e:Entity) ON (e.dataset_id, e.type)",
		"CREATE INDEX entity_dataset_chunk IF NOT EXISTS FOR (e:Entity) ON (e.dataset_id, e.source_chunk_id)",
		"CREATE INDEX processed_chunk_dataset IF NOT EXISTS FOR (c:ProcessedChunk) ON (c.dataset_id)",
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range stmts {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) read(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
}

func (s *Store) write(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

// UpsertEntities inserts or updates a batch of entities keyed by id.
// Re-running the same batch is a no-op apart from refreshed descriptions.
func (s *Store) UpsertEntities(ctx context.Context, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, map[string]any{
			"id":                 e.ID,
			"name":               e.Name,
			"type":               string(e.Type),
			"description":        e.Description,
			"aliases":            e.Aliases,
			"dataset_id":         e.DatasetID,
			"source_document_id": e.SourceDocumentID,
			"source_chunk_id":    e.SourceChunkID,
			"source_page":        e.SourcePage,
			"confidence":         e.Confidence,
		})
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (e:Entity {id: row.id})
			SET e.name = row.name,
			    e.type = row.type,
			    e.description = row.description,
			    e.aliases = row.aliases,
			    e.dataset_id = row.dataset_id,
			    e.source_document_id = row.source_document_id,
			    e.source_chunk_id = row.source_chunk_id,
			    e.source_page = row.source_page,
			    e.confidence = row.confidence,
			    e.updated_at = timestamp()`,
			map[string]any{"rows": rows})
	})
	if err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}
	return nil
}

// UpsertRelationships matches endpoints by case-insensitive name within the
// dataset (the extractor emits names, not ids) and merges the edges. Edges
// whose endpoints cannot be matched are dropped; the dropped count is
// returned.
func (s *Store) UpsertRelationships(ctx context.Context, rels []domain.Relationship, datasetID string) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	dropped := 0
	for _, r := range rels {
		typ := domain.NormalizeRelationshipType(string(r.Type))
		// The relationship type comes from a closed validated enum, so
		// interpolating it into the pattern is safe.
		query := fmt.Sprintf(`
			MATCH (s:Entity {dataset_id: $dataset_id})
			WHERE toLower(s.name) = toLower($source_name)
			MATCH (t:Entity {dataset_id: $dataset_id})
			WHERE toLower(t.name) = toLower($target_name)
			MERGE (s)-[r:%s {id: $id}]->(t)
			SET r.description = $description,
			    r.weight = $weight,
			    r.confidence = $confidence,
			    r.source_document_id = $source_document_id
			RETURN count(r) AS merged`, typ)

		result, err := session.Run(ctx, query, map[string]any{
			"dataset_id":         datasetID,
			"source_name":        r.SourceEntityName,
			"target_name":        r.TargetEntityName,
			"id":                 r.ID,
			"description":        r.Description,
			"weight":             r.Weight,
			"confidence":         r.Confidence,
			"source_document_id": r.SourceDocumentID,
		})
		if err != nil {
			return dropped, fmt.Errorf("upsert relationship: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			dropped++
			continue
		}
		merged, _ := record.Get("merged")
		if count, ok := merged.(int64); !ok || count == 0 {
			dropped++
		}
	}

	if dropped > 0 {
		s.logger.Debug().Int("dropped", dropped).Str("dataset_id", datasetID).
			Msg("relationships with unmatched endpoints dropped")
	}
	return dropped, nil
}

// EntityHit is one row of a graph text search.
type EntityHit struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	DatasetID   string  `json:"dataset_id,omitempty"`
	SourcePage  int     `json:"source_page,omitempty"`
	Confidence  float64 `json:"confidence"`
	Context     string  `json:"context,omitempty"`
}

// SearchFilter narrows a text search.
type SearchFilter struct {
	DatasetID        string
	EntityTypes      []string
	SourceDocumentID string
	Limit            int
}

// SearchEntities performs a case-insensitive substring match over entity
// names and descriptions, ordered by confidence.
func (s *Store) SearchEntities(ctx context.Context, query string, f SearchFilter) ([]EntityHit, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}

	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity)
		WHERE (toLower(e.name) CONTAINS toLower($q) OR toLower(coalesce(e.description, '')) CONTAINS toLower($q))
		  AND ($dataset_id = '' OR e.dataset_id = $dataset_id)
		  AND ($source_document_id = '' OR e.source_document_id = $source_document_id)
		  AND (size($types) = 0 OR e.type IN $types)
		RETURN e.id AS id, e.name AS name, e.type AS type,
		       e.description AS description, e.dataset_id AS dataset_id,
		       e.source_page AS source_page, e.confidence AS confidence
		ORDER BY e.confidence DESC
		LIMIT $limit`,
		map[string]any{
			"q":                  query,
			"dataset_id":         f.DatasetID,
			"source_document_id": f.SourceDocumentID,
			"types":              orEmpty(f.EntityTypes),
			"limit":              f.Limit,
		})
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	var hits []EntityHit
	for result.Next(ctx) {
		hits = append(hits, hitFromRecord(result.Record()))
	}
	return hits, result.Err()
}

// SearchWithContext performs the same match as SearchEntities and adds a
// "context" string built from the descriptions of incident edges, used for
// grounding generated answers.
func (s *Store) SearchWithContext(ctx context.Context, query string, f SearchFilter) ([]EntityHit, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}

	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity)
		WHERE (toLower(e.name) CONTAINS toLower($q) OR toLower(coalesce(e.description, '')) CONTAINS toLower($q))
		  AND ($dataset_id = '' OR e.dataset_id = $dataset_id)
		  AND ($source_document_id = '' OR e.source_document_id = $source_document_id)
		  AND (size($types) = 0 OR e.type IN $types)
		OPTIONAL MATCH (e)-[r]-(n:Entity)
		WITH e, collect(DISTINCT coalesce(r.description, type(r) + ' ' + n.name))[..5] AS ctx
		RETURN e.id AS id, e.name AS name, e.type AS type,
		       e.description AS description, e.dataset_id AS dataset_id,
		       e.source_page AS source_page, e.confidence AS confidence,
		       reduce(acc = '', c IN ctx | acc + c + '. ') AS context
		ORDER BY e.confidence DESC
		LIMIT $limit`,
		map[string]any{
			"q":                  query,
			"dataset_id":         f.DatasetID,
			"source_document_id": f.SourceDocumentID,
			"types":              orEmpty(f.EntityTypes),
			"limit":              f.Limit,
		})
	if err != nil {
		return nil, fmt.Errorf("search with context: %w", err)
	}

	var hits []EntityHit
	for result.Next(ctx) {
		hit := hitFromRecord(result.Record())
		if v, ok := result.Record().Get("context"); ok {
			hit.Context, _ = v.(string)
		}
		hits = append(hits, hit)
	}
	return hits, result.Err()
}

// Neighbors returns the deduped subgraph reachable within maxDepth edges of
// the seed entity. Depth is clamped to [1,5].
func (s *Store) Neighbors(ctx context.Context, entityID string, maxDepth, limit int) (*domain.GraphData, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > 5 {
		maxDepth = 5
	}
	if limit <= 0 {
		limit = 50
	}

	session := s.read(ctx)
	defer session.Close(ctx)

	// Variable-length pattern bounds cannot be parameterized.
	query := fmt.Sprintf(`
		MATCH (center:Entity {id: $id})
		OPTIONAL MATCH path = (center)-[*1..%d]-(n:Entity)
		WITH center, collect(DISTINCT n)[..$limit] AS neighbors
		WITH [center] + neighbors AS nodes
		UNWIND nodes AS node
		WITH collect(DISTINCT node) AS nodes
		UNWIND nodes AS a
		OPTIONAL MATCH (a)-[r]->(b:Entity)
		WHERE b IN nodes
		RETURN nodes,
		       collect(DISTINCT {id: r.id, type: type(r), source: a.id, target: b.id,
		                         description: r.description, weight: r.weight}) AS edges`, maxDepth)

	result, err := session.Run(ctx, query, map[string]any{"id": entityID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		// No center entity found: empty subgraph rather than an error.
		return &domain.GraphData{}, nil
	}
	return graphFromRecord(record)
}

// DatasetGraph returns a sample subgraph of a dataset for visualization.
func (s *Store) DatasetGraph(ctx context.Context, datasetID string, limit int) (*domain.GraphData, error) {
	if limit <= 0 {
		limit = 50
	}

	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {dataset_id: $dataset_id})
		WITH collect(e)[..$limit] AS nodes
		UNWIND nodes AS a
		OPTIONAL MATCH (a)-[r]->(b:Entity)
		WHERE b IN nodes
		RETURN nodes,
		       collect(DISTINCT {id: r.id, type: type(r), source: a.id, target: b.id,
		                         description: r.description, weight: r.weight}) AS edges`,
		map[string]any{"dataset_id": datasetID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("dataset graph: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return &domain.GraphData{}, nil
	}
	return graphFromRecord(record)
}

// Stats returns entity/relationship counts and the entity type histogram,
// dataset-scoped when datasetID is non-empty.
func (s *Store) Stats(ctx context.Context, datasetID string) (*domain.GraphStats, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity)
		WHERE $dataset_id = '' OR e.dataset_id = $dataset_id
		OPTIONAL MATCH (e)-[r]->(:Entity)
		RETURN count(DISTINCT e) AS entities, count(DISTINCT r) AS relationships`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	stats := &domain.GraphStats{EntityTypes: map[string]int64{}}
	if v, ok := record.Get("entities"); ok {
		stats.EntityCount, _ = v.(int64)
	}
	if v, ok := record.Get("relationships"); ok {
		stats.RelationshipCount, _ = v.(int64)
	}

	typeResult, err := session.Run(ctx, `
		MATCH (e:Entity)
		WHERE $dataset_id = '' OR e.dataset_id = $dataset_id
		RETURN e.type AS type, count(e) AS count`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("stats types: %w", err)
	}
	for typeResult.Next(ctx) {
		rec := typeResult.Record()
		t, _ := rec.Get("type")
		c, _ := rec.Get("count")
		name, _ := t.(string)
		count, _ := c.(int64)
		if name != "" {
			stats.EntityTypes[name] = count
		}
	}
	return stats, typeResult.Err()
}

// ProcessedChunkIDs returns the chunk ids already ingested for a dataset.
// It unions the explicit ProcessedChunk markers with source_chunk_id values
// observed on entities, so chunks that legitimately produced zero entities
// are still skipped on resume.
func (s *Store) ProcessedChunkIDs(ctx context.Context, datasetID string) (map[string]bool, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	done := make(map[string]bool)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {dataset_id: $dataset_id})
		WHERE e.source_chunk_id IS NOT NULL AND e.source_chunk_id <> ''
		RETURN DISTINCT e.source_chunk_id AS chunk_id`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("processed chunk ids: %w", err)
	}
	for result.Next(ctx) {
		if v, ok := result.Record().Get("chunk_id"); ok {
			if id, ok := v.(string); ok && id != "" {
				done[id] = true
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	markers, err := session.Run(ctx, `
		MATCH (c:ProcessedChunk {dataset_id: $dataset_id})
		RETURN c.chunk_id AS chunk_id`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("processed chunk markers: %w", err)
	}
	for markers.Next(ctx) {
		if v, ok := markers.Record().Get("chunk_id"); ok {
			if id, ok := v.(string); ok && id != "" {
				done[id] = true
			}
		}
	}
	return done, markers.Err()
}

// MarkChunkProcessed records an explicit completion marker for a chunk.
func (s *Store) MarkChunkProcessed(ctx context.Context, datasetID, documentID, chunkID string, entityCount int) error {
	session := s.write(ctx)
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (c:ProcessedChunk {chunk_id: $chunk_id})
		SET c.dataset_id = $dataset_id,
		    c.document_id = $document_id,
		    c.entity_count = $entity_count,
		    c.processed_at = timestamp()`,
		map[string]any{
			"chunk_id":     chunkID,
			"dataset_id":   datasetID,
			"document_id":  documentID,
			"entity_count": entityCount,
		})
	if err != nil {
		return fmt.Errorf("mark chunk processed: %w", err)
	}
	return nil
}

// UpdateEntityPages rewrites source_page for entities of a document based on
// a chunk-id→page map, without re-extracting.
func (s *Store) UpdateEntityPages(ctx context.Context, datasetID, documentID string, pages map[string]int) (int, error) {
	if len(pages) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(pages))
	for chunkID, page := range pages {
		rows = append(rows, map[string]any{"chunk_id": chunkID, "page": page})
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		UNWIND $rows AS row
		MATCH (e:Entity {dataset_id: $dataset_id, source_document_id: $document_id, source_chunk_id: row.chunk_id})
		SET e.source_page = row.page
		RETURN count(e) AS updated`,
		map[string]any{"rows": rows, "dataset_id": datasetID, "document_id": documentID})
	if err != nil {
		return 0, fmt.Errorf("update entity pages: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, nil
	}
	updated, _ := record.Get("updated")
	count, _ := updated.(int64)
	return int(count), nil
}

// DeleteDataset removes all entities of a dataset with their incident
// relationships, plus the processed-chunk markers.
func (s *Store) DeleteDataset(ctx context.Context, datasetID string) (int64, error) {
	session := s.write(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {dataset_id: $dataset_id})
		WITH collect(e) AS nodes, count(e) AS total
		FOREACH (n IN nodes | DETACH DELETE n)
		RETURN total`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return 0, fmt.Errorf("delete dataset: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete dataset: %w", err)
	}

	if _, err := session.Run(ctx, `
		MATCH (c:ProcessedChunk {dataset_id: $dataset_id}) DELETE c`,
		map[string]any{"dataset_id": datasetID}); err != nil {
		return 0, fmt.Errorf("delete chunk markers: %w", err)
	}

	total, _ := record.Get("total")
	count, _ := total.(int64)
	return count, nil
}

// EntitiesByDataset streams all entities of a dataset, used by export.
func (s *Store) EntitiesByDataset(ctx context.Context, datasetID string) ([]domain.Entity, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {dataset_id: $dataset_id})
		RETURN e.id AS id, e.name AS name, e.type AS type,
		       e.description AS description, e.aliases AS aliases,
		       e.source_document_id AS source_document_id,
		       e.source_chunk_id AS source_chunk_id,
		       e.source_page AS source_page, e.confidence AS confidence
		ORDER BY e.name`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("entities by dataset: %w", err)
	}

	var entities []domain.Entity
	for result.Next(ctx) {
		rec := result.Record()
		e := domain.Entity{DatasetID: datasetID}
		e.ID = stringField(rec, "id")
		e.Name = stringField(rec, "name")
		e.Type = domain.EntityType(stringField(rec, "type"))
		e.Description = stringField(rec, "description")
		e.SourceDocumentID = stringField(rec, "source_document_id")
		e.SourceChunkID = stringField(rec, "source_chunk_id")
		if v, ok := rec.Get("aliases"); ok {
			if raw, ok := v.([]any); ok {
				for _, a := range raw {
					if str, ok := a.(string); ok {
						e.Aliases = append(e.Aliases, str)
					}
				}
			}
		}
		if v, ok := rec.Get("source_page"); ok {
			if page, ok := v.(int64); ok {
				e.SourcePage = int(page)
			}
		}
		if v, ok := rec.Get("confidence"); ok {
			e.Confidence, _ = v.(float64)
		}
		entities = append(entities, e)
	}
	return entities, result.Err()
}

// RelationshipsByDataset streams all relationships of a dataset for export.
func (s *Store) RelationshipsByDataset(ctx context.Context, datasetID string) ([]domain.Relationship, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (a:Entity {dataset_id: $dataset_id})-[r]->(b:Entity {dataset_id: $dataset_id})
		RETURN r.id AS id, type(r) AS type, a.id AS source_id, b.id AS target_id,
		       a.name AS source_name, b.name AS target_name,
		       r.description AS description, r.weight AS weight,
		       r.confidence AS confidence, r.source_document_id AS source_document_id`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("relationships by dataset: %w", err)
	}

	var rels []domain.Relationship
	for result.Next(ctx) {
		rec := result.Record()
		r := domain.Relationship{
			ID:               stringField(rec, "id"),
			Type:             domain.RelationshipType(stringField(rec, "type")),
			SourceEntityID:   stringField(rec, "source_id"),
			TargetEntityID:   stringField(rec, "target_id"),
			SourceEntityName: stringField(rec, "source_name"),
			TargetEntityName: stringField(rec, "target_name"),
			Description:      stringField(rec, "description"),
			SourceDocumentID: stringField(rec, "source_document_id"),
		}
		if v, ok := rec.Get("weight"); ok {
			r.Weight, _ = v.(float64)
		}
		if v, ok := rec.Get("confidence"); ok {
			r.Confidence, _ = v.(float64)
		}
		rels = append(rels, r)
	}
	return rels, result.Err()
}

// mutatingVerbs matches graph-mutating keywords as whole words, any case.
var mutatingVerbs = regexp.MustCompile(`(?i)\b(DELETE|REMOVE|DROP|CREATE|SET|MERGE|DETACH)\b`)

// IsUnsafeQuery reports whether a generated query contains a mutating verb.
func IsUnsafeQuery(query string) bool {
	return mutatingVerbs.MatchString(query)
}

// ExecuteReadQuery runs an externally generated read-only query. Queries
// containing mutating verbs are rejected before touching the store.
func (s *Store) ExecuteReadQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if IsUnsafeQuery(query) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsafeQuery, firstLine(query))
	}

	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	var rows []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			v, _ := rec.Get(key)
			row[key] = normalizeValue(v)
		}
		rows = append(rows, row)
	}
	return rows, result.Err()
}

// ShortestPath returns the shortest path subgraph between two entities, or
// ErrNotFound when no path exists within maxDepth.
func (s *Store) ShortestPath(ctx context.Context, sourceID, targetID string, maxDepth int) (*domain.GraphData, error) {
	if maxDepth < 1 || maxDepth > 10 {
		maxDepth = 5
	}

	session := s.read(ctx)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a:Entity {id: $source_id}), (b:Entity {id: $target_id})
		MATCH p = shortestPath((a)-[*..%d]-(b))
		UNWIND nodes(p) AS node
		WITH collect(DISTINCT node) AS nodes, p
		UNWIND relationships(p) AS rel
		WITH nodes, collect(DISTINCT {id: rel.id, type: type(rel),
		     source: startNode(rel).id, target: endNode(rel).id,
		     description: rel.description, weight: rel.weight}) AS edges
		RETURN nodes, edges`, maxDepth)

	result, err := session.Run(ctx, query,
		map[string]any{"source_id": sourceID, "target_id": targetID})
	if err != nil {
		return nil, fmt.Errorf("shortest path: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: no path between %s and %s", domain.ErrNotFound, sourceID, targetID)
	}
	return graphFromRecord(record)
}

// Clusters groups a dataset's entities by type with a few sample names each.
func (s *Store) Clusters(ctx context.Context, datasetID string) ([]map[string]any, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {dataset_id: $dataset_id})
		WITH e.type AS type, count(e) AS size, collect(e.name)[..5] AS samples
		RETURN type, size, samples
		ORDER BY size DESC`,
		map[string]any{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("clusters: %w", err)
	}

	var clusters []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		t, _ := rec.Get("type")
		size, _ := rec.Get("size")
		samples, _ := rec.Get("samples")
		clusters = append(clusters, map[string]any{
			"type": t, "size": size, "samples": samples,
		})
	}
	return clusters, result.Err()
}

func hitFromRecord(rec *neo4j.Record) EntityHit {
	hit := EntityHit{
		ID:          stringField(rec, "id"),
		Name:        stringField(rec, "name"),
		Type:        stringField(rec, "type"),
		Description: stringField(rec, "description"),
		DatasetID:   stringField(rec, "dataset_id"),
	}
	if v, ok := rec.Get("source_page"); ok {
		if page, ok := v.(int64); ok {
			hit.SourcePage = int(page)
		}
	}
	if v, ok := rec.Get("confidence"); ok {
		hit.Confidence, _ = v.(float64)
	}
	return hit
}

func graphFromRecord(record *neo4j.Record) (*domain.GraphData, error) {
	graph := &domain.GraphData{}

	if v, ok := record.Get("nodes"); ok {
		if nodes, ok := v.([]any); ok {
			for _, raw := range nodes {
				node, ok := raw.(neo4j.Node)
				if !ok {
					continue
				}
				props := node.Props
				gn := domain.GraphNode{
					ID:         asString(props["id"]),
					Label:      asString(props["name"]),
					Type:       asString(props["type"]),
					Properties: map[string]any{},
				}
				if d := asString(props["description"]); d != "" {
					gn.Properties["description"] = d
				}
				if p, ok := props["source_page"].(int64); ok && p > 0 {
					gn.Properties["source_page"] = p
				}
				if d := asString(props["source_document_id"]); d != "" {
					gn.Properties["source_document_id"] = d
				}
				graph.Nodes = append(graph.Nodes, gn)
			}
		}
	}

	if v, ok := record.Get("edges"); ok {
		if edges, ok := v.([]any); ok {
			for _, raw := range edges {
				m, ok := raw.(map[string]any)
				if !ok || m["source"] == nil || m["target"] == nil {
					continue
				}
				ge := domain.GraphEdge{
					ID:     asString(m["id"]),
					Source: asString(m["source"]),
					Target: asString(m["target"]),
					Label:  asString(m["type"]),
					Type:   asString(m["type"]),
				}
				if w, ok := m["weight"].(float64); ok {
					ge.Weight = w
				} else {
					ge.Weight = 1
				}
				if d := asString(m["description"]); d != "" {
					ge.Properties = map[string]any{"description": d}
				}
				graph.Edges = append(graph.Edges, ge)
			}
		}
	}

	return graph, nil
}

func stringField(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// normalizeValue flattens driver node/relationship values into plain maps so
// the rows can be serialized and inspected by the NL-query path.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case neo4j.Node:
		props := make(map[string]any, len(val.Props))
		for k, p := range val.Props {
			props[k] = p
		}
		return props
	case neo4j.Relationship:
		props := make(map[string]any, len(val.Props)+1)
		for k, p := range val.Props {
			props[k] = p
		}
		props["type"] = val.Type
		return props
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
