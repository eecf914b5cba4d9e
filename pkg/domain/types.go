package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// EntityType classifies extracted entities. Unknown values coerce to
// EntityOther rather than failing a chunk.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityDate         EntityType = "date"
	EntityConcept      EntityType = "concept"
	EntityProduct      EntityType = "product"
	EntityEvent        EntityType = "event"
	EntityTechnology   EntityType = "technology"
	EntityDocument     EntityType = "document"
	EntityTopic        EntityType = "topic"
	EntityOther        EntityType = "other"
)

var validEntityTypes = map[EntityType]bool{
	EntityPerson: true, EntityOrganization: true, EntityLocation: true,
	EntityDate: true, EntityConcept: true, EntityProduct: true,
	EntityEvent: true, EntityTechnology: true, EntityDocument: true,
	EntityTopic: true, EntityOther: true,
}

// AllEntityTypes lists the closed entity type set in display order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityPerson, EntityOrganization, EntityLocation, EntityDate,
		EntityConcept, EntityProduct, EntityEvent, EntityTechnology,
		EntityDocument, EntityTopic, EntityOther,
	}
}

// NormalizeEntityType maps an arbitrary LLM-emitted type string onto the
// closed EntityType set.
func NormalizeEntityType(s string) EntityType {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if validEntityTypes[t] {
		return t
	}
	return EntityOther
}

// RelationshipType classifies directed edges between entities.
type RelationshipType string

const (
	RelRelatedTo RelationshipType = "RELATED_TO"
	RelMentions  RelationshipType = "MENTIONS"
	RelWorksFor  RelationshipType = "WORKS_FOR"
	RelLocatedIn RelationshipType = "LOCATED_IN"
	RelPartOf    RelationshipType = "PART_OF"
	RelCreatedBy RelationshipType = "CREATED_BY"
	RelBelongsTo RelationshipType = "BELONGS_TO"
	RelDependsOn RelationshipType = "DEPENDS_ON"
	RelSimilarTo RelationshipType = "SIMILAR_TO"
	RelCausedBy  RelationshipType = "CAUSED_BY"
	RelLeadsTo   RelationshipType = "LEADS_TO"
	RelContains  RelationshipType = "CONTAINS"
	RelUses      RelationshipType = "USES"
	RelIsA       RelationshipType = "IS_A"
	RelHas       RelationshipType = "HAS"
	RelAbout     RelationshipType = "ABOUT"
	RelOther     RelationshipType = "OTHER"
)

var validRelationshipTypes = map[RelationshipType]bool{
	RelRelatedTo: true, RelMentions: true, RelWorksFor: true,
	RelLocatedIn: true, RelPartOf: true, RelCreatedBy: true,
	RelBelongsTo: true, RelDependsOn: true, RelSimilarTo: true,
	RelCausedBy: true, RelLeadsTo: true, RelContains: true,
	RelUses: true, RelIsA: true, RelHas: true, RelAbout: true,
	RelOther: true,
}

// NormalizeRelationshipType maps an arbitrary LLM-emitted relation string
// onto the closed RelationshipType set, defaulting to RELATED_TO.
func NormalizeRelationshipType(s string) RelationshipType {
	t := RelationshipType(strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, " ", "_"))))
	if validRelationshipTypes[t] {
		return t
	}
	return RelRelatedTo
}

// Entity is the primary unit of extracted knowledge.
type Entity struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             EntityType     `json:"type"`
	Description      string         `json:"description,omitempty"`
	Aliases          []string       `json:"aliases,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
	DatasetID        string         `json:"dataset_id,omitempty"`
	SourceDocumentID string         `json:"source_document_id,omitempty"`
	SourceChunkID    string         `json:"source_chunk_id,omitempty"`
	SourcePage       int            `json:"source_page,omitempty"`
	Confidence       float64        `json:"confidence"`
}

// Relationship is a typed directed edge between two entities of one dataset.
type Relationship struct {
	ID               string           `json:"id"`
	SourceEntityID   string           `json:"source_entity_id"`
	TargetEntityID   string           `json:"target_entity_id"`
	SourceEntityName string           `json:"source_entity_name,omitempty"`
	TargetEntityName string           `json:"target_entity_name,omitempty"`
	Type             RelationshipType `json:"type"`
	Description      string           `json:"description,omitempty"`
	Weight           float64          `json:"weight"`
	Confidence       float64          `json:"confidence"`
	SourceDocumentID string           `json:"source_document_id,omitempty"`
}

// EntityID derives the stable entity id for a dataset-scoped normalized name.
// Stability across re-extraction is what makes builds idempotent.
func EntityID(datasetID, name string) string {
	h := sha1.Sum([]byte(datasetID + "\x00" + strings.ToLower(strings.TrimSpace(name))))
	return "ent_" + hex.EncodeToString(h[:])[:16]
}

// RelationshipID derives the stable relationship id for an edge.
func RelationshipID(sourceID, targetID string, typ RelationshipType) string {
	h := sha1.Sum([]byte(sourceID + "\x00" + targetID + "\x00" + string(typ)))
	return "rel_" + hex.EncodeToString(h[:])[:16]
}

// Chunk is one ordered unit of document text fed to the extractor.
type Chunk struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Content    string `json:"content"`
	Page       int    `json:"page,omitempty"`
}

// Chunk id sources: "seg" for the upstream segment table, "docling" for the
// in-process high-fidelity PDF parser. The id format is stable across runs
// and is the basis for resume.
const (
	ChunkSourceSegments = "seg"
	ChunkSourceDocling  = "docling"
)

// ChunkID builds the stable chunk identifier "<doc_id>_<source>_<index>".
func ChunkID(documentID, source string, index int) string {
	return documentID + "_" + source + "_" + strconv.Itoa(index)
}

// GraphStats summarizes a dataset's (or the whole store's) graph contents.
type GraphStats struct {
	EntityCount       int64            `json:"entity_count"`
	RelationshipCount int64            `json:"relationship_count"`
	EntityTypes       map[string]int64 `json:"entity_types"`
}
