package domain

// SearchMode selects which retrieval legs run.
type SearchMode string

const (
	ModeVector SearchMode = "vector"
	ModeGraph  SearchMode = "graph"
	ModeHybrid SearchMode = "hybrid"
)

// GraphNode is a node shaped for visualization payloads.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Size       float64        `json:"size,omitempty"`
	Color      string         `json:"color,omitempty"`
}

// GraphEdge is an edge shaped for visualization payloads.
type GraphEdge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	Weight     float64        `json:"weight"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphData is a subgraph returned alongside search and narrative results.
type GraphData struct {
	Nodes    []GraphNode    `json:"nodes"`
	Edges    []GraphEdge    `json:"edges"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Empty reports whether the subgraph has no nodes.
func (g *GraphData) Empty() bool { return g == nil || len(g.Nodes) == 0 }

// SearchQuery is a hybrid search request.
type SearchQuery struct {
	Query         string     `json:"query" binding:"required"`
	Mode          SearchMode `json:"mode"`
	DatasetID     string     `json:"dataset_id,omitempty"`
	EntityTypes   []string   `json:"entity_types,omitempty"`
	TopK          int        `json:"top_k"`
	IncludeGraph  bool       `json:"include_graph"`
	MaxGraphDepth int        `json:"max_graph_depth"`
}

// Result provenance values. Hybrid marks items found by both legs.
const (
	SourceVector = "vector"
	SourceGraph  = "graph"
	SourceHybrid = "hybrid"
)

// SearchResultItem is one ranked entity with provenance.
type SearchResultItem struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Score       float64        `json:"score"`
	Source      string         `json:"source"`
	Properties  map[string]any `json:"properties,omitempty"`
	Connections []map[string]any `json:"connections,omitempty"`
}

// SearchResult is the complete response of a search call.
type SearchResult struct {
	Query            string             `json:"query"`
	Mode             SearchMode         `json:"mode"`
	Results          []SearchResultItem `json:"results"`
	Graph            *GraphData         `json:"graph,omitempty"`
	TotalCount       int                `json:"total_count"`
	ProcessingTimeMS float64            `json:"processing_time_ms"`
}

// NaturalLanguageQuery is a question for the NL→graph-query path.
type NaturalLanguageQuery struct {
	Question         string `json:"question" binding:"required"`
	DatasetID        string `json:"dataset_id,omitempty"`
	DocumentID       string `json:"document_id,omitempty"`
	IncludeNarrative bool   `json:"include_narrative"`
}

// ClarificationOption is one selectable document in a clarification prompt.
type ClarificationOption struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Description  string `json:"description,omitempty"`
}

// ClarificationRequest asks the caller to narrow the question to a document.
type ClarificationRequest struct {
	Message string                `json:"message"`
	Options []ClarificationOption `json:"options"`
}

// NarrativeResponse is the answer shape of the nl-query and story endpoints.
type NarrativeResponse struct {
	Question           string                `json:"question"`
	Answer             string                `json:"answer"`
	Narrative          string                `json:"narrative"`
	Graph              *GraphData            `json:"graph,omitempty"`
	Sources            []map[string]any      `json:"sources"`
	CypherQuery        string                `json:"cypher_query,omitempty"`
	ProcessingTimeMS   float64               `json:"processing_time_ms"`
	NeedsClarification bool                  `json:"needs_clarification,omitempty"`
	Clarification      *ClarificationRequest `json:"clarification,omitempty"`
}
