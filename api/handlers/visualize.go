package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/llmflow/graphrag/pkg/domain"
)

// Node colors and sizes for the visualization frontend, keyed by entity
// type.
var (
	typeColors = map[string]string{
		"person":       "#FF6B6B",
		"organization": "#4ECDC4",
		"location":     "#45B7D1",
		"date":         "#FFA07A",
		"concept":      "#98D8C8",
		"product":      "#F7DC6F",
		"event":        "#BB8FCE",
		"technology":   "#85C1E9",
		"document":     "#F8C471",
		"topic":        "#82E0AA",
		"other":        "#BDC3C7",
	}
	typeSizes = map[string]float64{
		"organization": 30,
		"person":       30,
		"product":      25,
		"concept":      25,
	}
	defaultNodeSize = 20.0
)

// decorate applies display colors and sizes to a subgraph in place.
func decorate(graph *domain.GraphData) *domain.GraphData {
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		if color, ok := typeColors[node.Type]; ok {
			node.Color = color
		} else {
			node.Color = typeColors["other"]
		}
		if size, ok := typeSizes[node.Type]; ok {
			node.Size = size
		} else {
			node.Size = defaultNodeSize
		}
	}
	return graph
}

// VisualizeGraph returns a decorated sample of a dataset's graph.
func (h *Handlers) VisualizeGraph(c *gin.Context) {
	datasetID := c.Param("dataset_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	graph, err := h.Graph.DatasetGraph(c.Request.Context(), datasetID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decorate(graph))
}

// VisualizeEntity returns the decorated neighborhood of one entity.
func (h *Handlers) VisualizeEntity(c *gin.Context) {
	entityID := c.Param("entity_id")
	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	graph, err := h.Graph.Neighbors(c.Request.Context(), entityID, depth, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if graph.Empty() {
		c.JSON(http.StatusNotFound, gin.H{"error": "entity not found: " + entityID})
		return
	}
	c.JSON(http.StatusOK, decorate(graph))
}

// VisualizeStats reports graph and vector index statistics for a dataset.
func (h *Handlers) VisualizeStats(c *gin.Context) {
	h.statsResponse(c, c.Param("dataset_id"))
}

// VisualizeClusters groups a dataset's entities by type.
func (h *Handlers) VisualizeClusters(c *gin.Context) {
	datasetID := c.Param("dataset_id")

	clusters, err := h.Graph.Clusters(c.Request.Context(), datasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset_id": datasetID, "clusters": clusters})
}

type pathRequest struct {
	Source   string `json:"source" binding:"required"`
	Target   string `json:"target" binding:"required"`
	MaxDepth int    `json:"max_depth"`
}

// VisualizePath returns the shortest path between two entities, 404 when
// no path exists.
func (h *Handlers) VisualizePath(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxDepth <= 0 {
		req.MaxDepth = 5
	}

	graph, err := h.Graph.ShortestPath(c.Request.Context(), req.Source, req.Target, req.MaxDepth)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decorate(graph))
}
