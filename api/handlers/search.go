package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/llmflow/graphrag/pkg/domain"
)

// Search runs vector, graph, or hybrid retrieval.
func (h *Handlers) SearchEntities(c *gin.Context) {
	var q domain.SearchQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Search.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// NLQueryAnswer answers a free-form question over the graph.
func (h *Handlers) NLQueryAnswer(c *gin.Context) {
	var req domain.NaturalLanguageQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.NLQuery.Answer(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Suggestions proposes example questions for a dataset.
func (h *Handlers) Suggestions(c *gin.Context) {
	datasetID := c.Query("dataset_id")
	if datasetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dataset_id is required"})
		return
	}

	suggestions, err := h.NLQuery.Suggestions(c.Request.Context(), datasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset_id": datasetID, "suggestions": suggestions})
}

// EntityStory narrates one entity's neighborhood.
func (h *Handlers) EntityStory(c *gin.Context) {
	entityID := c.Param("entity_id")
	depth, _ := strconv.Atoi(c.DefaultQuery("max_depth", "2"))

	story, err := h.Narrator.EntityStory(c.Request.Context(), entityID, depth)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

// DatasetSummary narrates what a dataset's graph contains.
func (h *Handlers) DatasetSummary(c *gin.Context) {
	datasetID := c.Param("dataset_id")

	summary, err := h.Narrator.DatasetSummary(c.Request.Context(), datasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
