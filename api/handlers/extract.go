package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmflow/graphrag/pkg/domain"
)

type extractRequest struct {
	Text      string `json:"text" binding:"required"`
	DatasetID string `json:"dataset_id"`
	// Persist writes the extraction into the graph and vector index
	// instead of just returning it.
	Persist bool `json:"persist"`
}

func (h *Handlers) bindExtract(c *gin.Context) (*extractRequest, domain.Chunk, bool) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, domain.Chunk{}, false
	}
	if req.DatasetID == "" {
		req.DatasetID = "adhoc"
	}
	chunk := domain.Chunk{
		ChunkID:    domain.ChunkID("adhoc", domain.ChunkSourceSegments, 0),
		DocumentID: "adhoc",
		Content:    req.Text,
	}
	return &req, chunk, true
}

// Extract runs ad-hoc entity and relationship extraction over raw text.
func (h *Handlers) Extract(c *gin.Context) {
	req, chunk, ok := h.bindExtract(c)
	if !ok {
		return
	}

	entities, err := h.Extractor.ExtractEntities(c.Request.Context(), chunk, req.DatasetID)
	if err != nil {
		respondError(c, err)
		return
	}

	rels, err := h.Extractor.ExtractRelationships(c.Request.Context(), chunk, entities, req.DatasetID)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Persist && len(entities) > 0 {
		if err := h.Graph.UpsertEntities(c.Request.Context(), entities); err != nil {
			respondError(c, err)
			return
		}
		if err := h.Vectors.IndexEntities(c.Request.Context(), entities); err != nil {
			respondError(c, err)
			return
		}
		if len(rels) > 0 {
			if _, err := h.Graph.UpsertRelationships(c.Request.Context(), rels, req.DatasetID); err != nil {
				respondError(c, err)
				return
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"entities":      entities,
		"relationships": rels,
		"persisted":     req.Persist,
	})
}

// ExtractEntities runs the entity pass only.
func (h *Handlers) ExtractEntities(c *gin.Context) {
	req, chunk, ok := h.bindExtract(c)
	if !ok {
		return
	}

	entities, err := h.Extractor.ExtractEntities(c.Request.Context(), chunk, req.DatasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

// ExtractRelationships runs both passes but returns relationships only.
// The entity pass still runs because relationship endpoints must resolve
// against extracted entities.
func (h *Handlers) ExtractRelationships(c *gin.Context) {
	req, chunk, ok := h.bindExtract(c)
	if !ok {
		return
	}

	entities, err := h.Extractor.ExtractEntities(c.Request.Context(), chunk, req.DatasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	rels, err := h.Extractor.ExtractRelationships(c.Request.Context(), chunk, entities, req.DatasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": rels})
}
