package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/upstream"
)

const directIngestChunkSize = 1000

type ingestEntitiesRequest struct {
	DatasetID string          `json:"dataset_id" binding:"required"`
	Entities  []domain.Entity `json:"entities" binding:"required"`
}

// IngestEntities upserts caller-provided entities into the graph and the
// vector index, bypassing extraction.
func (h *Handlers) IngestEntities(c *gin.Context) {
	var req ingestEntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for i := range req.Entities {
		req.Entities[i].DatasetID = req.DatasetID
		req.Entities[i].Type = domain.NormalizeEntityType(string(req.Entities[i].Type))
	}

	ctx := c.Request.Context()
	if err := h.Graph.UpsertEntities(ctx, req.Entities); err != nil {
		respondError(c, err)
		return
	}
	if err := h.Vectors.IndexEntities(ctx, req.Entities); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dataset_id": req.DatasetID,
		"ingested":   len(req.Entities),
	})
}

type ingestRelationshipsRequest struct {
	DatasetID     string                `json:"dataset_id" binding:"required"`
	Relationships []domain.Relationship `json:"relationships" binding:"required"`
}

// IngestRelationships upserts caller-provided relationships. Relationships
// whose endpoints are missing from the dataset are dropped, not errors.
func (h *Handlers) IngestRelationships(c *gin.Context) {
	var req ingestRelationshipsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dropped, err := h.Graph.UpsertRelationships(c.Request.Context(), req.Relationships, req.DatasetID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dataset_id": req.DatasetID,
		"ingested":   len(req.Relationships) - dropped,
		"dropped":    dropped,
	})
}

type ingestDocumentRequest struct {
	DatasetID  string `json:"dataset_id" binding:"required"`
	DocumentID string `json:"document_id" binding:"required"`
	Text       string `json:"text" binding:"required"`
}

// IngestDocument chunks raw text, extracts entities and relationships from
// each chunk, and persists everything. This is the synchronous path for
// documents that do not live in the upstream store.
func (h *Handlers) IngestDocument(c *gin.Context) {
	var req ingestDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	entityTotal := 0
	relTotal := 0

	chunks := upstream.ChunkText(req.Text, directIngestChunkSize)
	for i, content := range chunks {
		chunk := domain.Chunk{
			ChunkID:    domain.ChunkID(req.DocumentID, domain.ChunkSourceSegments, i),
			DocumentID: req.DocumentID,
			Index:      i,
			Content:    content,
		}

		entities, err := h.Extractor.ExtractEntities(ctx, chunk, req.DatasetID)
		if err != nil {
			respondError(c, err)
			return
		}
		if len(entities) == 0 {
			continue
		}

		if err := h.Graph.UpsertEntities(ctx, entities); err != nil {
			respondError(c, err)
			return
		}
		if err := h.Vectors.IndexEntities(ctx, entities); err != nil {
			respondError(c, err)
			return
		}
		entityTotal += len(entities)

		rels, err := h.Extractor.ExtractRelationships(ctx, chunk, entities, req.DatasetID)
		if err != nil {
			respondError(c, err)
			return
		}
		if len(rels) > 0 {
			dropped, err := h.Graph.UpsertRelationships(ctx, rels, req.DatasetID)
			if err != nil {
				respondError(c, err)
				return
			}
			relTotal += len(rels) - dropped
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"dataset_id":    req.DatasetID,
		"document_id":   req.DocumentID,
		"chunks":        len(chunks),
		"entities":      entityTotal,
		"relationships": relTotal,
	})
}

// ListDocuments returns the dataset's buildable documents from the
// upstream store.
func (h *Handlers) ListDocuments(c *gin.Context) {
	datasetID := c.Param("dataset_id")

	docs, err := h.Upstream.Documents(c.Request.Context(), datasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dataset_id": datasetID,
		"documents":  docs,
		"count":      len(docs),
	})
}

// IngestStats reports graph and vector counts for a dataset.
func (h *Handlers) IngestStats(c *gin.Context) {
	h.statsResponse(c, c.Param("dataset_id"))
}

// GlobalStats reports counts across all datasets.
func (h *Handlers) GlobalStats(c *gin.Context) {
	h.statsResponse(c, "")
}

func (h *Handlers) statsResponse(c *gin.Context, datasetID string) {
	stats, err := h.Graph.Stats(c.Request.Context(), datasetID)
	if err != nil {
		respondError(c, err)
		return
	}

	vectorCount, err := h.Vectors.Count(c.Request.Context(), datasetID)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("vector count failed")
		vectorCount = -1
	}

	resp := gin.H{
		"entity_count":       stats.EntityCount,
		"relationship_count": stats.RelationshipCount,
		"entity_types":       stats.EntityTypes,
		"vector_count":       vectorCount,
	}
	if datasetID != "" {
		resp["dataset_id"] = datasetID
	}
	c.JSON(http.StatusOK, resp)
}
