package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmflow/graphrag/pkg/ingest"
	"github.com/llmflow/graphrag/pkg/upstream"
)

type buildRequest struct {
	DatasetID             string   `json:"dataset_id" binding:"required"`
	ChunkSize             int      `json:"chunk_size"`
	Resume                *bool    `json:"resume"`
	UseHighFidelityParser bool     `json:"use_high_fidelity_parser"`
	OCRLanguages          []string `json:"ocr_languages"`
	DocumentIDs           []string `json:"document_ids"`
}

// StartBuild launches a dataset build in the background. Resume defaults to
// true; pass resume=false to re-extract chunks already marked done. A build
// already running for the dataset yields 409.
func (h *Handlers) StartBuild(c *gin.Context) {
	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resume := true
	if req.Resume != nil {
		resume = *req.Resume
	}
	opts := ingest.Options{
		DocumentIDs:  req.DocumentIDs,
		Resume:       resume,
		ChunkSize:    req.ChunkSize,
		UseDocling:   req.UseHighFidelityParser,
		OCRLanguages: req.OCRLanguages,
	}

	if err := h.Builder.Start(req.DatasetID, opts); err != nil {
		respondError(c, err)
		return
	}

	// The build outlives the request; it carries its own context.
	go h.Builder.Run(context.Background(), req.DatasetID, opts)

	c.JSON(http.StatusAccepted, gin.H{
		"dataset_id": req.DatasetID,
		"status":     ingest.StatusBuilding,
	})
}

// BuildProgress reports the state of a dataset build. A dataset that was
// never built reports an idle record.
func (h *Handlers) BuildProgress(c *gin.Context) {
	progress, _ := h.Builder.Registry().Get(c.Param("dataset_id"))
	c.JSON(http.StatusOK, progress)
}

// ClearBuildProgress drops a finished build record.
func (h *Handlers) ClearBuildProgress(c *gin.Context) {
	if err := h.Builder.Registry().Clear(c.Param("dataset_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBuilds reports every tracked build.
func (h *Handlers) ListBuilds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"builds": h.Builder.Registry().All()})
}

type updatePagesRequest struct {
	DatasetID  string `json:"dataset_id" binding:"required"`
	DocumentID string `json:"document_id" binding:"required"`
	FileID     string `json:"file_id"`
}

// UpdatePages re-derives page numbers for a document's entities from the
// source PDF without re-extracting.
func (h *Handlers) UpdatePages(c *gin.Context) {
	var req updatePagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.Builder.UpdatePageMapping(c.Request.Context(), req.DatasetID, upstream.Document{
		ID:     req.DocumentID,
		FileID: req.FileID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dataset_id":       req.DatasetID,
		"document_id":      req.DocumentID,
		"updated_entities": updated,
	})
}

type deleteDatasetRequest struct {
	DatasetID string `json:"dataset_id" binding:"required"`
}

// DeleteDataset removes a dataset's graph, vectors, and markers.
func (h *Handlers) DeleteDataset(c *gin.Context) {
	var req deleteDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	datasetID := req.DatasetID

	deleted, err := h.Graph.DeleteDataset(c.Request.Context(), datasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Vectors.DeleteByDataset(c.Request.Context(), datasetID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dataset_id":       datasetID,
		"deleted_entities": deleted,
	})
}
