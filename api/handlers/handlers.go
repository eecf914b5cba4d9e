package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/conversation"
	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/extractor"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/ingest"
	"github.com/llmflow/graphrag/pkg/search"
	"github.com/llmflow/graphrag/pkg/upstream"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

// Handlers bundles every HTTP handler group with its dependencies.
type Handlers struct {
	Graph     *graphstore.Store
	Vectors   *vectorstore.Store
	Extractor *extractor.Extractor
	Search    *search.Service
	NLQuery   *search.NLQuery
	Narrator  *search.Narrator
	Builder   *ingest.Builder
	Upstream  *upstream.Client
	Engine    *conversation.Engine
	Sessions  *conversation.Sessions
	Logger    zerolog.Logger
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsafeQuery):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
