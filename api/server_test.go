package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/api/handlers"
	"github.com/llmflow/graphrag/pkg/config"
)

func testServer() *Server {
	return NewServer(config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        0,
		CORSOrigins: []string{"*"},
	}, &handlers.Handlers{Logger: zerolog.Nop()}, zerolog.Nop())
}

func TestRoutesRegistered(t *testing.T) {
	s := testServer()

	want := []string{
		"GET /health",
		"GET /api/graphrag/stats",
		"POST /api/graphrag/extract/all",
		"POST /api/graphrag/extract/entities",
		"POST /api/graphrag/extract/relationships",
		"POST /api/graphrag/ingest/entities",
		"POST /api/graphrag/ingest/relationships",
		"POST /api/graphrag/ingest/document",
		"GET /api/graphrag/ingest/stats/:dataset_id",
		"DELETE /api/graphrag/ingest/dataset",
		"POST /api/graphrag/build/start",
		"GET /api/graphrag/build/progress/:dataset_id",
		"DELETE /api/graphrag/build/progress/:dataset_id",
		"POST /api/graphrag/build/update-pages",
		"POST /api/graphrag/search/",
		"POST /api/graphrag/search/nl-query",
		"GET /api/graphrag/search/suggestions",
		"GET /api/graphrag/search/entity/:entity_id/story",
		"GET /api/graphrag/search/dataset/:dataset_id/summary",
		"GET /api/graphrag/visualize/graph/:dataset_id",
		"POST /api/graphrag/visualize/path",
		"GET /api/graphrag/backup/export/:dataset_id",
		"POST /api/graphrag/backup/import",
		"POST /conversation/chat",
		"GET /conversation/sessions",
		"GET /conversation/flow",
		"POST /conversation/flow/intent",
		"POST /conversation/flow/edge",
		"POST /conversation/flow/seed",
	}

	got := map[string]bool{}
	for _, r := range s.Router().Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, route := range want {
		assert.True(t, got[route], "missing route %s", route)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagated(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
