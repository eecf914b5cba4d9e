package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/llmflow/graphrag/pkg/domain"
)

func errStatus(t *testing.T, err error) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	respondError(c, err)
	return rec.Code
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrUnsafeQuery, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrAlreadyRunning, http.StatusConflict},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", domain.ErrNotFound), http.StatusNotFound},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, errStatus(t, tc.err), "error %v", tc.err)
	}
}

func TestDecorateAppliesTypeStyling(t *testing.T) {
	graph := &domain.GraphData{Nodes: []domain.GraphNode{
		{ID: "a", Type: "person"},
		{ID: "b", Type: "product"},
		{ID: "c", Type: "date"},
		{ID: "d", Type: "something_weird"},
	}}

	decorate(graph)

	assert.Equal(t, "#FF6B6B", graph.Nodes[0].Color)
	assert.Equal(t, 30.0, graph.Nodes[0].Size)

	assert.Equal(t, "#F7DC6F", graph.Nodes[1].Color)
	assert.Equal(t, 25.0, graph.Nodes[1].Size)

	assert.Equal(t, "#FFA07A", graph.Nodes[2].Color)
	assert.Equal(t, 20.0, graph.Nodes[2].Size)

	// Unknown types fall back to the "other" styling.
	assert.Equal(t, "#BDC3C7", graph.Nodes[3].Color)
	assert.Equal(t, 20.0, graph.Nodes[3].Size)
}
