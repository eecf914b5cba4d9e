package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmflow/graphrag/pkg/domain"
)

// GetFlow exports the whole conversation flow graph.
func (h *Handlers) GetFlow(c *gin.Context) {
	flow, err := h.Graph.FlowGraph(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

// UpsertIntent creates or updates an intent node.
func (h *Handlers) UpsertIntent(c *gin.Context) {
	var intent domain.IntentNode
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if intent.ID == "" || intent.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and name are required"})
		return
	}

	if err := h.Graph.UpsertIntent(c.Request.Context(), intent); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// UpsertCondition creates or updates a condition node.
func (h *Handlers) UpsertCondition(c *gin.Context) {
	var cond domain.ConditionNode
	if err := c.ShouldBindJSON(&cond); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cond.ID == "" || cond.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and name are required"})
		return
	}

	if err := h.Graph.UpsertCondition(c.Request.Context(), cond); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cond)
}

// UpsertAction creates or updates an action node.
func (h *Handlers) UpsertAction(c *gin.Context) {
	var action domain.ActionNode
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if action.ID == "" || action.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and name are required"})
		return
	}

	if err := h.Graph.UpsertAction(c.Request.Context(), action); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// UpsertResponse creates or updates a response node.
func (h *Handlers) UpsertResponse(c *gin.Context) {
	var resp domain.ResponseNode
	if err := c.ShouldBindJSON(&resp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if resp.ID == "" || resp.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and name are required"})
		return
	}

	if err := h.Graph.UpsertResponse(c.Request.Context(), resp); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpsertFlowEdge links two flow nodes. Both endpoints must already exist.
func (h *Handlers) UpsertFlowEdge(c *gin.Context) {
	var edge domain.FlowEdge
	if err := c.ShouldBindJSON(&edge); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if edge.ID == "" || edge.SourceID == "" || edge.TargetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id, source_id, and target_id are required"})
		return
	}

	if err := h.Graph.UpsertFlowEdge(c.Request.Context(), edge); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

// DeleteFlowNode removes a flow node and its edges.
func (h *Handlers) DeleteFlowNode(c *gin.Context) {
	if err := h.Graph.DeleteFlowNode(c.Request.Context(), c.Param("node_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SeedFlow installs the built-in insurance consultation flow.
func (h *Handlers) SeedFlow(c *gin.Context) {
	if err := h.Graph.SeedInsuranceFlow(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	flow, err := h.Graph.FlowGraph(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seeded":     true,
		"intents":    len(flow.Intents),
		"conditions": len(flow.Conditions),
		"actions":    len(flow.Actions),
		"responses":  len(flow.Responses),
		"edges":      len(flow.Edges),
	})
}

// ClearFlow removes every flow node and edge.
func (h *Handlers) ClearFlow(c *gin.Context) {
	if err := h.Graph.ClearFlow(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
