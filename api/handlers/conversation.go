package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmflow/graphrag/pkg/domain"
)

// Chat advances a guided conversation by one turn.
func (h *Handlers) Chat(c *gin.Context) {
	var msg domain.ConversationMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.Engine.Chat(c.Request.Context(), msg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession returns the stored state of a conversation session.
func (h *Handlers) GetSession(c *gin.Context) {
	state, err := h.Sessions.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ResetSession clears a session's flow progress but keeps its history.
func (h *Handlers) ResetSession(c *gin.Context) {
	state, err := h.Sessions.Reset(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// DeleteSession removes a session entirely.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.Sessions.Delete(c.Request.Context(), c.Param("session_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSessions returns the ids of all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	ids, err := h.Sessions.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids, "count": len(ids)})
}

// DebugSession returns a session together with its remaining TTL.
func (h *Handlers) DebugSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	state, err := h.Sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	ttl, err := h.Sessions.TTL(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":     state,
		"ttl_seconds": int64(ttl.Seconds()),
	})
}
