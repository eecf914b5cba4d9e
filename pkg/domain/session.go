package domain

import "time"

// HistoryMessage is one turn of recorded conversation history.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionState is the ephemeral per-user conversation state kept in Redis.
type SessionState struct {
	SessionID           string           `json:"session_id"`
	CurrentIntent       string           `json:"current_intent,omitempty"`
	CurrentNodeID       string           `json:"current_node_id,omitempty"`
	CollectedValues     map[string]any   `json:"collected_values"`
	ConversationHistory []HistoryMessage `json:"conversation_history"`
	DocumentContext     string           `json:"document_context,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	ExpiresAt           time.Time        `json:"expires_at"`
}

// OriginalQueryKey stashes the first user query inside collected values so
// it survives multi-turn slot collection.
const OriginalQueryKey = "__original_query__"

// ConversationMessage is an incoming chat turn.
type ConversationMessage struct {
	SessionID      string `json:"session_id,omitempty"`
	Message        string `json:"message"`
	SelectedOption string `json:"selected_option,omitempty"`
	DatasetID      string `json:"dataset_id,omitempty"`
}

// ConversationResponse is the result of one conversational turn.
type ConversationResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`

	NeedsInput bool          `json:"needs_input"`
	InputType  ConditionType `json:"input_type,omitempty"`
	Options    []Option      `json:"options,omitempty"`

	IsComplete bool             `json:"is_complete"`
	Answer     string           `json:"answer,omitempty"`
	Graph      *GraphData       `json:"graph,omitempty"`
	Sources    []map[string]any `json:"sources"`

	CurrentIntent   string         `json:"current_intent,omitempty"`
	CollectedValues map[string]any `json:"collected_values"`
}
