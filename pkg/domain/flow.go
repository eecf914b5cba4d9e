package domain

// Conversation flow graph schema.
//
// Node labels: Intent, Condition, Action, Response.
// Edge types: (Intent)-[:REQUIRES]->(Condition),
// (Condition)-[:NEXT]->(Condition), (Condition)-[:SATISFIED]->(Action),
// (Condition)-[:BRANCH {condition}]->(Condition),
// (Action)-[:LEADS_TO]->(Response).

// ConditionType describes how a condition collects its value.
type ConditionType string

const (
	CondSelectOne   ConditionType = "select_one"
	CondSelectMulti ConditionType = "select_multi"
	CondTextInput   ConditionType = "text_input"
	CondDateInput   ConditionType = "date_input"
	CondNumberInput ConditionType = "number_input"
	CondYesNo       ConditionType = "yes_no"
	CondAutoExtract ConditionType = "auto_extract"
)

// ActionType describes what an action node executes.
type ActionType string

const (
	ActionGraphSearch  ActionType = "graph_search"
	ActionVectorSearch ActionType = "vector_search"
	ActionHybridSearch ActionType = "hybrid_search"
	ActionLLMGenerate  ActionType = "llm_generate"
	ActionAPICall      ActionType = "api_call"
	ActionClarify      ActionType = "clarify"
)

// Flow edge types.
const (
	EdgeRequires  = "REQUIRES"
	EdgeNext      = "NEXT"
	EdgeBranch    = "BRANCH"
	EdgeSatisfied = "SATISFIED"
	EdgeLeadsTo   = "LEADS_TO"
)

// IntentNode is a recognizable user intent.
type IntentNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords"`
	Examples    []string `json:"examples"`
	Priority    int      `json:"priority"`
	IsActive    bool     `json:"is_active"`
}

// Option is one selectable value of a select-type condition.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ConditionNode is a slot the engine must fill before executing.
type ConditionNode struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	DisplayName      string        `json:"display_name"`
	ConditionType    ConditionType `json:"condition_type"`
	QuestionTemplate string        `json:"question_template"`
	Options          []Option      `json:"options,omitempty"`
	OptionsSource    string        `json:"options_source,omitempty"`
	ValidationRule   string        `json:"validation_rule,omitempty"`
	DefaultValue     string        `json:"default_value,omitempty"`
	IsRequired       bool          `json:"is_required"`
	Order            int           `json:"order"`
}

// ActionNode is an executable step reached when conditions are satisfied.
type ActionNode struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	ActionType ActionType     `json:"action_type"`
	Config     map[string]any `json:"config"`
}

// ResponseNode is a response template node.
type ResponseNode struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Template       string `json:"template"`
	IncludeGraph   bool   `json:"include_graph"`
	IncludeSources bool   `json:"include_sources"`
}

// FlowEdge connects two flow nodes. ConditionExpr is only meaningful for
// BRANCH edges and must be a pure boolean expression over collected values.
type FlowEdge struct {
	ID            string `json:"id"`
	SourceID      string `json:"source_id"`
	TargetID      string `json:"target_id"`
	EdgeType      string `json:"edge_type"`
	ConditionExpr string `json:"condition,omitempty"`
	Order         int    `json:"order"`
}

// FlowGraph is the full authored conversation flow.
type FlowGraph struct {
	Intents    []IntentNode    `json:"intents"`
	Conditions []ConditionNode `json:"conditions"`
	Actions    []ActionNode    `json:"actions"`
	Responses  []ResponseNode  `json:"responses"`
	Edges      []FlowEdge      `json:"edges"`
}
