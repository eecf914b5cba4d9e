package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/llmflow/graphrag/pkg/domain"
)

// Flow node and edge persistence. Options and action configs are stored as
// JSON strings because Neo4j properties cannot hold nested maps.

// UpsertIntent writes an intent node keyed by id.
func (s *Store) UpsertIntent(ctx context.Context, intent domain.IntentNode) error {
	if intent.ID == "" || intent.Name == "" {
		return fmt.Errorf("%w: intent requires id and name", domain.ErrInvalidInput)
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (i:Intent {id: $id})
		SET i.name = $name,
		    i.display_name = $display_name,
		    i.description = $description,
		    i.keywords = $keywords,
		    i.examples = $examples,
		    i.priority = $priority,
		    i.is_active = $is_active`,
		map[string]any{
			"id":           intent.ID,
			"name":         intent.Name,
			"display_name": intent.DisplayName,
			"description":  intent.Description,
			"keywords":     orEmpty(intent.Keywords),
			"examples":     orEmpty(intent.Examples),
			"priority":     intent.Priority,
			"is_active":    intent.IsActive,
		})
	if err != nil {
		return fmt.Errorf("upsert intent: %w", err)
	}
	return nil
}

// UpsertCondition writes a condition node keyed by id.
func (s *Store) UpsertCondition(ctx context.Context, cond domain.ConditionNode) error {
	if cond.ID == "" || cond.Name == "" {
		return fmt.Errorf("%w: condition requires id and name", domain.ErrInvalidInput)
	}

	optionsJSON, err := json.Marshal(cond.Options)
	if err != nil {
		return fmt.Errorf("marshal condition options: %w", err)
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	_, err = session.Run(ctx, `
		MERGE (c:Condition {id: $id})
		SET c.name = $name,
		    c.display_name = $display_name,
		    c.condition_type = $condition_type,
		    c.question_template = $question_template,
		    c.options = $options,
		    c.options_source = $options_source,
		    c.validation_rule = $validation_rule,
		    c.default_value = $default_value,
		    c.is_required = $is_required,
		    c.order = $order`,
		map[string]any{
			"id":                cond.ID,
			"name":              cond.Name,
			"display_name":      cond.DisplayName,
			"condition_type":    string(cond.ConditionType),
			"question_template": cond.QuestionTemplate,
			"options":           string(optionsJSON),
			"options_source":    cond.OptionsSource,
			"validation_rule":   cond.ValidationRule,
			"default_value":     cond.DefaultValue,
			"is_required":       cond.IsRequired,
			"order":             cond.Order,
		})
	if err != nil {
		return fmt.Errorf("upsert condition: %w", err)
	}
	return nil
}

// UpsertAction writes an action node keyed by id.
func (s *Store) UpsertAction(ctx context.Context, action domain.ActionNode) error {
	if action.ID == "" || action.Name == "" {
		return fmt.Errorf("%w: action requires id and name", domain.ErrInvalidInput)
	}

	configJSON, err := json.Marshal(action.Config)
	if err != nil {
		return fmt.Errorf("marshal action config: %w", err)
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	_, err = session.Run(ctx, `
		MERGE (a:Action {id: $id})
		SET a.name = $name,
		    a.action_type = $action_type,
		    a.config = $config`,
		map[string]any{
			"id":          action.ID,
			"name":        action.Name,
			"action_type": string(action.ActionType),
			"config":      string(configJSON),
		})
	if err != nil {
		return fmt.Errorf("upsert action: %w", err)
	}
	return nil
}

// UpsertResponse writes a response template node keyed by id.
func (s *Store) UpsertResponse(ctx context.Context, resp domain.ResponseNode) error {
	if resp.ID == "" || resp.Name == "" {
		return fmt.Errorf("%w: response requires id and name", domain.ErrInvalidInput)
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (r:Response {id: $id})
		SET r.name = $name,
		    r.template = $template,
		    r.include_graph = $include_graph,
		    r.include_sources = $include_sources`,
		map[string]any{
			"id":              resp.ID,
			"name":            resp.Name,
			"template":        resp.Template,
			"include_graph":   resp.IncludeGraph,
			"include_sources": resp.IncludeSources,
		})
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}

var flowEdgeTypes = map[string]bool{
	domain.EdgeRequires:  true,
	domain.EdgeNext:      true,
	domain.EdgeBranch:    true,
	domain.EdgeSatisfied: true,
	domain.EdgeLeadsTo:   true,
}

// UpsertFlowEdge connects two existing flow nodes. The edge type must be one
// of the closed flow edge vocabulary; both endpoints must already exist.
func (s *Store) UpsertFlowEdge(ctx context.Context, edge domain.FlowEdge) error {
	if !flowEdgeTypes[edge.EdgeType] {
		return fmt.Errorf("%w: unknown flow edge type %q", domain.ErrInvalidInput, edge.EdgeType)
	}

	session := s.write(ctx)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (src) WHERE src.id = $source_id AND (src:Intent OR src:Condition OR src:Action)
		MATCH (dst) WHERE dst.id = $target_id AND (dst:Condition OR dst:Action OR dst:Response)
		MERGE (src)-[e:%s {id: $id}]->(dst)
		SET e.condition = $condition, e.order = $order
		RETURN count(e) AS merged`, edge.EdgeType)

	result, err := session.Run(ctx, query, map[string]any{
		"id":        edge.ID,
		"source_id": edge.SourceID,
		"target_id": edge.TargetID,
		"condition": edge.ConditionExpr,
		"order":     edge.Order,
	})
	if err != nil {
		return fmt.Errorf("upsert flow edge: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("%w: flow edge endpoints %s -> %s", domain.ErrNotFound, edge.SourceID, edge.TargetID)
	}
	merged, _ := record.Get("merged")
	if count, ok := merged.(int64); !ok || count == 0 {
		return fmt.Errorf("%w: flow edge endpoints %s -> %s", domain.ErrNotFound, edge.SourceID, edge.TargetID)
	}
	return nil
}

// DeleteFlowNode removes any flow node by id together with its edges.
func (s *Store) DeleteFlowNode(ctx context.Context, id string) error {
	session := s.write(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n) WHERE n.id = $id AND (n:Intent OR n:Condition OR n:Action OR n:Response)
		DETACH DELETE n
		RETURN count(n) AS deleted`,
		map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete flow node: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("delete flow node: %w", err)
	}
	deleted, _ := record.Get("deleted")
	if count, ok := deleted.(int64); !ok || count == 0 {
		return fmt.Errorf("%w: flow node %s", domain.ErrNotFound, id)
	}
	return nil
}

// ClearFlow removes the whole authored flow graph.
func (s *Store) ClearFlow(ctx context.Context) error {
	session := s.write(ctx)
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MATCH (n) WHERE n:Intent OR n:Condition OR n:Action OR n:Response
		DETACH DELETE n`, nil)
	if err != nil {
		return fmt.Errorf("clear flow: %w", err)
	}
	return nil
}

// ActiveIntents returns active intents ordered by descending priority.
func (s *Store) ActiveIntents(ctx context.Context) ([]domain.IntentNode, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (i:Intent)
		WHERE i.is_active
		RETURN i
		ORDER BY i.priority DESC`, nil)
	if err != nil {
		return nil, fmt.Errorf("active intents: %w", err)
	}

	var intents []domain.IntentNode
	for result.Next(ctx) {
		if v, ok := result.Record().Get("i"); ok {
			if node, ok := v.(neo4j.Node); ok {
				intents = append(intents, intentFromNode(node))
			}
		}
	}
	return intents, result.Err()
}

// MatchIntent finds the highest-priority active intent whose name or any
// keyword appears in the message (case-insensitive containment). Returns
// nil when nothing matches; the caller falls back to the LLM classifier.
func (s *Store) MatchIntent(ctx context.Context, message string) (*domain.IntentNode, error) {
	intents, err := s.ActiveIntents(ctx)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(message)
	for _, intent := range intents {
		if intent.Name != "" && strings.Contains(lower, strings.ToLower(intent.Name)) {
			matched := intent
			return &matched, nil
		}
		for _, kw := range intent.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				matched := intent
				return &matched, nil
			}
		}
	}
	return nil, nil
}

// IntentByName returns the active intent with the given name.
func (s *Store) IntentByName(ctx context.Context, name string) (*domain.IntentNode, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (i:Intent {name: $name})
		RETURN i LIMIT 1`,
		map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("intent by name: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: intent %s", domain.ErrNotFound, name)
	}
	if v, ok := record.Get("i"); ok {
		if node, ok := v.(neo4j.Node); ok {
			intent := intentFromNode(node)
			return &intent, nil
		}
	}
	return nil, fmt.Errorf("%w: intent %s", domain.ErrNotFound, name)
}

// RequiredConditions returns the conditions an intent REQUIRES, in order.
func (s *Store) RequiredConditions(ctx context.Context, intentID string) ([]domain.ConditionNode, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (:Intent {id: $id})-[e:REQUIRES]->(c:Condition)
		RETURN c, e.order AS edge_order
		ORDER BY edge_order, c.order`,
		map[string]any{"id": intentID})
	if err != nil {
		return nil, fmt.Errorf("required conditions: %w", err)
	}

	var conds []domain.ConditionNode
	for result.Next(ctx) {
		if v, ok := result.Record().Get("c"); ok {
			if node, ok := v.(neo4j.Node); ok {
				conds = append(conds, conditionFromNode(node))
			}
		}
	}
	return conds, result.Err()
}

// branchCandidate pairs a BRANCH target with its guard expression.
type branchCandidate struct {
	cond  domain.ConditionNode
	expr  string
	order int
}

// NextConditions resolves where to go after a condition is filled. BRANCH
// edges are evaluated against the collected values in order; the first edge
// whose guard holds wins. Edges with unparseable guards are pruned with a
// warning. When no BRANCH matches, plain NEXT edges apply.
func (s *Store) NextConditions(ctx context.Context, conditionID string, values map[string]any) ([]domain.ConditionNode, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (:Condition {id: $id})-[e:BRANCH|NEXT]->(c:Condition)
		RETURN c, type(e) AS edge_type, e.condition AS condition, coalesce(e.order, 0) AS edge_order
		ORDER BY edge_order`,
		map[string]any{"id": conditionID})
	if err != nil {
		return nil, fmt.Errorf("next conditions: %w", err)
	}

	var branches []branchCandidate
	var plain []domain.ConditionNode
	for result.Next(ctx) {
		rec := result.Record()
		v, ok := rec.Get("c")
		if !ok {
			continue
		}
		node, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		cond := conditionFromNode(node)

		edgeType := stringField(rec, "edge_type")
		if edgeType == domain.EdgeBranch {
			var order int64
			if o, ok := rec.Get("edge_order"); ok {
				order, _ = o.(int64)
			}
			branches = append(branches, branchCandidate{
				cond:  cond,
				expr:  stringField(rec, "condition"),
				order: int(order),
			})
		} else {
			plain = append(plain, cond)
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(branches, func(i, j int) bool { return branches[i].order < branches[j].order })
	for _, b := range branches {
		matched, err := EvalBranch(b.expr, values)
		if err != nil {
			s.logger.Warn().Err(err).Str("condition_id", conditionID).Str("expr", b.expr).
				Msg("unparseable branch guard pruned")
			continue
		}
		if matched {
			return []domain.ConditionNode{b.cond}, nil
		}
	}
	return plain, nil
}

// SatisfiedAction returns the action reached from a condition once it is
// satisfied, or nil when the condition is terminal for slot filling.
func (s *Store) SatisfiedAction(ctx context.Context, conditionID string) (*domain.ActionNode, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (:Condition {id: $id})-[:SATISFIED]->(a:Action)
		RETURN a LIMIT 1`,
		map[string]any{"id": conditionID})
	if err != nil {
		return nil, fmt.Errorf("satisfied action: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, nil
	}
	if v, ok := record.Get("a"); ok {
		if node, ok := v.(neo4j.Node); ok {
			action := actionFromNode(node)
			return &action, nil
		}
	}
	return nil, nil
}

// ResponseForAction returns the response template an action LEADS_TO.
func (s *Store) ResponseForAction(ctx context.Context, actionID string) (*domain.ResponseNode, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (:Action {id: $id})-[:LEADS_TO]->(r:Response)
		RETURN r LIMIT 1`,
		map[string]any{"id": actionID})
	if err != nil {
		return nil, fmt.Errorf("response for action: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, nil
	}
	if v, ok := record.Get("r"); ok {
		if node, ok := v.(neo4j.Node); ok {
			resp := responseFromNode(node)
			return &resp, nil
		}
	}
	return nil, nil
}

// ConditionByID loads a single condition node.
func (s *Store) ConditionByID(ctx context.Context, id string) (*domain.ConditionNode, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:Condition {id: $id}) RETURN c LIMIT 1`,
		map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("condition by id: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: condition %s", domain.ErrNotFound, id)
	}
	if v, ok := record.Get("c"); ok {
		if node, ok := v.(neo4j.Node); ok {
			cond := conditionFromNode(node)
			return &cond, nil
		}
	}
	return nil, fmt.Errorf("%w: condition %s", domain.ErrNotFound, id)
}

// FlowGraph loads the entire authored flow for inspection and export.
func (s *Store) FlowGraph(ctx context.Context) (*domain.FlowGraph, error) {
	session := s.read(ctx)
	defer session.Close(ctx)

	flow := &domain.FlowGraph{}

	result, err := session.Run(ctx, `
		MATCH (n) WHERE n:Intent OR n:Condition OR n:Action OR n:Response
		RETURN n, labels(n) AS labels`, nil)
	if err != nil {
		return nil, fmt.Errorf("flow graph nodes: %w", err)
	}
	for result.Next(ctx) {
		rec := result.Record()
		v, ok := rec.Get("n")
		if !ok {
			continue
		}
		node, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		switch flowLabel(node.Labels) {
		case "Intent":
			flow.Intents = append(flow.Intents, intentFromNode(node))
		case "Condition":
			flow.Conditions = append(flow.Conditions, conditionFromNode(node))
		case "Action":
			flow.Actions = append(flow.Actions, actionFromNode(node))
		case "Response":
			flow.Responses = append(flow.Responses, responseFromNode(node))
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	edges, err := session.Run(ctx, `
		MATCH (a)-[e:REQUIRES|NEXT|BRANCH|SATISFIED|LEADS_TO]->(b)
		RETURN e.id AS id, a.id AS source_id, b.id AS target_id,
		       type(e) AS edge_type, e.condition AS condition, coalesce(e.order, 0) AS edge_order`, nil)
	if err != nil {
		return nil, fmt.Errorf("flow graph edges: %w", err)
	}
	for edges.Next(ctx) {
		rec := edges.Record()
		var order int64
		if o, ok := rec.Get("edge_order"); ok {
			order, _ = o.(int64)
		}
		flow.Edges = append(flow.Edges, domain.FlowEdge{
			ID:            stringField(rec, "id"),
			SourceID:      stringField(rec, "source_id"),
			TargetID:      stringField(rec, "target_id"),
			EdgeType:      stringField(rec, "edge_type"),
			ConditionExpr: stringField(rec, "condition"),
			Order:         int(order),
		})
	}
	if err := edges.Err(); err != nil {
		return nil, err
	}

	sort.Slice(flow.Intents, func(i, j int) bool { return flow.Intents[i].Priority > flow.Intents[j].Priority })
	return flow, nil
}

func flowLabel(labels []string) string {
	for _, l := range labels {
		switch l {
		case "Intent", "Condition", "Action", "Response":
			return l
		}
	}
	return ""
}

func intentFromNode(node neo4j.Node) domain.IntentNode {
	p := node.Props
	intent := domain.IntentNode{
		ID:          asString(p["id"]),
		Name:        asString(p["name"]),
		DisplayName: asString(p["display_name"]),
		Description: asString(p["description"]),
		Keywords:    stringSlice(p["keywords"]),
		Examples:    stringSlice(p["examples"]),
	}
	if v, ok := p["priority"].(int64); ok {
		intent.Priority = int(v)
	}
	if v, ok := p["is_active"].(bool); ok {
		intent.IsActive = v
	}
	return intent
}

func conditionFromNode(node neo4j.Node) domain.ConditionNode {
	p := node.Props
	cond := domain.ConditionNode{
		ID:               asString(p["id"]),
		Name:             asString(p["name"]),
		DisplayName:      asString(p["display_name"]),
		ConditionType:    domain.ConditionType(asString(p["condition_type"])),
		QuestionTemplate: asString(p["question_template"]),
		OptionsSource:    asString(p["options_source"]),
		ValidationRule:   asString(p["validation_rule"]),
		DefaultValue:     asString(p["default_value"]),
	}
	if raw := asString(p["options"]); raw != "" {
		_ = json.Unmarshal([]byte(raw), &cond.Options)
	}
	if v, ok := p["is_required"].(bool); ok {
		cond.IsRequired = v
	}
	if v, ok := p["order"].(int64); ok {
		cond.Order = int(v)
	}
	return cond
}

func actionFromNode(node neo4j.Node) domain.ActionNode {
	p := node.Props
	action := domain.ActionNode{
		ID:         asString(p["id"]),
		Name:       asString(p["name"]),
		ActionType: domain.ActionType(asString(p["action_type"])),
		Config:     map[string]any{},
	}
	if raw := asString(p["config"]); raw != "" {
		_ = json.Unmarshal([]byte(raw), &action.Config)
	}
	return action
}

func responseFromNode(node neo4j.Node) domain.ResponseNode {
	p := node.Props
	resp := domain.ResponseNode{
		ID:       asString(p["id"]),
		Name:     asString(p["name"]),
		Template: asString(p["template"]),
	}
	if v, ok := p["include_graph"].(bool); ok {
		resp.IncludeGraph = v
	}
	if v, ok := p["include_sources"].(bool); ok {
		resp.IncludeSources = v
	}
	return resp
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
