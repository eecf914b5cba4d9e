package conversation

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/smallnest/langgraphgo/graph"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/providers"
	"github.com/llmflow/graphrag/pkg/search"
	"github.com/llmflow/graphrag/pkg/upstream"
)

// FlowStore is the authored-flow surface the engine walks.
type FlowStore interface {
	MatchIntent(ctx context.Context, message string) (*domain.IntentNode, error)
	ActiveIntents(ctx context.Context) ([]domain.IntentNode, error)
	IntentByName(ctx context.Context, name string) (*domain.IntentNode, error)
	RequiredConditions(ctx context.Context, intentID string) ([]domain.ConditionNode, error)
	NextConditions(ctx context.Context, conditionID string, values map[string]any) ([]domain.ConditionNode, error)
	SatisfiedAction(ctx context.Context, conditionID string) (*domain.ActionNode, error)
	ResponseForAction(ctx context.Context, actionID string) (*domain.ResponseNode, error)
	ConditionByID(ctx context.Context, id string) (*domain.ConditionNode, error)
}

// Retriever executes the search actions of the flow. SearchGrounded is the
// default retrieval for turns without an authored action: per-keyword graph
// search scoped to the session's document context.
type Retriever interface {
	SearchWithExpansion(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error)
	SearchGrounded(ctx context.Context, q domain.SearchQuery, documentID string) (*domain.SearchResult, error)
}

// DocumentFinder resolves a product name to its source document, pinning the
// session to that document for follow-up questions.
type DocumentFinder interface {
	SearchDocuments(ctx context.Context, datasetID, term string, limit int) ([]upstream.Document, error)
}

// Answerer generates the final grounded answer.
type Answerer interface {
	Answer(ctx context.Context, question, contextText string) (string, error)
}

// OptionResolver supplies choices for conditions whose options come from a
// live source instead of an authored list.
type OptionResolver interface {
	ResolveOptions(ctx context.Context, source, datasetID string) ([]domain.Option, error)
}

// dynamicOptionsPrefix marks a condition's options_source as resolved at
// ask time.
const dynamicOptionsPrefix = "DYNAMIC:"

const generalIntentName = "일반_질문"

// apologyMessage is returned when a turn fails internally; the session
// survives so the user can retry.
const apologyMessage = "죄송합니다. 답변 생성 중 문제가 발생했습니다. 잠시 후 다시 시도해 주세요."

// Engine drives multi-turn consultations over the authored flow graph. Each
// turn runs through a compiled state machine:
//
//	analyze -> check_conditions -> clarify (needs input) | execute -> generate
//
// Turns of the same session are serialized; concurrent turns of different
// sessions proceed independently.
type Engine struct {
	flow      FlowStore
	sessions  *Sessions
	retriever Retriever
	answerer  Answerer
	llm       providers.LLM
	options   OptionResolver
	docs      DocumentFinder
	runnable  *graph.StateRunnable[any]
	logger    zerolog.Logger

	classifyTimeout time.Duration

	// Sessions hash onto a fixed pool of locks, so serving many sessions
	// does not accumulate per-session state.
	locks [sessionLockShards]sync.Mutex
}

const (
	sessionLockShards      = 64
	defaultClassifyTimeout = 30 * time.Second
)

// SetClassifyTimeout overrides the intent classification deadline.
func (e *Engine) SetClassifyTimeout(d time.Duration) {
	if d > 0 {
		e.classifyTimeout = d
	}
}

// SetOptionResolver enables DYNAMIC option sources on select conditions.
func (e *Engine) SetOptionResolver(r OptionResolver) { e.options = r }

// SetDocumentFinder enables document-context resolution for follow-ups.
func (e *Engine) SetDocumentFinder(d DocumentFinder) { e.docs = d }

// turnState is the state threaded through the machine for one turn.
type turnState struct {
	msg     domain.ConversationMessage
	session *domain.SessionState

	intent       *domain.IntentNode
	askCondition *domain.ConditionNode
	askMessage   string
	action       *domain.ActionNode
	response     *domain.ResponseNode
	result       *domain.SearchResult

	out *domain.ConversationResponse
}

// NewEngine compiles the turn state machine.
func NewEngine(flow FlowStore, sessions *Sessions, retriever Retriever, answerer Answerer,
	llm providers.LLM, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		flow:            flow,
		sessions:        sessions,
		retriever:       retriever,
		answerer:        answerer,
		llm:             llm,
		classifyTimeout: defaultClassifyTimeout,
		logger:          logger,
	}

	g := graph.NewStateGraph[any]()
	g.AddNode("analyze", "classify the user's intent", e.analyzeNode)
	g.AddNode("check_conditions", "find the next unfilled slot or a ready action", e.checkConditionsNode)
	g.AddNode("clarify", "ask the user for a missing slot value", e.clarifyNode)
	g.AddNode("execute", "run the flow action's retrieval", e.executeNode)
	g.AddNode("generate", "compose the grounded answer", e.generateNode)

	g.SetEntryPoint("analyze")
	g.AddConditionalEdge("analyze", func(ctx context.Context, state any) string {
		st := state.(*turnState)
		if st.intent == nil {
			return "execute"
		}
		return "check_conditions"
	})
	g.AddConditionalEdge("check_conditions", func(ctx context.Context, state any) string {
		st := state.(*turnState)
		if st.askCondition != nil {
			return "clarify"
		}
		return "execute"
	})
	g.AddEdge("clarify", graph.END)
	g.AddEdge("execute", "generate")
	g.AddEdge("generate", graph.END)

	runnable, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile conversation graph: %w", err)
	}
	e.runnable = runnable
	return e, nil
}

// Chat runs one conversational turn.
func (e *Engine) Chat(ctx context.Context, msg domain.ConversationMessage) (*domain.ConversationResponse, error) {
	if strings.TrimSpace(msg.Message) == "" && msg.SelectedOption == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
	}

	session, err := e.sessions.GetOrCreate(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}

	mu := e.sessionLock(session.SessionID)
	mu.Lock()
	defer mu.Unlock()

	userTurn := msg.Message
	if userTurn == "" {
		userTurn = msg.SelectedOption
	}
	session.ConversationHistory = append(session.ConversationHistory,
		domain.HistoryMessage{Role: "user", Content: userTurn})

	st := &turnState{msg: msg, session: session}
	_, runErr := e.runnable.Invoke(ctx, st)
	if runErr != nil || st.out == nil {
		e.logger.Error().Err(runErr).Str("session_id", session.SessionID).Msg("conversation turn failed")
		st.out = &domain.ConversationResponse{
			SessionID:       session.SessionID,
			Message:         apologyMessage,
			IsComplete:      true,
			Sources:         []map[string]any{},
			CollectedValues: session.CollectedValues,
		}
	}

	session.ConversationHistory = append(session.ConversationHistory,
		domain.HistoryMessage{Role: "assistant", Content: st.out.Message})
	if err := e.sessions.Save(ctx, session); err != nil {
		e.logger.Warn().Err(err).Str("session_id", session.SessionID).Msg("session save failed")
	}
	return st.out, nil
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &e.locks[h.Sum32()%sessionLockShards]
}

// analyzeNode resolves the intent for the turn. Keyword matching runs first;
// the LLM classifier breaks ambiguity; the general intent catches the rest.
// Product names mentioned anywhere in the message are captured eagerly.
func (e *Engine) analyzeNode(ctx context.Context, state any) (any, error) {
	st := state.(*turnState)
	session := st.session

	if session.CollectedValues == nil {
		session.CollectedValues = map[string]any{}
	}

	// A completed consultation pinned to a document takes follow-up
	// questions directly: no re-classification, no slot filling, retrieval
	// scoped to the same document.
	if session.CurrentNodeID == "" && st.msg.SelectedOption == "" &&
		session.CurrentIntent != "" && session.DocumentContext != "" {
		if st.msg.Message != "" {
			session.CollectedValues[domain.OriginalQueryKey] = st.msg.Message
		}
		return st, nil
	}

	if _, ok := session.CollectedValues[domain.OriginalQueryKey]; !ok && st.msg.Message != "" {
		session.CollectedValues[domain.OriginalQueryKey] = st.msg.Message
	}

	// Mid-flow turns keep their intent; the message is slot input.
	if session.CurrentIntent == "" {
		intent, err := e.flow.MatchIntent(ctx, st.msg.Message)
		if err != nil {
			return nil, err
		}
		if intent == nil {
			intent = e.classifyIntent(ctx, st.msg.Message)
		}
		if intent != nil {
			session.CurrentIntent = intent.Name
		} else {
			session.CurrentIntent = generalIntentName
		}
	}

	if session.CurrentIntent != generalIntentName {
		intent, err := e.flow.IntentByName(ctx, session.CurrentIntent)
		if err == nil {
			st.intent = intent
		}
	}

	// Eager slot capture: a product named in any turn fills the slot
	// without a clarify round-trip.
	if _, ok := session.CollectedValues["product_name"]; !ok && st.msg.Message != "" {
		for _, term := range search.ProductTerms {
			if strings.Contains(st.msg.Message, term) {
				session.CollectedValues["product_name"] = term
				break
			}
		}
	}

	// A named product pins the session to its source document; follow-ups
	// then search within that document.
	if session.DocumentContext == "" && e.docs != nil {
		if product, ok := session.CollectedValues["product_name"].(string); ok && product != "" {
			docs, err := e.docs.SearchDocuments(ctx, st.msg.DatasetID, product, 1)
			if err != nil {
				e.logger.Warn().Err(err).Str("product", product).Msg("document context lookup failed")
			} else if len(docs) > 0 {
				session.DocumentContext = docs[0].ID
			}
		}
	}
	return st, nil
}

// classifyIntent asks the LLM to pick among active intents by index.
func (e *Engine) classifyIntent(ctx context.Context, message string) *domain.IntentNode {
	intents, err := e.flow.ActiveIntents(ctx)
	if err != nil || len(intents) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Classify the user message into one of these intents. Respond with the number only.\n")
	for i, intent := range intents {
		fmt.Fprintf(&sb, "%d. %s", i+1, intent.DisplayName)
		if intent.Description != "" {
			fmt.Fprintf(&sb, " (%s)", intent.Description)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Message: %s\nNumber:", message)

	cctx, cancel := context.WithTimeout(ctx, e.classifyTimeout)
	defer cancel()
	raw, err := e.llm.Generate(cctx, sb.String(), &providers.GenerateOptions{Temperature: 0, MaxTokens: 8})
	if err != nil {
		e.logger.Warn().Err(err).Msg("intent classification failed")
		return nil
	}

	idx := parseLeadingInt(raw)
	if idx < 1 || idx > len(intents) {
		return nil
	}
	return &intents[idx-1]
}

func parseLeadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// checkConditionsNode stores pending slot input and walks the flow to find
// either the next slot to ask or a ready action.
func (e *Engine) checkConditionsNode(ctx context.Context, state any) (any, error) {
	st := state.(*turnState)
	session := st.session
	values := session.CollectedValues

	// A pending condition means this turn carries its value.
	if session.CurrentNodeID != "" {
		cond, err := e.flow.ConditionByID(ctx, session.CurrentNodeID)
		if err != nil {
			// Stale node id (flow was edited); restart slot filling.
			session.CurrentNodeID = ""
		} else {
			value, ok := e.extractValue(cond, st.msg)
			if !ok {
				st.askCondition = cond
				st.askMessage = "죄송합니다. 다시 선택해 주세요. " + cond.QuestionTemplate
				return st, nil
			}
			values[cond.Name] = value
			session.CurrentNodeID = ""

			ask, action, err := e.advance(ctx, *cond, values, guardValues(session))
			if err != nil {
				return nil, err
			}
			st.askCondition = ask
			st.action = action
			return st, nil
		}
	}

	required, err := e.flow.RequiredConditions(ctx, st.intent.ID)
	if err != nil {
		return nil, err
	}
	if len(required) == 0 {
		return st, nil
	}

	var lastFilled *domain.ConditionNode
	for i := range required {
		cond := required[i]
		if !e.filled(values, &cond) {
			st.askCondition = &cond
			return st, nil
		}
		lastFilled = &required[i]
	}

	ask, action, err := e.advance(ctx, *lastFilled, values, guardValues(session))
	if err != nil {
		return nil, err
	}
	st.askCondition = ask
	st.action = action
	return st, nil
}

// guardValues is what BRANCH guards see: the collected values plus the
// current intent name under "intent".
func guardValues(session *domain.SessionState) map[string]any {
	guards := make(map[string]any, len(session.CollectedValues)+1)
	for k, v := range session.CollectedValues {
		if k == domain.OriginalQueryKey {
			continue
		}
		guards[k] = v
	}
	guards["intent"] = session.CurrentIntent
	return guards
}

// advance walks NEXT/BRANCH edges from a filled condition until it finds an
// unfilled slot or a SATISFIED action. Depth is capped so a mis-authored
// cyclic flow cannot spin.
func (e *Engine) advance(ctx context.Context, from domain.ConditionNode, values, guards map[string]any) (*domain.ConditionNode, *domain.ActionNode, error) {
	current := from
	for depth := 0; depth < 10; depth++ {
		nexts, err := e.flow.NextConditions(ctx, current.ID, guards)
		if err != nil {
			return nil, nil, err
		}
		for i := range nexts {
			if !e.filled(values, &nexts[i]) {
				return &nexts[i], nil, nil
			}
		}

		action, err := e.flow.SatisfiedAction(ctx, current.ID)
		if err != nil {
			return nil, nil, err
		}
		if action != nil {
			return nil, action, nil
		}
		if len(nexts) == 0 {
			return nil, nil, nil
		}
		current = nexts[0]
	}
	return nil, nil, fmt.Errorf("flow walk exceeded depth limit from condition %s", from.ID)
}

// filled reports whether a condition's slot has a value, applying the
// authored default for optional slots.
func (e *Engine) filled(values map[string]any, cond *domain.ConditionNode) bool {
	if _, ok := values[cond.Name]; ok {
		return true
	}
	if cond.DefaultValue != "" {
		values[cond.Name] = cond.DefaultValue
		return true
	}
	return false
}

// extractValue interprets the turn's input for a pending condition.
func (e *Engine) extractValue(cond *domain.ConditionNode, msg domain.ConversationMessage) (string, bool) {
	input := msg.SelectedOption
	if input == "" {
		input = strings.TrimSpace(msg.Message)
	}
	if input == "" {
		return "", false
	}

	switch cond.ConditionType {
	case domain.CondSelectOne, domain.CondSelectMulti:
		for _, opt := range cond.Options {
			if input == opt.Value || input == opt.Label {
				return opt.Value, true
			}
		}
		// Free-text answers count when they name an option.
		for _, opt := range cond.Options {
			if strings.Contains(input, opt.Value) || strings.Contains(input, opt.Label) {
				return opt.Value, true
			}
		}
		return "", false
	case domain.CondYesNo:
		return parseYesNo(input)
	default:
		return input, true
	}
}

func parseYesNo(input string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(input))
	switch {
	case lower == "yes" || lower == "y" || lower == "true" ||
		strings.HasPrefix(lower, "네") || strings.HasPrefix(lower, "예") || strings.HasPrefix(lower, "응"):
		return "true", true
	case lower == "no" || lower == "n" || lower == "false" ||
		strings.HasPrefix(lower, "아니"):
		return "false", true
	}
	return "", false
}

// clarifyNode emits the question for the next unfilled slot.
func (e *Engine) clarifyNode(ctx context.Context, state any) (any, error) {
	st := state.(*turnState)
	cond := st.askCondition
	st.session.CurrentNodeID = cond.ID

	message := st.askMessage
	if message == "" {
		message = renderTemplate(cond.QuestionTemplate, st.session.CollectedValues)
	}

	options := cond.Options
	if len(options) == 0 && e.options != nil && strings.HasPrefix(cond.OptionsSource, dynamicOptionsPrefix) {
		source := strings.TrimPrefix(cond.OptionsSource, dynamicOptionsPrefix)
		resolved, err := e.options.ResolveOptions(ctx, source, st.msg.DatasetID)
		if err != nil {
			e.logger.Warn().Err(err).Str("source", source).Msg("dynamic option resolution failed")
		} else {
			options = resolved
		}
	}

	st.out = &domain.ConversationResponse{
		SessionID:       st.session.SessionID,
		Message:         message,
		NeedsInput:      true,
		InputType:       cond.ConditionType,
		Options:         options,
		Sources:         []map[string]any{},
		CurrentIntent:   st.session.CurrentIntent,
		CollectedValues: st.session.CollectedValues,
	}
	return st, nil
}

// executeNode runs the flow action's retrieval. A turn without an authored
// action, including every follow-up, runs grounded per-keyword retrieval
// scoped to the session's document context.
func (e *Engine) executeNode(ctx context.Context, state any) (any, error) {
	st := state.(*turnState)
	values := st.session.CollectedValues

	if st.action == nil {
		result, err := e.retriever.SearchGrounded(ctx, domain.SearchQuery{
			Query:        originalQuery(st),
			DatasetID:    st.msg.DatasetID,
			TopK:         5,
			IncludeGraph: true,
		}, st.session.DocumentContext)
		if err != nil {
			return nil, err
		}
		st.result = result
		return st, nil
	}

	// Korean particles and question words hurt literal matching; the
	// template query falls back to the stripped original question.
	query := search.KeywordQuery(originalQuery(st))
	mode := domain.ModeHybrid
	topK := 5

	if tmpl, ok := st.action.Config["query_template"].(string); ok && tmpl != "" {
		query = renderTemplate(tmpl, values)
	}
	if k, ok := st.action.Config["top_k"].(float64); ok && k > 0 {
		topK = int(k)
	}
	switch st.action.ActionType {
	case domain.ActionGraphSearch:
		mode = domain.ModeGraph
	case domain.ActionVectorSearch:
		mode = domain.ModeVector
	case domain.ActionLLMGenerate:
		// Pure generation needs no retrieval.
		st.result = &domain.SearchResult{}
		return e.resolveResponse(ctx, st)
	}

	result, err := e.retriever.SearchWithExpansion(ctx, domain.SearchQuery{
		Query:        query,
		Mode:         mode,
		DatasetID:    st.msg.DatasetID,
		TopK:         topK,
		IncludeGraph: true,
	})
	if err != nil {
		return nil, err
	}
	st.result = result
	return e.resolveResponse(ctx, st)
}

func (e *Engine) resolveResponse(ctx context.Context, st *turnState) (any, error) {
	if st.action == nil {
		return st, nil
	}
	resp, err := e.flow.ResponseForAction(ctx, st.action.ID)
	if err != nil {
		return nil, err
	}
	st.response = resp
	return st, nil
}

// generateNode composes the final grounded answer and closes the flow.
func (e *Engine) generateNode(ctx context.Context, state any) (any, error) {
	st := state.(*turnState)
	session := st.session

	question := originalQuery(st)
	contextText := resultContext(st.result)
	answer, err := e.answerer.Answer(ctx, question, contextText)
	if err != nil {
		return nil, err
	}

	message := answer
	includeGraph := false
	includeSources := true
	if st.response != nil {
		if st.response.Template != "" {
			message = renderTemplate(st.response.Template, session.CollectedValues) + "\n\n" + answer
		}
		includeGraph = st.response.IncludeGraph
		includeSources = st.response.IncludeSources
	}

	st.out = &domain.ConversationResponse{
		SessionID:       session.SessionID,
		Message:         message,
		IsComplete:      true,
		Answer:          answer,
		Sources:         []map[string]any{},
		CurrentIntent:   session.CurrentIntent,
		CollectedValues: session.CollectedValues,
	}
	if includeGraph && st.result != nil && !st.result.Graph.Empty() {
		st.out.Graph = st.result.Graph
	}
	if includeSources && st.result != nil {
		st.out.Sources = resultSources(st.result)
	}

	// The consultation is complete. A session pinned to a document keeps
	// its intent so the next message is treated as a follow-up; otherwise
	// the next message starts a fresh intent.
	session.CurrentNodeID = ""
	if session.DocumentContext == "" {
		session.CurrentIntent = ""
	}
	return st, nil
}

func originalQuery(st *turnState) string {
	if v, ok := st.session.CollectedValues[domain.OriginalQueryKey].(string); ok && v != "" {
		return v
	}
	return st.msg.Message
}

// renderTemplate substitutes {slot} placeholders from collected values.
// Unknown placeholders stay verbatim.
func renderTemplate(tmpl string, values map[string]any) string {
	out := tmpl
	for k, v := range values {
		if k == domain.OriginalQueryKey {
			continue
		}
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return out
}

// resultContext flattens a search result into prompt context.
func resultContext(result *domain.SearchResult) string {
	if result == nil || len(result.Results) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, item := range result.Results {
		sb.WriteString("- ")
		sb.WriteString(item.Name)
		if item.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(item.Description)
		}
		for _, conn := range item.Connections {
			if label, ok := conn["label"].(string); ok && label != "" {
				typ, _ := conn["type"].(string)
				fmt.Fprintf(&sb, " [%s %s]", strings.ToLower(strings.ReplaceAll(typ, "_", " ")), label)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func resultSources(result *domain.SearchResult) []map[string]any {
	sources := []map[string]any{}
	if result == nil {
		return sources
	}
	seen := make(map[string]bool)
	for _, item := range result.Results {
		if item.Properties == nil {
			continue
		}
		key := item.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		source := map[string]any{"entity": item.Name}
		if page, ok := item.Properties["source_page"]; ok {
			source["page"] = page
		}
		sources = append(sources, source)
	}
	return sources
}
