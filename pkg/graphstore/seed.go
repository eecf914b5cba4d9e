package graphstore

import (
	"context"
	"fmt"

	"github.com/llmflow/graphrag/pkg/domain"
)

// SeedInsuranceFlow installs the default Korean insurance consultation flow.
// Existing nodes with the same ids are overwritten, so re-seeding is safe.
func (s *Store) SeedInsuranceFlow(ctx context.Context) error {
	flow := DefaultInsuranceFlow()

	for _, intent := range flow.Intents {
		if err := s.UpsertIntent(ctx, intent); err != nil {
			return fmt.Errorf("seed intent %s: %w", intent.Name, err)
		}
	}
	for _, cond := range flow.Conditions {
		if err := s.UpsertCondition(ctx, cond); err != nil {
			return fmt.Errorf("seed condition %s: %w", cond.Name, err)
		}
	}
	for _, action := range flow.Actions {
		if err := s.UpsertAction(ctx, action); err != nil {
			return fmt.Errorf("seed action %s: %w", action.Name, err)
		}
	}
	for _, resp := range flow.Responses {
		if err := s.UpsertResponse(ctx, resp); err != nil {
			return fmt.Errorf("seed response %s: %w", resp.Name, err)
		}
	}
	for _, edge := range flow.Edges {
		if err := s.UpsertFlowEdge(ctx, edge); err != nil {
			return fmt.Errorf("seed edge %s: %w", edge.ID, err)
		}
	}

	s.logger.Info().
		Int("intents", len(flow.Intents)).
		Int("conditions", len(flow.Conditions)).
		Int("actions", len(flow.Actions)).
		Msg("insurance flow seeded")
	return nil
}

// DefaultInsuranceFlow is the built-in consultation flow for variable
// annuity and life insurance products.
func DefaultInsuranceFlow() *domain.FlowGraph {
	productOptions := []domain.Option{
		{Value: "변액연금", Label: "변액연금보험"},
		{Value: "변액적립", Label: "변액적립보험"},
		{Value: "즉시연금", Label: "즉시연금보험"},
		{Value: "월지급", Label: "월지급식보험"},
		{Value: "종신", Label: "종신보험"},
		{Value: "건강", Label: "건강보험"},
	}

	return &domain.FlowGraph{
		Intents: []domain.IntentNode{
			{
				ID:          "intent_claim",
				Name:        "보험금_청구",
				DisplayName: "보험금 청구",
				Description: "보험금 청구 절차와 필요 서류 안내",
				Keywords:    []string{"청구", "보험금", "지급", "서류"},
				Examples:    []string{"보험금 청구하려면 어떻게 하나요", "사고 보험금 지급 절차 알려주세요"},
				Priority:    10,
				IsActive:    true,
			},
			{
				ID:          "intent_surrender",
				Name:        "해지_환급금",
				DisplayName: "해지 환급금",
				Description: "해지 환급금 계산 방식과 유의사항 안내",
				Keywords:    []string{"해지", "환급금", "해약", "환급"},
				Examples:    []string{"지금 해지하면 환급금이 얼마나 되나요"},
				Priority:    10,
				IsActive:    true,
			},
			{
				ID:          "intent_rider",
				Name:        "특약_설명",
				DisplayName: "특약 설명",
				Description: "특약의 보장 내용과 가입 조건 설명",
				Keywords:    []string{"특약", "보장", "가입조건"},
				Examples:    []string{"재해사망특약이 뭔가요"},
				Priority:    5,
				IsActive:    true,
			},
			{
				ID:          "intent_general",
				Name:        "일반_질문",
				DisplayName: "일반 질문",
				Description: "기타 보험 관련 일반 질문",
				Keywords:    []string{},
				Examples:    []string{"보험료 납입 방법 알려주세요"},
				Priority:    0,
				IsActive:    true,
			},
		},
		Conditions: []domain.ConditionNode{
			{
				ID:               "cond_product",
				Name:             "product_name",
				DisplayName:      "상품 선택",
				ConditionType:    domain.CondSelectOne,
				QuestionTemplate: "어떤 상품에 대해 문의하시나요?",
				Options:          productOptions,
				IsRequired:       true,
				Order:            1,
			},
			{
				ID:               "cond_claim_type",
				Name:             "claim_type",
				DisplayName:      "청구 유형",
				ConditionType:    domain.CondSelectOne,
				QuestionTemplate: "어떤 유형의 보험금을 청구하시나요?",
				Options: []domain.Option{
					{Value: "사망", Label: "사망보험금"},
					{Value: "재해", Label: "재해보험금"},
					{Value: "만기", Label: "만기보험금"},
					{Value: "중도", Label: "중도보험금"},
				},
				IsRequired: true,
				Order:      2,
			},
			{
				ID:               "cond_surrender_confirm",
				Name:             "surrender_confirm",
				DisplayName:      "해지 확인",
				ConditionType:    domain.CondYesNo,
				QuestionTemplate: "해지 환급금은 납입 보험료보다 적을 수 있습니다. 안내를 계속할까요?",
				IsRequired:       true,
				Order:            2,
			},
			{
				ID:               "cond_rider_name",
				Name:             "rider_name",
				DisplayName:      "특약 이름",
				ConditionType:    domain.CondTextInput,
				QuestionTemplate: "어떤 특약에 대해 알고 싶으신가요?",
				IsRequired:       true,
				Order:            1,
			},
		},
		Actions: []domain.ActionNode{
			{
				ID:         "action_claim_search",
				Name:       "claim_procedure_search",
				ActionType: domain.ActionHybridSearch,
				Config: map[string]any{
					"query_template": "{product_name} {claim_type} 보험금 청구 절차 필요 서류",
					"top_k":          5,
				},
			},
			{
				ID:         "action_surrender_search",
				Name:       "surrender_value_search",
				ActionType: domain.ActionHybridSearch,
				Config: map[string]any{
					"query_template": "{product_name} 해지 환급금 계산",
					"top_k":          5,
				},
			},
			{
				ID:         "action_rider_search",
				Name:       "rider_description_search",
				ActionType: domain.ActionGraphSearch,
				Config: map[string]any{
					"query_template": "{rider_name} 특약 보장",
					"top_k":          5,
				},
			},
			{
				ID:         "action_general_answer",
				Name:       "general_answer",
				ActionType: domain.ActionLLMGenerate,
				Config:     map[string]any{},
			},
		},
		Responses: []domain.ResponseNode{
			{
				ID:             "resp_claim",
				Name:           "claim_response",
				Template:       "{product_name} {claim_type} 청구 안내입니다.",
				IncludeGraph:   true,
				IncludeSources: true,
			},
			{
				ID:             "resp_surrender",
				Name:           "surrender_response",
				Template:       "{product_name} 해지 환급금 안내입니다.",
				IncludeGraph:   false,
				IncludeSources: true,
			},
			{
				ID:             "resp_rider",
				Name:           "rider_response",
				Template:       "{rider_name} 특약 안내입니다.",
				IncludeGraph:   true,
				IncludeSources: true,
			},
			{
				ID:             "resp_general",
				Name:           "general_response",
				Template:       "",
				IncludeGraph:   false,
				IncludeSources: true,
			},
		},
		Edges: []domain.FlowEdge{
			{ID: "e_claim_product", SourceID: "intent_claim", TargetID: "cond_product", EdgeType: domain.EdgeRequires, Order: 1},
			{ID: "e_surrender_product", SourceID: "intent_surrender", TargetID: "cond_product", EdgeType: domain.EdgeRequires, Order: 1},
			{ID: "e_rider_name", SourceID: "intent_rider", TargetID: "cond_rider_name", EdgeType: domain.EdgeRequires, Order: 1},

			// After the product slot, claims go on to the claim type while
			// surrender consultations branch to the confirmation step.
			{ID: "e_product_surrender", SourceID: "cond_product", TargetID: "cond_surrender_confirm",
				EdgeType: domain.EdgeBranch, ConditionExpr: "intent == '해지_환급금'", Order: 1},
			{ID: "e_product_claim", SourceID: "cond_product", TargetID: "cond_claim_type", EdgeType: domain.EdgeNext, Order: 2},

			{ID: "e_claim_action", SourceID: "cond_claim_type", TargetID: "action_claim_search", EdgeType: domain.EdgeSatisfied},
			{ID: "e_surrender_action", SourceID: "cond_surrender_confirm", TargetID: "action_surrender_search", EdgeType: domain.EdgeSatisfied},
			{ID: "e_rider_action", SourceID: "cond_rider_name", TargetID: "action_rider_search", EdgeType: domain.EdgeSatisfied},

			{ID: "e_claim_resp", SourceID: "action_claim_search", TargetID: "resp_claim", EdgeType: domain.EdgeLeadsTo},
			{ID: "e_surrender_resp", SourceID: "action_surrender_search", TargetID: "resp_surrender", EdgeType: domain.EdgeLeadsTo},
			{ID: "e_rider_resp", SourceID: "action_rider_search", TargetID: "resp_rider", EdgeType: domain.EdgeLeadsTo},
			{ID: "e_general_resp", SourceID: "action_general_answer", TargetID: "resp_general", EdgeType: domain.EdgeLeadsTo},
		},
	}
}
