package graphrag

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/logging"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the built-in insurance consultation flow",
	Long: `Seed writes the canonical insurance consultation flow (intents, conditions,
actions, responses, and edges) into Neo4j. Seeding is idempotent; existing
nodes are updated in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		graph, err := graphstore.New(ctx, cfg.Neo4j, logging.Component(logger, "graphstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer func() { _ = graph.Close(context.Background()) }()

		if err := graph.SeedInsuranceFlow(ctx); err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}

		flow, err := graph.FlowGraph(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded flow: %d intents, %d conditions, %d actions, %d responses, %d edges\n",
			len(flow.Intents), len(flow.Conditions), len(flow.Actions), len(flow.Responses), len(flow.Edges))
		return nil
	},
}
