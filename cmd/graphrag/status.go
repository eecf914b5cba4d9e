package graphrag

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/logging"
	"github.com/llmflow/graphrag/pkg/providers"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

var statusCmd = &cobra.Command{
	Use:   "status <dataset_id>",
	Short: "Show graph and vector index statistics for a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID := args[0]
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		graph, err := graphstore.New(ctx, cfg.Neo4j, logging.Component(logger, "graphstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer func() { _ = graph.Close(context.Background()) }()

		stats, err := graph.Stats(ctx, datasetID)
		if err != nil {
			return err
		}

		fmt.Printf("Dataset %s\n", datasetID)
		fmt.Printf("  entities:      %d\n", stats.EntityCount)
		fmt.Printf("  relationships: %d\n", stats.RelationshipCount)

		if len(stats.EntityTypes) > 0 {
			types := make([]string, 0, len(stats.EntityTypes))
			for t := range stats.EntityTypes {
				types = append(types, t)
			}
			sort.Strings(types)
			fmt.Println("  by type:")
			for _, t := range types {
				fmt.Printf("    %-14s %d\n", t, stats.EntityTypes[t])
			}
		}

		// The vector count should mirror the graph count; a gap means the
		// index needs a rebuild.
		embedder := providers.NewOpenAIEmbedder(cfg.Embedding, logging.Component(logger, "embedder"))
		vectors, err := vectorstore.New(ctx, cfg.Qdrant, embedder, logging.Component(logger, "vectorstore"))
		if err != nil {
			logger.Warn().Err(err).Msg("qdrant unreachable, skipping vector count")
			return nil
		}
		defer func() { _ = vectors.Close() }()

		count, err := vectors.Count(ctx, datasetID)
		if err != nil {
			logger.Warn().Err(err).Msg("vector count failed")
			return nil
		}
		fmt.Printf("  vectors:       %d\n", count)
		if count != stats.EntityCount {
			fmt.Printf("  note: vector count differs from entity count by %d\n", stats.EntityCount-count)
		}
		return nil
	},
}
