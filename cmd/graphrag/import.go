package graphrag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/logging"
	"github.com/llmflow/graphrag/pkg/providers"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

var importMerge bool

var importCmd = &cobra.Command{
	Use:   "import <dataset_id> <input_file>",
	Short: "Restore a dataset from a JSON backup",
	Long: `Import loads a backup produced by export into the target dataset and
re-embeds the entities into the vector index. Without --merge the dataset
is wiped before the restore.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, inputPath := args[0], args[1]
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}
		var dump exportFile
		if err := json.Unmarshal(data, &dump); err != nil {
			return fmt.Errorf("failed to parse backup: %w", err)
		}
		if dump.Metadata.Version != "" && dump.Metadata.Version != exportVersion {
			return fmt.Errorf("unsupported export version: %s", dump.Metadata.Version)
		}
		if len(dump.Entities) == 0 {
			return fmt.Errorf("backup contains no entities")
		}

		graph, err := graphstore.New(ctx, cfg.Neo4j, logging.Component(logger, "graphstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer func() { _ = graph.Close(context.Background()) }()

		embedder := providers.NewOpenAIEmbedder(cfg.Embedding, logging.Component(logger, "embedder"))
		vectors, err := vectorstore.New(ctx, cfg.Qdrant, embedder, logging.Component(logger, "vectorstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		defer func() { _ = vectors.Close() }()

		if !importMerge {
			deleted, err := graph.DeleteDataset(ctx, datasetID)
			if err != nil {
				return err
			}
			if err := vectors.DeleteByDataset(ctx, datasetID); err != nil {
				return err
			}
			if deleted > 0 {
				fmt.Printf("Wiped %d existing entities from dataset %s\n", deleted, datasetID)
			}
		}

		for i := range dump.Entities {
			dump.Entities[i].DatasetID = datasetID
		}

		if err := graph.UpsertEntities(ctx, dump.Entities); err != nil {
			return err
		}
		dropped := 0
		if len(dump.Relationships) > 0 {
			dropped, err = graph.UpsertRelationships(ctx, dump.Relationships, datasetID)
			if err != nil {
				return err
			}
		}
		if err := vectors.IndexEntities(ctx, dump.Entities); err != nil {
			return err
		}

		fmt.Printf("Imported %d entities and %d relationships into dataset %s",
			len(dump.Entities), len(dump.Relationships)-dropped, datasetID)
		if dropped > 0 {
			fmt.Printf(" (%d relationships dropped)", dropped)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importMerge, "merge", false, "merge into existing data instead of wiping the dataset first")
}
