package graphrag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/logging"
)

// exportFile is the on-disk backup format, shared with the import command
// and the backup HTTP endpoints.
type exportFile struct {
	Metadata      exportMetadata        `json:"metadata"`
	Entities      []domain.Entity       `json:"entities"`
	Relationships []domain.Relationship `json:"relationships"`
}

type exportMetadata struct {
	Version           string    `json:"version"`
	ExportedAt        time.Time `json:"exported_at"`
	DatasetID         string    `json:"dataset_id"`
	EntityCount       int       `json:"entity_count"`
	RelationshipCount int       `json:"relationship_count"`
	Platform          string    `json:"platform"`
}

const exportVersion = "1.0"

var exportCmd = &cobra.Command{
	Use:   "export <dataset_id> <output_file>",
	Short: "Export a dataset's graph to a JSON backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, outputPath := args[0], args[1]
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		graph, err := graphstore.New(ctx, cfg.Neo4j, logging.Component(logger, "graphstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer func() { _ = graph.Close(context.Background()) }()

		entities, err := graph.EntitiesByDataset(ctx, datasetID)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			return fmt.Errorf("dataset %s has no entities", datasetID)
		}

		rels, err := graph.RelationshipsByDataset(ctx, datasetID)
		if err != nil {
			return err
		}

		dump := exportFile{
			Metadata: exportMetadata{
				Version:           exportVersion,
				ExportedAt:        time.Now().UTC(),
				DatasetID:         datasetID,
				EntityCount:       len(entities),
				RelationshipCount: len(rels),
				Platform:          "graphrag",
			},
			Entities:      entities,
			Relationships: rels,
		}

		if dir := filepath.Dir(outputPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}

		fmt.Printf("Exported %d entities and %d relationships to %s\n",
			len(entities), len(rels), outputPath)
		return nil
	},
}
