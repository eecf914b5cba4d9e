// Package graphrag implements the service CLI.
package graphrag

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "graphrag",
	Short: "GraphRAG knowledge graph service",
	Long: `graphrag extracts entities and relationships from documents with an LLM,
stores them in Neo4j and Qdrant, and serves hybrid retrieval, natural
language queries, and guided conversations over the resulting graph.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = logging.New(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	return RootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("graphrag version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./graphrag.toml or ~/.graphrag/graphrag.toml)")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(buildCmd)
	RootCmd.AddCommand(seedCmd)
	RootCmd.AddCommand(exportCmd)
	RootCmd.AddCommand(importCmd)
	RootCmd.AddCommand(statusCmd)
}
