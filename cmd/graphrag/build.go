package graphrag

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llmflow/graphrag/pkg/extractor"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/ingest"
	"github.com/llmflow/graphrag/pkg/logging"
	"github.com/llmflow/graphrag/pkg/providers"
	"github.com/llmflow/graphrag/pkg/upstream"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

var (
	buildDocuments []string
	buildDocling   bool
	buildResume    bool
	buildChunkSize int
)

var buildCmd = &cobra.Command{
	Use:   "build <dataset_id>",
	Short: "Build the knowledge graph for a dataset",
	Long: `Build extracts entities and relationships from every completed document in
the dataset and writes them to Neo4j and Qdrant. By default already processed
chunks are skipped, so an interrupted build can simply be rerun; pass
--resume=false to re-extract everything.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID := args[0]
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		llm := providers.NewOpenAILLM(cfg.LLM, logging.Component(logger, "llm"))
		embedder := providers.NewOpenAIEmbedder(cfg.Embedding, logging.Component(logger, "embedder"))

		graph, err := graphstore.New(ctx, cfg.Neo4j, logging.Component(logger, "graphstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer func() { _ = graph.Close(context.Background()) }()

		vectors, err := vectorstore.New(ctx, cfg.Qdrant, embedder, logging.Component(logger, "vectorstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		defer func() { _ = vectors.Close() }()

		dify, err := upstream.Connect(ctx, cfg.Upstream, logging.Component(logger, "upstream"))
		if err != nil {
			return fmt.Errorf("failed to connect to upstream database: %w", err)
		}
		defer dify.Close()

		var files ingest.FileStore
		if cfg.Storage.Endpoint != "" {
			store, err := upstream.NewObjectStore(ctx, cfg.Storage, logging.Component(logger, "storage"))
			if err != nil {
				return fmt.Errorf("failed to init object storage: %w", err)
			}
			files = store
		} else if buildDocling {
			return fmt.Errorf("--docling requires object storage to be configured")
		}

		builder := ingest.NewBuilder(graph, vectors,
			extractor.New(llm, cfg.LLM.ExtractTimeout, logging.Component(logger, "extractor")),
			dify, files, ingest.NewRegistry(), cfg.Build,
			logging.Component(logger, "ingest"))

		opts := ingest.Options{
			DocumentIDs: buildDocuments,
			Resume:      buildResume,
			ChunkSize:   buildChunkSize,
			UseDocling:  buildDocling,
		}
		if err := builder.Start(datasetID, opts); err != nil {
			return err
		}
		builder.Run(ctx, datasetID, opts)

		progress, ok := builder.Registry().Get(datasetID)
		if !ok {
			return fmt.Errorf("build for dataset %s left no progress record", datasetID)
		}

		fmt.Printf("Build %s for dataset %s\n", progress.Status, datasetID)
		fmt.Printf("  documents: %d/%d\n", progress.CompletedDocuments, progress.TotalDocuments)
		fmt.Printf("  segments:  %d completed, %d skipped\n", progress.CompletedSegments, progress.SkippedSegments)
		fmt.Printf("  entities:  %d\n", progress.EntitiesExtracted)
		fmt.Printf("  relations: %d\n", progress.RelationshipsExtracted)
		for _, w := range progress.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if progress.Status == ingest.StatusError {
			return fmt.Errorf("build failed: %s", progress.Error)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildDocuments, "documents", nil, "restrict the build to these document ids")
	buildCmd.Flags().BoolVar(&buildDocling, "docling", false, "chunk source PDFs instead of upstream segments")
	buildCmd.Flags().BoolVar(&buildResume, "resume", true, "skip chunks already marked processed")
	buildCmd.Flags().IntVar(&buildChunkSize, "chunk-size", 0, "override the configured chunk size for this run")
}
