package graphrag

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llmflow/graphrag/api"
	"github.com/llmflow/graphrag/api/handlers"
	"github.com/llmflow/graphrag/pkg/conversation"
	"github.com/llmflow/graphrag/pkg/extractor"
	"github.com/llmflow/graphrag/pkg/graphstore"
	"github.com/llmflow/graphrag/pkg/ingest"
	"github.com/llmflow/graphrag/pkg/logging"
	"github.com/llmflow/graphrag/pkg/providers"
	"github.com/llmflow/graphrag/pkg/search"
	"github.com/llmflow/graphrag/pkg/upstream"
	"github.com/llmflow/graphrag/pkg/vectorstore"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}

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
		defer func() {
			if err := graph.Close(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("graph store close failed")
			}
		}()

		vectors, err := vectorstore.New(ctx, cfg.Qdrant, embedder, logging.Component(logger, "vectorstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		defer func() {
			if err := vectors.Close(); err != nil {
				logger.Warn().Err(err).Msg("vector store close failed")
			}
		}()

		dify, err := upstream.Connect(ctx, cfg.Upstream, logging.Component(logger, "upstream"))
		if err != nil {
			return fmt.Errorf("failed to connect to upstream database: %w", err)
		}
		defer dify.Close()

		// The object store is only needed for the docling build path and
		// page mapping; the server still works without it.
		var files ingest.FileStore
		if cfg.Storage.Endpoint != "" {
			store, err := upstream.NewObjectStore(ctx, cfg.Storage, logging.Component(logger, "storage"))
			if err != nil {
				return fmt.Errorf("failed to init object storage: %w", err)
			}
			files = store
		} else {
			logger.Warn().Msg("object storage not configured, PDF page features disabled")
		}

		ex := extractor.New(llm, cfg.LLM.ExtractTimeout, logging.Component(logger, "extractor"))
		builder := ingest.NewBuilder(graph, vectors, ex, dify, files,
			ingest.NewRegistry(), cfg.Build, logging.Component(logger, "ingest"))

		hybrid := search.NewService(vectors, graph, cfg.Search, logging.Component(logger, "search"))
		narrator := search.NewNarrator(graph, llm, dify, logging.Component(logger, "narrator"))
		nlquery := search.NewNLQuery(graph, llm, hybrid, narrator, dify, logging.Component(logger, "nlquery"))

		sessions := conversation.NewSessions(cfg.Session, logging.Component(logger, "sessions"))
		defer func() {
			if err := sessions.Close(); err != nil {
				logger.Warn().Err(err).Msg("session store close failed")
			}
		}()

		engine, err := conversation.NewEngine(graph, sessions, hybrid, narrator, llm,
			logging.Component(logger, "conversation"))
		if err != nil {
			return fmt.Errorf("failed to build conversation engine: %w", err)
		}
		engine.SetOptionResolver(conversation.NewDynamicOptions(dify, graph,
			logging.Component(logger, "conversation")))
		engine.SetDocumentFinder(dify)
		engine.SetClassifyTimeout(cfg.LLM.ClassifyTimeout)

		h := &handlers.Handlers{
			Graph:     graph,
			Vectors:   vectors,
			Extractor: ex,
			Search:    hybrid,
			NLQuery:   nlquery,
			Narrator:  narrator,
			Builder:   builder,
			Upstream:  dify,
			Engine:    engine,
			Sessions:  sessions,
			Logger:    logging.Component(logger, "api"),
		}

		server := api.NewServer(cfg.Server, h, logging.Component(logger, "server"))
		return server.Start()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host (overrides config)")
}
