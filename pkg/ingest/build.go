package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
	"github.com/llmflow/graphrag/pkg/upstream"
)

// GraphWriter is the graph store surface the pipeline writes through.
type GraphWriter interface {
	UpsertEntities(ctx context.Context, entities []domain.Entity) error
	UpsertRelationships(ctx context.Context, rels []domain.Relationship, datasetID string) (int, error)
	ProcessedChunkIDs(ctx context.Context, datasetID string) (map[string]bool, error)
	MarkChunkProcessed(ctx context.Context, datasetID, documentID, chunkID string, entityCount int) error
	UpdateEntityPages(ctx context.Context, datasetID, documentID string, pages map[string]int) (int, error)
}

// VectorIndexer indexes extracted entities for semantic search.
type VectorIndexer interface {
	IndexEntities(ctx context.Context, entities []domain.Entity) error
}

// ChunkExtractor runs the two LLM extraction passes over one chunk.
type ChunkExtractor interface {
	ExtractEntities(ctx context.Context, chunk domain.Chunk, datasetID string) ([]domain.Entity, error)
	ExtractRelationships(ctx context.Context, chunk domain.Chunk, entities []domain.Entity, datasetID string) ([]domain.Relationship, error)
}

// DocumentSource lists documents and their pre-chunked segments.
type DocumentSource interface {
	Documents(ctx context.Context, datasetID string) ([]upstream.Document, error)
	Segments(ctx context.Context, documentID string) ([]upstream.Segment, error)
	FileKey(ctx context.Context, fileID string) (string, error)
}

// FileStore downloads source files for the in-process PDF path.
type FileStore interface {
	Download(ctx context.Context, key string) (string, error)
}

// Options selects what a build run covers.
type Options struct {
	// DocumentIDs restricts the build to specific documents. Empty means
	// all documents of the dataset.
	DocumentIDs []string
	// Resume skips chunks already recorded in the graph. Without it every
	// chunk is re-extracted, which is the only way to pick up content
	// changes in a chunk that was already marked done.
	Resume bool
	// ChunkSize overrides the configured chunk size for this run.
	ChunkSize int
	// UseDocling re-parses the source PDFs in process instead of reading
	// the upstream segment table, yielding page-accurate chunks.
	UseDocling bool
	// OCRLanguages is accepted for parser compatibility; the in-process
	// PDF reader extracts embedded text only.
	OCRLanguages []string
}

func (o Options) chunkSize(fallback int) int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return fallback
}

// Builder runs the extraction pipeline for a dataset. In resume mode chunks
// already recorded in the graph are skipped, so an interrupted build picks
// up where it stopped; a non-resume run re-extracts everything.
type Builder struct {
	graph     GraphWriter
	vectors   VectorIndexer
	extractor ChunkExtractor
	source    DocumentSource
	files     FileStore
	registry  *Registry
	cfg       config.BuildConfig
	logger    zerolog.Logger
}

// NewBuilder wires the pipeline. files may be nil when the docling path is
// not configured.
func NewBuilder(graph GraphWriter, vectors VectorIndexer, extractor ChunkExtractor,
	source DocumentSource, files FileStore, registry *Registry,
	cfg config.BuildConfig, logger zerolog.Logger) *Builder {
	return &Builder{
		graph:     graph,
		vectors:   vectors,
		extractor: extractor,
		source:    source,
		files:     files,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Registry exposes the progress registry for status handlers.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// Start claims the dataset and runs the build in the calling goroutine.
// Handlers call it from a spawned goroutine after Claim succeeds.
func (b *Builder) Start(datasetID string, opts Options) error {
	return b.registry.Start(datasetID, opts.Resume, opts.UseDocling)
}

// Run executes a claimed build to completion and records the outcome. The
// caller must have claimed the dataset via Start.
func (b *Builder) Run(ctx context.Context, datasetID string, opts Options) {
	err := b.run(ctx, datasetID, opts)
	b.registry.Finish(datasetID, err)
	if err != nil {
		b.logger.Error().Err(err).Str("dataset_id", datasetID).Msg("build failed")
	} else {
		b.logger.Info().Str("dataset_id", datasetID).Msg("build completed")
	}
}

func (b *Builder) run(ctx context.Context, datasetID string, opts Options) error {
	docs, err := b.source.Documents(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	docs = filterDocuments(docs, opts.DocumentIDs)
	if len(docs) == 0 {
		return fmt.Errorf("%w: no documents in dataset %s", domain.ErrNotFound, datasetID)
	}

	done := map[string]bool{}
	if opts.Resume {
		done, err = b.graph.ProcessedChunkIDs(ctx, datasetID)
		if err != nil {
			return fmt.Errorf("load processed chunks: %w", err)
		}
	}
	if len(opts.OCRLanguages) > 0 {
		b.logger.Debug().Strs("ocr_languages", opts.OCRLanguages).
			Msg("ocr languages requested; embedded text extraction does not use them")
	}

	b.registry.Update(datasetID, func(p *Progress) {
		p.TotalDocuments = len(docs)
	})

	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.registry.Update(datasetID, func(p *Progress) {
			p.CurrentDocument = doc.Name
		})

		if err := b.processDocument(ctx, datasetID, doc, opts, done); err != nil {
			// One broken document should not sink the dataset.
			b.warn(datasetID, fmt.Sprintf("document %s: %v", doc.Name, err))
		}

		b.registry.Update(datasetID, func(p *Progress) {
			p.CompletedDocuments++
		})
	}
	return nil
}

func (b *Builder) processDocument(ctx context.Context, datasetID string, doc upstream.Document, opts Options, done map[string]bool) error {
	chunks, err := b.chunksForDocument(ctx, doc, opts)
	if err != nil {
		return err
	}

	b.registry.Update(datasetID, func(p *Progress) {
		p.TotalSegments += len(chunks)
	})

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if done[chunk.ChunkID] {
			b.registry.Update(datasetID, func(p *Progress) {
				p.SkippedSegments++
			})
			continue
		}

		if err := b.processChunk(ctx, datasetID, doc, chunk); err != nil {
			b.warn(datasetID, fmt.Sprintf("chunk %s: %v", chunk.ChunkID, err))
		}
		done[chunk.ChunkID] = true

		b.registry.Update(datasetID, func(p *Progress) {
			p.CompletedSegments++
		})

		// Pace extraction calls so the LLM endpoint is not flooded.
		if b.cfg.ChunkSleep > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.ChunkSleep):
			}
		}
	}
	return nil
}

func (b *Builder) processChunk(ctx context.Context, datasetID string, doc upstream.Document, chunk domain.Chunk) error {
	entities, err := b.extractor.ExtractEntities(ctx, chunk, datasetID)
	if err != nil {
		return err
	}

	if len(entities) > 0 {
		if err := b.graph.UpsertEntities(ctx, entities); err != nil {
			return err
		}
		if err := b.vectors.IndexEntities(ctx, entities); err != nil {
			return err
		}

		rels, err := b.extractor.ExtractRelationships(ctx, chunk, entities, datasetID)
		if err != nil {
			return err
		}
		if len(rels) > 0 {
			if _, err := b.graph.UpsertRelationships(ctx, rels, datasetID); err != nil {
				return err
			}
		}

		b.registry.Update(datasetID, func(p *Progress) {
			p.EntitiesExtracted += len(entities)
			p.RelationshipsExtracted += len(rels)
		})
	}

	// The marker makes zero-entity chunks resumable too.
	return b.graph.MarkChunkProcessed(ctx, datasetID, doc.ID, chunk.ChunkID, len(entities))
}

func (b *Builder) chunksForDocument(ctx context.Context, doc upstream.Document, opts Options) ([]domain.Chunk, error) {
	if opts.UseDocling {
		return b.doclingChunks(ctx, doc, opts.chunkSize(b.cfg.ChunkSize))
	}
	return b.segmentChunks(ctx, doc)
}

func (b *Builder) segmentChunks(ctx context.Context, doc upstream.Document) ([]domain.Chunk, error) {
	segments, err := b.source.Segments(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.Chunk, 0, len(segments))
	for i, seg := range segments {
		chunks = append(chunks, domain.Chunk{
			ChunkID:    domain.ChunkID(doc.ID, domain.ChunkSourceSegments, i),
			DocumentID: doc.ID,
			Index:      i,
			Content:    seg.Content,
		})
	}
	return chunks, nil
}

func (b *Builder) doclingChunks(ctx context.Context, doc upstream.Document, chunkSize int) ([]domain.Chunk, error) {
	if b.files == nil {
		return nil, fmt.Errorf("object storage not configured")
	}

	key, err := b.source.FileKey(ctx, doc.FileID)
	if err != nil {
		return nil, err
	}
	path, err := b.files.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	pages, err := upstream.ExtractPageTexts(path)
	if err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	index := 0
	for pageNo, pageText := range pages {
		for _, content := range upstream.ChunkText(pageText, chunkSize) {
			chunks = append(chunks, domain.Chunk{
				ChunkID:    domain.ChunkID(doc.ID, domain.ChunkSourceDocling, index),
				DocumentID: doc.ID,
				Index:      index,
				Content:    content,
				Page:       pageNo + 1,
			})
			index++
		}
	}
	return chunks, nil
}

// UpdatePageMapping re-derives page numbers for a document's already
// extracted entities by matching segment text against the source PDF. Text
// overlap wins; position-proportional estimation covers the rest.
func (b *Builder) UpdatePageMapping(ctx context.Context, datasetID string, doc upstream.Document) (int, error) {
	if b.files == nil {
		return 0, fmt.Errorf("object storage not configured")
	}

	key, err := b.source.FileKey(ctx, doc.FileID)
	if err != nil {
		return 0, err
	}
	path, err := b.files.Download(ctx, key)
	if err != nil {
		return 0, err
	}
	defer os.Remove(path)

	index, err := upstream.BuildPageIndex(path)
	if err != nil {
		return 0, err
	}

	segments, err := b.source.Segments(ctx, doc.ID)
	if err != nil {
		return 0, err
	}

	pages := make(map[string]int, len(segments))
	for i, seg := range segments {
		page := index.FindPage(seg.Content)
		if page == 0 {
			page = index.ProportionalPage(i, len(segments))
		}
		if page > 0 {
			pages[domain.ChunkID(doc.ID, domain.ChunkSourceSegments, i)] = page
		}
	}

	return b.graph.UpdateEntityPages(ctx, datasetID, doc.ID, pages)
}

func (b *Builder) warn(datasetID, msg string) {
	b.logger.Warn().Str("dataset_id", datasetID).Msg(msg)
	b.registry.Update(datasetID, func(p *Progress) {
		p.Warnings = append(p.Warnings, msg)
	})
}

func filterDocuments(docs []upstream.Document, ids []string) []upstream.Document {
	if len(ids) == 0 {
		return docs
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := docs[:0]
	for _, d := range docs {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	return out
}
