package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
)

// Document is an upstream platform document.
type Document struct {
	ID        string
	Name      string
	DatasetID string
	FileID    string
}

// Segment is one pre-chunked unit of document text, ordered by position.
type Segment struct {
	ID         string
	DocumentID string
	Position   int
	Content    string
}

// Querier is the subset of pgxpool the client needs. Tests substitute a
// fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client reads documents and segments from the document platform's Postgres
// database. The service never writes to it.
type Client struct {
	db     Querier
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu       sync.RWMutex
	docNames map[string]string
}

// Connect opens a pooled read-only connection to the platform database.
func Connect(ctx context.Context, cfg config.UpstreamConfig, logger zerolog.Logger) (*Client, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: upstream db: %v", domain.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: upstream db ping: %v", domain.ErrStoreUnavailable, err)
	}
	return NewClient(pool, pool, logger), nil
}

// NewClient wraps an existing querier. pool may be nil in tests.
func NewClient(db Querier, pool *pgxpool.Pool, logger zerolog.Logger) *Client {
	return &Client{db: db, pool: pool, logger: logger, docNames: make(map[string]string)}
}

// Close releases the pool.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Documents lists the completed, enabled documents of a dataset.
func (c *Client) Documents(ctx context.Context, datasetID string) ([]Document, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id::text, name, dataset_id::text, COALESCE(data_source_info, '')
		FROM documents
		WHERE dataset_id = $1
		  AND enabled = true
		  AND indexing_status = 'completed'
		  AND archived = false
		ORDER BY position`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var sourceInfo string
		if err := rows.Scan(&d.ID, &d.Name, &d.DatasetID, &sourceInfo); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.FileID = uploadFileID(sourceInfo)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// uploadFileID digs the upload file id out of the document's
// data_source_info JSON blob. Empty when the document was not file-based.
func uploadFileID(sourceInfo string) string {
	if sourceInfo == "" {
		return ""
	}
	var info struct {
		UploadFileID string `json:"upload_file_id"`
	}
	if err := json.Unmarshal([]byte(sourceInfo), &info); err != nil {
		return ""
	}
	return info.UploadFileID
}

// Segments returns a document's enabled segments ordered by position.
func (c *Client) Segments(ctx context.Context, documentID string) ([]Segment, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id::text, document_id::text, position, content
		FROM document_segments
		WHERE document_id = $1
		  AND enabled = true
		  AND status = 'completed'
		ORDER BY position`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var s Segment
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.Position, &s.Content); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}

// DocumentName resolves a document id to its display name, memoized for the
// lifetime of the client. Unknown ids resolve to the id itself.
func (c *Client) DocumentName(ctx context.Context, documentID string) string {
	if documentID == "" {
		return ""
	}

	c.mu.RLock()
	name, ok := c.docNames[documentID]
	c.mu.RUnlock()
	if ok {
		return name
	}

	err := c.db.QueryRow(ctx, `SELECT name FROM documents WHERE id = $1`, documentID).Scan(&name)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			c.logger.Warn().Err(err).Str("document_id", documentID).Msg("document name lookup failed")
		}
		return documentID
	}

	c.mu.Lock()
	c.docNames[documentID] = name
	c.mu.Unlock()
	return name
}

// FileKey resolves an upload file id to its object storage key.
func (c *Client) FileKey(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", fmt.Errorf("%w: document has no upload file", domain.ErrNotFound)
	}
	var key string
	err := c.db.QueryRow(ctx, `SELECT key FROM upload_files WHERE id = $1`, fileID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: upload file %s", domain.ErrNotFound, fileID)
	}
	if err != nil {
		return "", fmt.Errorf("query upload file: %w", err)
	}
	return key, nil
}

// SearchDocuments finds documents of a dataset whose name contains the term,
// used to offer clarification choices.
func (c *Client) SearchDocuments(ctx context.Context, datasetID, term string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := c.db.Query(ctx, `
		SELECT id::text, name, dataset_id::text
		FROM documents
		WHERE dataset_id = $1
		  AND enabled = true
		  AND name ILIKE '%' || $2 || '%'
		ORDER BY name
		LIMIT $3`, datasetID, term, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Name, &d.DatasetID); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
