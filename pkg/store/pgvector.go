package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/pkg/logger"
)

var reTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// relatedColumns is the select list scanned by scanRelated, in order.
const relatedColumns = "id, post_url, source_url, COALESCE(title, ''), COALESCE(description, '')"

type rowScanner interface {
	Scan(dest ...any) error
}

type ArchiveConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
	Logger      *slog.Logger
}

// TextEmbedder turns a text into a single vector.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// PostArchive keeps finished posts in Postgres with a pgvector embedding so
// later runs can link to related earlier posts.
type PostArchive struct {
	config   ArchiveConfig
	pool     *pgxpool.Pool
	embedder TextEmbedder
	logger   *slog.Logger
}

func NewWithConfig(ctx context.Context, config ArchiveConfig, embedder TextEmbedder) (*PostArchive, error) {
	if config.TableName == "" {
		config.TableName = "posts"
	}
	if !reTableName.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 3
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}
	if embedder == nil {
		return nil, errors.New("archive: embedder is required")
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &PostArchive{
		config:   config,
		pool:     pool,
		embedder: embedder,
		logger:   config.Logger,
	}

	if err := a.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return a, nil
}

func (a *PostArchive) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := a.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL,
			post_url TEXT NOT NULL DEFAULT '',
			title TEXT,
			description TEXT,
			body TEXT,
			queries TEXT[],
			translated BOOLEAN NOT NULL DEFAULT FALSE,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, a.config.TableName, a.config.VectorDim)
	if _, err := a.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Tables created before posts had a published URL.
	addPostURL := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS post_url TEXT NOT NULL DEFAULT ''`,
		a.config.TableName)
	if _, err := a.pool.Exec(ctx, addPostURL); err != nil {
		return fmt.Errorf("failed to migrate table: %w", err)
	}

	createIndexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING hnsw (embedding vector_cosine_ops)`,
			a.config.TableName, a.config.TableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_url_idx ON %s (source_url)`,
			a.config.TableName, a.config.TableName),
	}
	for _, stmt := range createIndexes {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Save stores a written post, replacing an earlier row with the same ID.
func (a *PostArchive) Save(ctx context.Context, post *models.Post) error {
	vector, err := a.embedder.EmbedText(ctx, embeddingText(post))
	if err != nil {
		return fmt.Errorf("failed to embed post: %w", err)
	}
	if len(vector) != a.config.VectorDim {
		return fmt.Errorf("embedding has %d dimensions, table expects %d", len(vector), a.config.VectorDim)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source_url, post_url, title, description, body, queries, translated, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			post_url = EXCLUDED.post_url,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			body = EXCLUDED.body,
			queries = EXCLUDED.queries,
			translated = EXCLUDED.translated,
			embedding = EXCLUDED.embedding`,
		a.config.TableName)

	_, err = a.pool.Exec(ctx, stmt,
		post.ID,
		post.SourceURL,
		post.URL,
		sanitizeUTF8(post.Title),
		sanitizeUTF8(post.Description),
		sanitizeUTF8(post.Body),
		post.Queries,
		post.Translated,
		pgvector.NewVector(vector),
		post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}

	a.logger.Debug("archived post", "id", post.ID, "title", post.Title)
	return nil
}

// Related returns the published posts closest to text by cosine distance.
// Posts without a post URL cannot be linked and are skipped.
func (a *PostArchive) Related(ctx context.Context, text string, limit int) ([]models.RelatedPost, error) {
	if limit <= 0 {
		limit = a.config.SearchLimit
	}

	vector, err := a.embedder.EmbedText(ctx, sanitizeUTF8(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, embedding <=> $1 AS distance
		FROM %s
		WHERE post_url <> ''
		ORDER BY distance
		LIMIT $2`,
		relatedColumns, a.config.TableName)

	rows, err := a.pool.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var related []models.RelatedPost
	for rows.Next() {
		p, err := scanRelated(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		related = append(related, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read posts: %w", err)
	}

	return related, nil
}

// FindBySource returns the most recent post written from sourceURL, or nil
// when there is none.
func (a *PostArchive) FindBySource(ctx context.Context, sourceURL string) (*models.Post, error) {
	query := fmt.Sprintf(`
		SELECT id, source_url, post_url, COALESCE(title, ''), COALESCE(description, ''), COALESCE(body, ''),
			COALESCE(queries, '{}'), translated, created_at
		FROM %s
		WHERE source_url = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		a.config.TableName)

	var p models.Post
	err := a.pool.QueryRow(ctx, query, sourceURL).Scan(
		&p.ID, &p.SourceURL, &p.URL, &p.Title, &p.Description, &p.Body, &p.Queries, &p.Translated, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", sourceURL, err)
	}
	return &p, nil
}

// scanRelated reads one row of relatedColumns followed by the distance.
func scanRelated(row rowScanner) (models.RelatedPost, error) {
	var p models.RelatedPost
	err := row.Scan(&p.ID, &p.URL, &p.SourceURL, &p.Title, &p.Description, &p.Distance)
	return p, err
}

func (a *PostArchive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// embeddingText is what a post is indexed by: its title and description,
// or the start of the body when those are missing.
func embeddingText(post *models.Post) string {
	text := strings.TrimSpace(post.Title + "\n" + post.Description)
	if text == "" {
		text = post.Body
		if utf8.RuneCountInString(text) > 2000 {
			text = string([]rune(text)[:2000])
		}
	}
	return sanitizeUTF8(text)
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
