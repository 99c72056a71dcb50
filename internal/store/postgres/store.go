// Package postgres provides Postgres-backed persistence for producers, posts
// and media records.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediagrab/harvester/internal/harvest"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements the producer, post and media persistence interfaces over
// one pgx pool. Every call is individually atomic; there are no cross-call
// transactions.
type Store struct {
	pool pgxPool
}

// New connects a pool and returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ProducersByKinds lists crawl targets of the given kinds.
func (s *Store) ProducersByKinds(ctx context.Context, kinds []harvest.ProducerKind) ([]harvest.Producer, error) {
	values := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		values = append(values, string(kind))
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, kind, name, last_crawl_at
FROM producers
WHERE kind = ANY($1)
ORDER BY id`, values)
	if err != nil {
		return nil, fmt.Errorf("list producers: %w", err)
	}
	defer rows.Close()

	var producers []harvest.Producer
	for rows.Next() {
		var p harvest.Producer
		var kind string
		if err := rows.Scan(&p.ID, &p.SourceID, &kind, &p.Name, &p.LastCrawlAt); err != nil {
			return nil, fmt.Errorf("scan producer: %w", err)
		}
		p.Kind = harvest.ProducerKind(kind)
		producers = append(producers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate producers: %w", err)
	}
	return producers, nil
}

// AdvanceLastCrawl records a completed crawl of the producer.
func (s *Store) AdvanceLastCrawl(ctx context.Context, producerID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE producers SET last_crawl_at = $2 WHERE id = $1`, producerID, at)
	if err != nil {
		return fmt.Errorf("advance last crawl: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("producer %s not found", producerID)
	}
	return nil
}

// UpsertPost inserts the post or updates the mutable fields on a
// (platform, platform_id) conflict. xmax = 0 distinguishes a fresh insert
// from a conflict update.
func (s *Store) UpsertPost(ctx context.Context, post harvest.Post) (bool, error) {
	var created bool
	err := s.pool.QueryRow(ctx, `
INSERT INTO posts (id, platform, platform_id, producer_id, user_id, created_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (platform, platform_id) DO UPDATE
SET user_id = EXCLUDED.user_id, created_at = EXCLUDED.created_at
RETURNING (xmax = 0)`,
		post.ID, post.Platform, post.PlatformID, post.ProducerID,
		post.UserID, post.CreatedAt, string(post.Status),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert post %s/%s: %w", post.Platform, post.PlatformID, err)
	}
	return created, nil
}

// UpdatePostStatus advances the lifecycle status of one post.
func (s *Store) UpdatePostStatus(ctx context.Context, postID string, status harvest.PostStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET status = $2 WHERE id = $1`, postID, string(status))
	if err != nil {
		return fmt.Errorf("update post status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s not found", postID)
	}
	return nil
}

// NextPendingPost returns the oldest PENDING post from a producer of one of
// the given kinds, or nil when the queue is drained. Empty kinds means no
// kind restriction.
func (s *Store) NextPendingPost(ctx context.Context, kinds []harvest.ProducerKind) (*harvest.Post, error) {
	query := `
SELECT p.id, p.platform, p.platform_id, p.producer_id, p.user_id, p.created_at, p.status
FROM posts p
WHERE p.status = $1
ORDER BY p.created_at
LIMIT 1`
	args := []any{string(harvest.PostStatusPending)}
	if len(kinds) > 0 {
		names := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			names = append(names, string(kind))
		}
		query = `
SELECT p.id, p.platform, p.platform_id, p.producer_id, p.user_id, p.created_at, p.status
FROM posts p
JOIN producers pr ON pr.id = p.producer_id
WHERE p.status = $1 AND pr.kind = ANY($2)
ORDER BY p.created_at
LIMIT 1`
		args = append(args, names)
	}

	var post harvest.Post
	var status string
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&post.ID, &post.Platform, &post.PlatformID, &post.ProducerID,
		&post.UserID, &post.CreatedAt, &status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending post: %w", err)
	}
	post.Status = harvest.PostStatus(status)
	return &post, nil
}

// ExistingMediaURLs reports which of the urls already have records, in one
// batched query.
func (s *Store) ExistingMediaURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(urls))
	if len(urls) == 0 {
		return known, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT origin_url FROM media WHERE origin_url = ANY($1)`, urls)
	if err != nil {
		return nil, fmt.Errorf("check media urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan media url: %w", err)
		}
		known[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media urls: %w", err)
	}
	return known, nil
}

// InsertMedia bulk-inserts the records, ignoring origin URLs that raced in
// since the dedup check. It reports how many rows were actually written.
func (s *Store) InsertMedia(ctx context.Context, records []harvest.MediaRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`
INSERT INTO media (origin_url, gallery_url, thumbnail_url, width, height, post_id, user_id, post_url)
VALUES `)
	args := make([]any, 0, len(records)*8)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			r.OriginURL, r.GalleryURL, r.ThumbnailURL,
			r.Width, r.Height, r.PostID, r.UserID, r.PostURL,
		)
	}
	sb.WriteString(` ON CONFLICT (origin_url) DO NOTHING`)

	tag, err := s.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert media: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
