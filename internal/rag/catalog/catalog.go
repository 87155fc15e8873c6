// Package catalog implements the Book Catalog Adapter (C11): a read-only
// view onto an external metadata database the RAG core never writes to.
// The owning application may hold its own locks against the same rows, so
// every query retries once on lock contention before giving up.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alexandria/internal/rag/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog is the C11 handle. Schema assumption (spec.md is silent on the
// catalog's own schema): a `books` table keyed by integer id with
// title/authors/language/tags columns, and a `book_paths` table mapping a
// book to one or more (path, format) rows.
type Catalog struct {
	pool *pgxpool.Pool
}

// New wraps an already-open pool; the Catalog never owns pool lifecycle.
func New(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// SearchQuery filters GetAllBooks-style queries; zero-value fields are
// unfiltered.
type SearchQuery struct {
	Author   string
	Title    string
	Language string
	Format   string
	Tags     []string
}

// Stats summarizes the catalog's book/path counts.
type Stats struct {
	BookCount int64
	PathCount int64
}

const lockRetryDelay = 200 * time.Millisecond

// withLockRetry retries fn once if it fails with a Postgres lock-contention
// error (55P03 lock_not_available, 40001 serialization_failure).
func withLockRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isLockError(err) {
		return err
	}
	select {
	case <-time.After(lockRetryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn()
}

func isLockError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "55P03" || pgErr.Code == "40001"
}

const baseBookQuery = `
SELECT b.id, b.title, b.authors, b.language, COALESCE(b.tags, '{}')
FROM books b`

func (c *Catalog) scanBooks(ctx context.Context, query string, args ...any) ([]model.Book, error) {
	var books []model.Book
	err := withLockRetry(ctx, func() error {
		books = nil
		rows, err := c.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b model.Book
			if err := rows.Scan(&b.SourceID, &b.Title, &b.Authors, &b.Language, &b.Tags); err != nil {
				return err
			}
			books = append(books, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: query books: %w", err)
	}
	for i := range books {
		paths, err := c.pathsFor(ctx, books[i].SourceID)
		if err != nil {
			return nil, err
		}
		books[i].Paths = paths
	}
	return books, nil
}

func (c *Catalog) pathsFor(ctx context.Context, sourceID int64) ([]model.BookPath, error) {
	var paths []model.BookPath
	err := withLockRetry(ctx, func() error {
		paths = nil
		rows, err := c.pool.Query(ctx, `SELECT path, format FROM book_paths WHERE book_id = $1`, sourceID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p model.BookPath
			if err := rows.Scan(&p.Path, &p.Format); err != nil {
				return err
			}
			paths = append(paths, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: query paths for book %d: %w", sourceID, err)
	}
	return paths, nil
}

// GetAllBooks returns every book in the catalog.
func (c *Catalog) GetAllBooks(ctx context.Context) ([]model.Book, error) {
	return c.scanBooks(ctx, baseBookQuery+" ORDER BY b.id")
}

// Search filters books by any combination of author/title/language/format/tags.
func (c *Catalog) Search(ctx context.Context, q SearchQuery) ([]model.Book, error) {
	query := baseBookQuery
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Author != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM unnest(b.authors) a WHERE a ILIKE '%' || "+arg(q.Author)+" || '%')")
	}
	if q.Title != "" {
		conds = append(conds, "b.title ILIKE '%' || "+arg(q.Title)+" || '%'")
	}
	if q.Language != "" {
		conds = append(conds, "b.language = "+arg(q.Language))
	}
	if q.Format != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM book_paths bp WHERE bp.book_id = b.id AND bp.format = "+arg(q.Format)+")")
	}
	if len(q.Tags) > 0 {
		conds = append(conds, "b.tags && "+arg(q.Tags))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY b.id"
	return c.scanBooks(ctx, query, args...)
}

// GetByID fetches one book by its source id.
func (c *Catalog) GetByID(ctx context.Context, sourceID int64) (model.Book, bool, error) {
	books, err := c.scanBooks(ctx, baseBookQuery+" WHERE b.id = $1", sourceID)
	if err != nil {
		return model.Book{}, false, err
	}
	if len(books) == 0 {
		return model.Book{}, false, nil
	}
	return books[0], true, nil
}

// MatchFileToBook resolves a physical path to its owning book, if any.
func (c *Catalog) MatchFileToBook(ctx context.Context, path string) (model.Book, bool, error) {
	query := baseBookQuery + " JOIN book_paths bp ON bp.book_id = b.id WHERE bp.path = $1"
	books, err := c.scanBooks(ctx, query, path)
	if err != nil {
		return model.Book{}, false, err
	}
	if len(books) == 0 {
		return model.Book{}, false, nil
	}
	return books[0], true, nil
}

// GetStats reports coarse catalog-level counters.
func (c *Catalog) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := withLockRetry(ctx, func() error {
		row := c.pool.QueryRow(ctx, `SELECT
			(SELECT count(*) FROM books),
			(SELECT count(*) FROM book_paths)`)
		return row.Scan(&s.BookCount, &s.PathCount)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("catalog: stats: %w", err)
	}
	return s, nil
}
