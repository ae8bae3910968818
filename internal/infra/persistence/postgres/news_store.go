package postgres

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foggle/foggle/internal/schema"
)

const (
	categorySelectSQL = `
SELECT id FROM news_categories
WHERE name = @name AND parent_id IS NOT DISTINCT FROM @parent_id;
`

	categoryInsertSQL = `
INSERT INTO news_categories (name, parent_id)
VALUES (@name, @parent_id)
ON CONFLICT DO NOTHING
RETURNING id;
`

	newsDedupSQL = `
SELECT EXISTS (
    SELECT 1 FROM news_items
    WHERE category_id = @category_id
      AND content_hash = @content_hash
      AND time > @since
);
`

	newsInsertSQL = `
INSERT INTO news_items (id, time, title, content, source, category_id, content_hash)
VALUES (@id, @time, @title, @content, @source, @category_id, @content_hash)
ON CONFLICT (id) DO NOTHING;
`
)

// newsHashPrefix bounds how much of the body feeds the content hash; long
// articles differing only deep in the text still dedup on their lead.
const newsHashPrefix = 512

// newsDedupWindow is how far back an identical story suppresses a re-insert.
const newsDedupWindow = 24 * time.Hour

type categoryKey struct {
	name     string
	parentID int64
}

// NewsStore persists scraped news with near-duplicate suppression and a
// two-level category hierarchy.
type NewsStore struct {
	db querier

	mu         sync.Mutex
	categories map[categoryKey]int64
}

// NewNewsStore constructs a NewsStore backed by the provided pool.
func NewNewsStore(pool *pgxpool.Pool) *NewsStore {
	return newNewsStore(pool)
}

func newNewsStore(db querier) *NewsStore {
	return &NewsStore{db: db, categories: make(map[categoryKey]int64)}
}

// ResolveCategory returns the id for a category, creating it and its parent
// on first sight. An empty parent means a top-level category.
func (s *NewsStore) ResolveCategory(ctx context.Context, name, parent string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("news store: nil pool")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("news store: category name required")
	}

	var parentID int64
	if parent = strings.TrimSpace(parent); parent != "" {
		id, err := s.ResolveCategory(ctx, parent, "")
		if err != nil {
			return 0, err
		}
		parentID = id
	}

	key := categoryKey{name: name, parentID: parentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.categories[key]; ok {
		return id, nil
	}
	id, err := s.lookupOrCreateCategory(ctx, name, parentID)
	if err != nil {
		return 0, err
	}
	s.categories[key] = id
	return id, nil
}

func (s *NewsStore) lookupOrCreateCategory(ctx context.Context, name string, parentID int64) (int64, error) {
	args := pgx.NamedArgs{"name": name, "parent_id": nullableID(parentID)}

	var id int64
	err := s.db.QueryRow(ctx, categorySelectSQL, args).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return 0, fmt.Errorf("news store: category lookup: %w", err)
	}

	err = s.db.QueryRow(ctx, categoryInsertSQL, args).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race to another process.
		err = s.db.QueryRow(ctx, categorySelectSQL, args).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("news store: category insert: %w", err)
	}
	return id, nil
}

// UpsertItem persists a news item unless an identical story already landed
// in the same category within the dedup window. It reports whether a row
// was written.
func (s *NewsStore) UpsertItem(ctx context.Context, item schema.NewsItem) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("news store: nil pool")
	}
	if strings.TrimSpace(item.Title) == "" {
		return false, fmt.Errorf("news store: item title required")
	}
	categoryID, err := s.ResolveCategory(ctx, item.Category, item.Parent)
	if err != nil {
		return false, err
	}

	hash := contentHash(item)
	var exists bool
	dedupArgs := pgx.NamedArgs{
		"category_id":  categoryID,
		"content_hash": hash,
		"since":        item.Time.Add(-newsDedupWindow),
	}
	if err := s.db.QueryRow(ctx, newsDedupSQL, dedupArgs).Scan(&exists); err != nil {
		return false, fmt.Errorf("news store: dedup check: %w", err)
	}
	if exists {
		return false, nil
	}

	args := pgx.NamedArgs{
		"id":           itemID(item, categoryID, hash),
		"time":         item.Time,
		"title":        item.Title,
		"content":      nullableText(item.Content),
		"source":       nullableText(item.Source),
		"category_id":  categoryID,
		"content_hash": hash,
	}
	if _, err := s.db.Exec(ctx, newsInsertSQL, args); err != nil {
		return false, fmt.Errorf("news store: insert item: %w", err)
	}
	return true, nil
}

// contentHash folds the title and the lead of the body into a signed 64-bit
// value; minor trailing edits to a story do not defeat deduplication.
func contentHash(item schema.NewsItem) int64 {
	body := item.Content
	if len(body) > newsHashPrefix {
		body = body[:newsHashPrefix]
	}
	h := fnv.New64a()
	_, _ = io.WriteString(h, strings.TrimSpace(item.Title))
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, strings.TrimSpace(body))
	return int64(h.Sum64())
}

// itemID derives a deterministic UUID so replaying the same story cannot
// produce a second row even past the dedup window.
func itemID(item schema.NewsItem, categoryID, hash int64) uuid.UUID {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(categoryID))
	binary.BigEndian.PutUint64(buf[8:], uint64(hash))
	name := append(buf[:], []byte(strconv.FormatInt(item.Time.Unix(), 10))...)
	return uuid.NewSHA1(uuid.NameSpaceOID, name)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
