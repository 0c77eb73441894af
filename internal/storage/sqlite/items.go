package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/memgate/internal/core"
)

type ItemRepo struct {
	db *sql.DB
}

func NewItemRepo(db *sql.DB) *ItemRepo {
	return &ItemRepo{db: db}
}

// InsertPending creates a new memory item in index state pending. The
// identifier is minted here and never reused.
func (r *ItemRepo) InsertPending(ctx context.Context, text string, kind core.Kind, confidence float64) (string, error) {
	id := "mem_" + uuid.NewString()
	now := formatTime(time.Now().UTC())

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memory_items (id, text, kind, confidence, status, index_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, text, string(kind), confidence, string(core.StatusActive), string(core.IndexPending), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert memory item: %w", classify(err))
	}
	return id, nil
}

// Touch refreshes an existing item without creating a new identity. A
// changed text flips the item back to pending so the vector index gets the
// new embedding.
func (r *ItemRepo) Touch(ctx context.Context, itemID string, newText string, newConfidence float64) error {
	now := formatTime(time.Now().UTC())

	query := `UPDATE memory_items SET updated_at = ?`
	args := []any{now}

	if newText != core.KeepText {
		query += `, text = ?, index_state = ?`
		args = append(args, newText, string(core.IndexPending))
	}
	if newConfidence >= 0 {
		query += `, confidence = ?`
		args = append(args, newConfidence)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, itemID, string(core.StatusActive))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to touch memory item: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("touch %s: %w", itemID, core.ErrNotFound)
	}
	return nil
}

// Tombstone soft-deletes an item. The row is kept for audit but excluded
// from every retrieval path.
func (r *ItemRepo) Tombstone(ctx context.Context, itemID string) error {
	now := formatTime(time.Now().UTC())
	res, err := r.db.ExecContext(ctx,
		`UPDATE memory_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(core.StatusTombstoned), now, itemID, string(core.StatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to tombstone memory item: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tombstone %s: %w", itemID, core.ErrNotFound)
	}
	return nil
}

// KeywordSearch runs a BM25-ranked full-text query over active items.
// Pending items are searchable immediately; only tombstones are excluded.
func (r *ItemRepo) KeywordSearch(ctx context.Context, query string, limit int) ([]core.LexicalHit, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	// bm25() is lower-is-better; negate so callers see higher-is-better.
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, -bm25(memory_items_fts) AS score
		FROM memory_items_fts
		JOIN memory_items m ON m.rowid = memory_items_fts.rowid
		WHERE memory_items_fts MATCH ? AND m.status = ?
		ORDER BY bm25(memory_items_fts)
		LIMIT ?`,
		match, string(core.StatusActive), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", classify(err))
	}
	defer rows.Close()

	var hits []core.LexicalHit
	for rows.Next() {
		var h core.LexicalHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// MarkIndexed flips an item to indexed, but only if the row still carries
// the updated timestamp the syncer read. A concurrent touch bumps
// updated_at and resets index_state, and that fresher text must win: the
// guarded update matches zero rows, the item stays pending and the next
// sync pass re-embeds it.
func (r *ItemRepo) MarkIndexed(ctx context.Context, itemID string, seenUpdatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE memory_items SET index_state = ? WHERE id = ? AND updated_at = ?`,
		string(core.IndexIndexed), itemID, formatTime(seenUpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to mark item indexed: %w", classify(err))
	}
	return nil
}

// ListPending returns all active items still waiting for vector indexing,
// oldest first.
func (r *ItemRepo) ListPending(ctx context.Context) ([]core.MemoryItem, error) {
	return r.list(ctx,
		`SELECT id, text, kind, confidence, status, index_state, created_at, updated_at
		 FROM memory_items WHERE index_state = ? AND status = ? ORDER BY created_at ASC`,
		string(core.IndexPending), string(core.StatusActive),
	)
}

// ListActive returns every active item regardless of index state. This is
// the stream a vector index rebuild consumes.
func (r *ItemRepo) ListActive(ctx context.Context) ([]core.MemoryItem, error) {
	return r.list(ctx,
		`SELECT id, text, kind, confidence, status, index_state, created_at, updated_at
		 FROM memory_items WHERE status = ? ORDER BY created_at ASC`,
		string(core.StatusActive),
	)
}

// GetByIDs hydrates items for the given identifiers. Tombstoned and unknown
// ids are silently skipped: the vector index may briefly hold dangling
// records, and this is where soft delete is honored at query time.
func (r *ItemRepo) GetByIDs(ctx context.Context, ids []string) ([]core.MemoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, string(core.StatusActive))

	return r.list(ctx, fmt.Sprintf(
		`SELECT id, text, kind, confidence, status, index_state, created_at, updated_at
		 FROM memory_items WHERE id IN (%s) AND status = ?`, placeholders),
		args...,
	)
}

// AuditList enumerates every row including tombstones, oldest first.
func (r *ItemRepo) AuditList(ctx context.Context) ([]core.MemoryItem, error) {
	return r.list(ctx,
		`SELECT id, text, kind, confidence, status, index_state, created_at, updated_at
		 FROM memory_items ORDER BY created_at ASC`,
	)
}

func (r *ItemRepo) list(ctx context.Context, query string, args ...any) ([]core.MemoryItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory items: %w", classify(err))
	}
	defer rows.Close()

	var items []core.MemoryItem
	for rows.Next() {
		var it core.MemoryItem
		var kind, status, indexState, createdAt, updatedAt string
		if err := rows.Scan(&it.ID, &it.Text, &kind, &it.Confidence, &status, &indexState, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory item: %w", err)
		}
		it.Kind = core.Kind(kind)
		it.Status = core.Status(status)
		it.IndexState = core.IndexState(indexState)
		it.CreatedAt = parseTime(createdAt)
		it.UpdatedAt = parseTime(updatedAt)
		items = append(items, it)
	}
	return items, rows.Err()
}

// ftsMatchExpr turns free text into a safe FTS5 match expression: quoted
// tokens joined with OR. FTS operators in user input are neutralized.
func ftsMatchExpr(query string) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// classify tags recoverable SQLite contention so callers can retry with
// backoff instead of failing the turn.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return fmt.Errorf("%w: %v", core.ErrTransientStore, err)
	}
	return err
}
