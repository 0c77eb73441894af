package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sandevgo/memgate/internal/core"
	"github.com/sandevgo/memgate/pkg/log"
)

// maxHistoryTextLen caps stored message text. Long tool dumps and pasted
// documents do not belong in the turn log.
const maxHistoryTextLen = 1500

// truncateText cuts text down to at most max bytes without splitting a
// multi-byte rune. The cut backs up to the nearest rune boundary, so the
// result is always valid UTF-8.
func truncateText(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

type HistoryRepo struct {
	db *sql.DB
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Append writes one message to the thread log. The sequence number is
// assigned inside the transaction, so ordering stays correct under clock
// skew and concurrent writers.
func (h *HistoryRepo) Append(ctx context.Context, threadID string, role core.Role, text string) (core.HistoryEntry, error) {
	text = truncateText(text, maxHistoryTextLen)

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return core.HistoryEntry{}, classify(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM thread_history WHERE thread_id = ?`,
		threadID,
	).Scan(&seq)
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("failed to compute next seq: %w", classify(err))
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO thread_history (thread_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		threadID, seq, string(role), text, formatTime(now),
	)
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("failed to insert history entry: %w", classify(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.HistoryEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.HistoryEntry{}, classify(err)
	}

	return core.HistoryEntry{
		ID:        id,
		ThreadID:  threadID,
		Seq:       seq,
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}, nil
}

// Recent returns the last `limit` entries of a thread, most-recent-last.
func (h *HistoryRepo) Recent(ctx context.Context, threadID string, limit int) ([]core.HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, seq, role, text, created_at FROM thread_history WHERE thread_id = ? ORDER BY seq DESC LIMIT ?`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", classify(err))
	}
	defer rows.Close()

	var entries []core.HistoryEntry
	for rows.Next() {
		var e core.HistoryEntry
		var role, createdAt string
		if err := rows.Scan(&e.ID, &e.Seq, &role, &e.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.ThreadID = threadID
		e.Role = core.Role(role)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	// The query returns newest first; reverse back to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	log.FromCtx(ctx).Debug().Int("count", len(entries)).Str("thread", threadID).Msg("loaded thread history")
	return entries, nil
}
