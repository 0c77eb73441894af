package memory

import (
	"context"
	"fmt"

	"github.com/sandevgo/memgate/internal/core"
	"github.com/sandevgo/memgate/pkg/log"
)

// Syncer moves items from "durable but pending" to "fully indexed", off
// the request path. It is the only writer of the vector index's item
// collection, which makes batch upserts exclusive with themselves.
type Syncer struct {
	items    core.ItemRepository
	index    core.VectorIndex
	embedder core.Embedder
	trigger  chan struct{}
}

func NewSyncer(items core.ItemRepository, index core.VectorIndex, embedder core.Embedder) *Syncer {
	return &Syncer{
		items:    items,
		index:    index,
		embedder: embedder,
		// Buffered by one so triggers coalesce: a burst of turns causes
		// at most one queued run.
		trigger: make(chan struct{}, 1),
	}
}

// Notify schedules a sync run. Never blocks the caller.
func (s *Syncer) Notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start is the worker loop. Failed runs are logged and left for the next
// trigger; affected rows stay pending, so nothing is lost.
func (s *Syncer) Start(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	logger.Info().Msg("starting index syncer")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.trigger:
			if err := s.RunOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("index sync failed, will retry on next turn")
			}
		}
	}
}

func (s *Syncer) Shutdown(ctx context.Context) error {
	return nil
}

// RunOnce performs one sync pass. Ordering is the whole point: rows are
// marked indexed only after the vector index has durably confirmed the
// write. A crash anywhere before MarkIndexed leaves rows pending, and the
// next pass re-upserts them; a same-id upsert replaces instead of duplicating.
func (s *Syncer) RunOnce(ctx context.Context) error {
	pending, err := s.items.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("%w: list pending: %v", core.ErrSync, err)
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, 0, len(pending))
	for _, it := range pending {
		texts = append(texts, it.Text)
	}

	// One batch call: per-item embedding requests dominate cost.
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed batch: %v", core.ErrSync, err)
	}
	if len(vectors) != len(pending) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d texts", core.ErrSync, len(vectors), len(pending))
	}

	records := make([]core.VectorRecord, 0, len(pending))
	for i, it := range pending {
		records = append(records, core.VectorRecord{
			ID:       it.ID,
			Vector:   vectors[i],
			Checksum: core.TextChecksum(it.Text),
		})
	}

	if err := s.index.UpsertBatch(ctx, records); err != nil {
		return fmt.Errorf("%w: upsert batch: %v", core.ErrSync, err)
	}
	if err := s.index.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", core.ErrSync, err)
	}

	for _, it := range pending {
		// Guarded by the updated timestamp read above: a row touched while
		// this run was in flight stays pending and is re-embedded next pass.
		if err := s.items.MarkIndexed(ctx, it.ID, it.UpdatedAt); err != nil {
			// The row stays pending and the next pass re-upserts it.
			return fmt.Errorf("%w: mark indexed %s: %v", core.ErrSync, it.ID, err)
		}
	}

	log.FromCtx(ctx).Debug().Int("count", len(pending)).Msg("synced pending items to vector index")
	return nil
}
