package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/internal/core"
	"github.com/sandevgo/memgate/pkg/log"
	"github.com/sandevgo/memgate/pkg/retry"
)

// Gate is the single entry point for the memory engine. Callers only ever
// see it; the store, the vector index, the extractor and the sync worker
// stay behind it.
type Gate struct {
	cfg       *config.AppConfig
	history   core.HistoryRepository
	items     core.ItemRepository
	index     core.VectorIndex
	embedder  core.Embedder
	extractor core.Extractor
	deduper   *Deduper
	syncer    *Syncer
	skills    *SkillMatcher
	retrier   *retry.Retrier
}

func NewGate(
	cfg *config.AppConfig,
	history core.HistoryRepository,
	items core.ItemRepository,
	index core.VectorIndex,
	embedder core.Embedder,
	extractor core.Extractor,
	deduper *Deduper,
	syncer *Syncer,
	skills *SkillMatcher,
) *Gate {
	return &Gate{
		cfg:       cfg,
		history:   history,
		items:     items,
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		deduper:   deduper,
		syncer:    syncer,
		skills:    skills,
		retrier:   retry.NewRetrier(retry.NewStoreConfig()),
	}
}

// GetContext assembles everything the agent should see for a query:
// recent history, fused fact retrieval, and an optional skill route. The
// read path degrades instead of failing: a broken retrieval signal is
// logged and dropped, and in the worst case the context comes back empty.
// An error return is reserved for a cancelled context.
func (g *Gate) GetContext(ctx context.Context, threadID, query string) (core.Context, error) {
	if err := ctx.Err(); err != nil {
		return core.Context{}, err
	}
	logger := log.FromCtx(ctx)
	var out core.Context

	var history []core.HistoryEntry
	err := g.withStoreRetry(ctx, func() error {
		var err error
		history, err = g.history.Recent(ctx, threadID, g.cfg.HistoryLimit)
		return err
	})
	if err != nil {
		logger.Warn().Err(err).Str("thread", threadID).Msg("history unavailable, degrading to empty")
	} else {
		out.History = history
	}

	// The query is embedded once and shared between fact retrieval and
	// skill routing.
	queryVec, embedErr := g.embedder.Embed(ctx, query)
	if embedErr != nil {
		logger.Warn().Err(embedErr).Msg("query embedding failed, semantic retrieval disabled for this turn")
	}

	out.Facts = g.retrieveFacts(ctx, query, queryVec)

	if embedErr == nil {
		match, err := g.skills.Match(ctx, queryVec)
		if err != nil {
			logger.Warn().Err(err).Msg("skill routing failed, continuing without a skill")
		} else {
			out.Skill = match
		}
	}

	return out, nil
}

// withStoreRetry retries an operation while it fails with transient store
// contention. Permanent errors come back immediately.
func (g *Gate) withStoreRetry(ctx context.Context, op func() error) error {
	var lastErr error
	retryErr := g.retrier.Do(ctx, func() error {
		lastErr = op()
		if lastErr != nil && !errors.Is(lastErr, core.ErrTransientStore) {
			return nil
		}
		return lastErr
	})
	if retryErr != nil {
		return retryErr
	}
	return lastErr
}

// retrieveFacts fuses the lexical and semantic signals over active items.
// Either signal may be missing; fusion runs on whatever survived.
func (g *Gate) retrieveFacts(ctx context.Context, query string, queryVec []float32) []core.ScoredItem {
	logger := log.FromCtx(ctx)

	var lexical []core.LexicalHit
	err := g.withStoreRetry(ctx, func() error {
		var err error
		lexical, err = g.items.KeywordSearch(ctx, query, g.cfg.SearchLimit)
		return err
	})
	if err != nil {
		logger.Warn().Err(err).Msg("keyword search failed, fusing semantic signal only")
		lexical = nil
	}

	var semantic []core.VectorHit
	if queryVec != nil {
		semantic, err = g.index.Query(ctx, queryVec, g.cfg.SearchLimit)
		if err != nil {
			logger.Warn().Err(err).Msg("vector query failed, fusing lexical signal only")
			semantic = nil
		}
	}

	lexIDs := make([]string, 0, len(lexical))
	for _, h := range lexical {
		lexIDs = append(lexIDs, h.ID)
	}
	vecIDs := make([]string, 0, len(semantic))
	for _, h := range semantic {
		vecIDs = append(vecIDs, h.ID)
	}
	if len(lexIDs) == 0 && len(vecIDs) == 0 {
		return nil
	}

	// Hydration through the store is where tombstones and dangling index
	// records get filtered: only rows the store still considers active
	// make it into the ranking.
	seen := make(map[string]struct{}, len(lexIDs)+len(vecIDs))
	all := make([]string, 0, len(lexIDs)+len(vecIDs))
	for _, id := range append(append([]string{}, lexIDs...), vecIDs...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		all = append(all, id)
	}

	var rows []core.MemoryItem
	err = g.withStoreRetry(ctx, func() error {
		var err error
		rows, err = g.items.GetByIDs(ctx, all)
		return err
	})
	if err != nil {
		logger.Warn().Err(err).Msg("hydration failed, returning no facts")
		return nil
	}

	byID := make(map[string]core.MemoryItem, len(rows))
	updatedAt := make(map[string]time.Time, len(rows))
	for _, it := range rows {
		byID[it.ID] = it
		updatedAt[it.ID] = it.UpdatedAt
	}

	activeOnly := func(ids []string) []string {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := byID[id]; ok {
				kept = append(kept, id)
			}
		}
		return kept
	}
	lexIDs = activeOnly(lexIDs)
	vecIDs = activeOnly(vecIDs)

	fused := fuseRanks([][]string{lexIDs, vecIDs}, updatedAt)

	facts := make([]core.ScoredItem, 0, g.cfg.SearchLimit)
	for _, hit := range fused {
		if len(facts) == g.cfg.SearchLimit {
			break
		}
		facts = append(facts, core.ScoredItem{Item: byID[hit.ID], Score: hit.Score})
	}
	return facts
}

// Process ingests one completed turn. History persistence is the only
// hard requirement; extraction and dedup failures abandon the rest of the
// turn without touching what was already recorded, and indexing happens
// later in the background.
func (g *Gate) Process(ctx context.Context, threadID, userText, agentText string) error {
	logger := log.FromCtx(ctx)

	if _, err := g.history.Append(ctx, threadID, core.RoleUser, userText); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	if _, err := g.history.Append(ctx, threadID, core.RoleAgent, agentText); err != nil {
		return fmt.Errorf("append agent message: %w", err)
	}

	facts, err := g.extractor.Extract(ctx, userText, agentText)
	if err != nil {
		// The turn's history is already durable; extraction can be
		// retried implicitly by future, richer turns.
		logger.Warn().Err(err).Str("thread", threadID).Msg("fact extraction failed, turn recorded without facts")
		return nil
	}
	if len(facts) == 0 {
		return nil
	}

	inserted := 0
	for _, fact := range facts {
		_, isNew, err := g.deduper.Apply(ctx, fact)
		if err != nil {
			logger.Warn().Err(err).Str("fact", fact.Text).Msg("failed to store extracted fact")
			continue
		}
		if isNew {
			inserted++
		}
	}

	if inserted > 0 {
		logger.Debug().Int("new", inserted).Int("extracted", len(facts)).Msg("turn produced new memory items")
	}
	g.syncer.Notify()
	return nil
}

// Remember stores a fact the user dictated verbatim, bypassing extraction
// and dedup.
func (g *Gate) Remember(ctx context.Context, text string, kind core.Kind, confidence float64) (string, error) {
	id, err := g.items.InsertPending(ctx, text, kind, confidence)
	if err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}
	g.syncer.Notify()
	return id, nil
}

// Forget tombstones an item. The index record is removed best-effort: a
// dangling vector is harmless because hydration filters it out, and a
// rebuild drops it entirely.
func (g *Gate) Forget(ctx context.Context, itemID string) error {
	if err := g.items.Tombstone(ctx, itemID); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	if err := g.index.Remove(ctx, itemID); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("item", itemID).Msg("failed to remove vector, will be dropped on rebuild")
		return nil
	}
	// The manifest must follow the removal, otherwise the next startup
	// probe reads a stale count and triggers a needless full rebuild.
	if err := g.index.Flush(); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("item", itemID).Msg("failed to flush index after removal")
	}
	return nil
}

// Audit lists every item ever stored, tombstones included.
func (g *Gate) Audit(ctx context.Context) ([]core.MemoryItem, error) {
	return g.items.AuditList(ctx)
}

// RegisterSkill makes a skill routable by description.
func (g *Gate) RegisterSkill(ctx context.Context, skillID, description string) error {
	return g.skills.Register(ctx, skillID, description)
}
