package core

import (
	"context"
	"time"
)

// HistoryRepository is the append-only per-thread conversation log.
type HistoryRepository interface {
	Append(ctx context.Context, threadID string, role Role, text string) (HistoryEntry, error)
	Recent(ctx context.Context, threadID string, limit int) ([]HistoryEntry, error)
}

// Sentinel arguments for ItemRepository.Touch when only the updated
// timestamp should change.
const (
	KeepText       = ""
	KeepConfidence = -1.0
)

// ItemRepository is the durable record-of-truth for memory items.
type ItemRepository interface {
	InsertPending(ctx context.Context, text string, kind Kind, confidence float64) (string, error)
	// Touch refreshes an item in place: updated timestamp always, text and
	// confidence when the arguments are not KeepText / KeepConfidence.
	Touch(ctx context.Context, itemID string, newText string, newConfidence float64) error
	Tombstone(ctx context.Context, itemID string) error
	KeywordSearch(ctx context.Context, query string, limit int) ([]LexicalHit, error)
	// MarkIndexed flips pending to indexed only if updated_at still equals
	// seenUpdatedAt; a concurrently touched row stays pending.
	MarkIndexed(ctx context.Context, itemID string, seenUpdatedAt time.Time) error
	ListPending(ctx context.Context) ([]MemoryItem, error)
	ListActive(ctx context.Context) ([]MemoryItem, error)
	GetByIDs(ctx context.Context, ids []string) ([]MemoryItem, error)
	AuditList(ctx context.Context) ([]MemoryItem, error)
}

// VectorIndex is the rebuildable ANN index over item embeddings. Not a
// second source of truth: on any inconsistency it is discarded and rebuilt
// from the relational store.
type VectorIndex interface {
	UpsertBatch(ctx context.Context, records []VectorRecord) error
	Query(ctx context.Context, vector []float32, k int) ([]VectorHit, error)
	Remove(ctx context.Context, id string) error
	Flush() error
}

// SkillIndex is the separate embedding namespace used for skill routing.
type SkillIndex interface {
	UpsertSkill(ctx context.Context, record VectorRecord) error
	QuerySkills(ctx context.Context, vector []float32, k int) ([]VectorHit, error)
}

// Embedder is the external embedding provider. Batch results come back in
// input order; output is deterministic for identical input within a session.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor is the external fact-extraction collaborator. An empty slice is
// a valid result (nothing worth remembering in the turn).
type Extractor interface {
	Extract(ctx context.Context, userText, agentText string) ([]ExtractedFact, error)
}
