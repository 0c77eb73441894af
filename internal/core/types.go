package core

import "time"

const (
	EngineName    = "MemGate"
	EngineVersion = "0.1.0"
)

// Kind classifies what a remembered item is.
type Kind string

const (
	KindPreference Kind = "preference"
	KindFact       Kind = "fact"
	KindRule       Kind = "rule"
)

// NormalizeKind maps a free-form extractor guess onto the closed enum.
// Anything unrecognized becomes a plain fact.
func NormalizeKind(s string) Kind {
	switch Kind(s) {
	case KindPreference, KindFact, KindRule:
		return Kind(s)
	default:
		return KindFact
	}
}

// Status is the lifecycle state of a memory item. Tombstoned rows stay in
// the store forever but are invisible to every retrieval path.
type Status string

const (
	StatusActive     Status = "active"
	StatusTombstoned Status = "tombstoned"
)

// IndexState tracks whether an item's embedding has been durably written
// to the vector index.
type IndexState string

const (
	IndexPending IndexState = "pending"
	IndexIndexed IndexState = "indexed"
)

// MemoryItem is a single remembered fact. The relational store is the only
// authority on its identity and lifecycle.
type MemoryItem struct {
	ID         string
	Text       string
	Kind       Kind
	Confidence float64
	Status     Status
	IndexState IndexState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HistoryEntry is one message in a conversation thread. Append-only;
// ordering is by Seq, not wall clock.
type HistoryEntry struct {
	ID        int64
	ThreadID  string
	Seq       int64
	Role      Role
	Text      string
	CreatedAt time.Time
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// VectorRecord is a derived, non-authoritative embedding of a memory item
// (or skill). The checksum lets the index detect drift from the store.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Checksum string
}

// ExtractedFact is one candidate fact produced by the extraction collaborator.
type ExtractedFact struct {
	Text string `json:"fact"`
	Kind string `json:"kind"`
}

// ScoredItem is a retrieval result with its fused score.
type ScoredItem struct {
	Item  MemoryItem
	Score float64
}

// LexicalHit is one keyword-search result. Score is BM25-like: unbounded,
// higher is better.
type LexicalHit struct {
	ID    string
	Score float64
}

// VectorHit is one vector-query result. Similarity is cosine, in [-1, 1].
type VectorHit struct {
	ID         string
	Similarity float32
}

// SkillMatch is the best-matching skill for a query, present only when its
// similarity clears the configured threshold.
type SkillMatch struct {
	SkillID    string
	Similarity float32
}

// Context is everything the gate hands back for one query.
type Context struct {
	History []HistoryEntry
	Facts   []ScoredItem
	Skill   *SkillMatch
}
