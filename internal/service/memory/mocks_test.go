package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandevgo/memgate/internal/core"
)

// memItems is an in-memory ItemRepository with deterministic identifiers.
type memItems struct {
	mu         sync.Mutex
	rows       map[string]core.MemoryItem
	order      []string
	seq        int
	insertErr  error
	touchErr   error
	getErr     error
	keyword    []core.LexicalHit
	keywordErr error
	touched    []string
}

func newMemItems() *memItems {
	return &memItems{rows: make(map[string]core.MemoryItem)}
}

func (m *memItems) InsertPending(_ context.Context, text string, kind core.Kind, confidence float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return "", m.insertErr
	}
	m.seq++
	id := fmt.Sprintf("mem_%d", m.seq)
	now := time.Now().UTC()
	m.rows[id] = core.MemoryItem{
		ID: id, Text: text, Kind: kind, Confidence: confidence,
		Status: core.StatusActive, IndexState: core.IndexPending,
		CreatedAt: now, UpdatedAt: now,
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *memItems) Touch(_ context.Context, itemID string, newText string, newConfidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	it, ok := m.rows[itemID]
	if !ok || it.Status != core.StatusActive {
		return core.ErrNotFound
	}
	if newText != core.KeepText {
		it.Text = newText
		it.IndexState = core.IndexPending
	}
	if newConfidence >= 0 {
		it.Confidence = newConfidence
	}
	it.UpdatedAt = time.Now().UTC()
	m.rows[itemID] = it
	m.touched = append(m.touched, itemID)
	return nil
}

func (m *memItems) Tombstone(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.rows[itemID]
	if !ok || it.Status != core.StatusActive {
		return core.ErrNotFound
	}
	it.Status = core.StatusTombstoned
	m.rows[itemID] = it
	return nil
}

func (m *memItems) KeywordSearch(_ context.Context, _ string, _ int) ([]core.LexicalHit, error) {
	if m.keywordErr != nil {
		return nil, m.keywordErr
	}
	return m.keyword, nil
}

func (m *memItems) MarkIndexed(_ context.Context, itemID string, seenUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.rows[itemID]
	if !ok || !it.UpdatedAt.Equal(seenUpdatedAt) {
		return nil
	}
	it.IndexState = core.IndexIndexed
	m.rows[itemID] = it
	return nil
}

func (m *memItems) ListPending(_ context.Context) ([]core.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.MemoryItem
	for _, id := range m.order {
		it := m.rows[id]
		if it.Status == core.StatusActive && it.IndexState == core.IndexPending {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memItems) ListActive(_ context.Context) ([]core.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.MemoryItem
	for _, id := range m.order {
		if it := m.rows[id]; it.Status == core.StatusActive {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memItems) GetByIDs(_ context.Context, ids []string) ([]core.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []core.MemoryItem
	for _, id := range ids {
		if it, ok := m.rows[id]; ok && it.Status == core.StatusActive {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memItems) AuditList(_ context.Context) ([]core.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.MemoryItem
	for _, id := range m.order {
		out = append(out, m.rows[id])
	}
	return out, nil
}

func (m *memItems) put(it core.MemoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[it.ID]; !ok {
		m.order = append(m.order, it.ID)
	}
	m.rows[it.ID] = it
}

// fakeIndex implements both VectorIndex and SkillIndex with scripted hits.
type fakeIndex struct {
	mu        sync.Mutex
	hits      []core.VectorHit
	queryErr  error
	upserts   [][]core.VectorRecord
	upsertErr error
	onUpsert  func()
	flushErr  error
	flushes   int
	removed   []string
	skillHits []core.VectorHit
	skills    map[string]core.VectorRecord
}

func (f *fakeIndex) UpsertBatch(_ context.Context, records []core.VectorRecord) error {
	if f.onUpsert != nil {
		f.onUpsert()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, records)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, _ int) ([]core.VectorHit, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.hits, nil
}

func (f *fakeIndex) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeIndex) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushErr != nil {
		return f.flushErr
	}
	f.flushes++
	return nil
}

func (f *fakeIndex) UpsertSkill(_ context.Context, record core.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.skills == nil {
		f.skills = make(map[string]core.VectorRecord)
	}
	f.skills[record.ID] = record
	return nil
}

func (f *fakeIndex) QuerySkills(_ context.Context, _ []float32, _ int) ([]core.VectorHit, error) {
	return f.skillHits, nil
}

// fakeEmbedder returns a constant vector for every input.
type fakeEmbedder struct {
	vec      []float32
	err      error
	batchErr error
	batches  int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	f.batches++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

// fakeExtractor returns a scripted fact list.
type fakeExtractor struct {
	facts []core.ExtractedFact
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, _, _ string) ([]core.ExtractedFact, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.facts, nil
}

// fakeHistory is an in-memory HistoryRepository.
type fakeHistory struct {
	mu        sync.Mutex
	entries   []core.HistoryEntry
	appendErr error
	recentErr error
}

func (f *fakeHistory) Append(_ context.Context, threadID string, role core.Role, text string) (core.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return core.HistoryEntry{}, f.appendErr
	}
	e := core.HistoryEntry{
		ID: int64(len(f.entries) + 1), ThreadID: threadID,
		Seq: int64(len(f.entries) + 1), Role: role, Text: text,
		CreatedAt: time.Now().UTC(),
	}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeHistory) Recent(_ context.Context, threadID string, limit int) ([]core.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	var out []core.HistoryEntry
	for _, e := range f.entries {
		if e.ThreadID == threadID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
