// Package chromem wraps chromem-go, a pure Go embedded vector database,
// as the rebuildable ANN index over memory item embeddings. The index is a
// cache over the relational store, never a second source of truth.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sandevgo/memgate/internal/core"
	"github.com/sandevgo/memgate/pkg/log"
)

const (
	itemCollection  = "memory"
	skillCollection = "skills"
	probeCollection = "probe"

	manifestFile = "manifest.json"

	rebuildBatchSize = 32
)

// Index owns the on-disk chromem database. Batch upserts are exclusive with
// each other; queries proceed concurrently and a waiting writer queues
// behind them (RWMutex discipline).
type Index struct {
	mu     sync.RWMutex
	db     *chromem.DB
	items  *chromem.Collection
	skills *chromem.Collection
	path   string
	dims   int
}

type manifest struct {
	Dimensions int    `json:"dimensions"`
	Count      int    `json:"count"`
	Checksum   string `json:"checksum"`
}

// New opens (or creates) the persistent index at path.
func New(path string, dims int) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	items, err := db.GetOrCreateCollection(itemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open item collection: %w", err)
	}
	skills, err := db.GetOrCreateCollection(skillCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open skill collection: %w", err)
	}

	return &Index{
		db:     db,
		items:  items,
		skills: skills,
		path:   path,
		dims:   dims,
	}, nil
}

// UpsertBatch writes records to the item collection. Re-upserting an
// existing id with the same vector is a replacement, not a duplicate, so
// re-running a crashed sync is safe.
func (x *Index) UpsertBatch(ctx context.Context, records []core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != x.dims {
			return fmt.Errorf("record %s: dimension %d, want %d", rec.ID, len(rec.Vector), x.dims)
		}
		docs = append(docs, chromem.Document{
			ID:        rec.ID,
			Embedding: rec.Vector,
			Metadata:  map[string]string{"checksum": rec.Checksum},
			Content:   rec.Checksum,
		})
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.items.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

// Query returns up to k nearest records by cosine similarity. k is clamped
// to the collection size; an empty collection yields no hits.
func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]core.VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return queryCollection(ctx, x.items, vector, k)
}

// Remove drops a record. Missing ids are not an error: the store may
// tombstone items the syncer never indexed.
func (x *Index) Remove(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.items.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to remove vector %s: %w", id, err)
	}
	return nil
}

// UpsertSkill writes one record into the skill namespace.
func (x *Index) UpsertSkill(ctx context.Context, record core.VectorRecord) error {
	if len(record.Vector) != x.dims {
		return fmt.Errorf("skill %s: dimension %d, want %d", record.ID, len(record.Vector), x.dims)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	err := x.skills.AddDocument(ctx, chromem.Document{
		ID:        record.ID,
		Embedding: record.Vector,
		Metadata:  map[string]string{"checksum": record.Checksum},
		Content:   record.Checksum,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert skill vector: %w", err)
	}
	return nil
}

// QuerySkills searches the skill namespace.
func (x *Index) QuerySkills(ctx context.Context, vector []float32, k int) ([]core.VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return queryCollection(ctx, x.skills, vector, k)
}

func queryCollection(ctx context.Context, col *chromem.Collection, vector []float32, k int) ([]core.VectorHit, error) {
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	hits := make([]core.VectorHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, core.VectorHit{ID: res.ID, Similarity: res.Similarity})
	}
	return hits, nil
}

// Flush records the index manifest (dimension, record count, id checksum).
// chromem persists documents as they are written; the manifest is what the
// startup probe validates, so a sync run is durable once Flush returns.
func (x *Index) Flush() error {
	x.mu.RLock()
	count := x.items.Count()
	x.mu.RUnlock()

	m := manifest{
		Dimensions: x.dims,
		Count:      count,
		Checksum:   manifestChecksum(x.dims, count),
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(x.path, manifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write index manifest: %w", err)
	}
	return nil
}

func manifestChecksum(dims, count int) string {
	return core.TextChecksum(fmt.Sprintf("%d:%d", dims, count))
}

// Probe is the startup integrity check: manifest validation plus one
// write-read round trip and a representative query against a known vector.
// Any failure reports ErrIndexCorrupt; the caller discards the directory
// and rebuilds from the relational store.
func (x *Index) Probe(ctx context.Context) error {
	if err := x.verifyManifest(); err != nil {
		return err
	}

	probe, err := x.db.GetOrCreateCollection(probeCollection, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: probe collection: %v", core.ErrIndexCorrupt, err)
	}

	vec := make([]float32, x.dims)
	vec[0] = 1 // unit vector along the first axis

	const probeID = "probe_sentinel"
	if err := probe.AddDocument(ctx, chromem.Document{
		ID:        probeID,
		Embedding: vec,
		Content:   probeID,
	}); err != nil {
		return fmt.Errorf("%w: probe write: %v", core.ErrIndexCorrupt, err)
	}

	hits, err := probe.QueryEmbedding(ctx, vec, 1, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: probe query: %v", core.ErrIndexCorrupt, err)
	}
	if len(hits) != 1 || hits[0].ID != probeID || hits[0].Similarity < 0.999 {
		return fmt.Errorf("%w: probe round trip mismatch", core.ErrIndexCorrupt)
	}
	return nil
}

func (x *Index) verifyManifest() error {
	data, err := os.ReadFile(filepath.Join(x.path, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Fresh index, nothing flushed yet.
			return nil
		}
		return fmt.Errorf("%w: manifest unreadable: %v", core.ErrIndexCorrupt, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: manifest malformed: %v", core.ErrIndexCorrupt, err)
	}
	if m.Dimensions != x.dims {
		return fmt.Errorf("%w: manifest dimension %d, want %d", core.ErrIndexCorrupt, m.Dimensions, x.dims)
	}
	if m.Count != x.items.Count() {
		return fmt.Errorf("%w: manifest count %d, collection has %d", core.ErrIndexCorrupt, m.Count, x.items.Count())
	}
	if got := manifestChecksum(m.Dimensions, m.Count); got != m.Checksum {
		return fmt.Errorf("%w: manifest checksum mismatch", core.ErrIndexCorrupt)
	}
	return nil
}

// Rebuild discards whatever is at path and reconstructs the index from the
// relational store, re-embedding every active item in batches. It depends
// on nothing but the store, so it serves both startup recovery and
// on-demand repair.
func Rebuild(ctx context.Context, path string, dims int, store core.ItemRepository, embedder core.Embedder) (*Index, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to discard old index: %w", err)
	}

	idx, err := New(path, dims)
	if err != nil {
		return nil, err
	}

	items, err := store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active items for rebuild: %w", err)
	}

	for start := 0; start < len(items); start += rebuildBatchSize {
		end := start + rebuildBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		texts := make([]string, 0, len(batch))
		for _, it := range batch {
			texts = append(texts, it.Text)
		}

		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed rebuild batch: %w", err)
		}

		records := make([]core.VectorRecord, 0, len(batch))
		for i, it := range batch {
			records = append(records, core.VectorRecord{
				ID:       it.ID,
				Vector:   vectors[i],
				Checksum: core.TextChecksum(it.Text),
			})
		}
		if err := idx.UpsertBatch(ctx, records); err != nil {
			return nil, err
		}
	}

	if err := idx.Flush(); err != nil {
		return nil, err
	}

	log.FromCtx(ctx).Info().Int("items", len(items)).Msg("vector index rebuilt from store")
	return idx, nil
}
