package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/internal/core"
)

type gateFixture struct {
	gate     *Gate
	history  *fakeHistory
	items    *memItems
	index    *fakeIndex
	embedder *fakeEmbedder
	extract  *fakeExtractor
}

func newGateFixture() *gateFixture {
	cfg := &config.AppConfig{
		HistoryLimit:   6,
		SearchLimit:    10,
		DedupThreshold: 0.92,
		SkillThreshold: 0.75,
	}
	history := &fakeHistory{}
	items := newMemItems()
	index := &fakeIndex{}
	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	extract := &fakeExtractor{}

	deduper := NewDeduper(items, index, embedder, cfg.DedupThreshold)
	syncer := NewSyncer(items, index, embedder)
	skills := NewSkillMatcher(index, embedder, cfg.SkillThreshold)

	return &gateFixture{
		gate:     NewGate(cfg, history, items, index, embedder, extract, deduper, syncer, skills),
		history:  history,
		items:    items,
		index:    index,
		embedder: embedder,
		extract:  extract,
	}
}

func TestGateProcessRecordsHistoryAndFacts(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	f.extract.facts = []core.ExtractedFact{
		{Text: "name is Ada", Kind: "fact"},
		{Text: "prefers short answers", Kind: "preference"},
	}

	if err := f.gate.Process(ctx, "t1", "my name is Ada, keep it short", "noted"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.history.entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(f.history.entries))
	}
	if f.history.entries[0].Role != core.RoleUser || f.history.entries[1].Role != core.RoleAgent {
		t.Error("history must record user then agent")
	}

	active, _ := f.items.ListActive(ctx)
	if len(active) != 2 {
		t.Fatalf("expected 2 stored facts, got %d", len(active))
	}
	for _, it := range active {
		if it.IndexState != core.IndexPending {
			t.Errorf("fresh facts must be pending, got %s", it.IndexState)
		}
	}
	if len(f.gate.syncer.trigger) != 1 {
		t.Error("process must schedule a sync run")
	}
}

func TestGateProcessHistoryFailureIsFatal(t *testing.T) {
	f := newGateFixture()
	f.history.appendErr = errors.New("disk gone")

	if err := f.gate.Process(context.Background(), "t1", "hi", "hello"); err == nil {
		t.Fatal("history persistence failure must fail the turn")
	}
}

func TestGateProcessExtractionFailureKeepsHistory(t *testing.T) {
	f := newGateFixture()
	f.extract.err = core.ErrExtraction

	if err := f.gate.Process(context.Background(), "t1", "hi", "hello"); err != nil {
		t.Fatalf("extraction failure must not fail the turn: %v", err)
	}
	if len(f.history.entries) != 2 {
		t.Error("history must survive a failed extraction")
	}
	active, _ := f.items.ListActive(context.Background())
	if len(active) != 0 {
		t.Error("no facts must be stored when extraction fails")
	}
}

func TestGateProcessNoFactsIsFine(t *testing.T) {
	f := newGateFixture()
	if err := f.gate.Process(context.Background(), "t1", "hmm", "indeed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGateGetContextAssemblesAll(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	id, _ := f.items.InsertPending(ctx, "favorite color is green", core.KindPreference, 0.8)
	f.items.keyword = []core.LexicalHit{{ID: id, Score: 3.1}}
	f.index.hits = []core.VectorHit{{ID: id, Similarity: 0.8}}
	f.index.skillHits = []core.VectorHit{{ID: "paint", Similarity: 0.8}}
	_, _ = f.history.Append(ctx, "t1", core.RoleUser, "hello")

	out, err := f.gate.GetContext(ctx, "t1", "what colors do I like")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.History) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(out.History))
	}
	if len(out.Facts) != 1 || out.Facts[0].Item.ID != id {
		t.Fatalf("expected the stored fact, got %v", out.Facts)
	}
	if out.Skill == nil || out.Skill.SkillID != "paint" {
		t.Errorf("expected the paint skill, got %v", out.Skill)
	}
}

func TestGateGetContextPendingItemsAreSearchable(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	// The item was just written and never indexed. The lexical signal
	// still surfaces it.
	id, _ := f.items.InsertPending(ctx, "birthday is in May", core.KindFact, 0.8)
	f.items.keyword = []core.LexicalHit{{ID: id, Score: 2.0}}

	out, err := f.gate.GetContext(ctx, "t1", "birthday")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Facts) != 1 || out.Facts[0].Item.ID != id {
		t.Fatalf("pending item must be retrievable, got %v", out.Facts)
	}
}

func TestGateGetContextFiltersTombstones(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	id, _ := f.items.InsertPending(ctx, "lives in Oslo", core.KindFact, 0.8)
	if err := f.gate.Forget(ctx, id); err != nil {
		t.Fatalf("forget failed: %v", err)
	}

	// Both signals still report the dead item.
	f.items.keyword = nil // FTS trigger removal is exercised in the sqlite tests
	f.index.hits = []core.VectorHit{{ID: id, Similarity: 0.9}}

	out, err := f.gate.GetContext(ctx, "t1", "where do I live")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Facts) != 0 {
		t.Fatalf("tombstoned item must never be returned, got %v", out.Facts)
	}
}

func TestGateGetContextDegrades(t *testing.T) {
	t.Run("history failure", func(t *testing.T) {
		f := newGateFixture()
		f.history.recentErr = errors.New("corrupt page")

		id, _ := f.items.InsertPending(context.Background(), "plays chess", core.KindFact, 0.8)
		f.items.keyword = []core.LexicalHit{{ID: id, Score: 1.0}}

		out, err := f.gate.GetContext(context.Background(), "t1", "chess")
		if err != nil {
			t.Fatalf("read path must degrade, not fail: %v", err)
		}
		if len(out.History) != 0 {
			t.Error("expected empty history")
		}
		if len(out.Facts) != 1 {
			t.Error("facts must still come back when only history fails")
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		f := newGateFixture()
		f.embedder.err = errors.New("provider down")

		id, _ := f.items.InsertPending(context.Background(), "plays chess", core.KindFact, 0.8)
		f.items.keyword = []core.LexicalHit{{ID: id, Score: 1.0}}
		f.index.skillHits = []core.VectorHit{{ID: "games", Similarity: 0.99}}

		out, err := f.gate.GetContext(context.Background(), "t1", "chess")
		if err != nil {
			t.Fatalf("read path must degrade, not fail: %v", err)
		}
		if len(out.Facts) != 1 {
			t.Error("lexical retrieval must survive a dead embedder")
		}
		if out.Skill != nil {
			t.Error("no skill can be routed without a query embedding")
		}
	})

	t.Run("everything failing yields empty context", func(t *testing.T) {
		f := newGateFixture()
		f.history.recentErr = errors.New("down")
		f.embedder.err = errors.New("down")
		f.items.keywordErr = errors.New("down")

		out, err := f.gate.GetContext(context.Background(), "t1", "anything")
		if err != nil {
			t.Fatalf("read path must degrade, not fail: %v", err)
		}
		if len(out.History) != 0 || len(out.Facts) != 0 || out.Skill != nil {
			t.Errorf("expected a fully empty context, got %+v", out)
		}
	})

	t.Run("cancelled context fails", func(t *testing.T) {
		f := newGateFixture()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := f.gate.GetContext(ctx, "t1", "anything"); err == nil {
			t.Fatal("a cancelled context is the one hard failure")
		}
	})
}

func TestGateGetContextCapsResults(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	var lexical []core.LexicalHit
	for i := 0; i < 15; i++ {
		id, _ := f.items.InsertPending(ctx, "fact", core.KindFact, 0.8)
		lexical = append(lexical, core.LexicalHit{ID: id, Score: float64(20 - i)})
	}
	f.items.keyword = lexical

	out, err := f.gate.GetContext(ctx, "t1", "fact")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Facts) != 10 {
		t.Errorf("expected results capped at the search limit, got %d", len(out.Facts))
	}
}

func TestGateRemember(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	id, err := f.gate.Remember(ctx, "always reply in English", core.KindRule, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.items.GetByIDs(ctx, []string{id})
	if len(got) != 1 {
		t.Fatal("expected the dictated fact in the store")
	}
	if got[0].Confidence != 1.0 {
		t.Errorf("dictated facts carry full confidence, got %v", got[0].Confidence)
	}
	if len(f.gate.syncer.trigger) != 1 {
		t.Error("remember must schedule a sync run")
	}
}

func TestGateForget(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	id, _ := f.items.InsertPending(ctx, "obsolete", core.KindFact, 0.8)

	if err := f.gate.Forget(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.index.removed) != 1 || f.index.removed[0] != id {
		t.Errorf("expected a vector removal for %s, got %v", id, f.index.removed)
	}
	if f.index.flushes != 1 {
		t.Errorf("forget must flush the index manifest after removal, got %d flushes", f.index.flushes)
	}

	if err := f.gate.Forget(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("forgetting twice must report not found, got %v", err)
	}
	if err := f.gate.Forget(ctx, "mem_unknown"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown id must report not found, got %v", err)
	}
}

func TestGateAuditIncludesTombstones(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	kept, _ := f.items.InsertPending(ctx, "kept", core.KindFact, 0.8)
	gone, _ := f.items.InsertPending(ctx, "gone", core.KindFact, 0.8)
	_ = f.gate.Forget(ctx, gone)

	all, err := f.gate.Audit(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("audit must include tombstones, got %d rows", len(all))
	}
	statuses := map[string]core.Status{}
	for _, it := range all {
		statuses[it.ID] = it.Status
	}
	if statuses[kept] != core.StatusActive || statuses[gone] != core.StatusTombstoned {
		t.Errorf("unexpected statuses: %v", statuses)
	}
}

func TestGateEndToEndTurnThenRetrieve(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	f.extract.facts = []core.ExtractedFact{{Text: "drinks oat milk", Kind: "preference"}}

	if err := f.gate.Process(ctx, "t1", "I only drink oat milk", "got it"); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if err := f.gate.syncer.RunOnce(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	active, _ := f.items.ListActive(ctx)
	if len(active) != 1 || active[0].IndexState != core.IndexIndexed {
		t.Fatalf("expected one indexed item, got %v", active)
	}

	// Simulate both signals finding it.
	f.items.keyword = []core.LexicalHit{{ID: active[0].ID, Score: 2.5}}
	f.index.hits = []core.VectorHit{{ID: active[0].ID, Similarity: 0.9}}

	out, err := f.gate.GetContext(ctx, "t1", "what milk")
	if err != nil {
		t.Fatalf("get context failed: %v", err)
	}
	if len(out.Facts) != 1 || out.Facts[0].Item.Text != "drinks oat milk" {
		t.Fatalf("expected the remembered preference, got %v", out.Facts)
	}
	if len(out.History) != 2 {
		t.Errorf("expected the recorded turn in history, got %d entries", len(out.History))
	}
}
