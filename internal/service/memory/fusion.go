package memory

import (
	"sort"
	"time"
)

// rrfK dampens the weight gap between adjacent ranks. 60 is the standard
// choice: top ranks still dominate, but a single list can't bury an item
// that both signals agree on.
const rrfK = 60

type fusedHit struct {
	ID    string
	Score float64
}

// fuseRanks merges rankings with reciprocal rank fusion: each identifier
// scores the sum of 1/(K+rank) over every list it appears in, rank being
// its 1-based position there. Raw score magnitudes are discarded: BM25 is
// unbounded and cosine similarity is not, so fusing the scores themselves
// would let one signal win by scale alone. Ties break by most recent
// update, then identifier for determinism.
func fuseRanks(lists [][]string, updatedAt map[string]time.Time) []fusedHit {
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float64(rrfK+i+1)
		}
	}

	hits := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, fusedHit{ID: id, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ti, tj := updatedAt[hits[i].ID], updatedAt[hits[j].ID]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return hits[i].ID < hits[j].ID
	})

	return hits
}
