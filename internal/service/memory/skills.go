package memory

import (
	"context"
	"fmt"

	"github.com/sandevgo/memgate/internal/core"
)

// SkillMatcher routes queries to registered skill descriptions. Skills
// live in their own embedding namespace so item similarity never bleeds
// into routing decisions.
type SkillMatcher struct {
	index     core.SkillIndex
	embedder  core.Embedder
	threshold float64
}

func NewSkillMatcher(index core.SkillIndex, embedder core.Embedder, threshold float64) *SkillMatcher {
	return &SkillMatcher{
		index:     index,
		embedder:  embedder,
		threshold: threshold,
	}
}

// Register embeds a skill description and upserts it under the skill's
// identifier. Re-registering replaces the previous description.
func (m *SkillMatcher) Register(ctx context.Context, skillID, description string) error {
	vec, err := m.embedder.Embed(ctx, description)
	if err != nil {
		return fmt.Errorf("embed skill description: %w", err)
	}
	return m.index.UpsertSkill(ctx, core.VectorRecord{
		ID:       skillID,
		Vector:   vec,
		Checksum: core.TextChecksum(description),
	})
}

// Match returns the best skill for an already-embedded query, or nil when
// nothing clears the threshold. The comparison is strict: a similarity
// exactly at the threshold selects no skill.
func (m *SkillMatcher) Match(ctx context.Context, vector []float32) (*core.SkillMatch, error) {
	hits, err := m.index.QuerySkills(ctx, vector, 1)
	if err != nil {
		return nil, fmt.Errorf("skill query: %w", err)
	}
	if len(hits) == 0 || float64(hits[0].Similarity) <= m.threshold {
		return nil, nil
	}
	return &core.SkillMatch{
		SkillID:    hits[0].ID,
		Similarity: hits[0].Similarity,
	}, nil
}
