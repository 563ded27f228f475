// Package consolidation groups related memories into clusters and merges
// each cluster according to a per-cluster strategy: linking small clusters,
// summarizing low-value ones, and preserving high-importance members while
// compacting the rest.
//
// Clustering is greedy and single-pass: memories are visited in input
// order, each unassigned memory seeds a cluster, and later unassigned
// memories join the first seed they fall within threshold distance of.
// The result depends on input order. This mirrors the original algorithm
// and is intentionally preserved; replace with hierarchical clustering
// only if cluster quality becomes a requirement.
package consolidation

import (
	"math"
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/decay"
	"github.com/mnemo-ai/mnemo-go/pkg/scoring"
)

// Config holds the consolidation parameters.
type Config struct {
	// Decay supplies the protection predicate. Protected members are
	// never archived by a merge; they are routed into the kept set
	// regardless of strategy.
	Decay decay.Config `json:"decay"`

	// DistanceThreshold is the maximum distance for a memory to join a
	// cluster seed.
	DistanceThreshold float64 `json:"distance_threshold"`

	// TemporalWindow is the time scale of the temporal proximity bonus.
	TemporalWindow time.Duration `json:"temporal_window"`

	// MaxTemporalBonus is the distance reduction for simultaneous
	// memories; the bonus decays exponentially with separation.
	MaxTemporalBonus float64 `json:"max_temporal_bonus"`

	// ConversationBonus is the distance reduction for memories from the
	// same conversation.
	ConversationBonus float64 `json:"conversation_bonus"`

	// LowImportanceAverage: clusters averaging below this are summarized
	// outright.
	LowImportanceAverage float64 `json:"low_importance_average"`

	// KeepThreshold: members above this importance survive a
	// keep_and_summarize merge untouched.
	KeepThreshold float64 `json:"keep_threshold"`

	// SequenceCV is the maximum coefficient of variation of consecutive
	// time gaps for a cluster to count as a temporal sequence.
	SequenceCV float64 `json:"sequence_cv"`

	// MaxMemories is the memory-count ceiling that triggers a
	// consolidation pass.
	MaxMemories int `json:"max_memories"`

	// UtilizationTrigger is the storage utilization percentage that
	// triggers a pass.
	UtilizationTrigger float64 `json:"utilization_trigger"`

	// ScheduledHour is the hour of day (0-23) for the scheduled pass.
	ScheduledHour int `json:"scheduled_hour"`

	// MinRunGap is the minimum spacing between scheduled passes, so a
	// pass does not rerun within the same scheduled window.
	MinRunGap time.Duration `json:"min_run_gap"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Decay:                decay.DefaultConfig(),
		DistanceThreshold:    0.25,
		TemporalWindow:       time.Hour,
		MaxTemporalBonus:     0.1,
		ConversationBonus:    0.1,
		LowImportanceAverage: 0.4,
		KeepThreshold:        0.6,
		SequenceCV:           0.5,
		MaxMemories:          10000,
		UtilizationTrigger:   80,
		ScheduledHour:        3,
		MinRunGap:            20 * time.Hour,
	}
}

// ShouldTrigger reports whether a consolidation pass is warranted given the
// current memory count and storage utilization percentage. Pure function,
// intended to be polled by an external orchestrator.
func (c Config) ShouldTrigger(count int, utilizationPercent float64) bool {
	if c.MaxMemories > 0 && count >= c.MaxMemories {
		return true
	}
	return utilizationPercent >= c.UtilizationTrigger
}

// IsScheduledTime reports whether now falls in the scheduled hour and the
// last run is far enough in the past. A zero lastRun means never run.
func (c Config) IsScheduledTime(lastRun, now time.Time) bool {
	if now.Hour() != c.ScheduledHour {
		return false
	}
	return lastRun.IsZero() || now.Sub(lastRun) >= c.MinRunGap
}

// Distance measures how far apart two memories are, in [0, 2]. The base is
// cosine distance (1 - similarity); temporal proximity and shared
// conversation identity both pull the distance down. A missing embedding on
// either side yields the neutral distance 1.0.
func (c Config) Distance(a, b *core.Memory) float64 {
	if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return 1.0
	}
	sim, err := scoring.CosineSimilarity(a.Embedding, b.Embedding)
	if err != nil {
		return 1.0
	}

	d := 1.0 - sim
	d -= c.temporalBonus(a.CreatedAt, b.CreatedAt)
	if a.ConversationID != "" && a.ConversationID == b.ConversationID {
		d -= c.ConversationBonus
	}

	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

// temporalBonus decays exponentially with separation, at half strength
// after two window lengths.
func (c Config) temporalBonus(a, b time.Time) float64 {
	if c.TemporalWindow <= 0 {
		return 0
	}
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	scale := 2 * c.TemporalWindow.Seconds()
	return c.MaxTemporalBonus * math.Exp(-gap.Seconds()/scale)
}

// Cluster is a group of related memories with derived metadata.
type Cluster struct {
	// Members are the clustered memories, in input order. The first
	// member is the seed.
	Members []*core.Memory

	// Centroid is the mean of the members' embeddings, nil when no
	// member carries one.
	Centroid []float64

	// AvgSimilarity is the mean pairwise remapped similarity of members
	// with embeddings, 0 for degenerate clusters.
	AvgSimilarity float64

	// Span is the time between the earliest and latest member.
	Span time.Duration
}

// Size returns the number of members.
func (cl *Cluster) Size() int { return len(cl.Members) }

// AverageImportance returns the mean member importance.
func (cl *Cluster) AverageImportance() float64 {
	if len(cl.Members) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range cl.Members {
		sum += m.ImportanceScore
	}
	return sum / float64(len(cl.Members))
}

// EarliestCreatedAt returns the oldest member creation time.
func (cl *Cluster) EarliestCreatedAt() time.Time {
	earliest := cl.Members[0].CreatedAt
	for _, m := range cl.Members[1:] {
		if m.CreatedAt.Before(earliest) {
			earliest = m.CreatedAt
		}
	}
	return earliest
}

// IsTemporalSequence reports whether the members form an evenly spaced
// chronological run: at least three members whose consecutive creation-time
// gaps have a coefficient of variation (stddev over mean) below the
// configured bound.
func (cl *Cluster) IsTemporalSequence(maxCV float64) bool {
	if len(cl.Members) < 3 {
		return false
	}

	times := make([]time.Time, len(cl.Members))
	for i, m := range cl.Members {
		times[i] = m.CreatedAt
	}
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j].Before(times[j-1]); j-- {
			times[j], times[j-1] = times[j-1], times[j]
		}
	}

	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
	}

	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean == 0 {
		// All members simultaneous: perfectly regular.
		return true
	}

	variance := 0.0
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))

	return math.Sqrt(variance)/mean < maxCV
}

// ClusterMemories partitions memories into clusters with the greedy
// single-pass algorithm. Deterministic for a fixed input order and
// threshold: each unassigned memory in turn seeds a cluster and claims
// every later unassigned memory within threshold distance of the seed.
func (c Config) ClusterMemories(mems []*core.Memory) []*Cluster {
	assigned := make(map[string]bool, len(mems))
	clusters := make([]*Cluster, 0)

	for i, seed := range mems {
		if assigned[seed.ID] {
			continue
		}
		assigned[seed.ID] = true
		members := []*core.Memory{seed}

		for _, cand := range mems[i+1:] {
			if assigned[cand.ID] {
				continue
			}
			if c.Distance(seed, cand) <= c.DistanceThreshold {
				assigned[cand.ID] = true
				members = append(members, cand)
			}
		}

		clusters = append(clusters, c.buildCluster(members))
	}
	return clusters
}

func (c Config) buildCluster(members []*core.Memory) *Cluster {
	cl := &Cluster{Members: members}

	embeds := make([][]float64, 0, len(members))
	for _, m := range members {
		if len(m.Embedding) > 0 {
			embeds = append(embeds, m.Embedding)
		}
	}
	if len(embeds) > 0 {
		if centroid, err := scoring.Centroid(embeds); err == nil {
			cl.Centroid = centroid
		}
	}

	if len(embeds) > 1 {
		total, pairs := 0.0, 0
		for i := 0; i < len(embeds); i++ {
			for j := i + 1; j < len(embeds); j++ {
				if sim, err := scoring.CosineSimilarity(embeds[i], embeds[j]); err == nil {
					total += scoring.RemapSimilarity(sim)
					pairs++
				}
			}
		}
		if pairs > 0 {
			cl.AvgSimilarity = total / float64(pairs)
		}
	}

	earliest, latest := members[0].CreatedAt, members[0].CreatedAt
	for _, m := range members[1:] {
		if m.CreatedAt.Before(earliest) {
			earliest = m.CreatedAt
		}
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
	}
	cl.Span = latest.Sub(earliest)

	return cl
}
