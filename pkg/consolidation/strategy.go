package consolidation

import "github.com/mnemo-ai/mnemo-go/pkg/core"

// Strategy is the merge action selected for a cluster.
type Strategy string

const (
	// StrategySkip leaves a singleton cluster untouched.
	StrategySkip Strategy = "skip"

	// StrategyLink adds bidirectional links between all members without
	// changing content.
	StrategyLink Strategy = "link"

	// StrategySummarize replaces every member with one summary memory.
	StrategySummarize Strategy = "summarize"

	// StrategyKeepAndSummarize preserves high-importance members and
	// replaces the rest with one summary memory.
	StrategyKeepAndSummarize Strategy = "keep_and_summarize"

	// StrategyNarrative summarizes a temporal sequence with a
	// chronological narrative prompt.
	StrategyNarrative Strategy = "narrative"
)

// SelectStrategy picks the merge strategy for a cluster. Rules are checked
// in priority order:
//
//  1. singleton: skip
//  2. small (2-3 members): link
//  3. mixed importance, some but not all members above the keep
//     threshold: keep_and_summarize
//  4. low average importance: summarize
//  5. evenly spaced chronological sequence: narrative summarization
//  6. otherwise: summarize
//
// The mixed-importance rule outranks the low-average rule so a cluster
// holding one valuable memory among noise preserves it rather than
// flattening everything into a summary.
func (c Config) SelectStrategy(cl *Cluster) Strategy {
	size := cl.Size()
	switch {
	case size <= 1:
		return StrategySkip
	case size <= 3:
		return StrategyLink
	}

	above := 0
	for _, m := range cl.Members {
		if m.ImportanceScore > c.KeepThreshold {
			above++
		}
	}
	if above > 0 && above < size {
		return StrategyKeepAndSummarize
	}

	if cl.AverageImportance() < c.LowImportanceAverage {
		return StrategySummarize
	}

	if cl.IsTemporalSequence(c.SequenceCV) {
		return StrategyNarrative
	}

	return StrategySummarize
}

// Partition splits the cluster into the members kept untouched and the
// members to be summarized, according to the strategy. For summarize and
// narrative everything is summarized; for keep_and_summarize members above
// the keep threshold survive. Protected members are kept under every
// strategy: a merge archives its summarized members, and protected
// memories never transition past active.
func (c Config) Partition(cl *Cluster, strategy Strategy) (kept, summarized []*core.Memory) {
	switch strategy {
	case StrategyKeepAndSummarize:
		for _, m := range cl.Members {
			if m.ImportanceScore > c.KeepThreshold || c.Decay.IsProtected(m) {
				kept = append(kept, m)
			} else {
				summarized = append(summarized, m)
			}
		}
	case StrategySummarize, StrategyNarrative:
		for _, m := range cl.Members {
			if c.Decay.IsProtected(m) {
				kept = append(kept, m)
			} else {
				summarized = append(summarized, m)
			}
		}
	default:
		kept = cl.Members
	}
	return kept, summarized
}
