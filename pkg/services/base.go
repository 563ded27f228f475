// Package services defines the external collaborator interfaces the
// lifecycle engine consumes: the summarization service used by
// consolidation and the salience service used by importance scoring.
//
// Both are treated as slow and unreliable. Calls are issued with a timeout
// and a bounded retry count; a malformed salience response falls back to a
// neutral default instead of propagating an error.
package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SummaryMode selects the prompt style for cluster summarization.
type SummaryMode string

const (
	// ModeSummarize produces a compact factual summary.
	ModeSummarize SummaryMode = "summarize"

	// ModeNarrative produces a chronological narrative, used for clusters
	// that form a temporal sequence.
	ModeNarrative SummaryMode = "narrative"
)

// SummaryRequest carries the ordered member contents of a cluster.
type SummaryRequest struct {
	// Contents are the member texts, in cluster order.
	Contents []string

	// MemoryIDs are the ids of the members, aligned with Contents.
	MemoryIDs []string

	// Mode selects the prompt style.
	Mode SummaryMode
}

// Summary is the structured result of a summarization call.
type Summary struct {
	// Text is the summary body.
	Text string `json:"summary"`

	// KeyPoints are salient points extracted alongside the summary.
	KeyPoints []string `json:"key_points,omitempty"`

	// Importance is the service's inferred importance of the summary,
	// in [0, 1]. Advisory: the merged memory's importance is the
	// maximum of the summarized members'.
	Importance float64 `json:"importance"`

	// SourceIDs echoes the member ids the summary was built from.
	SourceIDs []string `json:"source_ids,omitempty"`
}

// Summarizer turns a set of memory contents into one structured summary.
//
// Implementations must honor ctx cancellation. The consolidation engine
// aborts a cluster's merge when Summarize fails; it never applies partial
// archival.
type Summarizer interface {
	Summarize(ctx context.Context, req *SummaryRequest) (*Summary, error)
}

// SalienceFactors are the four sub-scores returned by the salience service,
// each in [0, 10].
type SalienceFactors struct {
	EmotionalIntensity   float64 `json:"emotional_intensity"`
	Novelty              float64 `json:"novelty"`
	Actionability        float64 `json:"actionability"`
	PersonalSignificance float64 `json:"personal_significance"`
}

// Score collapses the four factors into a single [0, 1] salience value.
func (f SalienceFactors) Score() float64 {
	s := (f.EmotionalIntensity + f.Novelty + f.Actionability + f.PersonalSignificance) / 40.0
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// NeutralSalience is the fallback used when the salience service returns an
// unparseable response: all four factors at the midpoint.
func NeutralSalience() SalienceFactors {
	return SalienceFactors{
		EmotionalIntensity:   5,
		Novelty:              5,
		Actionability:        5,
		PersonalSignificance: 5,
	}
}

// SalienceScorer scores how salient a piece of content is.
type SalienceScorer interface {
	ScoreSalience(ctx context.Context, content, contextHint string) (SalienceFactors, error)
}

// RetryConfig bounds external service calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts uint64

	// CallTimeout applies per attempt.
	CallTimeout time.Duration

	// InitialBackoff is the delay before the first retry; subsequent
	// delays grow exponentially.
	InitialBackoff time.Duration
}

// DefaultRetryConfig returns the bounds used in production: three attempts,
// thirty seconds per call.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		CallTimeout:    30 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// WithRetry runs fn under the retry policy, applying the per-call timeout to
// each attempt. The last error is returned once attempts are exhausted.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		bo.InitialInterval = cfg.InitialBackoff
	}

	call := func() error {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.CallTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
			defer cancel()
		}
		return fn(attemptCtx)
	}

	return backoff.Retry(call, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}
