// Package scoring computes the four importance factors of a memory
// (recency, frequency, salience, relevance) and combines them into one
// importance score.
package scoring

import (
	"context"
	"math"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/services"
)

// Weights configure the contribution of each importance factor.
//
// The four weights should sum to 1.0. A config that does not is rescaled
// proportionally and a warning is logged; it is never silently corrected.
type Weights struct {
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Salience  float64 `json:"salience"`
	Relevance float64 `json:"relevance"`
}

// DefaultWeights returns an even split across the four factors.
func DefaultWeights() Weights {
	return Weights{Recency: 0.25, Frequency: 0.25, Salience: 0.25, Relevance: 0.25}
}

func (w Weights) sum() float64 {
	return w.Recency + w.Frequency + w.Salience + w.Relevance
}

// Validate rejects negative weights and all-zero configurations.
func (w Weights) Validate() error {
	if w.Recency < 0 || w.Frequency < 0 || w.Salience < 0 || w.Relevance < 0 {
		return core.ErrInvalidWeights
	}
	if w.sum() == 0 {
		return core.ErrInvalidWeights
	}
	return nil
}

// Normalized returns weights rescaled to sum to 1.0 and whether rescaling
// was needed.
func (w Weights) Normalized() (Weights, bool) {
	s := w.sum()
	if math.Abs(s-1.0) < 1e-9 {
		return w, false
	}
	return Weights{
		Recency:   w.Recency / s,
		Frequency: w.Frequency / s,
		Salience:  w.Salience / s,
		Relevance: w.Relevance / s,
	}, true
}

// Config holds the importance scorer's numeric parameters.
type Config struct {
	// Weights combine the four factors. Should sum to 1.0.
	Weights Weights `json:"weights"`

	// Lambda is the recency decay constant per day. The default 0.05
	// gives a half-life of about two weeks (ln 2 / 0.05 = 13.9 days).
	Lambda float64 `json:"lambda"`

	// MaxExpectedAccesses normalizes the frequency log transform.
	MaxExpectedAccesses int `json:"max_expected_accesses"`

	// AccessDecayRate weights individual access events by age in the
	// time-weighted frequency variant, per day.
	AccessDecayRate float64 `json:"access_decay_rate"`

	// NeutralRelevance is used when no context embedding and no cached
	// relevance is available.
	NeutralRelevance float64 `json:"neutral_relevance"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		Lambda:              0.05,
		MaxExpectedAccesses: 100,
		AccessDecayRate:     0.1,
		NeutralRelevance:    0.5,
	}
}

// Scorer computes importance scores. It is safe for concurrent use.
//
// Salience is resolved in this order: factors supplied by the caller, the
// memory's cached salience score, then the external salience service. A
// service failure falls back to the neutral default; service responses are
// cached so repeated scoring passes do not re-invoke it.
type Scorer struct {
	cfg      Config
	weights  Weights
	salience services.SalienceScorer
	cache    *ristretto.Cache
	logger   *zap.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithSalienceScorer wires the external salience service.
func WithSalienceScorer(s services.SalienceScorer) Option {
	return func(sc *Scorer) { sc.salience = s }
}

// WithLogger sets the scorer's logger.
func WithLogger(l *zap.Logger) Option {
	return func(sc *Scorer) { sc.logger = l }
}

// NewScorer creates a Scorer. Weights that do not sum to 1.0 are rescaled
// proportionally with a logged warning; invalid weights are an error.
func NewScorer(cfg Config, opts ...Option) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, core.NewLifecycleError("NewScorer", err)
	}

	s := &Scorer{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	normalized, rescaled := cfg.Weights.Normalized()
	if rescaled {
		s.logger.Warn("importance weights do not sum to 1.0, rescaling proportionally",
			zap.Float64("sum", cfg.Weights.sum()))
	}
	s.weights = normalized

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, core.NewLifecycleError("NewScorer", err)
	}
	s.cache = cache

	return s, nil
}

// RecencyScore is clamp(exp(-lambda * daysSinceCreation)). At zero elapsed
// time the score is exactly 1 and it decreases strictly with age.
func (s *Scorer) RecencyScore(createdAt, now time.Time) float64 {
	days := now.Sub(createdAt).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return core.Clamp01(math.Exp(-s.cfg.Lambda * days))
}

// RecencySinceAccess is the recency variant keyed on last access instead of
// creation.
func (s *Scorer) RecencySinceAccess(m *core.Memory, now time.Time) float64 {
	return core.Clamp01(math.Exp(-s.cfg.Lambda * m.DaysSinceAccess(now)))
}

// FrequencyScore is clamp(ln(1+accessCount) / ln(1+maxExpectedAccesses)).
func (s *Scorer) FrequencyScore(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	return core.Clamp01(math.Log(1+float64(accessCount)) / math.Log(1+float64(s.cfg.MaxExpectedAccesses)))
}

// TimeWeightedFrequency sums exp(-k * daysAgo) per access event before
// applying the same log transform, so a burst of ancient accesses counts
// less than recent ones.
func (s *Scorer) TimeWeightedFrequency(accessTimes []time.Time, now time.Time) float64 {
	var weighted float64
	for _, t := range accessTimes {
		daysAgo := now.Sub(t).Hours() / 24.0
		if daysAgo < 0 {
			daysAgo = 0
		}
		weighted += math.Exp(-s.cfg.AccessDecayRate * daysAgo)
	}
	return core.Clamp01(math.Log(1+weighted) / math.Log(1+float64(s.cfg.MaxExpectedAccesses)))
}

// RelevanceScore is the maximum remapped cosine similarity between the
// memory's embedding and the supplied context embeddings. With no usable
// context it falls back to the cached relevance, then the neutral default.
func (s *Scorer) RelevanceScore(m *core.Memory, contexts [][]float64) (float64, error) {
	if len(m.Embedding) == 0 || len(contexts) == 0 {
		if m.RelevanceScore > 0 {
			return core.Clamp01(m.RelevanceScore), nil
		}
		return s.cfg.NeutralRelevance, nil
	}

	best := -1.0
	for _, ctxVec := range contexts {
		sim, err := CosineSimilarity(m.Embedding, ctxVec)
		if err != nil {
			return 0, err
		}
		if remapped := RemapSimilarity(sim); remapped > best {
			best = remapped
		}
	}
	return core.Clamp01(best), nil
}

// SalienceScore resolves the salience factor.
func (s *Scorer) SalienceScore(ctx context.Context, m *core.Memory, supplied *services.SalienceFactors) float64 {
	if supplied != nil {
		return supplied.Score()
	}
	if m.SalienceScore > 0 {
		return core.Clamp01(m.SalienceScore)
	}
	if s.salience == nil {
		return 0.5
	}

	if cached, ok := s.cache.Get(m.ID); ok {
		if factors, ok := cached.(services.SalienceFactors); ok {
			return factors.Score()
		}
	}

	factors, err := s.salience.ScoreSalience(ctx, m.Content, "")
	if err != nil {
		s.logger.Warn("salience service failed, using neutral default",
			zap.String("memory_id", m.ID), zap.Error(err))
		factors = services.NeutralSalience()
	}
	s.cache.Set(m.ID, factors, 1)
	return factors.Score()
}

// Score computes the four factors for a memory, combines them with the
// scorer's weights, and writes the component scores and the combined score
// back onto the memory. All values are clamped to [0, 1] before being
// stored.
func (s *Scorer) Score(ctx context.Context, m *core.Memory, contexts [][]float64, supplied *services.SalienceFactors) (float64, error) {
	now := time.Now()

	recency := s.RecencyScore(m.CreatedAt, now)
	frequency := s.FrequencyScore(m.AccessCount)
	salience := s.SalienceScore(ctx, m, supplied)
	relevance, err := s.RelevanceScore(m, contexts)
	if err != nil {
		return 0, core.NewLifecycleError("Score", err)
	}

	combined := core.Clamp01(
		s.weights.Recency*recency +
			s.weights.Frequency*frequency +
			s.weights.Salience*salience +
			s.weights.Relevance*relevance)

	m.RecencyScore = recency
	m.FrequencyScore = frequency
	m.SalienceScore = salience
	m.RelevanceScore = relevance
	m.ImportanceScore = combined

	return combined, nil
}

// Weights returns the scorer's effective (normalized) weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}
