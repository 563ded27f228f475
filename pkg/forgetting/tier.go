// Package forgetting assigns deletion tiers to eligible memories and
// executes the tier mutations: archival with embedding compression for the
// soft tier, content truncation for the archive tier, and deletion for the
// permanent tier. Privacy-driven deletions are immediate; every other
// permanent deletion is scheduled after a grace period. All permanent
// actions emit append-only audit records.
package forgetting

import (
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/decay"
)

// Tier is the forgetting severity assigned to a memory.
type Tier string

const (
	// TierNone leaves the memory untouched.
	TierNone Tier = "none"

	// TierSoft archives the memory with light embedding compression.
	TierSoft Tier = "soft"

	// TierArchive archives the memory with content truncation and
	// heavier embedding compression.
	TierArchive Tier = "archive"

	// TierPermanent deletes the memory, immediately for privacy reasons
	// and after the grace period otherwise.
	TierPermanent Tier = "permanent"
)

// Reason explains why a tier was assigned. Reasons appear verbatim in
// audit records.
type Reason string

const (
	// ReasonPrivacy: privacy risk exceeded the retention limit for its
	// risk band.
	ReasonPrivacy Reason = "privacy_expiration"

	// ReasonExpired: the memory's explicit expiration passed.
	ReasonExpired Reason = "scheduled_expiration"

	// ReasonDecayed: strength fell below a tier threshold.
	ReasonDecayed Reason = "strength_decay"

	// ReasonErasure: a right-to-erasure request covered the memory.
	ReasonErasure Reason = "right_to_erasure"

	// ReasonAnonymized: the memory was anonymized instead of deleted to
	// satisfy a legal retention duty.
	ReasonAnonymized Reason = "anonymized"

	// ReasonPurged: the grace period elapsed and the record was
	// physically removed.
	ReasonPurged Reason = "grace_period_purge"
)

// PrivacyLimit pairs a minimum privacy risk with the maximum number of days
// a memory at or above that risk may be retained.
type PrivacyLimit struct {
	MinRisk float64 `json:"min_risk"`
	MaxDays float64 `json:"max_days"`
}

// Config holds the forgetting parameters. The strength thresholds are
// inherited from the decay configuration so both components agree on what
// "weak" means.
type Config struct {
	// Decay supplies the strength thresholds and the protection and
	// deletion predicates.
	Decay decay.Config `json:"decay"`

	// GraceDays is the delay before a scheduled permanent deletion is
	// purged. Privacy deletions skip it.
	GraceDays float64 `json:"grace_days"`

	// PrivacyLimits map risk bands to retention ceilings, checked from
	// highest risk down. The first band the memory's risk reaches wins.
	PrivacyLimits []PrivacyLimit `json:"privacy_limits"`

	// TruncateLength is the content length the archive tier truncates
	// to, in runes.
	TruncateLength int `json:"truncate_length"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Decay:     decay.DefaultConfig(),
		GraceDays: 7,
		PrivacyLimits: []PrivacyLimit{
			{MinRisk: 0.8, MaxDays: 30},
			{MinRisk: 0.5, MaxDays: 90},
			{MinRisk: 0.2, MaxDays: 365},
		},
		TruncateLength: 200,
	}
}

// Evaluation is the outcome of tier evaluation for one memory.
type Evaluation struct {
	Tier   Tier   `json:"tier"`
	Reason Reason `json:"reason,omitempty"`
}

// Evaluate assigns a tier to a memory. Checks run in a fixed order:
// protection, privacy-driven expiration, explicit expiration, the
// minimum-retention gate, then strength thresholds. Protected memories and
// memories that still qualify for retention get TierNone from the
// strength path, but privacy and explicit expiration outrank retention.
func (c Config) Evaluate(m *core.Memory, now time.Time) Evaluation {
	if c.Decay.IsProtected(m) {
		return Evaluation{Tier: TierNone}
	}

	if c.privacyExpired(m, now) {
		return Evaluation{Tier: TierPermanent, Reason: ReasonPrivacy}
	}

	if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
		return Evaluation{Tier: TierPermanent, Reason: ReasonExpired}
	}

	// Retention gate: young, important, or frequently accessed memories
	// are not tiered on strength alone.
	if !c.Decay.ShouldDelete(m, now) {
		return Evaluation{Tier: TierNone}
	}

	switch {
	case m.Strength < c.Decay.PermanentThreshold:
		return Evaluation{Tier: TierPermanent, Reason: ReasonDecayed}
	case m.Strength < c.Decay.ArchiveThreshold:
		return Evaluation{Tier: TierArchive, Reason: ReasonDecayed}
	case m.Strength < c.Decay.SoftThreshold:
		return Evaluation{Tier: TierSoft, Reason: ReasonDecayed}
	default:
		return Evaluation{Tier: TierNone}
	}
}

func (c Config) privacyExpired(m *core.Memory, now time.Time) bool {
	age := m.AgeDays(now)
	for _, limit := range c.PrivacyLimits {
		if m.PrivacyRisk >= limit.MinRisk {
			return age > limit.MaxDays
		}
	}
	return false
}

// CompressEmbedding shrinks a vector by mean-pooling consecutive groups of
// the given factor. The result keeps the overall direction while cutting
// storage; factor 2 is the light compression of the soft tier, factor 4
// the heavier archive-tier form. Vectors shorter than the factor and
// factors below 2 are returned unchanged.
func CompressEmbedding(vec []float64, factor int) []float64 {
	if factor < 2 || len(vec) < factor {
		return vec
	}
	out := make([]float64, 0, (len(vec)+factor-1)/factor)
	for i := 0; i < len(vec); i += factor {
		end := i + factor
		if end > len(vec) {
			end = len(vec)
		}
		sum := 0.0
		for _, v := range vec[i:end] {
			sum += v
		}
		out = append(out, sum/float64(end-i))
	}
	return out
}

// TruncateContent cuts content to at most n runes, appending an ellipsis
// marker when anything was removed.
func TruncateContent(content string, n int) string {
	if n <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}
