// Package decay manages memory strength erosion and reinforcement.
//
// Strength follows an Ebbinghaus-style curve: each decay pass subtracts
// rate * daysElapsed from strength, where the rate is the base rate scaled
// by importance (quadratic penalty), recent-access behavior, and memory
// type. Accessing a memory reinforces it with diminishing returns.
//
// The per-memory state machine is:
//
//	active -> (strength below soft threshold) -> archived
//	archived -> (strength below permanent threshold, retention rules clear) -> deleted
//
// Transitions only move forward, with one exception: an archived memory
// whose strength rises back above the soft threshold after reinforcement
// returns to active.
package decay

import (
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
)

// Config holds the decay engine's numeric parameters. Thresholds are
// distinct, ordered values: Soft > Archive > Permanent.
type Config struct {
	// BaseRate is the baseline strength loss per day before modifiers.
	BaseRate float64 `json:"base_rate"`

	// ReinforcementBoost controls how much an access restores strength.
	ReinforcementBoost float64 `json:"reinforcement_boost"`

	// SoftThreshold is the strength below which an active memory is
	// archived, and above which an archived memory reactivates.
	SoftThreshold float64 `json:"soft_threshold"`

	// ArchiveThreshold is the strength below which an archived memory's
	// content and embedding are compressed.
	ArchiveThreshold float64 `json:"archive_threshold"`

	// PermanentThreshold is the strength below which a memory becomes a
	// deletion candidate.
	PermanentThreshold float64 `json:"permanent_threshold"`

	// MinAgeDays is the minimum age before deletion is considered.
	MinAgeDays float64 `json:"min_age_days"`

	// DeleteImportanceCeiling: deletion requires importance at or below
	// this value.
	DeleteImportanceCeiling float64 `json:"delete_importance_ceiling"`

	// DeleteAccessCeiling: deletion requires access count below this.
	DeleteAccessCeiling int `json:"delete_access_ceiling"`

	// TypeModifiers scale the decay rate per memory type. Working memory
	// decays fastest, system and procedural slowest.
	TypeModifiers map[core.MemoryType]float64 `json:"type_modifiers"`

	// ProtectedTags never transition past active.
	ProtectedTags []string `json:"protected_tags"`

	// ProtectedImportance: memories above this importance are protected.
	ProtectedImportance float64 `json:"protected_importance"`

	// ProtectedAccessCount: memories accessed more often than this are
	// protected.
	ProtectedAccessCount int `json:"protected_access_count"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BaseRate:                0.05,
		ReinforcementBoost:      0.3,
		SoftThreshold:           0.30,
		ArchiveThreshold:        0.15,
		PermanentThreshold:      0.05,
		MinAgeDays:              30,
		DeleteImportanceCeiling: 0.2,
		DeleteAccessCeiling:     2,
		TypeModifiers: map[core.MemoryType]float64{
			core.TypeWorking:    1.8,
			core.TypeEpisodic:   1.2,
			core.TypeEmotional:  1.0,
			core.TypeSemantic:   0.8,
			core.TypeProcedural: 0.5,
			core.TypeSystem:     0.3,
		},
		ProtectedTags: []string{
			"user_preference", "commitment", "legal", "privacy", "compliance",
		},
		ProtectedImportance:  0.8,
		ProtectedAccessCount: 50,
	}
}

// Rate returns the effective strength loss per day for a memory.
//
// base = BaseRate * (1 - importance)^2, so high-importance memories decay
// dramatically slower. The base is then multiplied by the importance,
// access-pattern, and type modifiers, floored at zero.
func (c Config) Rate(m *core.Memory, now time.Time) float64 {
	imp := core.Clamp01(m.ImportanceScore)
	base := c.BaseRate * (1 - imp) * (1 - imp)

	rate := base * c.importanceModifier(imp) * c.accessModifier(m, now) * c.typeModifier(m.Type)
	if rate < 0 {
		return 0
	}
	return rate
}

func (c Config) importanceModifier(importance float64) float64 {
	return 1 - 0.9*importance
}

// accessModifier rewards recently accessed memories and penalizes those
// never accessed at all.
func (c Config) accessModifier(m *core.Memory, now time.Time) float64 {
	if m.LastAccessedAt == nil {
		if m.AccessCount == 0 {
			return 1.5
		}
		return 1.0
	}
	since := now.Sub(*m.LastAccessedAt)
	switch {
	case since <= 24*time.Hour:
		return 0.5
	case since <= 7*24*time.Hour:
		return 0.7
	default:
		return 1.0
	}
}

func (c Config) typeModifier(t core.MemoryType) float64 {
	if mod, ok := c.TypeModifiers[t]; ok {
		return mod
	}
	return 1.0
}

// Apply erodes a memory's strength for the elapsed duration:
// strength = max(0, strength - rate * daysElapsed). Importance is not
// touched; decay mutates strength only.
func (c Config) Apply(m *core.Memory, elapsed time.Duration, now time.Time) float64 {
	days := elapsed.Hours() / 24.0
	if days <= 0 {
		return m.Strength
	}
	s := m.Strength - c.Rate(m, now)*days
	if s < 0 {
		s = 0
	}
	m.Strength = s
	return s
}

// Reinforce strengthens a memory on access with diminishing returns:
//
//	newStrength = min(1, strength + boost*(1 - strength))
//
// A memory already at strength 1.0 stays at 1.0. The access count and the
// last-accessed / updated timestamps are advanced. An archived memory whose
// strength recovers above the soft threshold reactivates.
func (c Config) Reinforce(m *core.Memory, now time.Time) float64 {
	s := m.Strength + c.ReinforcementBoost*(1-m.Strength)
	if s > 1 {
		s = 1
	}
	m.Strength = s
	m.AccessCount++
	t := now
	m.LastAccessedAt = &t
	m.UpdatedAt = now

	if m.Status == core.StatusArchived && s > c.SoftThreshold {
		m.Status = core.StatusActive
	}
	return s
}

// IsProtected reports whether a memory is exempt from every transition past
// active: system type, importance above the protection bar, heavy access,
// or any protected tag.
func (c Config) IsProtected(m *core.Memory) bool {
	if m.Type == core.TypeSystem {
		return true
	}
	if m.ImportanceScore > c.ProtectedImportance {
		return true
	}
	if m.AccessCount > c.ProtectedAccessCount {
		return true
	}
	for _, tag := range c.ProtectedTags {
		if m.HasTag(tag) {
			return true
		}
	}
	return false
}

// ShouldDelete reports whether a memory qualifies for deletion. All four
// conditions must hold: minimum age elapsed, importance at or below the
// ceiling, access count below the ceiling, and no protection.
func (c Config) ShouldDelete(m *core.Memory, now time.Time) bool {
	if c.IsProtected(m) {
		return false
	}
	if m.AgeDays(now) < c.MinAgeDays {
		return false
	}
	if m.ImportanceScore > c.DeleteImportanceCeiling {
		return false
	}
	if m.AccessCount >= c.DeleteAccessCeiling {
		return false
	}
	return true
}

// Transition advances the memory's lifecycle state based on its current
// strength: an unprotected active memory below the soft threshold is
// archived, and an archived memory that recovered above the threshold
// returns to active. The archived-to-deleted edge is owned by the
// forgetting engine, which records an audit entry and applies the grace
// period. The returned bool reports whether the status changed.
func (c Config) Transition(m *core.Memory, now time.Time) bool {
	switch m.Status {
	case core.StatusActive:
		if m.Strength < c.SoftThreshold && !c.IsProtected(m) {
			m.Status = core.StatusArchived
			m.UpdatedAt = now
			return true
		}
	case core.StatusArchived:
		if m.Strength > c.SoftThreshold {
			m.Status = core.StatusActive
			m.UpdatedAt = now
			return true
		}
	}
	return false
}
