// Package core provides the central Memory record, the shared error types,
// and the per-id lock map used by every lifecycle component.
package core

import "time"

// MemoryType classifies a memory by the kind of information it holds.
//
// The type influences decay speed (working memories fade fastest, system and
// procedural memories slowest) and protection rules (system memories are
// never archived or deleted).
type MemoryType string

const (
	// TypeEpisodic is an event or experience tied to a point in time.
	TypeEpisodic MemoryType = "episodic"

	// TypeSemantic is a fact or piece of knowledge.
	TypeSemantic MemoryType = "semantic"

	// TypeProcedural is a skill, workflow, or how-to pattern.
	TypeProcedural MemoryType = "procedural"

	// TypeWorking is short-lived session context.
	TypeWorking MemoryType = "working"

	// TypeEmotional is an emotionally significant memory.
	TypeEmotional MemoryType = "emotional"

	// TypeSystem is internal system state. System memories are protected.
	TypeSystem MemoryType = "system"
)

// MemoryStatus is the lifecycle state of a memory.
//
// Transitions move forward only (active -> archived -> deleted), with one
// exception: an archived memory whose strength recovers above the soft
// threshold after reinforcement returns to active.
type MemoryStatus string

const (
	// StatusActive memories participate in scoring, clustering, and review.
	StatusActive MemoryStatus = "active"

	// StatusArchived memories remain queryable for audit but are excluded
	// from normal operation unless explicitly requested.
	StatusArchived MemoryStatus = "archived"

	// StatusDeleted memories are never returned by queries. The record may
	// linger until its grace period expires and the purge pass removes it.
	StatusDeleted MemoryStatus = "deleted"
)

// TagConsolidated marks a memory produced by summarizing a cluster.
const TagConsolidated = "consolidated"

// TagNeedsReview marks a memory whose last recall attempt failed.
const TagNeedsReview = "needs_review"

// TagAnonymized marks a memory scrubbed by the right-to-erasure path.
const TagAnonymized = "anonymized"

// Memory is the central record shared by every lifecycle component.
//
// Importance and strength are independent: importance reflects how worth
// keeping the memory is (weighted recency/frequency/salience/relevance),
// strength reflects how intact the record currently is. Decay mutates
// strength, never importance.
type Memory struct {
	// ID is the unique identifier of the memory.
	ID string `json:"id"`

	// UserID identifies the user who owns this memory (optional).
	UserID string `json:"user_id,omitempty"`

	// ConversationID identifies the conversation or session this memory
	// originated from (optional). Consolidation uses it for the
	// same-conversation distance bonus.
	ConversationID string `json:"conversation_id,omitempty"`

	// Content is the text body of the memory.
	Content string `json:"content"`

	// Embedding is the vector representation of Content (optional).
	Embedding []float64 `json:"embedding,omitempty"`

	// EmbeddingModel tags which model produced the embedding.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// Type classifies the memory. See MemoryType.
	Type MemoryType `json:"type"`

	// Status is the lifecycle state. See MemoryStatus.
	Status MemoryStatus `json:"status"`

	// Tags carry governance markers (protection, privacy classification)
	// and lifecycle annotations such as "consolidated" or "needs_review".
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last mutated.
	UpdatedAt time.Time `json:"updated_at"`

	// LastAccessedAt is when the memory was last accessed (nil if never).
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// AccessCount is the number of times the memory has been accessed.
	AccessCount int `json:"access_count"`

	// RecencyScore is the cached recency component (0.0-1.0).
	RecencyScore float64 `json:"recency_score"`

	// FrequencyScore is the cached frequency component (0.0-1.0).
	FrequencyScore float64 `json:"frequency_score"`

	// SalienceScore is the cached salience component (0.0-1.0).
	SalienceScore float64 `json:"salience_score"`

	// RelevanceScore is the cached relevance component (0.0-1.0).
	RelevanceScore float64 `json:"relevance_score"`

	// ImportanceScore is the combined importance (0.0-1.0).
	ImportanceScore float64 `json:"importance_score"`

	// Strength is the current retention strength (0.0-1.0). It decays over
	// time and is restored by reinforcement; it is distinct from importance.
	Strength float64 `json:"strength"`

	// Links holds the ids of related memories established by the
	// consolidation link strategy. Links are symmetric: if A lists B,
	// B lists A. Use Link / Unlink to keep both sides consistent.
	Links []string `json:"links,omitempty"`

	// ConsolidatedFrom lists the origin ids when this memory is the
	// product of summarizing a cluster.
	ConsolidatedFrom []string `json:"consolidated_from,omitempty"`

	// ConsolidatedInto is set on an archived member pointing at the
	// summary memory that replaced it.
	ConsolidatedInto string `json:"consolidated_into,omitempty"`

	// ExpiresAt is an explicit expiration timestamp (optional).
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// PurgeAt is when a soft-deleted record becomes eligible for physical
	// removal. Set by the forgetting engine when a grace period applies.
	PurgeAt *time.Time `json:"purge_at,omitempty"`

	// PrivacyRisk scores how privacy-sensitive the content is (0.0-1.0).
	PrivacyRisk float64 `json:"privacy_risk"`

	// ReviewCount is the number of completed spaced-repetition reviews.
	ReviewCount int `json:"review_count"`

	// NextReviewAt is when the memory is next due for review (nil if the
	// scheduler has not touched it yet).
	NextReviewAt *time.Time `json:"next_review_at,omitempty"`

	// Version is a compare-and-swap counter incremented on every store
	// write. Sweeps use it to detect concurrent mutation of a record.
	Version int64 `json:"version"`
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present.
func (m *Memory) AddTag(tag string) {
	if !m.HasTag(tag) {
		m.Tags = append(m.Tags, tag)
	}
}

// HasLink reports whether the memory links to the given id.
func (m *Memory) HasLink(id string) bool {
	for _, l := range m.Links {
		if l == id {
			return true
		}
	}
	return false
}

// AgeDays returns the fractional days elapsed since creation.
func (m *Memory) AgeDays(now time.Time) float64 {
	return now.Sub(m.CreatedAt).Hours() / 24.0
}

// DaysSinceAccess returns the days since the memory was last accessed,
// falling back to creation time if it has never been accessed.
func (m *Memory) DaysSinceAccess(now time.Time) float64 {
	if m.LastAccessedAt != nil {
		return now.Sub(*m.LastAccessedAt).Hours() / 24.0
	}
	return m.AgeDays(now)
}

// Clone returns a deep copy of the memory. Sweeps clone records before
// mutating so a failed commit leaves the original untouched.
func (m *Memory) Clone() *Memory {
	cp := *m
	cp.Embedding = append([]float64(nil), m.Embedding...)
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Links = append([]string(nil), m.Links...)
	cp.ConsolidatedFrom = append([]string(nil), m.ConsolidatedFrom...)
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		cp.ExpiresAt = &t
	}
	if m.PurgeAt != nil {
		t := *m.PurgeAt
		cp.PurgeAt = &t
	}
	if m.NextReviewAt != nil {
		t := *m.NextReviewAt
		cp.NextReviewAt = &t
	}
	return &cp
}

// Link establishes a bidirectional link between two memories. Both sides are
// mutated so the symmetry invariant holds at write time, not by convention.
func Link(a, b *Memory) {
	if a.ID == b.ID {
		return
	}
	if !a.HasLink(b.ID) {
		a.Links = append(a.Links, b.ID)
	}
	if !b.HasLink(a.ID) {
		b.Links = append(b.Links, a.ID)
	}
}

// Unlink removes the link between two memories on both sides.
func Unlink(a, b *Memory) {
	a.Links = removeString(a.Links, b.ID)
	b.Links = removeString(b.Links, a.ID)
}

func removeString(s []string, v string) []string {
	out := make([]string, 0, len(s))
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

// Clamp01 clamps v to the [0, 1] range. Every scalar score is passed through
// this at the point of computation so out-of-range values are never persisted.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
