package forgetting

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
)

// Engine runs forgetting sweeps, right-to-erasure requests, and purge
// passes over a store.
type Engine struct {
	cfg    Config
	store  storage.Store
	audit  AuditSink
	locks  *core.LockMap
	logger *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithLockMap shares a lock map with other components mutating the same
// store.
func WithLockMap(lm *core.LockMap) EngineOption {
	return func(e *Engine) { e.locks = lm }
}

// NewEngine creates a forgetting engine. The audit sink is required:
// permanent deletions without an audit trail are not allowed.
func NewEngine(cfg Config, store storage.Store, audit AuditSink, opts ...EngineOption) (*Engine, error) {
	if audit == nil {
		return nil, core.NewLifecycleError("forgetting.new", errors.New("audit sink is required"))
	}
	e := &Engine{
		cfg:    cfg,
		store:  store,
		audit:  audit,
		locks:  core.NewLockMap(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// SweepResult summarizes a forgetting pass.
type SweepResult struct {
	Examined  int `json:"examined"`
	Soft      int `json:"soft"`
	Archive   int `json:"archive"`
	Scheduled int `json:"scheduled"`
	Deleted   int `json:"deleted"`
}

// Sweep evaluates every active and archived memory of a user (or all
// users when userID is empty) and applies the assigned tier mutation.
// Archived memories are included so records the decay pass already
// archived can still reach the permanent tier.
func (e *Engine) Sweep(ctx context.Context, userID string, now time.Time) (*SweepResult, error) {
	mems, err := e.store.Query(ctx, &storage.Filter{
		UserID:          userID,
		IncludeArchived: true,
	})
	if err != nil {
		return nil, core.NewLifecycleError("forgetting.sweep", err)
	}

	res := &SweepResult{}
	for _, m := range mems {
		if err := ctx.Err(); err != nil {
			return res, core.NewLifecycleError("forgetting.sweep", err)
		}
		res.Examined++
		if err := e.applyOne(ctx, m.ID, now, res); err != nil {
			if errors.Is(err, core.ErrVersionConflict) || errors.Is(err, core.ErrNotFound) {
				continue
			}
			return res, err
		}
	}

	e.logger.Info("forgetting sweep complete",
		zap.String("user_id", userID),
		zap.Int("examined", res.Examined),
		zap.Int("soft", res.Soft),
		zap.Int("archive", res.Archive),
		zap.Int("scheduled", res.Scheduled),
		zap.Int("deleted", res.Deleted),
	)
	return res, nil
}

func (e *Engine) applyOne(ctx context.Context, id string, now time.Time, res *SweepResult) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	m, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	ev := e.cfg.Evaluate(m, now)

	// Soft and archive mutations are one-way: re-applying them to an
	// already archived record would compress the embedding again on
	// every sweep.
	if m.Status == core.StatusArchived && (ev.Tier == TierSoft || ev.Tier == TierArchive) {
		return nil
	}

	switch ev.Tier {
	case TierSoft:
		m.Status = core.StatusArchived
		m.Embedding = CompressEmbedding(m.Embedding, 2)
		m.UpdatedAt = now
		if err := e.store.Put(ctx, m); err != nil {
			return err
		}
		res.Soft++

	case TierArchive:
		m.Status = core.StatusArchived
		m.Content = TruncateContent(m.Content, e.cfg.TruncateLength)
		m.Embedding = CompressEmbedding(m.Embedding, 4)
		m.UpdatedAt = now
		if err := e.store.Put(ctx, m); err != nil {
			return err
		}
		res.Archive++

	case TierPermanent:
		deleted, err := e.deletePermanent(ctx, m, ev.Reason, now)
		if err != nil {
			return err
		}
		if deleted {
			res.Deleted++
		} else {
			res.Scheduled++
		}
	}
	return nil
}

// deletePermanent executes a permanent-tier action. Privacy expirations
// are removed immediately and irrecoverably; all other reasons set the
// deleted status with a purge time after the grace period, leaving a
// recovery window. Returns true when the record was physically removed.
func (e *Engine) deletePermanent(ctx context.Context, m *core.Memory, reason Reason, now time.Time) (bool, error) {
	if reason == ReasonPrivacy {
		if err := e.audit.Append(NewAuditRecord(m, reason, false, now)); err != nil {
			return false, core.NewLifecycleError("forgetting.audit", err)
		}
		if err := e.store.Delete(ctx, m.ID); err != nil {
			return false, err
		}
		return true, nil
	}

	purgeAt := now.Add(time.Duration(e.cfg.GraceDays * 24 * float64(time.Hour)))
	m.Status = core.StatusDeleted
	m.PurgeAt = &purgeAt
	m.UpdatedAt = now
	if err := e.audit.Append(NewAuditRecord(m, reason, true, now)); err != nil {
		return false, core.NewLifecycleError("forgetting.audit", err)
	}
	if err := e.store.Put(ctx, m); err != nil {
		return false, err
	}
	return false, nil
}

// Purge physically removes memories whose grace period has elapsed.
// Returns the number of records removed.
func (e *Engine) Purge(ctx context.Context, now time.Time) (int, error) {
	ids, err := e.store.ListPurgeable(ctx, now)
	if err != nil {
		return 0, core.NewLifecycleError("forgetting.purge", err)
	}

	purged := 0
	for _, id := range ids {
		unlock := e.locks.Lock(id)
		m, err := e.store.GetAny(ctx, id)
		if err != nil {
			unlock()
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return purged, core.NewLifecycleError("forgetting.purge", err)
		}
		if m.Status != core.StatusDeleted || m.PurgeAt == nil || m.PurgeAt.After(now) {
			unlock()
			continue
		}
		if err := e.audit.Append(NewAuditRecord(m, ReasonPurged, false, now)); err != nil {
			unlock()
			return purged, core.NewLifecycleError("forgetting.audit", err)
		}
		if err := e.store.Delete(ctx, m.ID); err != nil {
			unlock()
			return purged, core.NewLifecycleError("forgetting.purge", err)
		}
		unlock()
		purged++
	}
	return purged, nil
}

// ComplianceReport summarizes the handling of a right-to-erasure request.
type ComplianceReport struct {
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
	Anonymized int       `json:"anonymized"`
	Scheduled  int       `json:"scheduled"`
	Total      int       `json:"total"`
}

// EraseUser handles a right-to-erasure request for a user. Memories tagged
// for legal or compliance retention are anonymized in place: the user id
// is stripped, detectable personal data is redacted from the content, and
// the record is marked anonymized. Every other memory is scheduled for
// deletion after the grace period. Both paths emit audit records.
func (e *Engine) EraseUser(ctx context.Context, userID string, now time.Time) (*ComplianceReport, error) {
	mems, err := e.store.Query(ctx, &storage.Filter{
		UserID:          userID,
		IncludeArchived: true,
	})
	if err != nil {
		return nil, core.NewLifecycleError("forgetting.erase", err)
	}

	report := &ComplianceReport{UserID: userID, Timestamp: now}
	for _, m := range mems {
		if err := ctx.Err(); err != nil {
			return report, core.NewLifecycleError("forgetting.erase", err)
		}
		report.Total++

		unlock := e.locks.Lock(m.ID)
		cur, err := e.store.Get(ctx, m.ID)
		if err != nil {
			unlock()
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return report, core.NewLifecycleError("forgetting.erase", err)
		}

		if cur.HasTag("legal") || cur.HasTag("compliance") {
			rec := NewAuditRecord(cur, ReasonAnonymized, false, now)
			e.anonymize(cur, now)
			if err := e.audit.Append(rec); err != nil {
				unlock()
				return report, core.NewLifecycleError("forgetting.audit", err)
			}
			if err := e.store.Put(ctx, cur); err != nil {
				unlock()
				return report, core.NewLifecycleError("forgetting.erase", err)
			}
			report.Anonymized++
		} else {
			if _, err := e.deletePermanent(ctx, cur, ReasonErasure, now); err != nil {
				unlock()
				return report, core.NewLifecycleError("forgetting.erase", err)
			}
			report.Scheduled++
		}
		unlock()
	}

	e.logger.Info("right-to-erasure processed",
		zap.String("user_id", userID),
		zap.Int("anonymized", report.Anonymized),
		zap.Int("scheduled", report.Scheduled),
	)
	return report, nil
}

// anonymize strips identity from a memory kept for legal retention. The
// audit record is written before the mutation so it still carries the
// original user id.
func (e *Engine) anonymize(m *core.Memory, now time.Time) {
	m.UserID = ""
	m.ConversationID = ""
	m.Content = emailPattern.ReplaceAllString(m.Content, "[redacted]")
	m.Content = phonePattern.ReplaceAllString(m.Content, "[redacted]")
	m.AddTag(core.TagAnonymized)
	m.UpdatedAt = now
}
