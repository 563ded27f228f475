package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
)

// Columns is the canonical column list shared by the SQL backends, in the
// order ScanMemory and MemoryValues expect. Vectors and string sets are
// stored as JSON text so the same schema works on SQLite, PostgreSQL, and
// MySQL.
const Columns = "id, user_id, conversation_id, content, embedding, embedding_model, " +
	"type, status, tags, created_at, updated_at, last_accessed_at, access_count, " +
	"recency_score, frequency_score, salience_score, relevance_score, importance_score, " +
	"strength, links, consolidated_from, consolidated_into, expires_at, purge_at, " +
	"privacy_risk, review_count, next_review_at, version"

// NumColumns is the number of columns in Columns.
const NumColumns = 28

// RowScanner abstracts *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanMemory reads one row in Columns order into a Memory.
func ScanMemory(row RowScanner) (*core.Memory, error) {
	var (
		m                core.Memory
		embedding        string
		tags             string
		links            string
		consolidatedFrom string
		lastAccessedAt   sql.NullTime
		expiresAt        sql.NullTime
		purgeAt          sql.NullTime
		nextReviewAt     sql.NullTime
		consolidatedInto sql.NullString
	)

	err := row.Scan(
		&m.ID, &m.UserID, &m.ConversationID, &m.Content, &embedding, &m.EmbeddingModel,
		&m.Type, &m.Status, &tags, &m.CreatedAt, &m.UpdatedAt, &lastAccessedAt, &m.AccessCount,
		&m.RecencyScore, &m.FrequencyScore, &m.SalienceScore, &m.RelevanceScore, &m.ImportanceScore,
		&m.Strength, &links, &consolidatedFrom, &consolidatedInto, &expiresAt, &purgeAt,
		&m.PrivacyRisk, &m.ReviewCount, &nextReviewAt, &m.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSONColumn(embedding, &m.Embedding); err != nil {
		return nil, fmt.Errorf("ScanMemory: embedding: %w", err)
	}
	if err := decodeJSONColumn(tags, &m.Tags); err != nil {
		return nil, fmt.Errorf("ScanMemory: tags: %w", err)
	}
	if err := decodeJSONColumn(links, &m.Links); err != nil {
		return nil, fmt.Errorf("ScanMemory: links: %w", err)
	}
	if err := decodeJSONColumn(consolidatedFrom, &m.ConsolidatedFrom); err != nil {
		return nil, fmt.Errorf("ScanMemory: consolidated_from: %w", err)
	}

	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		m.LastAccessedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if purgeAt.Valid {
		t := purgeAt.Time
		m.PurgeAt = &t
	}
	if nextReviewAt.Valid {
		t := nextReviewAt.Time
		m.NextReviewAt = &t
	}
	if consolidatedInto.Valid {
		m.ConsolidatedInto = consolidatedInto.String
	}

	return &m, nil
}

func decodeJSONColumn(raw string, dest interface{}) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// MemoryValues returns the memory's values in Columns order, with the
// version set to storedVersion. JSON columns are encoded here so the
// drivers only deal with plain values.
func MemoryValues(m *core.Memory, storedVersion int64) ([]interface{}, error) {
	embedding, err := json.Marshal(m.Embedding)
	if err != nil {
		return nil, fmt.Errorf("MemoryValues: embedding: %w", err)
	}
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return nil, fmt.Errorf("MemoryValues: tags: %w", err)
	}
	links, err := json.Marshal(m.Links)
	if err != nil {
		return nil, fmt.Errorf("MemoryValues: links: %w", err)
	}
	consolidatedFrom, err := json.Marshal(m.ConsolidatedFrom)
	if err != nil {
		return nil, fmt.Errorf("MemoryValues: consolidated_from: %w", err)
	}

	return []interface{}{
		m.ID, m.UserID, m.ConversationID, m.Content, string(embedding), m.EmbeddingModel,
		string(m.Type), string(m.Status), string(tags), m.CreatedAt, m.UpdatedAt,
		timePtr(m.LastAccessedAt), m.AccessCount,
		m.RecencyScore, m.FrequencyScore, m.SalienceScore, m.RelevanceScore, m.ImportanceScore,
		m.Strength, string(links), string(consolidatedFrom), m.ConsolidatedInto,
		timePtr(m.ExpiresAt), timePtr(m.PurgeAt),
		m.PrivacyRisk, m.ReviewCount, timePtr(m.NextReviewAt), storedVersion,
	}, nil
}

func timePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Placeholder produces positional SQL placeholders: "?" for SQLite and
// MySQL, "$n" for PostgreSQL.
type Placeholder func(n int) string

// QuestionPlaceholder is the "?" style used by SQLite and MySQL.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder is the "$n" style used by PostgreSQL.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// Placeholders returns a comma-joined list of count placeholders starting
// at position start.
func Placeholders(ph Placeholder, start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = ph(start + i)
	}
	return strings.Join(parts, ", ")
}

// BuildWhere translates a Filter into a WHERE clause and its arguments.
// Tag membership matches against the JSON-encoded tags column; a tag
// matches when its quoted form appears in the array text.
func BuildWhere(f *Filter, ph Placeholder) (string, []interface{}) {
	if f == nil {
		f = &Filter{}
	}

	var conds []string
	var args []interface{}

	statuses := f.EffectiveStatuses()
	sparts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
		sparts = append(sparts, ph(len(args)))
	}
	conds = append(conds, fmt.Sprintf("status IN (%s)", strings.Join(sparts, ", ")))

	if len(f.Types) > 0 {
		tparts := make([]string, 0, len(f.Types))
		for _, t := range f.Types {
			args = append(args, string(t))
			tparts = append(tparts, ph(len(args)))
		}
		conds = append(conds, fmt.Sprintf("type IN (%s)", strings.Join(tparts, ", ")))
	}

	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = %s", ph(len(args))))
	}
	if f.ConversationID != "" {
		args = append(args, f.ConversationID)
		conds = append(conds, fmt.Sprintf("conversation_id = %s", ph(len(args))))
	}
	if f.MinImportance != nil {
		args = append(args, *f.MinImportance)
		conds = append(conds, fmt.Sprintf("importance_score >= %s", ph(len(args))))
	}
	if f.MaxImportance != nil {
		args = append(args, *f.MaxImportance)
		conds = append(conds, fmt.Sprintf("importance_score <= %s", ph(len(args))))
	}

	if len(f.Tags) > 0 {
		tagConds := make([]string, 0, len(f.Tags))
		for _, tag := range f.Tags {
			args = append(args, `%"`+tag+`"%`)
			tagConds = append(tagConds, fmt.Sprintf("tags LIKE %s", ph(len(args))))
		}
		conds = append(conds, "("+strings.Join(tagConds, " OR ")+")")
	}

	if f.CreatedAfter != nil {
		args = append(args, *f.CreatedAfter)
		conds = append(conds, fmt.Sprintf("created_at >= %s", ph(len(args))))
	}
	if f.CreatedBefore != nil {
		args = append(args, *f.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at <= %s", ph(len(args))))
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}
