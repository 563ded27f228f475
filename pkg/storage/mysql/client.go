// Package mysql provides a MySQL-backed Store, also usable against
// MySQL-compatible databases such as OceanBase.
//
// The DSN must enable parseTime so DATETIME columns scan into time.Time,
// e.g. "user:pass@tcp(localhost:3306)/mnemo?parseTime=true".
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// Client implements storage.Store using MySQL as the backend.
type Client struct {
	db    *sql.DB
	table string
}

// Config contains configuration for creating a MySQL store.
type Config struct {
	// DSN is the go-sql-driver connection string.
	DSN string

	// Table is the name of the table storing memories. Defaults to
	// "memories".
	Table string
}

// NewClient connects to MySQL and ensures the schema exists.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "memories"
	}

	c := &Client{db: db, table: table}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	// TEXT columns cannot carry literal defaults on MySQL; every write
	// supplies all columns, so none are needed.
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(191) PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			conversation_id VARCHAR(191) NOT NULL,
			content TEXT NOT NULL,
			embedding MEDIUMTEXT NOT NULL,
			embedding_model VARCHAR(191) NOT NULL,
			type VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			tags TEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			last_accessed_at DATETIME(6) NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			recency_score DOUBLE NOT NULL DEFAULT 0,
			frequency_score DOUBLE NOT NULL DEFAULT 0,
			salience_score DOUBLE NOT NULL DEFAULT 0,
			relevance_score DOUBLE NOT NULL DEFAULT 0,
			importance_score DOUBLE NOT NULL DEFAULT 0,
			strength DOUBLE NOT NULL DEFAULT 1.0,
			links TEXT NOT NULL,
			consolidated_from TEXT NOT NULL,
			consolidated_into VARCHAR(191) NOT NULL,
			expires_at DATETIME(6) NULL,
			purge_at DATETIME(6) NULL,
			privacy_risk DOUBLE NOT NULL DEFAULT 0,
			review_count BIGINT NOT NULL DEFAULT 0,
			next_review_at DATETIME(6) NULL,
			version BIGINT NOT NULL DEFAULT 0,
			INDEX idx_user_status (user_id, status)
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}
	return nil
}

// Get retrieves a memory by id. Deleted records report not found.
func (c *Client) Get(ctx context.Context, id string) (*core.Memory, error) {
	m, err := c.GetAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == core.StatusDeleted {
		return nil, core.NewLifecycleError("mysql.get", core.ErrNotFound)
	}
	return m, nil
}

// GetAny retrieves a memory by id regardless of status.
func (c *Client) GetAny(ctx context.Context, id string) (*core.Memory, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", storage.Columns, c.table)
	m, err := storage.ScanMemory(c.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, core.NewLifecycleError("mysql.get", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return m, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Put inserts or updates a memory with compare-and-swap on version.
func (c *Client) Put(ctx context.Context, m *core.Memory) error {
	return c.put(ctx, c.db, m)
}

func (c *Client) put(ctx context.Context, ex execer, m *core.Memory) error {
	values, err := storage.MemoryValues(m, m.Version+1)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	cols := strings.Split(storage.Columns, ", ")
	sets := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		sets = append(sets, col+" = ?")
	}
	updateQuery := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?",
		c.table, strings.Join(sets, ", "))

	args := append(append([]interface{}{}, values[1:]...), m.ID, m.Version)
	res, err := ex.ExecContext(ctx, updateQuery, args...)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	if affected == 0 {
		insertQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			c.table, storage.Columns,
			storage.Placeholders(storage.QuestionPlaceholder, 1, storage.NumColumns))
		if _, err := ex.ExecContext(ctx, insertQuery, values...); err != nil {
			return core.NewLifecycleError("mysql.put", core.ErrVersionConflict)
		}
	}

	m.Version++
	return nil
}

// Query returns memories matching the filter, ordered by creation time
// then id.
func (c *Client) Query(ctx context.Context, f *storage.Filter) ([]*core.Memory, error) {
	where, args := storage.BuildWhere(f, storage.QuestionPlaceholder)
	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY created_at, id",
		storage.Columns, c.table, where)

	if f != nil && f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	} else if f != nil && f.Offset > 0 {
		// MySQL needs a LIMIT to use OFFSET; use the documented
		// "all rows" idiom.
		query += fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", f.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*core.Memory
	for rows.Next() {
		m, err := storage.ScanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// Delete physically removes a memory record.
func (c *Client) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table)
	res, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if affected == 0 {
		return core.NewLifecycleError("mysql.delete", core.ErrNotFound)
	}
	return nil
}

// GetBatch retrieves multiple memories by id, skipping missing or deleted
// records.
func (c *Client) GetBatch(ctx context.Context, ids []string) ([]*core.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s) AND status != ? ORDER BY created_at, id",
		storage.Columns, c.table,
		storage.Placeholders(storage.QuestionPlaceholder, 1, len(ids)))
	args = append(args, string(core.StatusDeleted))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetBatch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*core.Memory
	for rows.Next() {
		m, err := storage.ScanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("GetBatch: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// PutBatch writes multiple memories in one transaction. Any conflict rolls
// the whole batch back.
func (c *Client) PutBatch(ctx context.Context, ms []*core.Memory) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("PutBatch: %w", err)
	}

	for _, m := range ms {
		if err := c.put(ctx, tx, m); err != nil {
			_ = tx.Rollback()
			rollbackVersions(ms, m)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		rollbackVersions(ms, nil)
		return fmt.Errorf("PutBatch: %w", err)
	}
	return nil
}

func rollbackVersions(ms []*core.Memory, failed *core.Memory) {
	for _, m := range ms {
		if m == failed {
			return
		}
		m.Version--
	}
}

// Count returns the number of memories matching the filter.
func (c *Client) Count(ctx context.Context, f *storage.Filter) (int, error) {
	where, args := storage.BuildWhere(f, storage.QuestionPlaceholder)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", c.table, where)

	var count int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return count, nil
}

// ListPurgeable returns ids of deleted memories whose purge time has
// passed.
func (c *Client) ListPurgeable(ctx context.Context, before time.Time) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE status = ? AND purge_at IS NOT NULL AND purge_at <= ? ORDER BY id",
		c.table)

	rows, err := c.db.QueryContext(ctx, query, string(core.StatusDeleted), before)
	if err != nil {
		return nil, fmt.Errorf("ListPurgeable: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListPurgeable: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}
