package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/chainguard/internal/core/domain"
)

// ErrorLogRepo implements the error log store on the error_logs table.
type ErrorLogRepo struct {
	db *DB
}

// NewErrorLogRepo creates a new SQL error log store.
func NewErrorLogRepo(db *DB) *ErrorLogRepo {
	return &ErrorLogRepo{db: db}
}

type errorLogRow struct {
	ID           string `db:"id"`
	OccurredAtUS int64  `db:"occurred_at_us"`
	ErrorName    string `db:"error_name"`
	Message      string `db:"message"`
	Stack        string `db:"stack"`
	Context      string `db:"context"`
	Category     string `db:"category"`
	Severity     string `db:"severity"`
	UserAgent    string `db:"user_agent"`
	URL          string `db:"url"`
}

// Put inserts a record.
func (r *ErrorLogRepo) Put(ctx context.Context, rec *domain.ErrorRecord) error {
	fields := rec.Context
	if fields == nil {
		fields = map[string]any{}
	}
	contextJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal error context: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO error_logs (id, occurred_at_us, error_name, message, stack, context, category, severity, user_agent, url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.Timestamp.UnixMicro(),
		rec.Error.Name,
		rec.Error.Message,
		rec.Error.Stack,
		string(contextJSON),
		string(rec.Category),
		string(rec.Severity),
		rec.UserAgent,
		rec.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to insert error record: %w", err)
	}
	return nil
}

// GetAll returns every record, oldest first.
func (r *ErrorLogRepo) GetAll(ctx context.Context) ([]*domain.ErrorRecord, error) {
	query := `
		SELECT id, occurred_at_us, error_name, message, stack, context, category, severity, user_agent, url
		FROM error_logs
		ORDER BY occurred_at_us ASC, id ASC
	`

	var rows []errorLogRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get error records: %w", err)
	}

	records := make([]*domain.ErrorRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// Delete removes one record.
func (r *ErrorLogRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM error_logs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete error record: %w", err)
	}
	return nil
}

// Clear removes every record.
func (r *ErrorLogRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM error_logs`); err != nil {
		return fmt.Errorf("failed to clear error records: %w", err)
	}
	return nil
}

// Trim keeps the newest max records. Concurrent calls never remove more
// than the excess.
func (r *ErrorLogRepo) Trim(ctx context.Context, max int) (int, error) {
	query := r.db.Rebind(`
		DELETE FROM error_logs
		WHERE id NOT IN (
			SELECT id FROM error_logs
			ORDER BY occurred_at_us DESC, id DESC
			LIMIT ?
		)
	`)
	res, err := r.db.ExecContext(ctx, query, max)
	if err != nil {
		return 0, fmt.Errorf("failed to trim error records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of stored records.
func (r *ErrorLogRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM error_logs`); err != nil {
		return 0, fmt.Errorf("failed to count error records: %w", err)
	}
	return count, nil
}

func (row errorLogRow) toDomain() *domain.ErrorRecord {
	var fields map[string]any
	if row.Context != "" && row.Context != "{}" {
		_ = json.Unmarshal([]byte(row.Context), &fields)
	}

	return &domain.ErrorRecord{
		ID:        row.ID,
		Timestamp: time.UnixMicro(row.OccurredAtUS).UTC(),
		Error: domain.CapturedError{
			Name:    row.ErrorName,
			Message: row.Message,
			Stack:   row.Stack,
		},
		Context:   fields,
		Category:  domain.ErrorCategory(row.Category),
		Severity:  domain.ErrorSeverity(row.Severity),
		UserAgent: row.UserAgent,
		URL:       row.URL,
	}
}
