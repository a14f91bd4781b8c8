package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/fleetquery/internal/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type executionHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewExecutionHistoryRepository wires a repository backed by pgxpool.
func NewExecutionHistoryRepository(pool *pgxpool.Pool) ExecutionHistoryRepository {
	return &executionHistoryRepository{pool: pool}
}

func (r *executionHistoryRepository) Record(ctx context.Context, record domain.ExecutionRecord) error {
	if r.pool == nil {
		return fmt.Errorf("execution history repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO execution_history
		   (request_id, mode, status, servers, total_rows, error_count, execution_time_ms, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (request_id) DO NOTHING`,
		record.RequestID,
		record.Mode,
		string(record.Status),
		record.Servers,
		record.TotalRows,
		record.ErrorCount,
		record.ExecutionTimeMs,
		record.StartedAt,
		record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution %s: %w", record.RequestID, err)
	}
	return nil
}

func (r *executionHistoryRepository) GetByID(ctx context.Context, requestID string) (domain.ExecutionRecord, error) {
	if r.pool == nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution history repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT request_id, mode, status, servers, total_rows, error_count, execution_time_ms, started_at, completed_at
		 FROM execution_history
		 WHERE request_id = $1`,
		requestID,
	)
	record, err := scanExecutionRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, fmt.Errorf("%s: %w", requestID, ErrExecutionNotFound)
		}
		return domain.ExecutionRecord{}, fmt.Errorf("failed to get execution %s: %w", requestID, err)
	}
	return record, nil
}

func (r *executionHistoryRepository) List(ctx context.Context, limit int, offset int) ([]domain.ExecutionRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("execution history repository not initialized")
	}
	limit, offset = normalizePage(limit, offset)

	rows, err := r.pool.Query(
		ctx,
		`SELECT request_id, mode, status, servers, total_rows, error_count, execution_time_ms, started_at, completed_at
		 FROM execution_history
		 ORDER BY completed_at DESC
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution history: %w", err)
	}
	defer rows.Close()

	records := []domain.ExecutionRecord{}
	for rows.Next() {
		record, scanErr := scanExecutionRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", scanErr)
		}
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate execution history: %w", rowsErr)
	}
	return records, nil
}

func scanExecutionRecord(row pgx.Row) (domain.ExecutionRecord, error) {
	var (
		record domain.ExecutionRecord
		status string
	)
	if err := row.Scan(
		&record.RequestID,
		&record.Mode,
		&status,
		&record.Servers,
		&record.TotalRows,
		&record.ErrorCount,
		&record.ExecutionTimeMs,
		&record.StartedAt,
		&record.CompletedAt,
	); err != nil {
		return domain.ExecutionRecord{}, err
	}
	record.Status = domain.ExecutionState(status)
	return record, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
