package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// RunRepo implements [domain.RunRepository] backed by SQLite.
type RunRepo struct {
	DB *sql.DB
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *RunRepo) Create(ctx context.Context, run domain.PipelineRun) error {
	record, err := json.Marshal(run.Record)
	if err != nil {
		return fmt.Errorf("marshal trigger record: %w", err)
	}
	results, err := marshalResults(run.Results)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO runs (id, record, stage, results, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(run.ID), string(record), string(run.Stage), results,
		string(run.Status), run.CreatedAt.Format(time.RFC3339Nano), run.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %q: %w", run.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id domain.RunID) (domain.PipelineRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, record, stage, results, status, created_at, updated_at
		 FROM runs WHERE id = ?`,
		string(id),
	)
	return scanRun(row)
}

func (r *RunRepo) List(ctx context.Context) ([]domain.PipelineRun, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, record, stage, results, status, created_at, updated_at
		 FROM runs ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *RunRepo) Update(ctx context.Context, run domain.PipelineRun) error {
	record, err := json.Marshal(run.Record)
	if err != nil {
		return fmt.Errorf("marshal trigger record: %w", err)
	}
	results, err := marshalResults(run.Results)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE runs
		 SET record = ?, stage = ?, results = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		string(record), string(run.Stage), results, string(run.Status),
		run.UpdatedAt.Format(time.RFC3339Nano), string(run.ID),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %q: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func scanRun(s scanner) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	var id, recordJSON, stage, status, createdAt, updatedAt string
	var resultsJSON sql.NullString
	if err := s.Scan(&id, &recordJSON, &stage, &resultsJSON, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.ID = domain.RunID(id)
	run.Stage = domain.StageID(stage)
	run.Status = domain.RunStatus(status)

	if err := json.Unmarshal([]byte(recordJSON), &run.Record); err != nil {
		return run, fmt.Errorf("unmarshal trigger record: %w", err)
	}
	if resultsJSON.Valid {
		if err := json.Unmarshal([]byte(resultsJSON.String), &run.Results); err != nil {
			return run, fmt.Errorf("unmarshal stage results: %w", err)
		}
	}

	var err error
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return run, fmt.Errorf("parse created_at: %w", err)
	}
	if run.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return run, fmt.Errorf("parse updated_at: %w", err)
	}
	return run, nil
}

// isUniqueViolation detects a duplicate run id. modernc.org/sqlite
// exposes no typed constraint error, so the message is matched.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalResults(results map[domain.StageID]domain.StageResult) (sql.NullString, error) {
	if results == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal stage results: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
