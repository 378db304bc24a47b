package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VerdictStore = (*VerdictRepo)(nil)

// VerdictRepo is the SQLite implementation of the VerdictStore port interface.
type VerdictRepo struct {
	db *DB
}

// NewVerdictRepo creates a new VerdictRepo backed by the given DB.
func NewVerdictRepo(db *DB) *VerdictRepo {
	return &VerdictRepo{db: db}
}

// RecordVerdict appends a verdict to the audit trail.
func (r *VerdictRepo) RecordVerdict(ctx context.Context, rec model.VerdictRecord) error {
	const query = `
		INSERT INTO verdicts (pass_id, request_id, state, status, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := r.db.Writer.ExecContext(ctx, query,
		rec.PassID, rec.RequestID, string(rec.State), string(rec.Status), rec.Message, formatTime(rec.RecordedAt),
	); err != nil {
		return fmt.Errorf("insert verdict for request %s: %w", rec.RequestID, err)
	}

	return nil
}

// ListVerdicts returns up to limit records, newest first.
func (r *VerdictRepo) ListVerdicts(ctx context.Context, limit int) ([]model.VerdictRecord, error) {
	const query = `
		SELECT id, pass_id, request_id, state, status, message, recorded_at
		FROM verdicts
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var records []model.VerdictRecord
	for rows.Next() {
		rec, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}

	return records, nil
}

// LatestVerdict returns the newest record for requestID, or nil if none.
func (r *VerdictRepo) LatestVerdict(ctx context.Context, requestID string) (*model.VerdictRecord, error) {
	const query = `
		SELECT id, pass_id, request_id, state, status, message, recorded_at
		FROM verdicts
		WHERE request_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	rec, err := scanVerdict(r.db.Reader.QueryRowContext(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest verdict for request %s: %w", requestID, err)
	}

	return rec, nil
}

func scanVerdict(s scanner) (*model.VerdictRecord, error) {
	var rec model.VerdictRecord
	var state, status, recordedAt string

	err := s.Scan(&rec.ID, &rec.PassID, &rec.RequestID, &state, &status, &rec.Message, &recordedAt)
	if err != nil {
		return nil, err
	}

	rec.State = model.GateState(state)
	rec.Status = model.QAStatus(status)
	rec.RecordedAt, err = parseTime(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parse recorded_at: %w", err)
	}

	return &rec, nil
}
