package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BuildStore = (*BuildRepo)(nil)

// BuildRepo is the SQLite implementation of the BuildStore port interface.
type BuildRepo struct {
	db *DB
}

// NewBuildRepo creates a new BuildRepo backed by the given DB.
func NewBuildRepo(db *DB) *BuildRepo {
	return &BuildRepo{db: db}
}

// RecordBuild appends a fixed-target build record.
func (r *BuildRepo) RecordBuild(ctx context.Context, rec model.BuildRecord) error {
	const query = `
		INSERT INTO target_builds (pass_id, project, build, skipped, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`

	skipped := 0
	if rec.Skipped {
		skipped = 1
	}

	if _, err := r.db.Writer.ExecContext(ctx, query,
		rec.PassID, rec.Project, rec.Build, skipped, formatTime(rec.RecordedAt),
	); err != nil {
		return fmt.Errorf("insert build record for %s: %w", rec.Project, err)
	}

	return nil
}

// ListLatestBuilds returns the newest record of every project, ordered by
// project name.
func (r *BuildRepo) ListLatestBuilds(ctx context.Context) ([]model.BuildRecord, error) {
	const query = `
		SELECT b.id, b.pass_id, b.project, b.build, b.skipped, b.recorded_at
		FROM target_builds b
		JOIN (SELECT project, MAX(id) AS id FROM target_builds GROUP BY project) latest
			ON latest.id = b.id
		ORDER BY b.project
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query latest builds: %w", err)
	}
	defer rows.Close()

	var records []model.BuildRecord
	for rows.Next() {
		rec, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build records: %w", err)
	}

	return records, nil
}

func scanBuild(s scanner) (*model.BuildRecord, error) {
	var rec model.BuildRecord
	var skipped int
	var recordedAt string

	err := s.Scan(&rec.ID, &rec.PassID, &rec.Project, &rec.Build, &skipped, &recordedAt)
	if err != nil {
		return nil, err
	}

	rec.Skipped = skipped != 0
	rec.RecordedAt, err = parseTime(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parse recorded_at: %w", err)
	}

	return &rec, nil
}
