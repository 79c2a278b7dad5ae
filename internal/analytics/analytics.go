package analytics

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"podship/internal/content"
)

// Tracker is a SQLite-backed implementation of the pipeline's analytics
// side channel. One row per pipeline build id, updated in place as the
// run progresses. Callers treat every error as non-fatal; the pipeline
// logs and continues.
type Tracker struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTracker opens (and if needed creates) the metrics database.
func NewTracker(dbPath string, logger *slog.Logger) (*Tracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}

	// SQLite is a single-writer store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &Tracker{db: db, logger: logger}
	if err := t.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize analytics schema: %w", err)
	}

	logger.Debug("Analytics store ready", "path", dbPath)
	return t, nil
}

// Close closes the database connection.
func (t *Tracker) Close() error {
	return t.db.Close()
}

func (t *Tracker) initSchema() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			build_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			success INTEGER,
			episodes INTEGER NOT NULL DEFAULT 0,
			pages_generated INTEGER NOT NULL DEFAULT 0,
			feeds_generated INTEGER NOT NULL DEFAULT 0,
			social_packages INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			warning_count INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = t.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_started
		ON deployments(started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// StartDeploymentTracking opens the row for one pipeline run.
func (t *Tracker) StartDeploymentTracking(buildID string, counts content.ContentCounts) error {
	_, err := t.db.Exec(`
		INSERT INTO deployments
		(build_id, started_at, episodes, pages_generated, feeds_generated, social_packages)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(build_id) DO UPDATE SET
			started_at = excluded.started_at,
			episodes = excluded.episodes,
			pages_generated = excluded.pages_generated,
			feeds_generated = excluded.feeds_generated,
			social_packages = excluded.social_packages
	`,
		buildID,
		time.Now().UTC().Format(time.RFC3339),
		counts.Episodes,
		counts.PagesGenerated,
		counts.FeedsGenerated,
		counts.SocialPackages,
	)
	if err != nil {
		return fmt.Errorf("failed to record deployment start: %w", err)
	}
	return nil
}

// UpdateDeploymentMetrics records the validation totals for a run.
func (t *Tracker) UpdateDeploymentMetrics(buildID string, errorCount, warningCount int) error {
	res, err := t.db.Exec(`
		UPDATE deployments SET error_count = ?, warning_count = ?
		WHERE build_id = ?
	`, errorCount, warningCount, buildID)
	if err != nil {
		return fmt.Errorf("failed to update deployment metrics: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no tracked deployment with build id %s", buildID)
	}
	return nil
}

// CompleteDeploymentTracking closes the row for one pipeline run.
func (t *Tracker) CompleteDeploymentTracking(buildID string, success bool) error {
	res, err := t.db.Exec(`
		UPDATE deployments SET completed_at = ?, success = ?
		WHERE build_id = ?
	`, time.Now().UTC().Format(time.RFC3339), boolToInt(success), buildID)
	if err != nil {
		return fmt.Errorf("failed to record deployment completion: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no tracked deployment with build id %s", buildID)
	}
	return nil
}

// Record is one tracked pipeline run.
type Record struct {
	BuildID        string
	StartedAt      time.Time
	CompletedAt    *time.Time
	Success        *bool
	Episodes       int
	PagesGenerated int
	FeedsGenerated int
	SocialPackages int
	ErrorCount     int
	WarningCount   int
}

// RecentDeployments returns the most recent tracked runs, newest first.
func (t *Tracker) RecentDeployments(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := t.db.Query(`
		SELECT build_id, started_at, completed_at, success,
		       episodes, pages_generated, feeds_generated, social_packages,
		       error_count, warning_count
		FROM deployments
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var startedAt string
		var completedAt sql.NullString
		var success sql.NullInt64

		if err := rows.Scan(&r.BuildID, &startedAt, &completedAt, &success,
			&r.Episodes, &r.PagesGenerated, &r.FeedsGenerated, &r.SocialPackages,
			&r.ErrorCount, &r.WarningCount); err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}

		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			if ts, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
				r.CompletedAt = &ts
			}
		}
		if success.Valid {
			ok := success.Int64 != 0
			r.Success = &ok
		}

		records = append(records, r)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
