package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/db/migrations"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if !hasSQLDriver("pgx") {
		return nil, errors.New("pgx SQL driver is not linked; import github.com/jackc/pgx/v5/stdlib")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func hasSQLDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := p.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (p *PostgresStore) SaveRunOutcome(ctx context.Context, outcome RunOutcome) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reports (run_id, kind, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at`,
		outcome.RunID, outcome.Kind, outcome.Status, outcome.CreatedAt.UTC(), outcome.CompletedAt.UTC()); err != nil {
		return fmt.Errorf("save report %s: %w", outcome.RunID, err)
	}
	for _, s := range outcome.Steps {
		var completedAt any
		if !s.CompletedAt.IsZero() {
			completedAt = s.CompletedAt.UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO report_steps (run_id, step_number, step_key, title, status, duration_seconds, error, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (run_id, step_key) DO UPDATE SET
				status = EXCLUDED.status,
				duration_seconds = EXCLUDED.duration_seconds,
				error = EXCLUDED.error,
				completed_at = EXCLUDED.completed_at`,
			outcome.RunID, s.Number, s.Key, s.Title, s.Status, s.DurationSeconds, s.Error, completedAt); err != nil {
			return fmt.Errorf("save report step %s/%s: %w", outcome.RunID, s.Key, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetRunOutcome(ctx context.Context, runID string) (RunOutcome, bool, error) {
	var out RunOutcome
	err := p.db.QueryRowContext(ctx, `
		SELECT run_id, kind, status, created_at, completed_at FROM reports WHERE run_id = $1`,
		runID).Scan(&out.RunID, &out.Kind, &out.Status, &out.CreatedAt, &out.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunOutcome{}, false, nil
	}
	if err != nil {
		return RunOutcome{}, false, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT step_number, step_key, title, status, duration_seconds, error, completed_at
		FROM report_steps WHERE run_id = $1 ORDER BY step_number`, runID)
	if err != nil {
		return RunOutcome{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var s StepOutcome
		var completedAt sql.NullTime
		if err := rows.Scan(&s.Number, &s.Key, &s.Title, &s.Status, &s.DurationSeconds, &s.Error, &completedAt); err != nil {
			return RunOutcome{}, false, err
		}
		if completedAt.Valid {
			s.CompletedAt = completedAt.Time
		}
		out.Steps = append(out.Steps, s)
	}
	return out, true, rows.Err()
}

func (p *PostgresStore) ListRunOutcomes(ctx context.Context, limit int) ([]RunOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT run_id FROM reports ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]RunOutcome, 0, len(ids))
	for _, id := range ids {
		o, ok, err := p.GetRunOutcome(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (p *PostgresStore) AppendDurationSample(ctx context.Context, sample DurationSampleRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO duration_samples (kind, step_key, seconds, recorded_at) VALUES ($1, $2, $3, $4)`,
		sample.Kind, sample.StepKey, sample.Seconds, sample.RecordedAt.UTC())
	return err
}

func (p *PostgresStore) ListDurationSamples(ctx context.Context, kind, stepKey string, limit int) ([]DurationSampleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT kind, step_key, seconds, recorded_at FROM duration_samples
		WHERE kind = $1 AND step_key = $2 ORDER BY recorded_at DESC LIMIT $3`,
		kind, stepKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DurationSampleRecord
	for rows.Next() {
		var s DurationSampleRecord
		if err := rows.Scan(&s.Kind, &s.StepKey, &s.Seconds, &s.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Name() string { return "postgres" }

func (p *PostgresStore) Close() error { return p.db.Close() }
