// Package sqlite keeps tasks, users, delivery records and run health in a
// single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"reminderq/internal/config"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var (
	_ ports.TaskStore     = (*Store)(nil)
	_ ports.UserDirectory = (*Store)(nil)
	_ ports.DeliveryStore = (*Store)(nil)
	_ ports.HealthStore   = (*Store)(nil)
)

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and applies migrations.
func Open(ctx context.Context, cfg config.Store) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Ctx(ctx).Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ReminderCandidates(ctx context.Context, limit int) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, description, tags, priority, due_at, reminder_at, recurrence, completed
		 FROM tasks
		 WHERE completed = 0 AND reminder_at IS NOT NULL
		 ORDER BY reminder_at, id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var (
			t          domain.Task
			tags       string
			priority   string
			recurrence string
			due, rem   sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &tags, &priority, &due, &rem, &recurrence, &t.Completed); err != nil {
			return nil, err
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("task_id", t.ID).Msg("ignoring malformed tags")
			}
		}
		t.Priority = domain.Priority(strings.ToUpper(strings.TrimSpace(priority)))
		if r, err := domain.ParseRecurrence(recurrence); err == nil {
			t.Recurrence = r
		} else {
			// kept as-is so the task surfaces as invalid instead of vanishing
			t.Recurrence = domain.Recurrence(recurrence)
		}
		t.DueAt = fromMillis(due)
		t.ReminderAt = fromMillis(rem)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Recipient(ctx context.Context, ownerID string) (*domain.Recipient, error) {
	var r domain.Recipient
	err := s.db.QueryRowContext(ctx,
		`SELECT email, display_name, locale FROM users WHERE id = ?`, ownerID,
	).Scan(&r.Address, &r.DisplayName, &r.Locale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.Address) == "" {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) ExistsNear(ctx context.Context, taskID string, occ time.Time, tol time.Duration) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM delivery_records
		 WHERE task_id = ? AND occurrence_ms BETWEEN ? AND ?`,
		taskID, occ.Add(-tol).UnixMilli(), occ.Add(tol).UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Insert(ctx context.Context, rec domain.DeliveryRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_records(id, task_id, owner_id, occurrence_ms, recipient, subject, body, status, attempts, error, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(task_id, occurrence_ms) DO NOTHING`,
		rec.ID, rec.TaskID, rec.OwnerID, rec.OccurrenceAt.UnixMilli(), rec.Recipient,
		rec.Subject, rec.Body, string(rec.Status), rec.Attempts, nullStr(rec.Error), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrDuplicateRecord
	}
	return nil
}

func (s *Store) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, owner_id, occurrence_ms, recipient, subject, body, status, attempts, error, created_at
		 FROM delivery_records
		 WHERE task_id = ?
		 ORDER BY occurrence_ms DESC
		 LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		var (
			r           domain.DeliveryRecord
			occ, create int64
			status      string
			errText     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.OwnerID, &occ, &r.Recipient, &r.Subject, &r.Body, &status, &r.Attempts, &errText, &create); err != nil {
			return nil, err
		}
		r.OccurrenceAt = time.UnixMilli(occ).UTC()
		r.CreatedAt = time.UnixMilli(create).UTC()
		r.Status = domain.DeliveryStatus(status)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ApplyRun(ctx context.Context, at time.Time, stats domain.RunStats, status domain.HealthStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_health(id, last_run_at, tasks_scanned, deliveries_sent, errors_count, status, updated_at)
		 VALUES(1,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   last_run_at = excluded.last_run_at,
		   tasks_scanned = run_health.tasks_scanned + excluded.tasks_scanned,
		   deliveries_sent = run_health.deliveries_sent + excluded.deliveries_sent,
		   errors_count = run_health.errors_count + excluded.errors_count,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		at.UnixMilli(), stats.Scanned, stats.Sent, stats.Errors, string(status), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Health returns the singleton record, or nil before the first run.
func (s *Store) Health(ctx context.Context) (*domain.RunHealth, error) {
	var (
		h         domain.RunHealth
		last, upd int64
		status    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run_at, tasks_scanned, deliveries_sent, errors_count, status, updated_at
		 FROM run_health WHERE id = 1`,
	).Scan(&last, &h.TasksScanned, &h.DeliveriesSent, &h.ErrorsCount, &status, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.LastRunAt = time.UnixMilli(last).UTC()
	h.UpdatedAt = time.UnixMilli(upd).UTC()
	h.Status = domain.HealthStatus(status)
	return &h, nil
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
