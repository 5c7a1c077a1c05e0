//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "cronwire/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const pruneEvery = 500

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	appends atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, retain: cfg.Retain}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendExecution(ctx context.Context, e Execution) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(fire_id, scheduler, job, job_type, trigger_key, outcome, scheduled_at, fired_at, finished_at, took_ms, reason, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullStr(e.FireID), nullStr(e.Scheduler), e.Job, nullStr(e.JobType), e.Trigger, string(e.Outcome),
		e.ScheduledAt.Format(time.RFC3339Nano), nullTime(e.FiredAt), nullTime(e.FinishedAt),
		e.TookMS, nullStr(e.Reason), nullStr(e.Error),
	)
	if err != nil {
		return err
	}
	if s.appends.Add(1)%pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("execution prune failed", logx.Err(perr))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, limit int) ([]Execution, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fire_id, scheduler, job, job_type, trigger_key, outcome, scheduled_at, fired_at, finished_at, took_ms, reason, err
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                                 Execution
			fireID, sched, jobType            sql.NullString
			reason, errStr, firedAt, finished sql.NullString
			outcome, scheduled                string
		)
		if err := rows.Scan(&fireID, &sched, &e.Job, &jobType, &e.Trigger, &outcome, &scheduled,
			&firedAt, &finished, &e.TookMS, &reason, &errStr); err != nil {
			return nil, err
		}
		e.FireID, e.Scheduler, e.JobType = fireID.String, sched.String, jobType.String
		e.Reason, e.Error = reason.String, errStr.String
		e.Outcome = Outcome(outcome)
		e.ScheduledAt = parseTime(scheduled)
		e.FiredAt = parseTime(firedAt.String)
		e.FinishedAt = parseTime(finished.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

// prune keeps the newest retain rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE id <= (SELECT COALESCE(MAX(id), 0) FROM executions) - ?`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
