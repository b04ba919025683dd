package storage

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

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db      *sql.DB
	log     logx.Logger
	maxLogs int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
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

	st := &sqliteStore{db: db, log: log, maxLogs: maxLogs(cfg)}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const eventColumns = `id, day, name, time, enabled, audio_sequence, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (schedule.Day, schedule.Event, error) {
	var (
		day, seq, created, updated string
		notes                      sql.NullString
		enabled                    int
		ev                         schedule.Event
	)
	if err := r.Scan(&ev.ID, &day, &ev.Name, &ev.Time, &enabled, &seq, &notes, &created, &updated); err != nil {
		return "", schedule.Event{}, err
	}
	ev.Enabled = enabled != 0
	ev.Notes = notes.String
	if err := json.Unmarshal([]byte(seq), &ev.AudioSequence); err != nil {
		return "", schedule.Event{}, fmt.Errorf("event %s audio sequence: %w", ev.ID, err)
	}
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	ev.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return schedule.Day(day), ev, nil
}

func (s *sqliteStore) GetAllSchedules(ctx context.Context) (schedule.Weekly, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := schedule.Weekly{}.Normalize()
	for rows.Next() {
		day, ev, err := scanEvent(rows)
		if err != nil {
			s.log.Warn("skipping unreadable event row", logx.Err(err))
			continue
		}
		out[day] = append(out[day], ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for d := range out {
		schedule.SortByTime(out[d])
	}
	return out, nil
}

func (s *sqliteStore) GetSchedule(ctx context.Context, day schedule.Day) ([]schedule.Event, error) {
	if !day.Valid() {
		return nil, fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE day = ?`, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []schedule.Event{}
	for rows.Next() {
		_, ev, err := scanEvent(rows)
		if err != nil {
			s.log.Warn("skipping unreadable event row", logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	schedule.SortByTime(out)
	return out, nil
}

func (s *sqliteStore) AddEvent(ctx context.Context, day schedule.Day, ev schedule.Event) (schedule.Event, error) {
	if !day.Valid() {
		return schedule.Event{}, fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	if err := validateEvent(ev); err != nil {
		return schedule.Event{}, err
	}
	now := time.Now()
	ev = ev.Clone()
	ev.ID = uuid.NewString()
	ev.CreatedAt, ev.UpdatedAt = now, now
	if err := s.upsert(ctx, s.db, day, ev); err != nil {
		return schedule.Event{}, err
	}
	return ev, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqliteStore) upsert(ctx context.Context, db execer, day schedule.Day, ev schedule.Event) error {
	seq := ev.AudioSequence
	if seq == nil {
		seq = []schedule.AudioStep{}
	}
	b, err := json.Marshal(seq)
	if err != nil {
		return err
	}
	enabled := 0
	if ev.Enabled {
		enabled = 1
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO events(`+eventColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET day=excluded.day, name=excluded.name, time=excluded.time,
		   enabled=excluded.enabled, audio_sequence=excluded.audio_sequence, notes=excluded.notes,
		   updated_at=excluded.updated_at`,
		ev.ID, string(day), ev.Name, ev.Time, enabled, string(b), nullStr(ev.Notes),
		ev.CreatedAt.Format(time.RFC3339Nano), ev.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) UpdateEvent(ctx context.Context, day schedule.Day, id string, patch schedule.EventPatch) (schedule.Event, error) {
	if !day.Valid() {
		return schedule.Event{}, fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schedule.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE day = ? AND id = ?`, string(day), id)
	_, cur, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Event{}, fmt.Errorf("event %s on %s: %w", id, day, ErrNotFound)
	}
	if err != nil {
		return schedule.Event{}, err
	}
	next := patch.Apply(cur)
	if err := validateEvent(next); err != nil {
		return schedule.Event{}, err
	}
	next.UpdatedAt = time.Now()
	if err := s.upsert(ctx, tx, day, next); err != nil {
		return schedule.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return schedule.Event{}, err
	}
	return next, nil
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, day schedule.Day, id string) error {
	if !day.Valid() {
		return fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE day = ? AND id = ?`, string(day), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("event %s on %s: %w", id, day, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) LogActivity(ctx context.Context, typ, message string, details map[string]any) error {
	var det any
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		det = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity(id, at, type, message, details) VALUES(?,?,?,?,?)`,
		uuid.NewString(), time.Now().Format(time.RFC3339Nano), typ, message, det,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM activity WHERE seq <= (SELECT MAX(seq) FROM activity) - ?`, s.maxLogs)
	return err
}

func (s *sqliteStore) RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, type, message, details FROM activity ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var (
			e       ActivityEntry
			at      string
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Type, &e.Message, &details); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
