package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskminder/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY COLLATE NOCASE,
  title TEXT NOT NULL COLLATE NOCASE,
  title_key TEXT NOT NULL,
  email TEXT NOT NULL,
  due_date TEXT NOT NULL,
  details TEXT NOT NULL DEFAULT '',
  reminded_at TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_title_key ON tasks(title_key);
CREATE TABLE IF NOT EXISTS task_order (
  position INTEGER PRIMARY KEY,
  task_id TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// SQLiteStore keeps tasks in a single sqlite file.
type SQLiteStore struct{ db *sql.DB }

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var due, reminded string
	if err := row.Scan(&t.ID, &t.Title, &t.Email, &due, &t.Details, &reminded); err != nil {
		return domain.Task{}, err
	}
	d, err := time.Parse(time.RFC3339Nano, due)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %q: bad due_date %q: %w", t.ID, due, err)
	}
	t.DueDate = d
	if reminded != "" {
		r, err := time.Parse(time.RFC3339Nano, reminded)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %q: bad reminded_at %q: %w", t.ID, reminded, err)
		}
		t.RemindedAt = r
	}
	return t, nil
}

func formatDue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// formatReminded stores the zero time as "".
func formatReminded(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatDue(t)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,title,email,due_date,details,reminded_at FROM tasks WHERE id=? COLLATE BINARY`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, notFound(id)
	}
	return t, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,title,email,due_date,details,reminded_at FROM tasks ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) Create(ctx context.Context, t domain.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := conflictTx(ctx, tx, t, ""); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO tasks (id,title,title_key,email,due_date,details,reminded_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)`,
		t.ID, t.Title, titleKey(t.Title), t.Email, formatDue(t.DueDate), t.Details, formatReminded(t.RemindedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return alreadyExists(t.Title)
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, t domain.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE id=? COLLATE BINARY`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return err
	}
	if err := conflictTx(ctx, tx, t, id); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE tasks SET id=?,title=?,title_key=?,email=?,due_date=?,details=?,reminded_at=?,updated_at=CURRENT_TIMESTAMP
WHERE id=? COLLATE BINARY`,
		t.ID, t.Title, titleKey(t.Title), t.Email, formatDue(t.DueDate), t.Details, formatReminded(t.RemindedAt), id)
	if err != nil {
		if isUniqueViolation(err) {
			return alreadyExists(t.Title)
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=? COLLATE BINARY`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLiteStore) MarkReminded(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET reminded_at=?,updated_at=CURRENT_TIMESTAMP WHERE id=? COLLATE BINARY`,
		formatReminded(at), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// conflictTx looks for another record clashing with t, ignoring the
// record currently stored under exclude.
func conflictTx(ctx context.Context, tx *sql.Tx, t domain.Task, exclude string) error {
	var other string
	err := tx.QueryRowContext(ctx, `
SELECT id FROM tasks
WHERE (id = ? OR id = ? OR title_key = ? OR title_key = ?) AND id <> ? COLLATE BINARY
LIMIT 1`, t.ID, t.Title, titleKey(t.Title), titleKey(t.ID), exclude).Scan(&other)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	default:
		return alreadyExists(t.Title)
	}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) LoadOrder(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM task_order ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_order`); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_order (position, task_id) VALUES (?,?)`, i, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
