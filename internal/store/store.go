// Package store persists task records and the global order list.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskminder/internal/domain"
	"taskminder/internal/order"
)

// Repository is the record store contract shared by every backend.
// Update with t.ID != id renames the record; the rename is all or nothing.
type Repository interface {
	Get(ctx context.Context, id string) (domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	Create(ctx context.Context, t domain.Task) error
	Update(ctx context.Context, id string, t domain.Task) error
	Delete(ctx context.Context, id string) error
	// MarkReminded records that the reminder for id fired at at.
	MarkReminded(ctx context.Context, id string, at time.Time) error

	order.Store
	Close() error
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverGorm   = "gorm"
)

// Open returns the backend named by driver rooted at path.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case DriverFile, "":
		return NewFileStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	case DriverGorm:
		return NewGormStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// collides reports whether candidate would clash with existing under the
// case-insensitive id/title uniqueness rule.
func collides(existing, candidate domain.Task) bool {
	return strings.EqualFold(existing.ID, candidate.ID) ||
		strings.EqualFold(existing.Title, candidate.Title)
}

// titleKey is the Unicode-aware case-folded form the SQL backends index
// titles by; sqlite's NOCASE and LOWER() only fold ASCII.
func titleKey(s string) string {
	return strings.ToLower(s)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %q", domain.ErrNotFound, id)
}

func alreadyExists(title string) error {
	return fmt.Errorf("%w: %q", domain.ErrAlreadyExists, title)
}
