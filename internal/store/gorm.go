package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskminder/internal/domain"
)

const orderDocID = "order"

// taskDoc is one task document.
type taskDoc struct {
	ID       string `gorm:"primaryKey"`
	Title    string `gorm:"not null"`
	TitleKey string `gorm:"not null;uniqueIndex"`
	Email    string `gorm:"not null"`
	DueDate  time.Time
	Details  string

	// RemindedAt is NULL until the reminder fires.
	RemindedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (taskDoc) TableName() string { return "task_docs" }

// orderListDoc holds the whole order list in one row, keyed "order".
type orderListDoc struct {
	ID    string   `gorm:"primaryKey"`
	Order []string `gorm:"serializer:json"`
}

func (orderListDoc) TableName() string { return "order_docs" }

// GormStore is the document-style backend: one row per task plus one
// document for the order list.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir %q: %w", dir, err)
		}
	}

	dbLogger := logger.New(
		&log.Logger,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&taskDoc{}, &orderListDoc{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	err = db.Where(orderListDoc{ID: orderDocID}).
		Attrs(orderListDoc{Order: []string{}}).
		FirstOrCreate(&orderListDoc{}).Error
	if err != nil {
		return nil, fmt.Errorf("seed order doc: %w", err)
	}
	return &GormStore{db: db}, nil
}

func toTask(d taskDoc) domain.Task {
	t := domain.Task{ID: d.ID, Title: d.Title, Email: d.Email, DueDate: d.DueDate, Details: d.Details}
	if d.RemindedAt != nil {
		t.RemindedAt = *d.RemindedAt
	}
	return t
}

func remindedPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *GormStore) Get(ctx context.Context, id string) (domain.Task, error) {
	var d taskDoc
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.Task{}, notFound(id)
	case err != nil:
		return domain.Task{}, err
	}
	return toTask(d), nil
}

func (s *GormStore) List(ctx context.Context) ([]domain.Task, error) {
	var docs []taskDoc
	if err := s.db.WithContext(ctx).Order("created_at ASC, rowid ASC").Find(&docs).Error; err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, toTask(d))
	}
	return tasks, nil
}

func (s *GormStore) Create(ctx context.Context, t domain.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := conflictGorm(tx, t, ""); err != nil {
			return err
		}
		d := taskDoc{
			ID:         t.ID,
			Title:      t.Title,
			TitleKey:   titleKey(t.Title),
			Email:      t.Email,
			DueDate:    t.DueDate.UTC(),
			Details:    t.Details,
			RemindedAt: remindedPtr(t.RemindedAt),
		}
		return tx.Create(&d).Error
	})
}

func (s *GormStore) Update(ctx context.Context, id string, t domain.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current taskDoc
		err := tx.Where("id = ?", id).First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		if err := conflictGorm(tx, t, id); err != nil {
			return err
		}
		next := taskDoc{
			ID:         t.ID,
			Title:      t.Title,
			TitleKey:   titleKey(t.Title),
			Email:      t.Email,
			DueDate:    t.DueDate.UTC(),
			Details:    t.Details,
			RemindedAt: remindedPtr(t.RemindedAt),
			CreatedAt:  current.CreatedAt,
		}
		if t.ID == id {
			return tx.Save(&next).Error
		}
		if err := tx.Delete(&taskDoc{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Create(&next).Error
	})
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&taskDoc{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

func (s *GormStore) MarkReminded(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&taskDoc{}).Where("id = ?", id).Update("reminded_at", remindedPtr(at))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

func conflictGorm(tx *gorm.DB, t domain.Task, exclude string) error {
	var n int64
	err := tx.Model(&taskDoc{}).
		Where("(LOWER(id) IN (LOWER(?), LOWER(?)) OR title_key IN (?, ?)) AND id <> ?",
			t.ID, t.Title, titleKey(t.ID), titleKey(t.Title), exclude).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return alreadyExists(t.Title)
	}
	return nil
}

func (s *GormStore) LoadOrder(ctx context.Context) ([]string, error) {
	var doc orderListDoc
	err := s.db.WithContext(ctx).Where("id = ?", orderDocID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Order == nil {
		doc.Order = []string{}
	}
	return doc.Order, nil
}

func (s *GormStore) SaveOrder(ctx context.Context, ids []string) error {
	return s.db.WithContext(ctx).Save(&orderListDoc{ID: orderDocID, Order: ids}).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
