package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"taskminder/internal/domain"
)

const (
	taskExt   = ".yaml"
	orderFile = "_order.yaml"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9 -]+$`)

// FileStore keeps one YAML document per task in a directory.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

type orderDoc struct {
	Order []string `yaml:"order"`
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+taskExt)
}

func (s *FileStore) Get(_ context.Context, id string) (domain.Task, error) {
	if !safeID.MatchString(id) {
		return domain.Task{}, notFound(id)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(id)
}

func (s *FileStore) readLocked(id string) (domain.Task, error) {
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Task{}, notFound(id)
		}
		return domain.Task{}, err
	}
	var t domain.Task
	if err := yaml.Unmarshal(b, &t); err != nil {
		return domain.Task{}, err
	}
	// The file name is authoritative.
	t.ID = id
	return t, nil
}

func (s *FileStore) List(_ context.Context) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *FileStore) listLocked() ([]domain.Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, taskExt) || strings.HasPrefix(name, "_") {
			continue
		}
		t, err := s.readLocked(strings.TrimSuffix(name, taskExt))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *FileStore) Create(_ context.Context, t domain.Task) error {
	if !safeID.MatchString(t.ID) {
		return errors.New("task id contains unsupported characters")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.listLocked()
	if err != nil {
		return err
	}
	for _, e := range existing {
		if collides(e, t) {
			return alreadyExists(t.Title)
		}
	}
	return s.writeLocked(t)
}

func (s *FileStore) Update(_ context.Context, id string, t domain.Task) error {
	if !safeID.MatchString(id) {
		return notFound(id)
	}
	if !safeID.MatchString(t.ID) {
		return errors.New("task id contains unsupported characters")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.listLocked()
	if err != nil {
		return err
	}
	found := false
	for _, e := range existing {
		if e.ID == id {
			found = true
			continue
		}
		if collides(e, t) {
			return alreadyExists(t.Title)
		}
	}
	if !found {
		return notFound(id)
	}

	if t.ID == id {
		return s.writeLocked(t)
	}
	if strings.EqualFold(t.ID, id) {
		// Case-only rename: on case-insensitive filesystems both names are
		// the same file, so move first and then rewrite.
		if err := os.Rename(s.path(id), s.path(t.ID)); err != nil {
			return err
		}
		return s.writeLocked(t)
	}
	if err := s.writeLocked(t); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		_ = os.Remove(s.path(t.ID))
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if !safeID.MatchString(id) {
		return notFound(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return notFound(id)
		}
		return err
	}
	return nil
}

func (s *FileStore) MarkReminded(_ context.Context, id string, at time.Time) error {
	if !safeID.MatchString(id) {
		return notFound(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.readLocked(id)
	if err != nil {
		return err
	}
	t.RemindedAt = at
	return s.writeLocked(t)
}

func (s *FileStore) writeLocked(t domain.Task) error {
	b, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path(t.ID), bytes.NewReader(b))
}

func (s *FileStore) LoadOrder(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(filepath.Join(s.dir, orderFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var doc orderDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc.Order == nil {
		doc.Order = []string{}
	}
	return doc.Order, nil
}

func (s *FileStore) SaveOrder(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := yaml.Marshal(orderDoc{Order: ids})
	if err != nil {
		return err
	}
	return atomic.WriteFile(filepath.Join(s.dir, orderFile), bytes.NewReader(b))
}

func (s *FileStore) Close() error { return nil }
