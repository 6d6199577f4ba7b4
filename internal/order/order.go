// Package order keeps the user-chosen display order of tasks and
// reconciles it against the ids that actually exist in the record store.
package order

import (
	"context"
	"slices"
	"sync"
)

// Store persists the single global order sequence.
type Store interface {
	LoadOrder(ctx context.Context) ([]string, error)
	SaveOrder(ctx context.Context, ids []string) error
}

// Reconcile returns the stored ids that still exist, in their stored
// order, followed by existing ids missing from stored, in input order.
func Reconcile(stored, existing []string) []string {
	present := make(map[string]bool, len(existing))
	for _, id := range existing {
		present[id] = true
	}
	out := make([]string, 0, len(existing))
	seen := make(map[string]bool, len(existing))
	for _, id := range stored {
		if present[id] && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for _, id := range existing {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}

// Prepend puts id at the front, dropping any earlier occurrence.
func Prepend(ids []string, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, id)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Remove drops id if present.
func Remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Rename replaces the first occurrence of oldID in place.
func Rename(ids []string, oldID, newID string) []string {
	out := slices.Clone(ids)
	if i := slices.Index(out, oldID); i >= 0 {
		out[i] = newID
	}
	return out
}

// List applies order mutations to a Store. Every read is reconciled and
// the result written back when it differs from what was stored.
// Load-modify-save cycles are serialised so concurrent mutations don't
// overwrite each other.
type List struct {
	mu    sync.Mutex
	store Store
}

func NewList(store Store) *List {
	return &List{store: store}
}

// Reconciled returns the order for existing and heals drift in the store.
func (l *List) Reconciled(ctx context.Context, existing []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, err := l.store.LoadOrder(ctx)
	if err != nil {
		return nil, err
	}
	out := Reconcile(stored, existing)
	if !slices.Equal(stored, out) {
		if err := l.store.SaveOrder(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *List) Prepend(ctx context.Context, id string) error {
	return l.update(ctx, func(ids []string) []string { return Prepend(ids, id) })
}

func (l *List) Remove(ctx context.Context, id string) error {
	return l.update(ctx, func(ids []string) []string { return Remove(ids, id) })
}

func (l *List) Rename(ctx context.Context, oldID, newID string) error {
	return l.update(ctx, func(ids []string) []string { return Rename(ids, oldID, newID) })
}

// SetExplicit stores a caller-chosen order, keeping only existing ids
// and appending existing ids the caller left out.
func (l *List) SetExplicit(ctx context.Context, ids, existing []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Reconcile(ids, existing)
	if err := l.store.SaveOrder(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *List) update(ctx context.Context, fn func([]string) []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, err := l.store.LoadOrder(ctx)
	if err != nil {
		return err
	}
	next := fn(stored)
	if slices.Equal(stored, next) {
		return nil
	}
	return l.store.SaveOrder(ctx, next)
}
