// Package service orchestrates the record store, the order list and the
// reminder scheduler behind the task operations exposed over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"taskminder/internal/domain"
	"taskminder/internal/order"
	"taskminder/internal/store"
)

// Reminders is the part of the reminder scheduler the service drives.
type Reminders interface {
	Schedule(t domain.Task) (bool, error)
	Cancel(id string) bool
	Recover(tasks []domain.Task) int
}

// TaskInput is the user-supplied part of a task.
type TaskInput struct {
	Title   string
	Email   string
	DueDate string
	Details string
}

// Deps holds the handles the service works through.
type Deps struct {
	Store     store.Repository
	Reminders Reminders
	Location  *time.Location
}

type TaskService struct {
	repo      store.Repository
	order     *order.List
	reminders Reminders
	loc       *time.Location
}

func NewTaskService(d Deps) *TaskService {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &TaskService{
		repo:      d.Store,
		order:     order.NewList(d.Store),
		reminders: d.Reminders,
		loc:       loc,
	}
}

// Location is the zone due dates without an offset are read in.
func (s *TaskService) Location() *time.Location { return s.loc }

// ListTasks returns every task in reconciled display order.
func (s *TaskService) ListTasks(ctx context.Context) ([]domain.Task, error) {
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	byID := make(map[string]domain.Task, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	ordered, err := s.order.Reconciled(ctx, ids)
	if err != nil {
		return nil, storageErr("reconcile order", err)
	}
	out := make([]domain.Task, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, byID[id])
	}
	return out, nil
}

// CalendarEvents projects tasks for the calendar view.
func CalendarEvents(tasks []domain.Task) []domain.CalendarEvent {
	events := make([]domain.CalendarEvent, 0, len(tasks))
	for _, t := range tasks {
		events = append(events, t.Event(TaskURL(t.ID)))
	}
	return events
}

// TaskURL is the detail page of a task.
func TaskURL(id string) string {
	return "/file/" + url.PathEscape(id)
}

func (s *TaskService) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Task{}, mapStoreErr("get task", err)
	}
	return t, nil
}

// CheckTitleExists reports whether another task already uses title or the
// id derived from it, ignoring case and the task stored under excludeID.
func (s *TaskService) CheckTitleExists(ctx context.Context, title, excludeID string) (bool, error) {
	if err := domain.ValidateTitle(title); err != nil {
		return false, err
	}
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return false, storageErr("list tasks", err)
	}
	return titleTaken(tasks, strings.TrimSpace(title), excludeID), nil
}

func titleTaken(tasks []domain.Task, title, excludeID string) bool {
	id := domain.StripID(title)
	for _, t := range tasks {
		if excludeID != "" && t.ID == excludeID {
			continue
		}
		if strings.EqualFold(t.Title, title) || (id != "" && strings.EqualFold(t.ID, id)) {
			return true
		}
	}
	return false
}

func (s *TaskService) validate(in TaskInput) (domain.Task, error) {
	if err := domain.ValidateTitle(in.Title); err != nil {
		return domain.Task{}, err
	}
	if err := domain.ValidateEmail(in.Email); err != nil {
		return domain.Task{}, err
	}
	due, err := domain.ParseDueDate(in.DueDate, s.loc)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		Title:   strings.TrimSpace(in.Title),
		Email:   strings.TrimSpace(in.Email),
		DueDate: due,
		Details: in.Details,
	}, nil
}

// CreateTask stores a new task at the front of the order list and
// schedules its reminder.
func (s *TaskService) CreateTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	t, err := s.validate(in)
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = domain.NormalizeID(t.Title)

	if err := s.repo.Create(ctx, t); err != nil {
		return domain.Task{}, mapStoreErr("create task", err)
	}
	if err := s.order.Prepend(ctx, t.ID); err != nil {
		// The next read reconciles the order list.
		log.Error().Err(err).Str("task_id", t.ID).Msg("order list not updated")
	}
	s.schedule(t)
	log.Info().Str("task_id", t.ID).Time("due", t.DueDate).Msg("task created")
	return t, nil
}

// EditTask replaces a task's fields, renaming it when the title yields a
// new id, and always reschedules its reminder.
func (s *TaskService) EditTask(ctx context.Context, id string, in TaskInput) (domain.Task, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Task{}, mapStoreErr("get task", err)
	}
	t, err := s.validate(in)
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = current.ID
	if t.DueDate.Equal(current.DueDate) {
		// Same due date, same reminder: don't let an edit re-arm it.
		t.RemindedAt = current.RemindedAt
	}
	switch next := domain.StripID(t.Title); {
	case next == "" && domain.StripID(current.Title) == "":
		// Both titles only have a fallback id; keep the existing one.
	case next == "":
		t.ID = domain.NormalizeID(t.Title)
	default:
		t.ID = next
	}

	if err := s.repo.Update(ctx, id, t); err != nil {
		return domain.Task{}, mapStoreErr("update task", err)
	}
	if t.ID != id {
		if err := s.order.Rename(ctx, id, t.ID); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("order list not updated")
		}
	}
	s.reminders.Cancel(id)
	s.schedule(t)
	log.Info().Str("task_id", t.ID).Str("previous_id", id).Msg("task updated")
	return t, nil
}

// DeleteTask removes a task, its order entry and its pending reminder.
func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapStoreErr("delete task", err)
	}
	if err := s.order.Remove(ctx, id); err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("order list not updated")
	}
	s.reminders.Cancel(id)
	log.Info().Str("task_id", id).Msg("task deleted")
	return nil
}

// Reorder stores a caller-chosen order. Unknown ids are dropped and
// tasks the caller left out keep their place at the end.
func (s *TaskService) Reorder(ctx context.Context, ids []string) ([]string, error) {
	if ids == nil {
		return nil, fmt.Errorf("%w: order must be a list of task ids", domain.ErrValidation)
	}
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	existing := make([]string, 0, len(tasks))
	for _, t := range tasks {
		existing = append(existing, t.ID)
	}
	out, err := s.order.SetExplicit(ctx, ids, existing)
	if err != nil {
		return nil, storageErr("save order", err)
	}
	return out, nil
}

// RecoverReminders reschedules every stored task's reminder. Called once
// at startup since pending jobs live only in memory.
func (s *TaskService) RecoverReminders(ctx context.Context) (int, error) {
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return 0, storageErr("list tasks", err)
	}
	n := s.reminders.Recover(tasks)
	log.Info().Int("scheduled", n).Int("tasks", len(tasks)).Msg("reminders recovered")
	return n, nil
}

func (s *TaskService) schedule(t domain.Task) {
	if _, err := s.reminders.Schedule(t); err != nil {
		log.Warn().Err(err).Str("task_id", t.ID).Msg("reminder not scheduled")
	}
}

func mapStoreErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	return storageErr(op, err)
}

func storageErr(op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("storage failure")
	return fmt.Errorf("%w: %s", domain.ErrStorage, op)
}
