// Package reminder schedules one email reminder per task at its due
// instant and delivers it with the task's state as of firing time.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taskminder/internal/domain"
	"taskminder/internal/notify"
	"taskminder/internal/worker"
)

// Lookup resolves the current state of a task when its reminder fires
// and records that it fired.
type Lookup interface {
	Get(ctx context.Context, id string) (domain.Task, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

// Options tunes scheduling policy.
type Options struct {
	// FirePastDue delivers reminders whose due date has already passed
	// immediately instead of skipping them.
	FirePastDue bool
	// Pool runs deliveries. Nil runs them on the runner's goroutine.
	Pool *worker.Pool
	// Location is used to format the due date in messages.
	Location *time.Location
}

type job struct {
	token  uuid.UUID
	due    time.Time
	cancel func()
}

// Scheduler keeps at most one pending job per task id.
type Scheduler struct {
	runner   Runner
	tasks    Lookup
	notifier notify.Notifier
	opts     Options

	mu   sync.Mutex
	jobs map[string]*job
}

func NewScheduler(runner Runner, tasks Lookup, notifier notify.Notifier, opts Options) *Scheduler {
	return &Scheduler{
		runner:   runner,
		tasks:    tasks,
		notifier: notifier,
		opts:     opts,
		jobs:     map[string]*job{},
	}
}

// Schedule replaces any pending job for t.ID with one firing at t.DueDate.
// It reports whether a job is now pending. A zero due date is an error;
// a past one is skipped unless FirePastDue is set. A task whose reminder
// already fired is never scheduled again.
func (s *Scheduler) Schedule(t domain.Task) (bool, error) {
	s.Cancel(t.ID)

	if !t.RemindedAt.IsZero() {
		log.Debug().Str("task_id", t.ID).Time("reminded_at", t.RemindedAt).Msg("reminder already fired")
		return false, nil
	}

	if t.DueDate.IsZero() {
		log.Warn().Str("task_id", t.ID).Msg("reminder not scheduled: invalid due date")
		return false, fmt.Errorf("%w: task %q has no valid due date", domain.ErrScheduling, t.ID)
	}

	now := s.runner.Now()
	if !t.DueDate.After(now) {
		if !s.opts.FirePastDue {
			log.Info().Str("task_id", t.ID).Time("due", t.DueDate).Msg("reminder not scheduled: due date has passed")
			return false, nil
		}
		j := s.register(t.ID, t.DueDate)
		log.Info().Str("task_id", t.ID).Time("due", t.DueDate).Msg("past-due reminder firing now")
		s.fire(t.ID, j.token)
		return false, nil
	}

	// Register before arming the timer so an immediate fire finds its job.
	id := t.ID
	j := s.register(id, t.DueDate)
	cancel := s.runner.At(t.DueDate, func() { s.fire(id, j.token) })
	s.mu.Lock()
	j.cancel = cancel
	s.mu.Unlock()

	log.Debug().Str("task_id", id).Time("due", t.DueDate).Msg("reminder scheduled")
	return true, nil
}

func (s *Scheduler) register(id string, due time.Time) *job {
	j := &job{token: uuid.New(), due: due, cancel: func() {}}
	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()
	return j
}

// Cancel drops the pending job for id. It is a no-op when none exists.
// A job already firing may still deliver.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	var cancel func()
	if ok {
		cancel = j.cancel
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		log.Debug().Str("task_id", id).Msg("reminder cancelled")
	}
	return ok
}

// Pending returns the due instant of the pending job for id.
func (s *Scheduler) Pending(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return time.Time{}, false
	}
	return j.due, true
}

// Len reports the number of pending jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Recover schedules every task whose reminder is still ahead and
// returns how many were scheduled.
func (s *Scheduler) Recover(tasks []domain.Task) int {
	n := 0
	for _, t := range tasks {
		ok, err := s.Schedule(t)
		if err != nil {
			continue
		}
		if ok {
			n++
		}
	}
	return n
}

func (s *Scheduler) fire(id string, token uuid.UUID) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.token != token {
		s.mu.Unlock()
		log.Debug().Str("task_id", id).Msg("stale reminder dropped")
		return
	}
	cancel := j.cancel
	delete(s.jobs, id)
	s.mu.Unlock()
	cancel()

	if s.opts.Pool == nil {
		if err := s.deliver(context.Background(), id); err != nil {
			log.Error().Err(err).Str("task_id", id).Msg("reminder delivery failed")
		}
		return
	}
	err := s.opts.Pool.Submit("reminder:"+id, func(ctx context.Context) error {
		return s.deliver(ctx, id)
	})
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("reminder dropped")
	}
}

// deliver sends the reminder for the task as it is stored right now.
func (s *Scheduler) deliver(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic delivering reminder: %v", r)
		}
	}()

	t, err := s.tasks.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Str("task_id", id).Msg("reminder skipped: task no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if !t.RemindedAt.IsZero() {
		log.Info().Str("task_id", id).Msg("reminder skipped: already fired")
		return nil
	}

	msg := notify.NewReminder(t, s.opts.Location)
	sendErr := s.notifier.Notify(ctx, msg)
	// Failed sends are not retried, so the reminder counts as fired either way.
	if err := s.tasks.MarkReminded(ctx, id, s.runner.Now()); err != nil {
		log.Warn().Err(err).Str("task_id", id).Msg("could not record fired reminder")
	}
	if sendErr != nil {
		return sendErr
	}
	log.Info().Str("task_id", id).Str("to", t.Email).Msg("reminder sent")
	return nil
}
