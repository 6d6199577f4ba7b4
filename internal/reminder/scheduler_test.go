package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskminder/internal/domain"
	"taskminder/internal/notify"
	"taskminder/internal/worker"
)

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fakeTasks struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func newFakeTasks(ts ...domain.Task) *fakeTasks {
	f := &fakeTasks{tasks: map[string]domain.Task{}}
	for _, t := range ts {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTasks) Get(_ context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTasks) MarkReminded(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.RemindedAt = at
	f.tasks[id] = t
	return nil
}

func (f *fakeTasks) all() []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out
}

func (f *fakeTasks) put(t domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (o *outbox) Notify(_ context.Context, m notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return o.err
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

func task(id string, due time.Time) domain.Task {
	return domain.Task{ID: id, Title: id, Email: "a@b.com", DueDate: due, Details: "d"}
}

func setup(opts Options, ts ...domain.Task) (*Scheduler, *ManualRunner, *fakeTasks, *outbox) {
	runner := NewManualRunner(t0)
	store := newFakeTasks(ts...)
	out := &outbox{}
	return NewScheduler(runner, store, out, opts), runner, store, out
}

func TestScheduler_FiresOnceAtDue(t *testing.T) {
	tk := task("Pay rent", t0.Add(time.Hour))
	s, runner, _, out := setup(Options{}, tk)

	ok, err := s.Schedule(tk)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())

	runner.Advance(59 * time.Minute)
	assert.Equal(t, 0, out.count())

	runner.Advance(time.Minute)
	require.Equal(t, 1, out.count())
	assert.Contains(t, out.sent[0].Subject, "Pay rent")
	assert.Equal(t, 0, s.Len())

	runner.Advance(24 * time.Hour)
	assert.Equal(t, 1, out.count())
}

func TestScheduler_CancelBeforeDue(t *testing.T) {
	tk := task("a", t0.Add(time.Hour))
	s, runner, _, out := setup(Options{}, tk)

	_, err := s.Schedule(tk)
	require.NoError(t, err)
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.False(t, s.Cancel("never-scheduled"))

	runner.Advance(2 * time.Hour)
	assert.Equal(t, 0, out.count())
	assert.Equal(t, 0, runner.Pending())
}

func TestScheduler_RescheduleKeepsOneJob(t *testing.T) {
	tk := task("a", t0.Add(time.Hour))
	s, runner, store, out := setup(Options{}, tk)

	_, err := s.Schedule(tk)
	require.NoError(t, err)
	moved := task("a", t0.Add(3*time.Hour))
	store.put(moved)
	_, err = s.Schedule(moved)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, runner.Pending())
	due, ok := s.Pending("a")
	require.True(t, ok)
	assert.Equal(t, moved.DueDate, due)

	runner.Advance(2 * time.Hour)
	assert.Equal(t, 0, out.count())
	runner.Advance(2 * time.Hour)
	assert.Equal(t, 1, out.count())
}

func TestScheduler_RefetchesAtFireTime(t *testing.T) {
	tk := task("a", t0.Add(time.Hour))
	s, runner, store, out := setup(Options{}, tk)
	_, err := s.Schedule(tk)
	require.NoError(t, err)

	changed := tk
	changed.Details = "fresh details"
	changed.Email = "new@b.com"
	store.put(changed)

	runner.Advance(time.Hour)
	require.Equal(t, 1, out.count())
	assert.Equal(t, "new@b.com", out.sent[0].To)
	assert.Contains(t, out.sent[0].Body, "fresh details")
}

func TestScheduler_TaskGoneAtFireTime(t *testing.T) {
	tk := task("a", t0.Add(time.Hour))
	s, runner, _, out := setup(Options{})
	_, err := s.Schedule(tk)
	require.NoError(t, err)

	runner.Advance(time.Hour)
	assert.Equal(t, 0, out.count())
}

func TestScheduler_InvalidDueDate(t *testing.T) {
	s, runner, _, _ := setup(Options{})
	ok, err := s.Schedule(task("a", time.Time{}))
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrScheduling)
	assert.Equal(t, 0, runner.Pending())
}

func TestScheduler_PastDueSkippedByDefault(t *testing.T) {
	tk := task("a", t0.Add(-time.Minute))
	s, runner, _, out := setup(Options{}, tk)

	ok, err := s.Schedule(tk)
	require.NoError(t, err)
	assert.False(t, ok)

	dueNow := task("b", t0)
	ok, err = s.Schedule(dueNow)
	require.NoError(t, err)
	assert.False(t, ok)

	runner.Advance(time.Hour)
	assert.Equal(t, 0, out.count())
}

func TestScheduler_PastDueFiresWhenEnabled(t *testing.T) {
	tk := task("a", t0.Add(-time.Minute))
	s, _, _, out := setup(Options{FirePastDue: true}, tk)

	ok, err := s.Schedule(tk)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, out.count())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_PastDueFiresOnceAcrossRestarts(t *testing.T) {
	tk := task("a", t0.Add(time.Hour))
	s, runner, store, out := setup(Options{FirePastDue: true}, tk)
	_, err := s.Schedule(tk)
	require.NoError(t, err)
	runner.Advance(2 * time.Hour)
	require.Equal(t, 1, out.count())

	got, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), got.RemindedAt)

	for i := 0; i < 3; i++ {
		restarted := NewScheduler(NewManualRunner(t0.Add(3*time.Hour)), store, out, Options{FirePastDue: true})
		assert.Equal(t, 0, restarted.Recover(store.all()))
	}
	assert.Equal(t, 1, out.count())
}

func TestScheduler_FiredTaskIsNotRescheduled(t *testing.T) {
	tk := task("a", t0.Add(-time.Minute))
	tk.RemindedAt = t0.Add(-time.Minute)
	s, _, _, out := setup(Options{FirePastDue: true}, tk)

	ok, err := s.Schedule(tk)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, out.count())
}

func TestScheduler_FailedSendStillCountsAsFired(t *testing.T) {
	tk := task("a", t0.Add(time.Hour))
	s, runner, store, out := setup(Options{}, tk)
	out.err = errors.New("smtp down")
	_, err := s.Schedule(tk)
	require.NoError(t, err)

	runner.Advance(time.Hour)
	got, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, got.RemindedAt.IsZero())
}

func TestScheduler_SendFailureIsNotFatal(t *testing.T) {
	a := task("a", t0.Add(time.Hour))
	b := task("b", t0.Add(2*time.Hour))
	s, runner, _, out := setup(Options{}, a, b)
	out.err = errors.New("smtp down")

	_, err := s.Schedule(a)
	require.NoError(t, err)
	_, err = s.Schedule(b)
	require.NoError(t, err)

	runner.Advance(3 * time.Hour)
	assert.Equal(t, 2, out.count())
}

type panicky struct{}

func (panicky) Notify(context.Context, notify.Message) error { panic("boom") }

func TestScheduler_PanicInDeliveryIsIsolated(t *testing.T) {
	runner := NewManualRunner(t0)
	tk := task("a", t0.Add(time.Hour))
	s := NewScheduler(runner, newFakeTasks(tk), panicky{}, Options{})
	_, err := s.Schedule(tk)
	require.NoError(t, err)
	assert.NotPanics(t, func() { runner.Advance(time.Hour) })
}

func TestScheduler_Recover(t *testing.T) {
	future := task("future", t0.Add(time.Hour))
	past := task("past", t0.Add(-time.Hour))
	broken := task("broken", time.Time{})
	s, runner, _, out := setup(Options{}, future, past)

	n := s.Recover([]domain.Task{future, past, broken})
	assert.Equal(t, 1, n)
	runner.Advance(2 * time.Hour)
	assert.Equal(t, 1, out.count())
	assert.Equal(t, "future", out.sent[0].TaskID)
}

func TestScheduler_RecoverFiresPastDueWhenEnabled(t *testing.T) {
	past := task("past", t0.Add(-time.Hour))
	s, _, _, out := setup(Options{FirePastDue: true}, past)
	assert.Equal(t, 0, s.Recover([]domain.Task{past}))
	assert.Equal(t, 1, out.count())
}

func TestScheduler_DeliversThroughPool(t *testing.T) {
	pool := worker.NewPool(2)
	tk := task("a", t0.Add(time.Hour))
	s, runner, _, out := setup(Options{Pool: pool}, tk)
	_, err := s.Schedule(tk)
	require.NoError(t, err)

	runner.Advance(time.Hour)
	pool.Wait()
	assert.Equal(t, 1, out.count())
}

func TestOnceSchedule(t *testing.T) {
	o := once{at: t0}
	assert.Equal(t, t0, o.Next(t0.Add(-time.Second)))
	assert.True(t, o.Next(t0).IsZero())
	assert.True(t, o.Next(t0.Add(time.Second)).IsZero())
}

func TestCronRunner_FiresAndCancels(t *testing.T) {
	r := NewCronRunner(time.UTC)
	r.Start()
	defer r.Stop()

	fired := make(chan struct{}, 2)
	r.At(time.Now().Add(50*time.Millisecond), func() { fired <- struct{}{} })
	cancel := r.At(time.Now().Add(50*time.Millisecond), func() { fired <- struct{}{} })
	cancel()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("cron job did not fire")
	}
	select {
	case <-fired:
		t.Fatal("cancelled job fired")
	case <-time.After(200 * time.Millisecond):
	}
}
