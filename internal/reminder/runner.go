package reminder

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Runner fires a callback once at a given instant.
type Runner interface {
	// At arranges for fn to run once at t. The returned func cancels it.
	At(t time.Time, fn func()) (cancel func())
	Now() time.Time
}

// once is a cron.Schedule that activates a single time.
type once struct{ at time.Time }

// Next returns the activation instant while it is still ahead, and the
// zero time afterwards, which cron treats as "never again".
func (o once) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// CronRunner runs one-shot jobs on a robfig/cron scheduler.
type CronRunner struct {
	cron *cron.Cron
}

func NewCronRunner(loc *time.Location) *CronRunner {
	if loc == nil {
		loc = time.Local
	}
	logger := cron.PrintfLogger(&log.Logger)
	return &CronRunner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}
}

func (r *CronRunner) At(t time.Time, fn func()) func() {
	id := r.cron.Schedule(once{at: t}, cron.FuncJob(fn))
	return func() { r.cron.Remove(id) }
}

func (r *CronRunner) Now() time.Time { return time.Now() }

func (r *CronRunner) Start() { r.cron.Start() }

// Stop halts the scheduler and waits for running jobs.
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Len reports how many entries cron still holds.
func (r *CronRunner) Len() int { return len(r.cron.Entries()) }

// ManualRunner is a Runner whose clock only moves when Advance is called.
// Timers fire synchronously inside Advance, in due order.
type ManualRunner struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]manualTimer
}

type manualTimer struct {
	at  time.Time
	seq int
	fn  func()
}

func NewManualRunner(start time.Time) *ManualRunner {
	return &ManualRunner{now: start, timers: map[int]manualTimer{}}
}

func (m *ManualRunner) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualRunner) At(t time.Time, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := m.seq
	m.timers[id] = manualTimer{at: t, seq: id, fn: fn}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.timers, id)
	}
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (m *ManualRunner) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next, ok := m.nextDueLocked(target)
		if !ok {
			m.now = target
			m.mu.Unlock()
			return
		}
		delete(m.timers, next.seq)
		if next.at.After(m.now) {
			m.now = next.at
		}
		m.mu.Unlock()
		next.fn()
	}
}

func (m *ManualRunner) nextDueLocked(target time.Time) (manualTimer, bool) {
	due := make([]manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return manualTimer{}, false
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0], true
}

// Pending reports how many timers have not fired or been cancelled.
func (m *ManualRunner) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
