package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("pool closed")

// Job is one unit of detached work, typically a reminder delivery.
type Job func(ctx context.Context) error

// Pool runs jobs on at most size goroutines. A failing or panicking job
// is logged and never takes the process down.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	ctx    context.Context
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size), ctx: context.Background()}
}

// Submit blocks until a slot is free, then runs job in its own goroutine.
func (p *Pool) Submit(name string, job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.sem <- struct{}{}
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		if err := run(p.ctx, job); err != nil {
			log.Error().Err(err).Str("job", name).Msg("job failed")
		}
	}()
	return nil
}

func run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

// Shutdown stops accepting jobs and waits for in-flight ones or ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() { p.wg.Wait() }
