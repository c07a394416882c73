// Package dispatch runs work serially per key and concurrently across keys.
package dispatch

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Shutdown has started.
var ErrClosed = errors.New("dispatcher closed")

// ErrQueueFull is returned when a key already has QueueSize pending jobs.
var ErrQueueFull = errors.New("dispatch queue full")

type Job func(ctx context.Context)

type Config struct {
	// Workers bounds how many jobs run at once across all keys.
	Workers    int
	JobTimeout time.Duration
	// QueueSize caps the pending jobs per key.
	QueueSize int
}

type Dispatcher struct {
	cfg    Config
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

type queue struct {
	jobs []Job
}

func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:    ctx,
		cancel: cancel,
		queues: make(map[string]*queue),
	}
}

// Submit enqueues job behind any pending work for key. Jobs for the same key
// run one at a time in submission order.
func (d *Dispatcher) Submit(key string, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if q, ok := d.queues[key]; ok {
		if len(q.jobs) >= d.cfg.QueueSize {
			return ErrQueueFull
		}
		q.jobs = append(q.jobs, job)
		return nil
	}

	q := &queue{jobs: []Job{job}}
	d.queues[key] = q
	d.wg.Add(1)
	go d.drain(key, q)
	return nil
}

// Pending reports how many keys have queued or running work.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, running jobs see their context cancelled and the rest are dropped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) drain(key string, q *queue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		d.run(key, job)
	}
}

func (d *Dispatcher) run(key string, job Job) {
	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		log.Printf("dispatch: dropped job for %s: %v", key, err)
		return
	}
	defer d.sem.Release(1)

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: job for %s panicked: %v\n%s", key, r, debug.Stack())
		}
	}()
	job(ctx)
}
