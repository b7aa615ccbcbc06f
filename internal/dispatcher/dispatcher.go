// Package dispatcher runs transaction jobs on a fixed pool of workers.
// Nonces are assigned by the nonce manager the jobs are sent through, so
// workers can wait for receipts concurrently without reusing a nonce.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/somnia-chain/nonce-submitter/internal/metrics"
	"github.com/somnia-chain/nonce-submitter/internal/nonce"
)

// ErrStopped is returned by Submit after Stop was called.
var ErrStopped = errors.New("dispatcher stopped")

// Result holds the outcome of a submitted transaction.
type Result struct {
	Pending *nonce.PendingTx
	Receipt *types.Receipt
	Err     error
}

// Config holds the dispatcher configuration.
type Config struct {
	Workers   int
	QueueSize int
}

type txJob struct {
	name   string
	ctx    context.Context
	tx     *nonce.TxRequest
	wait   bool
	result chan Result
}

// Dispatcher feeds jobs to its workers through a buffered channel.
type Dispatcher struct {
	sender nonce.Submitter
	jobs   chan txJob
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// New creates a Dispatcher and starts its workers.
func New(sender nonce.Submitter, cfg Config) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	d := &Dispatcher{
		sender: sender,
		jobs:   make(chan txJob, cfg.QueueSize),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run(i)
	}

	slog.Info("Dispatcher started", "workers", cfg.Workers, "queueSize", cfg.QueueSize)
	return d
}

// Submit queues tx and blocks until it is sent, or mined when wait is set.
// The caller's context controls cancellation and timeout.
func (d *Dispatcher) Submit(ctx context.Context, name string, tx *nonce.TxRequest, wait bool) Result {
	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		return Result{Err: ErrStopped}
	}

	result := make(chan Result, 1)
	job := txJob{
		name:   name,
		ctx:    ctx,
		tx:     tx,
		wait:   wait,
		result: result,
	}

	select {
	case d.jobs <- job:
		metrics.JobsQueued.Inc()
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return Result{Err: ctx.Err()}
	}

	select {
	case r := <-result:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Stop closes the job channel and waits for the workers to drain any
// remaining jobs.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	slog.Info("Dispatcher stopped")
}

func (d *Dispatcher) run(worker int) {
	defer d.wg.Done()

	for job := range d.jobs {
		metrics.JobsQueued.Dec()
		r := d.process(worker, job)
		job.result <- r
	}
}

func (d *Dispatcher) process(worker int, job txJob) Result {
	start := time.Now()
	waitLabel := fmt.Sprintf("%t", job.wait)

	if err := job.ctx.Err(); err != nil {
		metrics.JobsTotal.WithLabelValues("cancelled").Inc()
		return Result{Err: err}
	}

	pending, err := d.sender.SendTransaction(job.ctx, job.tx, nil)
	if err != nil {
		slog.Error("Dispatcher transaction send failed",
			"name", job.name,
			"worker", worker,
			"error", err,
		)
		metrics.JobsTotal.WithLabelValues("send_failed").Inc()
		return Result{Err: fmt.Errorf("send failed: %w", err)}
	}

	slog.Info("Dispatcher transaction sent",
		"name", job.name,
		"worker", worker,
		"txHash", pending.Hash.Hex(),
		"nonce", pending.Nonce,
	)

	if !job.wait {
		metrics.JobsTotal.WithLabelValues("sent").Inc()
		metrics.JobDuration.WithLabelValues(waitLabel).Observe(time.Since(start).Seconds())
		return Result{Pending: pending}
	}

	receipt, err := pending.Wait(job.ctx)
	if err != nil {
		slog.Error("Dispatcher failed waiting for receipt",
			"name", job.name,
			"txHash", pending.Hash.Hex(),
			"nonce", pending.Nonce,
			"error", err,
		)
		metrics.JobsTotal.WithLabelValues("wait_failed").Inc()
		return Result{Pending: pending, Err: fmt.Errorf("wait mined failed: %w", err)}
	}

	slog.Info("Dispatcher transaction mined",
		"name", job.name,
		"txHash", pending.Hash.Hex(),
		"status", receipt.Status,
		"block", receipt.BlockNumber,
		"gasUsed", receipt.GasUsed,
	)

	metrics.JobsTotal.WithLabelValues("mined").Inc()
	metrics.JobDuration.WithLabelValues(waitLabel).Observe(time.Since(start).Seconds())
	return Result{Pending: pending, Receipt: receipt}
}
