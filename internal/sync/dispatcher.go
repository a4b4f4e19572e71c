package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// Writer performs state-changing requests. Satisfied by *sharepoint.Client.
type Writer interface {
	RefreshDigest(ctx context.Context) (sharepoint.Digest, error)
	PostBatch(ctx context.Context, req *sharepoint.BatchRequest, digest sharepoint.Digest) ([]sharepoint.OperationResult, error)
	Apply(ctx context.Context, list, entityType string, op sharepoint.Operation, digest sharepoint.Digest) (int, error)
}

// Pacing controls how fast the dispatcher writes.
type Pacing struct {
	ItemDelay     time.Duration // minimum spacing between single-item writes
	Cooldown      time.Duration // pause after every CooldownEvery writes
	CooldownEvery int           // 0 disables the cool-down
}

// Job is one operation together with the primary key it was derived from.
type Job struct {
	Key string
	Op  sharepoint.Operation
}

// Dispatcher submits writes one at a time or as $batch requests. Every
// submission gets a freshly fetched digest; digests are never reused.
// Not safe for concurrent use: writes against one list are sequential.
type Dispatcher struct {
	writer  Writer
	pacing  Pacing
	limiter *rate.Limiter
	logger  *slog.Logger

	written         int
	batches         int
	pendingCooldown bool

	// sleepFunc waits out cool-downs. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher writing through w.
func NewDispatcher(w Writer, pacing Pacing, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if pacing.ItemDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(pacing.ItemDelay), 1)
	}

	return &Dispatcher{
		writer:    w,
		pacing:    pacing,
		limiter:   limiter,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// SubmitBatch sends one encoded batch. A failure of the envelope itself
// (digest fetch, transport, non-2xx) is returned as *BatchSubmissionError
// and no operation may be assumed applied. Otherwise the per-operation
// results are returned, one per operation of req, in order.
func (d *Dispatcher) SubmitBatch(ctx context.Context, req *sharepoint.BatchRequest) ([]sharepoint.OperationResult, error) {
	d.batches++
	n := len(req.Operations)

	if err := d.awaitCooldown(ctx); err != nil {
		return nil, &BatchSubmissionError{Batch: d.batches, Size: n, Err: err}
	}

	digest, err := d.writer.RefreshDigest(ctx)
	if err != nil {
		return nil, &BatchSubmissionError{Batch: d.batches, Size: n, Err: err}
	}

	d.logger.Info("submitting batch",
		slog.Int("batch", d.batches),
		slog.Int("operations", n),
	)

	results, err := d.writer.PostBatch(ctx, req, digest)
	if err != nil {
		d.logger.Error("batch submission failed",
			slog.Int("batch", d.batches),
			slog.String("error", err.Error()),
		)

		return nil, &BatchSubmissionError{Batch: d.batches, Size: n, Err: err}
	}

	d.countWrites(n)

	return results, nil
}

// SubmitItems writes jobs one by one. A failed write is recorded as a
// *TransientWriteError in its result and processing continues. The context
// is checked before every item; on cancellation the results so far are
// returned with the context error. Errors that make further writes
// pointless (missing list, rejected credentials) stop processing as well.
func (d *Dispatcher) SubmitItems(
	ctx context.Context, list, entityType string, jobs []Job,
) ([]sharepoint.OperationResult, error) {
	results := make([]sharepoint.OperationResult, 0, len(jobs))

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("sync: writes canceled: %w", err)
		}

		if err := d.awaitCooldown(ctx); err != nil {
			return results, fmt.Errorf("sync: writes canceled: %w", err)
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return results, fmt.Errorf("sync: writes canceled: %w", err)
			}
		}

		res := sharepoint.OperationResult{Index: i}

		id, err := d.writeOne(ctx, list, entityType, job.Op)
		if err != nil {
			if ctx.Err() != nil {
				return results, fmt.Errorf("sync: writes canceled: %w", ctx.Err())
			}

			if isFatal(err) {
				return results, err
			}

			res.Err = &TransientWriteError{Key: job.Key, Op: job.Op.Kind(), ItemID: job.Op.ItemID(), Err: err}

			d.logger.Warn("item write failed",
				slog.String("key", job.Key),
				slog.String("op", job.Op.Kind().String()),
				slog.String("error", err.Error()),
			)
		} else {
			res.ItemID = id
		}

		results = append(results, res)
		d.countWrites(1)
	}

	return results, nil
}

// writeOne fetches a fresh digest and applies op.
func (d *Dispatcher) writeOne(ctx context.Context, list, entityType string, op sharepoint.Operation) (int, error) {
	digest, err := d.writer.RefreshDigest(ctx)
	if err != nil {
		return 0, err
	}

	return d.writer.Apply(ctx, list, entityType, op, digest)
}

// countWrites advances the write counter and arms the cool-down whenever a
// multiple of CooldownEvery is crossed. The pause happens before the next
// write, never after the last one.
func (d *Dispatcher) countWrites(n int) {
	every := d.pacing.CooldownEvery
	if every <= 0 || d.pacing.Cooldown <= 0 {
		d.written += n
		return
	}

	before := d.written / every
	d.written += n

	if d.written/every > before {
		d.pendingCooldown = true
	}
}

func (d *Dispatcher) awaitCooldown(ctx context.Context) error {
	if !d.pendingCooldown {
		return nil
	}

	d.pendingCooldown = false

	d.logger.Info("cooling down to avoid throttling",
		slog.Int("written", d.written),
		slog.Duration("cooldown", d.pacing.Cooldown),
	)

	return d.sleepFunc(ctx, d.pacing.Cooldown)
}

// Written returns the number of operations submitted so far.
func (d *Dispatcher) Written() int {
	return d.written
}

// timeSleep waits for d or until ctx is done.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
