package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/listsync/internal/config"
)

// burstMultiplier sets the token bucket burst relative to the per-second
// rate, so a short idle period can be spent on the next chunk.
const burstMultiplier = 2

// BandwidthLimiter caps the aggregate throughput of attachment transfers.
// One limiter is shared by every reconciler worker.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter creates a limiter from a rate string such as "5MB/s".
// Returns nil for "0" or "" (unlimited); a nil limiter is safe to use.
func NewBandwidthLimiter(limit string, logger *slog.Logger) (*BandwidthLimiter, error) {
	bytesPerSec, err := config.ParseRate(limit)
	if err != nil {
		return nil, fmt.Errorf("sync: bandwidth limit %q: %w", limit, err)
	}

	if bytesPerSec == 0 {
		return nil, nil //nolint:nilnil // nil limiter means unlimited
	}

	burst := int(bytesPerSec) * burstMultiplier

	if logger != nil {
		logger.Info("attachment bandwidth limited",
			slog.Int64("bytes_per_sec", bytesPerSec),
			slog.Int("burst", burst),
		)
	}

	return &BandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}, nil
}

// WrapReader returns a rate-limited reader. A nil limiter returns r as is.
func (bl *BandwidthLimiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if bl == nil {
		return r
	}

	return &rateLimitedReader{r: r, limiter: bl.limiter, ctx: ctx}
}

// WrapWriter returns a rate-limited writer. A nil limiter returns w as is.
func (bl *BandwidthLimiter) WrapWriter(ctx context.Context, w io.Writer) io.Writer {
	if bl == nil {
		return w
	}

	return &rateLimitedWriter{w: w, limiter: bl.limiter, ctx: ctx}
}

// rateLimitedReader blocks after each read until the limiter allows the
// bytes consumed.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context //nolint:containedctx // reader outlives the call that created it
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// rateLimitedWriter blocks after each write until the limiter allows the
// bytes produced.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context //nolint:containedctx // writer outlives the call that created it
}

func (w *rateLimitedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		if waitErr := waitN(w.ctx, w.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a request into burst-sized chunks; WaitN rejects anything
// larger than the burst.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
