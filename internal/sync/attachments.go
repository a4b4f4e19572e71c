package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	gosync "sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// AttachmentMode selects how destination attachments are brought in line.
type AttachmentMode string

const (
	// AttachmentsReplace deletes every destination attachment, then
	// uploads every source attachment.
	AttachmentsReplace AttachmentMode = "replace"
	// AttachmentsMerge keeps destination attachments and uploads only the
	// source files the destination lacks.
	AttachmentsMerge AttachmentMode = "merge"
)

// DefaultAttachmentWorkers bounds concurrent item pairs in ReconcileAll.
const DefaultAttachmentWorkers = 4

// AttachmentSource reads attachment content. Satisfied by
// *sharepoint.Client.
type AttachmentSource interface {
	DownloadAttachment(ctx context.Context, list string, id int, name string, w io.Writer) (int64, error)
}

// AttachmentSink writes attachments. Satisfied by *sharepoint.Client.
type AttachmentSink interface {
	RefreshDigest(ctx context.Context) (sharepoint.Digest, error)
	AddAttachment(ctx context.Context, list string, id int, name string, content io.Reader, digest sharepoint.Digest) error
	DeleteAttachment(ctx context.Context, list string, id int, name string, digest sharepoint.Digest) error
}

// AttachmentPair links a source item to the destination item it was
// written to, with both attachment name lists.
type AttachmentPair struct {
	Key              string
	SourceID         int
	SourceNames      []string
	DestinationID    int
	DestinationNames []string
}

// ReconcileStats counts transfers performed.
type ReconcileStats struct {
	Pairs      int // pairs that needed work
	Downloaded int
	Uploaded   int
	Deleted    int
}

func (s *ReconcileStats) add(o ReconcileStats) {
	s.Pairs += o.Pairs
	s.Downloaded += o.Downloaded
	s.Uploaded += o.Uploaded
	s.Deleted += o.Deleted
}

// ReconcilerConfig holds the options for NewReconciler.
type ReconcilerConfig struct {
	Source          AttachmentSource
	Sink            AttachmentSink
	SourceList      string
	DestinationList string
	Mode            AttachmentMode
	Workers         int
	TempDir         string // parent for per-pair scratch directories; "" uses os.TempDir
	Bandwidth       *BandwidthLimiter
	Logger          *slog.Logger
}

// Reconciler keeps destination attachment sets equal to their source
// counterparts.
type Reconciler struct {
	cfg    ReconcilerConfig
	logger *slog.Logger
}

// NewReconciler creates a reconciler. Zero Mode means replace; zero
// Workers means DefaultAttachmentWorkers.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Mode == "" {
		cfg.Mode = AttachmentsReplace
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultAttachmentWorkers
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{cfg: cfg, logger: logger}
}

// Reconcile brings one destination item's attachments in line with its
// source item. Name lists are compared as multisets of NFC-normalized
// names, so ordering never matters and equal sets cost no transfers.
// Source files are staged in a scratch directory that is removed on every
// exit path. Any failure is returned as *AttachmentTransferError.
func (r *Reconciler) Reconcile(ctx context.Context, pair AttachmentPair) (ReconcileStats, error) {
	var stats ReconcileStats

	if multisetEqual(pair.SourceNames, pair.DestinationNames) {
		return stats, nil
	}

	uploads := pair.SourceNames
	if r.cfg.Mode == AttachmentsMerge {
		uploads = multisetMinus(pair.SourceNames, pair.DestinationNames)
		if len(uploads) == 0 {
			return stats, nil
		}
	}

	stats.Pairs = 1

	fail := func(file string, err error) (ReconcileStats, error) {
		return stats, &AttachmentTransferError{Key: pair.Key, DestinationID: pair.DestinationID, File: file, Err: err}
	}

	dir, err := os.MkdirTemp(r.cfg.TempDir, "listsync-att-*")
	if err != nil {
		return fail("", fmt.Errorf("creating scratch directory: %w", err))
	}
	defer os.RemoveAll(dir)

	staged := make([]string, len(uploads))

	for i, name := range uploads {
		path := filepath.Join(dir, strconv.Itoa(i))
		if err := r.download(ctx, pair.SourceID, name, path); err != nil {
			return fail(name, err)
		}

		staged[i] = path
		stats.Downloaded++
	}

	if r.cfg.Mode == AttachmentsReplace {
		for _, name := range pair.DestinationNames {
			if err := r.deleteOne(ctx, pair.DestinationID, name); err != nil {
				return fail(name, err)
			}

			stats.Deleted++
		}
	}

	for i, name := range uploads {
		if err := r.upload(ctx, pair.DestinationID, name, staged[i]); err != nil {
			return fail(name, err)
		}

		stats.Uploaded++
	}

	r.logger.Debug("attachments reconciled",
		slog.String("key", pair.Key),
		slog.Int("uploaded", stats.Uploaded),
		slog.Int("deleted", stats.Deleted),
	)

	return stats, nil
}

// ReconcileAll reconciles pairs through a bounded worker pool. A failing
// pair never cancels the others; every failure is collected and the pool
// is fully drained before returning. Errors are ordered by pair.
func (r *Reconciler) ReconcileAll(ctx context.Context, pairs []AttachmentPair) (ReconcileStats, []error) {
	var (
		total ReconcileStats
		mu    gosync.Mutex
		g     errgroup.Group
	)

	errs := make([]error, len(pairs))

	g.SetLimit(r.cfg.Workers)

	for i := range pairs {
		pair := pairs[i]

		g.Go(func() error {
			stats, err := r.Reconcile(ctx, pair)

			mu.Lock()
			total.add(stats)
			mu.Unlock()

			if err != nil {
				r.logger.Warn("attachment reconciliation failed",
					slog.String("key", pair.Key),
					slog.String("error", err.Error()),
				)

				errs[i] = err
			}

			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // workers never return errors; failures are collected in errs

	collected := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}

	r.logger.Info("attachment reconciliation complete",
		slog.Int("pairs", total.Pairs),
		slog.Int("uploaded", total.Uploaded),
		slog.Int("deleted", total.Deleted),
		slog.Int("failed", len(collected)),
	)

	return total, collected
}

func (r *Reconciler) download(ctx context.Context, id int, name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating scratch file: %w", err)
	}

	_, dlErr := r.cfg.Source.DownloadAttachment(ctx, r.cfg.SourceList, id, name,
		r.cfg.Bandwidth.WrapWriter(ctx, f))

	closeErr := f.Close()

	if dlErr != nil {
		return dlErr
	}

	return closeErr
}

func (r *Reconciler) upload(ctx context.Context, id int, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening scratch file: %w", err)
	}
	defer f.Close()

	digest, err := r.cfg.Sink.RefreshDigest(ctx)
	if err != nil {
		return err
	}

	return r.cfg.Sink.AddAttachment(ctx, r.cfg.DestinationList, id, name,
		r.cfg.Bandwidth.WrapReader(ctx, f), digest)
}

func (r *Reconciler) deleteOne(ctx context.Context, id int, name string) error {
	digest, err := r.cfg.Sink.RefreshDigest(ctx)
	if err != nil {
		return err
	}

	return r.cfg.Sink.DeleteAttachment(ctx, r.cfg.DestinationList, id, name, digest)
}

// countNames builds a multiset of NFC-normalized names.
func countNames(names []string) map[string]int {
	counts := make(map[string]int, len(names))
	for _, n := range names {
		counts[norm.NFC.String(n)]++
	}

	return counts
}

// multisetEqual compares name lists ignoring order but not duplicates.
func multisetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	ca := countNames(a)
	cb := countNames(b)

	if len(ca) != len(cb) {
		return false
	}

	for k, v := range ca {
		if cb[k] != v {
			return false
		}
	}

	return true
}

// multisetMinus returns the names of a not covered by b, keeping a's
// original spelling and order.
func multisetMinus(a, b []string) []string {
	remaining := countNames(b)

	var out []string

	for _, n := range a {
		k := norm.NFC.String(n)
		if remaining[k] > 0 {
			remaining[k]--
			continue
		}

		out = append(out, n)
	}

	return out
}
