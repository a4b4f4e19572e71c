// Package sync runs one synchronization pass from a source snapshot into a
// destination SharePoint list: diff, coercion, paced or batched writes, and
// attachment reconciliation.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// Snapshotter produces the source side of a sync pass.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]sharepoint.Item, error)
}

// SchemaSource resolves destination list metadata. Satisfied by
// *sharepoint.Registry.
type SchemaSource interface {
	Columns(ctx context.Context, list string) (sharepoint.Schema, error)
	EntityType(ctx context.Context, list string) (string, error)
}

// ListReader reads the destination snapshot. Satisfied by
// *sharepoint.Client.
type ListReader interface {
	ReadAll(ctx context.Context, list string, schema sharepoint.Schema, opts sharepoint.ReadOptions) ([]sharepoint.Item, error)
}

// Recorder persists finished reports. Optional.
type Recorder interface {
	RecordRun(ctx context.Context, r *Report) error
}

// AttachmentOptions enables attachment reconciliation when Source is set.
type AttachmentOptions struct {
	Source    AttachmentSource // nil disables reconciliation
	Mode      AttachmentMode
	Workers   int
	TempDir   string
	Bandwidth *BandwidthLimiter
}

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Source          Snapshotter
	SourceName      string // source list title or file path, for reports
	SourceList      string // source list title for attachment downloads
	DestinationList string
	SiteURL         string // destination site, used in batch request lines

	Schemas SchemaSource
	Reader  ListReader
	Writer  Writer
	Sink    AttachmentSink

	Diff        DiffOptions
	Mode        WriteMode
	BatchSize   int
	Pacing      Pacing
	ReadOptions sharepoint.ReadOptions
	Attachments AttachmentOptions

	Failures *FailureTracker // watch mode only; nil disables suppression
	Recorder Recorder
	Logger   *slog.Logger
}

// RunOpts holds per-pass options.
type RunOpts struct {
	DryRun bool
}

// Engine orchestrates a sync pass: schema, snapshots, diff, writes,
// attachments, report.
type Engine struct {
	cfg     EngineConfig
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewEngine creates an engine. Zero Mode means batch; zero BatchSize means
// sharepoint.DefaultBatchSize.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeBatch
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = sharepoint.DefaultBatchSize
	}

	if cfg.Diff.Logger == nil {
		cfg.Diff.Logger = cfg.Logger
	}

	return &Engine{cfg: cfg, logger: cfg.Logger, nowFunc: time.Now}
}

// plannedWrite is one job plus what the engine needs after submission.
type plannedWrite struct {
	Job
	name        string // OpNameInsert, OpNameUpdate or OpNameClose
	source      *sharepoint.Item
	destination *sharepoint.Item
}

// Run performs one pass. Fatal errors (schema, missing list, rejected
// credentials, cancellation) end the pass and are returned together with
// the partial report. Item-scoped errors land in Report.Failures.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*Report, error) {
	report := &Report{
		RunID:       uuid.NewString(),
		Source:      e.cfg.SourceName,
		Destination: e.cfg.DestinationList,
		Mode:        e.cfg.Mode,
		DryRun:      opts.DryRun,
		StartedAt:   e.nowFunc(),
	}

	e.logger.Info("sync pass starting",
		slog.String("run_id", report.RunID),
		slog.String("source", report.Source),
		slog.String("destination", report.Destination),
		slog.String("mode", string(report.Mode)),
		slog.Bool("dry_run", opts.DryRun),
	)

	err := e.run(ctx, opts, report)

	report.Duration = e.nowFunc().Sub(report.StartedAt)
	report.Err = err

	e.record(report)

	if err != nil {
		e.logger.Error("sync pass aborted",
			slog.String("run_id", report.RunID),
			slog.String("error", err.Error()),
		)

		return report, err
	}

	e.logger.Info("sync pass complete",
		slog.String("run_id", report.RunID),
		slog.Int("inserted", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("closed", report.Closed),
		slog.Int("failed", report.Failed()),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

func (e *Engine) run(ctx context.Context, opts RunOpts, report *Report) error {
	dest := e.cfg.DestinationList

	schema, err := e.cfg.Schemas.Columns(ctx, dest)
	if err != nil {
		return err
	}

	entityType, err := e.cfg.Schemas.EntityType(ctx, dest)
	if err != nil {
		return err
	}

	if _, ok := schema[e.cfg.Diff.PrimaryKey]; !ok {
		return fmt.Errorf("sync: primary key %q is not a writable column of %q", e.cfg.Diff.PrimaryKey, dest)
	}

	source, err := e.cfg.Source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("sync: reading source: %w", err)
	}

	readOpts := e.cfg.ReadOptions
	readOpts.ExpandAttachments = e.cfg.Attachments.Source != nil

	destination, err := e.cfg.Reader.ReadAll(ctx, dest, schema, readOpts)
	if err != nil {
		return err
	}

	diffOpts := e.cfg.Diff
	diffOpts.Compare = make([]string, 0, len(schema))

	for name := range schema {
		diffOpts.Compare = append(diffOpts.Compare, name)
	}

	plan := Diff(source, destination, diffOpts)

	report.Plan = plan
	report.PlannedInserts = len(plan.ToInsert)
	report.PlannedUpdates = len(plan.ToUpdate)
	report.PlannedCloses = len(plan.ToClose)

	e.logger.Info("diff computed",
		slog.Int("source_items", len(source)),
		slog.Int("destination_items", len(destination)),
		slog.Int("inserts", report.PlannedInserts),
		slog.Int("updates", report.PlannedUpdates),
		slog.Int("closes", report.PlannedCloses),
	)

	if opts.DryRun || plan.Empty() {
		return nil
	}

	writes := e.planWrites(plan, schema, source, destination, report)
	if len(writes) == 0 {
		return nil
	}

	var results []sharepoint.OperationResult

	if e.cfg.Mode == ModeSingle {
		results, err = e.submitSingle(ctx, entityType, writes)
	} else {
		results, err = e.submitBatches(ctx, entityType, writes)
	}

	pairs := e.applyResults(writes, results, report)

	if err != nil {
		return err
	}

	if e.cfg.Attachments.Source != nil && len(pairs) > 0 {
		e.reconcileAttachments(ctx, pairs, report)
	}

	return nil
}

// planWrites turns the diff into jobs in insert, update, close order.
func (e *Engine) planWrites(
	plan DiffResult, schema sharepoint.Schema, source, destination []sharepoint.Item, report *Report,
) []plannedWrite {
	pk := e.cfg.Diff.PrimaryKey

	srcByKey := indexByKey(source, pk)
	dstByID := make(map[int]*sharepoint.Item, len(destination))

	for i := range destination {
		dstByID[destination[i].ID] = &destination[i]
	}

	writes := make([]plannedWrite, 0, report.PlannedInserts+report.PlannedUpdates+report.PlannedCloses)

	add := func(w plannedWrite) {
		if e.cfg.Failures.ShouldSkip(w.Key) {
			report.Suppressed++
			e.logger.Debug("skipping suppressed key", slog.String("key", w.Key))

			return
		}

		writes = append(writes, w)
	}

	for _, fields := range plan.ToInsert {
		key := KeyString(fields[pk])
		add(plannedWrite{
			Job:    Job{Key: key, Op: sharepoint.Insert(CoerceFields(fields, schema, e.logger))},
			name:   OpNameInsert,
			source: srcByKey[key],
		})
	}

	for _, c := range plan.ToUpdate {
		payload := CoerceFields(c.Fields, schema, e.logger)
		if len(payload) == 0 {
			e.logger.Debug("update has no writable fields, skipping", slog.String("key", c.Key))
			continue
		}

		add(plannedWrite{
			Job:         Job{Key: c.Key, Op: sharepoint.Update(c.DestinationID, payload)},
			name:        OpNameUpdate,
			source:      srcByKey[c.Key],
			destination: dstByID[c.DestinationID],
		})
	}

	for _, c := range plan.ToClose {
		add(plannedWrite{
			Job:  Job{Key: c.Key, Op: sharepoint.Update(c.DestinationID, CoerceFields(c.Fields, schema, e.logger))},
			name: OpNameClose,
		})
	}

	return writes
}

// submitBatches splits writes into batches and submits them in order,
// checking for cancellation between batches. A batch that fails as a whole
// marks each of its operations failed and the run moves on to the next.
func (e *Engine) submitBatches(
	ctx context.Context, entityType string, writes []plannedWrite,
) ([]sharepoint.OperationResult, error) {
	dispatcher := NewDispatcher(e.cfg.Writer, e.cfg.Pacing, e.logger)
	builder := sharepoint.BatchBuilder{SiteURL: e.cfg.SiteURL, Limit: e.cfg.BatchSize}

	ops := make([]sharepoint.Operation, len(writes))
	for i := range writes {
		ops[i] = writes[i].Op
	}

	results := make([]sharepoint.OperationResult, 0, len(writes))
	offset := 0

	for _, chunk := range sharepoint.SplitOperations(ops, e.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("sync: canceled between batches: %w", err)
		}

		chunkResults, err := e.submitChunk(ctx, dispatcher, builder, entityType, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return results, fmt.Errorf("sync: canceled during batch: %w", ctx.Err())
			}

			if isFatal(err) {
				return results, err
			}

			for i := range chunk {
				chunkResults = append(chunkResults, sharepoint.OperationResult{Index: i, Err: err})
			}
		}

		for _, r := range chunkResults {
			r.Index += offset
			results = append(results, r)
		}

		offset += len(chunk)
	}

	return results, nil
}

func (e *Engine) submitChunk(
	ctx context.Context, d *Dispatcher, b sharepoint.BatchBuilder, entityType string, chunk []sharepoint.Operation,
) ([]sharepoint.OperationResult, error) {
	req, err := b.Build(e.cfg.DestinationList, entityType, chunk)
	if err != nil {
		return nil, err
	}

	return d.SubmitBatch(ctx, req)
}

func (e *Engine) submitSingle(
	ctx context.Context, entityType string, writes []plannedWrite,
) ([]sharepoint.OperationResult, error) {
	dispatcher := NewDispatcher(e.cfg.Writer, e.cfg.Pacing, e.logger)

	jobs := make([]Job, len(writes))
	for i := range writes {
		jobs[i] = writes[i].Job
	}

	return dispatcher.SubmitItems(ctx, e.cfg.DestinationList, entityType, jobs)
}

// applyResults folds per-operation results into the report and returns the
// attachment pairs of successful upserts. Writes without a result (the run
// stopped before reaching them) are left out of the report entirely.
func (e *Engine) applyResults(writes []plannedWrite, results []sharepoint.OperationResult, report *Report) []AttachmentPair {
	var pairs []AttachmentPair

	for _, r := range results {
		if r.Index < 0 || r.Index >= len(writes) {
			continue
		}

		w := writes[r.Index]

		if r.Err != nil {
			err := r.Err

			var twe *TransientWriteError
			if !errors.As(err, &twe) && !isBatchError(err) {
				err = &TransientWriteError{Key: w.Key, Op: w.Op.Kind(), ItemID: w.Op.ItemID(), Err: err}
			}

			report.addFailure(w.Key, w.name, err)
			e.cfg.Failures.RecordFailure(w.Key, err.Error())

			continue
		}

		e.cfg.Failures.RecordSuccess(w.Key)

		switch w.name {
		case OpNameInsert:
			report.Inserted++
		case OpNameUpdate:
			report.Updated++
		case OpNameClose:
			report.Closed++

			continue
		}

		if pair, ok := attachmentPair(w, r); ok {
			pairs = append(pairs, pair)
		}
	}

	return pairs
}

func isBatchError(err error) bool {
	var bse *BatchSubmissionError
	return errors.As(err, &bse)
}

// attachmentPair links a successful upsert to its source item.
func attachmentPair(w plannedWrite, r sharepoint.OperationResult) (AttachmentPair, bool) {
	if w.source == nil {
		return AttachmentPair{}, false
	}

	pair := AttachmentPair{
		Key:         w.Key,
		SourceID:    w.source.ID,
		SourceNames: w.source.Attachments,
	}

	switch w.name {
	case OpNameInsert:
		if r.ItemID == 0 {
			return AttachmentPair{}, false
		}

		pair.DestinationID = r.ItemID
	default:
		pair.DestinationID = w.Op.ItemID()
		if w.destination != nil {
			pair.DestinationNames = w.destination.Attachments
		}
	}

	return pair, true
}

func (e *Engine) reconcileAttachments(ctx context.Context, pairs []AttachmentPair, report *Report) {
	rec := NewReconciler(ReconcilerConfig{
		Source:          e.cfg.Attachments.Source,
		Sink:            e.cfg.Sink,
		SourceList:      e.cfg.SourceList,
		DestinationList: e.cfg.DestinationList,
		Mode:            e.cfg.Attachments.Mode,
		Workers:         e.cfg.Attachments.Workers,
		TempDir:         e.cfg.Attachments.TempDir,
		Bandwidth:       e.cfg.Attachments.Bandwidth,
		Logger:          e.logger,
	})

	stats, errs := rec.ReconcileAll(ctx, pairs)
	report.Attachments = stats

	for _, err := range errs {
		key := ""

		var ate *AttachmentTransferError
		if errors.As(err, &ate) {
			key = ate.Key
		}

		report.addFailure(key, OpNameAttachment, err)
	}
}

func (e *Engine) record(report *Report) {
	if e.cfg.Recorder == nil {
		return
	}

	// Recording must survive a canceled run context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.cfg.Recorder.RecordRun(ctx, report); err != nil {
		e.logger.Warn("recording run failed",
			slog.String("run_id", report.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// indexByKey maps primary keys to the first item carrying them.
func indexByKey(items []sharepoint.Item, pk string) map[string]*sharepoint.Item {
	idx := make(map[string]*sharepoint.Item, len(items))

	for i := range items {
		key := KeyString(items[i].Fields[pk])
		if key == "" {
			continue
		}

		if _, ok := idx[key]; !ok {
			idx[key] = &items[i]
		}
	}

	return idx
}
