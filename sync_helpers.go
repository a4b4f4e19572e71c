package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/sharepoint"
	"github.com/tonimelisma/listsync/internal/source"
	"github.com/tonimelisma/listsync/internal/sync"
)

// newSyncEngine builds a sync.Engine from a Session and resolved config.
// tracker and recorder may be nil.
func newSyncEngine(
	sess *Session, cfg *config.Config, tracker *sync.FailureTracker, recorder sync.Recorder, logger *slog.Logger,
) (*sync.Engine, error) {
	snap, name, err := newSnapshotter(sess, cfg, logger)
	if err != nil {
		return nil, err
	}

	ecfg := sync.EngineConfig{
		Source:          snap,
		SourceName:      name,
		SourceList:      cfg.Source.List,
		DestinationList: cfg.Destination.List,
		SiteURL:         sess.Dest.SiteURL(),
		Schemas:         sess.DestRegistry,
		Reader:          sess.Dest,
		Writer:          sess.Dest,
		Sink:            sess.DestTransfer,
		Diff: sync.DiffOptions{
			PrimaryKey:  cfg.Sync.PrimaryKey,
			FlagField:   cfg.Sync.FlagField,
			StatusField: cfg.Sync.StatusField,
			ClosedValue: cfg.Sync.ClosedValue,
			Eligible:    eligibility(cfg.Sync.EligibleField, cfg.Sync.EligibleContains),
		},
		Mode:        sync.WriteMode(cfg.Sync.Mode),
		BatchSize:   cfg.Sync.BatchSize,
		Pacing:      pacing(cfg),
		ReadOptions: readOptions(cfg),
		Failures:    tracker,
		Recorder:    recorder,
		Logger:      logger,
	}

	if cfg.Attachments.Enabled {
		bw, err := sync.NewBandwidthLimiter(cfg.Attachments.BandwidthLimit, logger)
		if err != nil {
			return nil, err
		}

		ecfg.Attachments = sync.AttachmentOptions{
			Source:    sess.SourceTransfer,
			Mode:      sync.AttachmentMode(cfg.Attachments.Mode),
			Workers:   cfg.Attachments.Workers,
			TempDir:   cfg.Attachments.TempDir,
			Bandwidth: bw,
		}
	}

	return sync.NewEngine(ecfg), nil
}

// newSnapshotter returns the configured source and a name for reports.
func newSnapshotter(sess *Session, cfg *config.Config, logger *slog.Logger) (sync.Snapshotter, string, error) {
	mapping := source.Mapping(cfg.Mapping)
	if err := mapping.Validate(); err != nil {
		return nil, "", err
	}

	switch cfg.Source.Kind {
	case config.SourceFile:
		return &source.File{
			Path:          cfg.Source.Path,
			ModifiedField: cfg.Source.ModifiedField,
			Mapping:       mapping,
			Logger:        logger,
		}, cfg.Source.Path, nil
	case config.SourceList:
		if sess.Source == nil {
			return nil, "", fmt.Errorf("source list %q has no client", cfg.Source.List)
		}

		opts := readOptions(cfg)
		opts.Filter = cfg.Source.Filter

		return &source.List{
			Name:        cfg.Source.List,
			Schemas:     sess.SourceRegistry,
			Reader:      sess.Source,
			ReadOptions: opts,
			Mapping:     mapping,
			Logger:      logger,
		}, cfg.Source.List, nil
	default:
		return nil, "", fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

func readOptions(cfg *config.Config) sharepoint.ReadOptions {
	return sharepoint.ReadOptions{
		PageDelay:   config.Duration(cfg.Pacing.PageDelay),
		OnPageError: sharepoint.PageErrorPolicy(cfg.Sync.OnPageError),
	}
}

func pacing(cfg *config.Config) sync.Pacing {
	return sync.Pacing{
		ItemDelay:     config.Duration(cfg.Pacing.ItemDelay),
		Cooldown:      config.Duration(cfg.Pacing.Cooldown),
		CooldownEvery: cfg.CooldownEvery(),
	}
}

// eligibility returns a predicate accepting items whose field contains
// substr, case-insensitively. An empty field accepts everything.
func eligibility(field, substr string) func(sharepoint.Item) bool {
	if field == "" {
		return nil
	}

	needle := strings.ToLower(substr)

	return func(it sharepoint.Item) bool {
		v, ok := it.Fields[field]
		if !ok || v == nil {
			return false
		}

		return strings.Contains(strings.ToLower(fmt.Sprint(v)), needle)
	}
}
