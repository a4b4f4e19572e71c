package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/sharepoint"
	"github.com/tonimelisma/listsync/internal/source"
	"github.com/tonimelisma/listsync/internal/sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func helperConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Destination = config.DestinationConfig{SiteURL: "https://contoso.sharepoint.com/sites/ops", List: "Requests"}
	cfg.Source.List = "Intake"
	cfg.Sync.PrimaryKey = "Request ID"

	return cfg
}

func testSession(cfg *config.Config) *Session {
	client := sharepoint.NewClient(cfg.Destination.SiteURL, nil, nil, discardLogger(), "test")

	return &Session{
		Dest:           client,
		DestTransfer:   client,
		DestRegistry:   sharepoint.NewRegistry(client),
		Source:         client,
		SourceTransfer: client,
		SourceRegistry: sharepoint.NewRegistry(client),
	}
}

func TestEligibility(t *testing.T) {
	assert.Nil(t, eligibility("", "anything"))

	eligible := eligibility("Customer", "contoso")
	require.NotNil(t, eligible)

	assert.True(t, eligible(sharepoint.Item{Fields: sharepoint.Fields{"Customer": "CONTOSO Ltd"}}))
	assert.False(t, eligible(sharepoint.Item{Fields: sharepoint.Fields{"Customer": "Fabrikam"}}))
	assert.False(t, eligible(sharepoint.Item{Fields: sharepoint.Fields{"Customer": nil}}))
	assert.False(t, eligible(sharepoint.Item{Fields: sharepoint.Fields{}}))
}

func TestReadOptions(t *testing.T) {
	cfg := helperConfig()
	cfg.Pacing.PageDelay = "750ms"
	cfg.Sync.OnPageError = "skip"

	opts := readOptions(cfg)
	assert.Equal(t, 750*time.Millisecond, opts.PageDelay)
	assert.Equal(t, sharepoint.PageErrorPolicy("skip"), opts.OnPageError)
	assert.Empty(t, opts.Filter)
}

func TestPacing(t *testing.T) {
	cfg := helperConfig()
	cfg.Pacing = config.PacingConfig{ItemDelay: "200ms", Cooldown: "1m", CooldownEvery: 50}
	cfg.Sync.BatchSize = 20

	assert.Equal(t, sync.Pacing{ItemDelay: 200 * time.Millisecond, Cooldown: time.Minute, CooldownEvery: 50}, pacing(cfg))
}

func TestPacing_CooldownFollowsBatchSize(t *testing.T) {
	cfg := helperConfig()
	cfg.Sync.BatchSize = 50

	assert.Equal(t, 50, pacing(cfg).CooldownEvery)

	// A --batch-size override moves the cool-down with it.
	cfg.Sync.BatchSize = 25
	assert.Equal(t, 25, pacing(cfg).CooldownEvery)
}

func TestNewSnapshotter_File(t *testing.T) {
	cfg := helperConfig()
	cfg.Source = config.SourceConfig{Kind: config.SourceFile, Path: "/data/export.json", ModifiedField: "Changed"}
	cfg.Mapping = map[string]string{"Req": "Request ID"}

	snap, name, err := newSnapshotter(testSession(cfg), cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "/data/export.json", name)

	f, ok := snap.(*source.File)
	require.True(t, ok)
	assert.Equal(t, "Changed", f.ModifiedField)
	assert.Equal(t, source.Mapping{"Req": "Request ID"}, f.Mapping)
}

func TestNewSnapshotter_ListCarriesFilter(t *testing.T) {
	cfg := helperConfig()
	cfg.Source.Filter = "Status ne 'Draft'"

	snap, name, err := newSnapshotter(testSession(cfg), cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "Intake", name)

	l, ok := snap.(*source.List)
	require.True(t, ok)
	assert.Equal(t, "Intake", l.Name)
	assert.Equal(t, "Status ne 'Draft'", l.ReadOptions.Filter)
}

func TestNewSnapshotter_ListWithoutClient(t *testing.T) {
	cfg := helperConfig()
	sess := testSession(cfg)
	sess.Source = nil

	_, _, err := newSnapshotter(sess, cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no client")
}

func TestNewSnapshotter_UnknownKind(t *testing.T) {
	cfg := helperConfig()
	cfg.Source.Kind = "csv"

	_, _, err := newSnapshotter(testSession(cfg), cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv")
}

func TestNewSnapshotter_InvalidMapping(t *testing.T) {
	cfg := helperConfig()
	cfg.Mapping = map[string]string{"a": "Title", "b": "Title"}

	_, _, err := newSnapshotter(testSession(cfg), cfg, discardLogger())
	assert.Error(t, err)
}

func TestNewSyncEngine_BadBandwidth(t *testing.T) {
	cfg := helperConfig()
	cfg.Attachments.Enabled = true
	cfg.Attachments.BandwidthLimit = "lots"

	_, err := newSyncEngine(testSession(cfg), cfg, nil, nil, discardLogger())
	assert.Error(t, err)
}

func TestNewSyncEngine_Builds(t *testing.T) {
	cfg := helperConfig()
	cfg.Attachments.Enabled = true

	engine, err := newSyncEngine(testSession(cfg), cfg, sync.NewFailureTracker(discardLogger()), nil, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, engine)
}
