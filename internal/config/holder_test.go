package config

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder_Reload(t *testing.T) {
	first := DefaultConfig()
	h := NewHolder(first, "/etc/listsync/config.toml")

	assert.Same(t, first, h.Config())
	assert.Equal(t, "/etc/listsync/config.toml", h.Path())
	assert.Zero(t, h.Generation())

	second := DefaultConfig()
	second.Sync.PollInterval = "10m"

	require.NoError(t, h.Reload(func() (*Config, error) { return second, nil }))
	assert.Same(t, second, h.Config())
	assert.Equal(t, 1, h.Generation())
}

func TestHolder_ReloadFailureKeepsConfig(t *testing.T) {
	cfg := DefaultConfig()
	h := NewHolder(cfg, "/tmp/config.toml")

	boom := errors.New("destination.list: must not be empty")
	assert.ErrorIs(t, h.Reload(func() (*Config, error) { return nil, boom }), boom)
	assert.Error(t, h.Reload(func() (*Config, error) { return nil, nil }))

	assert.Same(t, cfg, h.Config())
	assert.Zero(t, h.Generation())
}

func TestHolder_ReadersDuringReload(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 200 {
				assert.NotNil(t, h.Config())
			}
		}()
	}

	for range 50 {
		require.NoError(t, h.Reload(func() (*Config, error) { return DefaultConfig(), nil }))
	}

	wg.Wait()
	assert.Equal(t, 50, h.Generation())
}
