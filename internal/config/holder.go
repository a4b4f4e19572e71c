package config

import (
	"errors"
	"sync"
)

// Holder is the config a watch reads at the start of every pass. SIGHUP
// swaps in a freshly resolved config; passes already running keep the
// snapshot they started with.
type Holder struct {
	mu         sync.RWMutex
	cfg        *Config
	path       string
	generation int
}

// NewHolder wraps the config resolved at startup from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config returns the current snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path is the config file the holder was loaded from.
func (h *Holder) Path() string {
	return h.path
}

// Generation counts successful reloads.
func (h *Holder) Generation() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.generation
}

// Reload resolves a new config with load and swaps it in. On error, or when
// load returns nil, the current config stays.
func (h *Holder) Reload(load func() (*Config, error)) error {
	cfg, err := load()
	if err != nil {
		return err
	}

	if cfg == nil {
		return errors.New("config: reload produced no config")
	}

	h.mu.Lock()
	h.cfg = cfg
	h.generation++
	h.mu.Unlock()

	return nil
}
