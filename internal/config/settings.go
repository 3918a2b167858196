package config

import (
	"fmt"
	"sync"
)

// Settings is the runtime view of a Config. Updates are validated before
// they take effect and listeners run after the lock is released.
type Settings struct {
	mu        sync.RWMutex
	cfg       Config
	listeners []func(Rates)
}

// NewSettings wraps cfg. cfg is assumed valid (see Load).
func NewSettings(cfg Config) *Settings {
	return &Settings{cfg: cfg}
}

// Config returns a copy of the current configuration.
func (s *Settings) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.Disabled = append([]string(nil), s.cfg.Disabled...)
	return cfg
}

// Rates returns the current interval snapshot.
func (s *Settings) Rates() Rates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.PollRates()
}

// OnChange registers fn to run after every successful Update.
func (s *Settings) OnChange(fn func(Rates)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Update applies fn to a copy of the configuration. The copy is validated
// and only then swapped in; on error the previous configuration stays.
func (s *Settings) Update(fn func(*Config)) error {
	next := s.Config()
	fn(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}

	s.mu.Lock()
	s.cfg = next
	listeners := append([]func(Rates){}, s.listeners...)
	s.mu.Unlock()

	rates := next.PollRates()
	for _, fn := range listeners {
		fn(rates)
	}
	return nil
}

// SetLowDataMode toggles low-data mode.
func (s *Settings) SetLowDataMode(on bool) error {
	return s.Update(func(c *Config) { c.LowDataMode = on })
}
