// Package config loads and validates fieldsync settings.
//
// Settings come from a YAML file (gopkg.in/yaml.v3) and are checked against
// an embedded CUE schema before use. Settings wraps a validated Config for
// runtime changes and notifies listeners so the poller can re-arm.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Defaults, in seconds unless noted.
const (
	DefaultRateSeconds         = 30
	DefaultLowDataSeconds      = 120
	DefaultChatPresenceSeconds = 240
	DefaultHoldTimeoutSeconds  = 600
	DefaultStorePath           = "fieldsync.db"
	DefaultDriver              = "sqlite3"
)

// ErrInvalidConfig is returned when a config fails schema validation.
var ErrInvalidConfig = errors.New("invalid config")

// StoreConfig selects the local database.
type StoreConfig struct {
	Path   string `yaml:"path" json:"path"`
	Driver string `yaml:"driver" json:"driver"`
}

// RatesConfig holds poll intervals in seconds.
type RatesConfig struct {
	CollabroomSeconds   int `yaml:"collabroom_seconds" json:"collabroom_seconds"`
	IncidentSeconds     int `yaml:"incident_seconds" json:"incident_seconds"`
	WFSSeconds          int `yaml:"wfs_seconds" json:"wfs_seconds"`
	ChatPresenceSeconds int `yaml:"chat_presence_seconds" json:"chat_presence_seconds"`
	LowDataSeconds      int `yaml:"low_data_seconds" json:"low_data_seconds"`
}

// Config is the decoded fieldsync.yaml.
type Config struct {
	Store              StoreConfig `yaml:"store" json:"store"`
	Rates              RatesConfig `yaml:"rates" json:"rates"`
	LowDataMode        bool        `yaml:"low_data_mode" json:"low_data_mode"`
	Disabled           []string    `yaml:"disabled" json:"disabled"`
	HoldTimeoutSeconds int         `yaml:"hold_timeout_seconds" json:"hold_timeout_seconds"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: DefaultStorePath, Driver: DefaultDriver},
		Rates: RatesConfig{
			CollabroomSeconds:   DefaultRateSeconds,
			IncidentSeconds:     DefaultRateSeconds,
			WFSSeconds:          DefaultRateSeconds,
			ChatPresenceSeconds: DefaultChatPresenceSeconds,
			LowDataSeconds:      DefaultLowDataSeconds,
		},
		Disabled:           []string{},
		HoldTimeoutSeconds: DefaultHoldTimeoutSeconds,
	}
}

// Load reads a YAML file over Default() and validates the result.
// Keys absent from the file keep their default values; unknown keys are
// rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over Default() and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes as io.EOF and keeps the defaults.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded CUE schema.
func (c Config) Validate() error {
	if c.Disabled == nil {
		c.Disabled = []string{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// HoldTimeout is the execution hold duration for one poll fire.
func (c Config) HoldTimeout() time.Duration {
	return time.Duration(c.HoldTimeoutSeconds) * time.Second
}

// PollRates converts the configured intervals to a Rates snapshot.
func (c Config) PollRates() Rates {
	disabled := make(map[model.ResourceType]bool, len(c.Disabled))
	for _, name := range c.Disabled {
		disabled[model.ResourceType(name)] = true
	}
	return Rates{
		Collabroom:   seconds(c.Rates.CollabroomSeconds),
		Incident:     seconds(c.Rates.IncidentSeconds),
		WFS:          seconds(c.Rates.WFSSeconds),
		ChatPresence: seconds(c.Rates.ChatPresenceSeconds),
		LowData:      seconds(c.Rates.LowDataSeconds),
		LowDataMode:  c.LowDataMode,
		Disabled:     disabled,
	}
}

// Rates is an immutable snapshot of the poll intervals.
type Rates struct {
	Collabroom   time.Duration
	Incident     time.Duration
	WFS          time.Duration
	ChatPresence time.Duration
	LowData      time.Duration
	LowDataMode  bool
	Disabled     map[model.ResourceType]bool
}

// Effective applies low-data mode to a configured interval.
func (r Rates) Effective(d time.Duration) time.Duration {
	if r.LowDataMode {
		return r.LowData
	}
	return d
}

// Enabled reports whether rt may be polled.
func (r Rates) Enabled(rt model.ResourceType) bool {
	return !r.Disabled[rt]
}

// IncidentInterval is the effective incident rate. The connectivity
// watchdog derives its period and threshold from it.
func (r Rates) IncidentInterval() time.Duration {
	return r.Effective(r.Incident)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
