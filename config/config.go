// Package config implements the YAML config file parser
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/ALU-Schumacher/AUDITOR-sub000/config/logger"
	"github.com/ALU-Schumacher/AUDITOR-sub000/lmdbenv"
	"github.com/ALU-Schumacher/AUDITOR-sub000/status/healthtracker"
)

// Defaults for intervals and limits that are not set in the config file.
const (
	DefaultCollectInterval = 30 * time.Second
	DefaultSendInterval    = 10 * time.Second
	DefaultRetryInterval   = 10 * time.Second
	DefaultMaxRetry        = 5 * time.Minute
	DefaultTimeout         = 30 * time.Second
	DefaultSendBatchSize   = 100
	DefaultMaxIncomplete   = 10
	DefaultIncompleteGrace = time.Hour
)

// Config is the config root object
type Config struct {
	Server     Server               `yaml:"server"`
	Collectors map[string]Collector `yaml:"collectors"`
	HTTP       HTTP                 `yaml:"http"`
	Log        logger.Config        `yaml:"log"`

	// Set to current version by main
	Version string `yaml:"-"`
}

// Server configures the record store HTTP API and its database.
type Server struct {
	Address string          `yaml:"address"` // Address like ":8000"
	Path    string          `yaml:"path"`    // Path to directory holding the record database
	Options lmdbenv.Options `yaml:"options"`

	// LenientDuplicates downgrades a duplicate record_id on create from a
	// Conflict error to a no-op success, to tolerate collector redelivery.
	LenientDuplicates bool `yaml:"lenient_duplicates"`
}

// HTTP configures the metrics and health listener of the collect command.
// The serve command exposes these on the API address instead.
type HTTP struct {
	Address string `yaml:"address"` // Address like ":8001", empty disables it
}

// Collector configures a single collector pipeline.
type Collector struct {
	Source       Source `yaml:"source"`
	RecordPrefix string `yaml:"record_prefix"` // record_id = "<prefix>-<job id>"

	// StatePath holds the durable queue and collection cursor. It must
	// survive host reboots; losing it means re-sending everything the
	// source still reports (deduplicated by the store) and losing any
	// queued-but-unsent entries.
	StatePath    string          `yaml:"state_path"`
	StateOptions lmdbenv.Options `yaml:"state_options"`

	StoreURL      string        `yaml:"store_url"` // Base URL of the record store API
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	SourceTimeout time.Duration `yaml:"source_timeout"`

	CollectInterval time.Duration `yaml:"collect_interval"`
	SendInterval    time.Duration `yaml:"send_interval"`

	// Backoff for store delivery failures: retry_interval doubles per
	// attempt up to max_retry_interval.
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`

	SendBatchSize int `yaml:"send_batch_size"`

	// Items whose metrics are not available yet are kept back and retried.
	// After max_incomplete_attempts attempts, or once incomplete_grace has
	// passed since the item was queued, the record is sent anyway with the
	// incomplete_defaults applied.
	MaxIncompleteAttempts int                `yaml:"max_incomplete_attempts"`
	IncompleteGrace       time.Duration      `yaml:"incomplete_grace"`
	IncompleteDefaults    IncompleteDefaults `yaml:"incomplete_defaults"`

	Health healthtracker.Config `yaml:"health"`
}

// Source selects and configures the upstream job source of a collector.
type Source struct {
	Type string `yaml:"type"` // Currently only "jsonfile"
	Path string `yaml:"path"` // Job event file for the jsonfile source
}

// IncompleteDefaults are merged into a record that is submitted after the
// backlog policy gave up waiting for complete data. There is deliberately no
// built-in default table; sites decide what an incomplete record looks like.
type IncompleteDefaults struct {
	Meta       map[string][]string `yaml:"meta"`
	Components []ComponentDefault  `yaml:"components"`
}

type ComponentDefault struct {
	Name   string `yaml:"name"`
	Amount int64  `yaml:"amount"`
}

// WithDefaults returns a copy of the collector config with unset intervals
// and limits replaced by defaults.
func (c Collector) WithDefaults() Collector {
	if c.CollectInterval == 0 {
		c.CollectInterval = DefaultCollectInterval
	}
	if c.SendInterval == 0 {
		c.SendInterval = DefaultSendInterval
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxRetryInterval == 0 {
		c.MaxRetryInterval = DefaultMaxRetry
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = DefaultTimeout
	}
	if c.SourceTimeout == 0 {
		c.SourceTimeout = DefaultTimeout
	}
	if c.SendBatchSize == 0 {
		c.SendBatchSize = DefaultSendBatchSize
	}
	if c.MaxIncompleteAttempts == 0 {
		c.MaxIncompleteAttempts = DefaultMaxIncomplete
	}
	if c.IncompleteGrace == 0 {
		c.IncompleteGrace = DefaultIncompleteGrace
	}
	return c
}

// Check validates a Config instance
func (c Config) Check() error {
	if err := c.Log.Check(); err != nil {
		return err
	}
	if c.Server.Address != "" {
		if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
			return fmt.Errorf("server.address: %v", err)
		}
		if c.Server.Path == "" {
			return fmt.Errorf("server.path: no record database path configured")
		}
	}
	if c.HTTP.Address != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Address); err != nil {
			return fmt.Errorf("http.address: %v", err)
		}
	}
	for name, col := range c.Collectors {
		prefix := fmt.Sprintf("collector %q", name)
		if col.RecordPrefix == "" {
			return fmt.Errorf("%s: no record_prefix configured", prefix)
		}
		if col.StatePath == "" {
			return fmt.Errorf("%s: no state_path configured", prefix)
		}
		if col.StoreURL == "" {
			return fmt.Errorf("%s: no store_url configured", prefix)
		}
		if _, err := url.Parse(col.StoreURL); err != nil {
			return fmt.Errorf("%s: store_url: %v", prefix, err)
		}
		switch col.Source.Type {
		case "jsonfile":
			if col.Source.Path == "" {
				return fmt.Errorf("%s: source.path: required for jsonfile source", prefix)
			}
		default:
			return fmt.Errorf("%s: source.type: unknown type %q", prefix, col.Source.Type)
		}
		col = col.WithDefaults()
		if col.CollectInterval < 100*time.Millisecond {
			return fmt.Errorf("%s: collect_interval: too short interval", prefix)
		}
		if col.SendInterval < 100*time.Millisecond {
			return fmt.Errorf("%s: send_interval: too short interval", prefix)
		}
	}
	return nil
}

// String returns the config as a YAML string.
func (c Config) String() string {
	y, err := yaml.Marshal(c)
	if err != nil {
		logrus.Panicf("YAML marshal of config failed: %v", err) // Should never happen
	}
	return string(y)
}

// LoadYAML loads config from YAML. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAML(yamlContents []byte, expandEnv bool) error {
	if expandEnv {
		yamlContents = []byte(os.ExpandEnv(string(yamlContents)))
	}
	return yaml.UnmarshalStrict(yamlContents, c)
}

// LoadYAMLFile loads config from a YAML file. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAMLFile(fpath string, expandEnv bool) error {
	contents, err := os.ReadFile(fpath)
	if err != nil {
		return errors.Wrap(err, "open yaml file")
	}
	return c.LoadYAML(contents, expandEnv)
}

// Default returns a Config with default settings
func Default() Config {
	return Config{
		Log: logger.DefaultConfig,
	}
}
