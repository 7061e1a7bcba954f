// Package healthtracker reports repeated failures of a background activity
// to the health endpoint, with separate warning and error thresholds.
package healthtracker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"
	"go.uber.org/atomic"
)

// Config sets the thresholds at which repeated failures of an activity are
// reported as a warning or an error on the health endpoint.
type Config struct {
	ErrorDuration      time.Duration `yaml:"error_duration"`
	WarnDuration       time.Duration `yaml:"warn_duration"`
	ErrorSequence      uint32        `yaml:"error_sequence"`
	WarnSequence       uint32        `yaml:"warn_sequence"`
	EvaluationInterval time.Duration `yaml:"interval"`
}

// DefaultConfig is used for any threshold left at its zero value.
var DefaultConfig = Config{
	ErrorDuration:      5 * time.Minute,
	WarnDuration:       1 * time.Minute,
	ErrorSequence:      10,
	WarnSequence:       3,
	EvaluationInterval: 5 * time.Second,
}

// WithDefaults returns a copy of c with zero values replaced by DefaultConfig.
func (c Config) WithDefaults() Config {
	if c.ErrorDuration == 0 {
		c.ErrorDuration = DefaultConfig.ErrorDuration
	}
	if c.WarnDuration == 0 {
		c.WarnDuration = DefaultConfig.WarnDuration
	}
	if c.ErrorSequence == 0 {
		c.ErrorSequence = DefaultConfig.ErrorSequence
	}
	if c.WarnSequence == 0 {
		c.WarnSequence = DefaultConfig.WarnSequence
	}
	if c.EvaluationInterval == 0 {
		c.EvaluationInterval = DefaultConfig.EvaluationInterval
	}
	return c
}

// HealthTracker tracks consecutive failures of one activity, like delivering
// records to the store, and registers health checks for both the number of
// consecutive failures and the duration of the failure streak.
type HealthTracker struct {
	Config   Config
	sequence atomic.Uint32
	since    atomic.Time
	prefix   string
	activity string
	logger   logrus.FieldLogger
}

func New(hc Config, prefix string, activity string) *HealthTracker {
	ht := &HealthTracker{
		Config:   hc.WithDefaults(),
		prefix:   prefix,
		activity: activity,
		logger:   logrus.WithField("healthtracker", prefix),
	}

	ht.registerSequence()
	ht.registerDuration()

	return ht
}

func (ht *HealthTracker) registerSequence() {
	healthz.Register(fmt.Sprintf("%s_failed_attempts", ht.prefix), ht.Config.EvaluationInterval, func() error {
		conseqFails := ht.sequence.Load()

		if conseqFails >= ht.Config.ErrorSequence {
			return fmt.Errorf("failed to %s %d consecutive times", ht.activity, conseqFails)
		} else if conseqFails >= ht.Config.WarnSequence {
			return healthz.Warnf("failed to %s %d consecutive times", ht.activity, conseqFails)
		}

		return nil
	})
}

func (ht *HealthTracker) registerDuration() {
	healthz.Register(fmt.Sprintf("%s_failed_duration", ht.prefix), ht.Config.EvaluationInterval, func() error {
		conseqFails := ht.sequence.Load()
		failingSince := ht.since.Load()
		failingFor := time.Since(failingSince)

		if conseqFails > 0 {
			if failingFor >= ht.Config.ErrorDuration {
				return fmt.Errorf("failed to %s for %s", ht.activity, failingFor.Round(time.Second))
			} else if failingFor >= ht.Config.WarnDuration {
				return healthz.Warnf("failed to %s for %s", ht.activity, failingFor.Round(time.Second))
			}
		}

		return nil
	})
}

// AddFailure records one failed attempt.
func (ht *HealthTracker) AddFailure(err error) {
	failures := ht.sequence.Load()
	if failures == 0 {
		ht.since.Store(time.Now())
	}

	ht.sequence.Inc()

	ht.logger.WithError(err).Debugf("incremented consecutive failures to %d", failures+1)
}

// AddSuccess records a successful attempt and resets the failure streak.
func (ht *HealthTracker) AddSuccess() {
	ht.sequence.Store(0)
}

// Failing reports whether the last attempt failed.
func (ht *HealthTracker) Failing() bool {
	return ht.sequence.Load() > 0
}
