// Package records defines the record model shared by the store, the query
// engine and the collectors, together with the error taxonomy of the system.
package records

import "time"

// Score is a normalization factor attached to a component, like an HEPSPEC06
// benchmark value for a CPU component.
type Score struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Component is a named, quantified resource within a record.
// Component names are not required to be unique within a record; callers are
// expected to aggregate before submission if they want uniqueness.
type Component struct {
	Name   string  `json:"name"`
	Amount int64   `json:"amount"`
	Scores []Score `json:"scores,omitempty"`
}

// Record is one unit of accountable resource usage.
//
// The record_id is the idempotency key of the whole system: collectors derive
// it deterministically from immutable source identifiers, so redelivery after
// a crash lands on the same key and is deduplicated instead of double-counted.
type Record struct {
	RecordID  string     `json:"record_id"`
	StartTime time.Time  `json:"start_time"`
	StopTime  *time.Time `json:"stop_time,omitempty"`

	// Runtime is derived from stop_time - start_time in whole seconds and is
	// never client-settable; the store recomputes it on every write.
	Runtime *int64 `json:"runtime,omitempty"`

	Meta       Meta        `json:"meta,omitempty"`
	Components []Component `json:"components,omitempty"`

	// UpdatedAt is assigned by the store on every accepted write.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the record invariants that hold for any record entering
// the store: a nonempty record_id, a start_time, and stop >= start.
func (r Record) Validate() error {
	if r.RecordID == "" {
		return &ValidationError{Reason: "record_id must not be empty"}
	}
	if r.StartTime.IsZero() {
		return &ValidationError{Reason: "start_time is required"}
	}
	if r.StopTime != nil && r.StopTime.Before(r.StartTime) {
		return &ValidationError{Reason: "stop_time must not be before start_time"}
	}
	return nil
}

// RuntimeSeconds derives the runtime in whole seconds, or nil for an open
// record.
func (r Record) RuntimeSeconds() *int64 {
	if r.StopTime == nil {
		return nil
	}
	secs := int64(r.StopTime.Sub(r.StartTime) / time.Second)
	return &secs
}

// Normalize converts timestamps to UTC and recomputes the derived runtime,
// discarding any client-provided value.
func (r *Record) Normalize() {
	r.StartTime = r.StartTime.UTC()
	if r.StopTime != nil {
		utc := r.StopTime.UTC()
		r.StopTime = &utc
	}
	r.Runtime = r.RuntimeSeconds()
}

// WithStopTime returns a copy of the record closed at the given time.
func (r Record) WithStopTime(stop time.Time) Record {
	stop = stop.UTC()
	r.StopTime = &stop
	r.Runtime = r.RuntimeSeconds()
	return r
}

// ComponentAmounts returns the amounts of all components with the given name.
// Duplicates are allowed, so this can return more than one value.
func (r Record) ComponentAmounts(name string) []int64 {
	var out []int64
	for _, c := range r.Components {
		if c.Name == name {
			out = append(out, c.Amount)
		}
	}
	return out
}
