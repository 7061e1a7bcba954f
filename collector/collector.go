// Package collector implements the durable delivery pipeline between a job
// source and the record store. Collection and delivery run as independent
// loops coupled only through a persistent LMDB queue, so an unreachable
// store never blocks or loses observations.
package collector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ALU-Schumacher/AUDITOR-sub000/client"
	"github.com/ALU-Schumacher/AUDITOR-sub000/config"
	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
	"github.com/ALU-Schumacher/AUDITOR-sub000/status/healthtracker"
	"github.com/ALU-Schumacher/AUDITOR-sub000/utils"
)

// RecordStore is the delivery target. Satisfied by *client.Client.
type RecordStore interface {
	Create(ctx context.Context, rec records.Record) error
	CloseRecord(ctx context.Context, id string, stop time.Time) (records.Record, error)
}

type Collector struct {
	name  string
	c     config.Collector
	src   Source
	state *State
	store RecordStore

	collectHealth *healthtracker.HealthTracker
	sendHealth    *healthtracker.HealthTracker
	l             logrus.FieldLogger

	// now is replaced in tests
	now func() time.Time
}

// New opens the collector state at the configured path and wires the
// pipeline. The caller owns the returned collector and must Close it.
func New(name string, c config.Collector, src Source) (*Collector, error) {
	c = c.WithDefaults()
	state, err := OpenState(c.StatePath, c.StateOptions)
	if err != nil {
		return nil, err
	}
	col := newCollector(name, c, src, state, client.New(c.StoreURL, c.StoreTimeout))
	col.collectHealth = healthtracker.New(c.Health, name+"_collect", "collect job data for "+name)
	col.sendHealth = healthtracker.New(c.Health, name+"_send", "deliver records for "+name)
	return col, nil
}

func newCollector(name string, c config.Collector, src Source, state *State, store RecordStore) *Collector {
	return &Collector{
		name:  name,
		c:     c,
		src:   src,
		state: state,
		store: store,
		l:     logrus.WithField("collector", name),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (col *Collector) Close() {
	col.state.Close()
}

// Run runs the collect and send loops until the context is canceled or a
// state database failure makes continuing unsafe.
func (col *Collector) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return col.collectLoop(ctx) })
	g.Go(func() error { return col.sendLoop(ctx) })
	return g.Wait()
}

// RunOnce performs a single collection pass and then drains the queue,
// including any backlog left over from earlier runs. Used by the
// --only-once flag and by cron-style deployments.
func (col *Collector) RunOnce(ctx context.Context) error {
	if err := col.collectOnce(ctx); err != nil {
		if records.IsPersistence(err) {
			return err
		}
		col.l.WithError(err).Error("Collection failed")
	}
	for {
		before, err := col.state.Len()
		if err != nil {
			return err
		}
		if before == 0 {
			return nil
		}
		if _, err := col.sendOnce(ctx); err != nil {
			return err
		}
		after, err := col.state.Len()
		if err != nil {
			return err
		}
		if after >= before {
			// Store unreachable or everything held back; a one-shot run
			// does not wait for backoff windows. The queue stays on disk
			// for the next run.
			col.l.WithField("queued", after).
				Warn("Queue not drained, leaving remaining entries for the next run")
			return nil
		}
		if utils.IsCanceled(ctx) {
			return context.Canceled
		}
	}
}

func (col *Collector) collectLoop(ctx context.Context) error {
	for {
		if err := col.collectOnce(ctx); err != nil {
			if records.IsPersistence(err) {
				return err
			}
			col.l.WithError(err).Error("Collection failed")
		}
		if err := utils.SleepContextPerturb(ctx, col.c.CollectInterval); err != nil {
			return err
		}
	}
}

func (col *Collector) sendLoop(ctx context.Context) error {
	for {
		if _, err := col.sendOnce(ctx); err != nil {
			return err
		}
		if err := utils.SleepContextPerturb(ctx, col.c.SendInterval); err != nil {
			return err
		}
	}
}

// collectOnce fetches new items from the source and appends them to the
// queue, advancing the cursor in the same transaction.
func (col *Collector) collectOnce(ctx context.Context) error {
	cursor, err := col.state.Cursor()
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, col.c.SourceTimeout)
	defer cancel()
	t0 := time.Now()
	items, next, err := col.src.Fetch(fetchCtx, cursor)
	if err != nil {
		if col.collectHealth != nil {
			col.collectHealth.AddFailure(err)
		}
		metricCollectFailures.WithLabelValues(col.name).Inc()
		return err
	}

	now := col.now()
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		rec := item.Record
		rec.RecordID = col.c.RecordPrefix + "-" + item.JobID
		entries = append(entries, Entry{
			Record:   rec,
			Complete: item.Complete,
			Deadline: now.Add(col.c.IncompleteGrace),
		})
	}
	if err := col.state.Append(entries, next); err != nil {
		return err
	}

	if col.collectHealth != nil {
		col.collectHealth.AddSuccess()
	}
	metricCollected.WithLabelValues(col.name).Add(float64(len(entries)))
	if len(entries) > 0 {
		col.l.WithFields(logrus.Fields{
			"items":    len(entries),
			"duration": utils.TimeDiff(time.Now(), t0),
		}).Info("Collected job data")
	}
	return nil
}

// sendOnce drains due queue entries in submission order. It stops on the
// first unreachable-store failure so later entries never overtake earlier
// ones; held-back incomplete entries are skipped instead, holdback is not an
// ordering guarantee. Returns stalled=true when the queue still holds
// entries that were not delivered this pass.
func (col *Collector) sendOnce(ctx context.Context) (stalled bool, err error) {
	now := col.now()
	entries, err := col.state.Next(now, col.c.SendBatchSize)
	if err != nil {
		return false, err
	}
	queued, err := col.state.Len()
	if err != nil {
		return false, err
	}
	metricQueueLength.WithLabelValues(col.name).Set(float64(queued))
	stalled = queued > uint64(len(entries))

	for _, e := range entries {
		if !e.Complete {
			done, err := col.handleIncomplete(ctx, &e, now)
			if err != nil {
				return true, err
			}
			if !done {
				stalled = true
				continue
			}
		}

		switch err := col.deliver(ctx, e.Record); {
		case err == nil:
			if err := col.state.Delete(e.Seq); err != nil {
				return true, err
			}
			if col.sendHealth != nil {
				col.sendHealth.AddSuccess()
			}
			metricDelivered.WithLabelValues(col.name).Inc()

		case records.IsValidation(err):
			// The store will never accept this record. Keeping it would
			// wedge the queue forever.
			col.l.WithError(err).WithField("record_id", e.Record.RecordID).
				Error("Record permanently rejected, dropping it")
			if err := col.state.Delete(e.Seq); err != nil {
				return true, err
			}
			metricRejected.WithLabelValues(col.name).Inc()

		case records.IsUpstream(err):
			e.Attempts++
			e.NotBefore = now.Add(col.backoff(e.Attempts))
			if uerr := col.state.Update(e); uerr != nil {
				return true, uerr
			}
			if col.sendHealth != nil {
				col.sendHealth.AddFailure(err)
			}
			metricSendFailures.WithLabelValues(col.name).Inc()
			col.l.WithError(err).WithFields(logrus.Fields{
				"record_id": e.Record.RecordID,
				"attempts":  e.Attempts,
				"retry_in":  col.backoff(e.Attempts),
			}).Warn("Record store unreachable, stopping this delivery pass")
			return true, nil

		default:
			// State database failures are fatal; anything else unexpected
			// from the store is treated like an unreachable store.
			if records.IsPersistence(err) {
				return true, err
			}
			e.Attempts++
			e.NotBefore = now.Add(col.backoff(e.Attempts))
			if uerr := col.state.Update(e); uerr != nil {
				return true, uerr
			}
			col.l.WithError(err).WithField("record_id", e.Record.RecordID).
				Warn("Unexpected delivery error, will retry")
			return true, nil
		}
	}
	return stalled, nil
}

// deliver submits one record. The queue has no notion of create-vs-close:
// the sender always creates, and a Conflict means an earlier attempt (or an
// earlier observation of the same job) already got through. If this entry
// carries a stop_time the record is closed instead, otherwise the conflict
// already is success.
func (col *Collector) deliver(ctx context.Context, rec records.Record) error {
	ctx, cancel := context.WithTimeout(ctx, col.c.StoreTimeout)
	defer cancel()

	err := col.store.Create(ctx, rec)
	if err == nil || !records.IsConflict(err) {
		return err
	}
	if rec.StopTime == nil {
		return nil
	}
	_, err = col.store.CloseRecord(ctx, rec.RecordID, *rec.StopTime)
	if records.IsNotFound(err) {
		// Conflict on create but gone on close: the store lost the record
		// between the two calls. Retry the whole entry.
		return &records.UpstreamError{Op: "close after conflict", Err: err}
	}
	return err
}

// handleIncomplete re-enriches a held-back entry. It returns done=true when
// the entry should be sent now, either because the data is complete or
// because the backlog policy expired and the defaults were applied.
func (col *Collector) handleIncomplete(ctx context.Context, e *Entry, now time.Time) (done bool, err error) {
	if enr, ok := col.src.(Enricher); ok {
		enrichCtx, cancel := context.WithTimeout(ctx, col.c.SourceTimeout)
		rec, complete, err := enr.Enrich(enrichCtx, e.Record)
		cancel()
		if err != nil {
			col.l.WithError(err).WithField("record_id", e.Record.RecordID).
				Debug("Enrichment failed, treating entry as still incomplete")
		} else {
			e.Record = rec
			e.Complete = complete
		}
	}
	if e.Complete {
		if err := col.state.Update(*e); err != nil {
			return false, err
		}
		return true, nil
	}

	expired := e.IncompleteAttempts >= col.c.MaxIncompleteAttempts || !now.Before(e.Deadline)
	if expired {
		e.Record = applyDefaults(e.Record, col.c.IncompleteDefaults)
		col.l.WithFields(logrus.Fields{
			"record_id": e.Record.RecordID,
			"attempts":  e.IncompleteAttempts,
		}).Warn("Giving up on complete data, sending record with defaults")
		metricIncompleteSent.WithLabelValues(col.name).Inc()
		return true, nil
	}

	e.IncompleteAttempts++
	e.NotBefore = now.Add(col.c.RetryInterval)
	if err := col.state.Update(*e); err != nil {
		return false, err
	}
	return false, nil
}

// applyDefaults fills in the configured fallbacks for meta keys and
// components that the source never reported.
func applyDefaults(rec records.Record, d config.IncompleteDefaults) records.Record {
	for key, values := range d.Meta {
		if !rec.Meta.Has(key) {
			rec.Meta.Set(key, values)
		}
	}
	for _, cd := range d.Components {
		found := false
		for _, c := range rec.Components {
			if c.Name == cd.Name {
				found = true
				break
			}
		}
		if !found {
			rec.Components = append(rec.Components, records.Component{
				Name:   cd.Name,
				Amount: cd.Amount,
			})
		}
	}
	return rec
}

// backoff returns the delay before the next delivery attempt: the configured
// retry interval doubled per attempt, capped at the maximum.
func (col *Collector) backoff(attempts int) time.Duration {
	d := col.c.RetryInterval
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= col.c.MaxRetryInterval {
			return col.c.MaxRetryInterval
		}
	}
	if d > col.c.MaxRetryInterval {
		d = col.c.MaxRetryInterval
	}
	return d
}
