// Package store implements the persistent record store on top of LMDB.
//
// The record_id is the sole correctness anchor: uniqueness is enforced by an
// LMDB put with NoOverwrite inside a write transaction, so concurrent creates
// for the same id resolve deterministically without application-level locks.
package store

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

const recordsDBI = "records"

// Options configure store behavior.
type Options struct {
	// Lenient downgrades a duplicate record_id on create from a Conflict
	// error to a no-op success (first write wins). Collectors redeliver
	// after crashes, so a duplicate create is an expected event.
	Lenient bool
}

type Store struct {
	env *lmdb.Env
	dbi lmdb.DBI
	opt Options
	l   logrus.FieldLogger

	// now is replaced in tests to control updated_at
	now func() time.Time
}

// New opens the records database in the given env.
func New(env *lmdb.Env, opt Options) (*Store, error) {
	s := &Store{
		env: env,
		opt: opt,
		l:   logrus.WithField("component", "store"),
		now: func() time.Time { return time.Now().UTC() },
	}
	err := env.Update(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI(recordsDBI, lmdb.Create)
		if err != nil {
			return err
		}
		s.dbi = dbi
		return nil
	})
	if err != nil {
		return nil, &records.PersistenceError{Op: "open records dbi", Err: err}
	}
	return s, nil
}

// Create inserts a new record, open or closed. The derived runtime and
// updated_at are assigned here; client-provided values are discarded.
// A duplicate record_id returns a Conflict error, or a no-op success in
// lenient mode. The first write always wins.
func (s *Store) Create(rec records.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Normalize()
	rec.UpdatedAt = s.now()

	val, err := json.Marshal(rec)
	if err != nil {
		return &records.PersistenceError{Op: "encode record", Err: err}
	}

	err = s.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(s.dbi, []byte(rec.RecordID), val, lmdb.NoOverwrite)
	})
	if lmdb.IsErrno(err, lmdb.KeyExist) {
		metricConflicts.Inc()
		if s.opt.Lenient {
			s.l.WithField("record_id", rec.RecordID).Debug("Duplicate create ignored (lenient mode)")
			return nil
		}
		return &records.ConflictError{RecordID: rec.RecordID}
	}
	if err != nil {
		return &records.PersistenceError{Op: "put record", Err: err}
	}
	metricCreates.Inc()
	return nil
}

// CloseRecord sets the stop_time of an existing record and refreshes the
// derived runtime and updated_at. Re-closing with an identical stop_time is
// an idempotent no-op; a different stop_time overwrites (last-write-wins).
func (s *Store) CloseRecord(id string, stop time.Time) (records.Record, error) {
	var rec records.Record
	stop = stop.UTC()

	err := s.env.Update(func(txn *lmdb.Txn) error {
		val, err := txn.Get(s.dbi, []byte(id))
		if lmdb.IsNotFound(err) {
			metricNotFound.Inc()
			return &records.NotFoundError{RecordID: id}
		}
		if err != nil {
			return &records.PersistenceError{Op: "get record", Err: err}
		}
		if err := json.Unmarshal(val, &rec); err != nil {
			return &records.PersistenceError{Op: "decode record", Err: err}
		}

		if rec.StopTime != nil && rec.StopTime.Equal(stop) {
			return nil // idempotent re-close, no observable change
		}
		if stop.Before(rec.StartTime) {
			return &records.ValidationError{Reason: "stop_time must not be before start_time"}
		}

		rec = rec.WithStopTime(stop)
		rec.UpdatedAt = s.now()
		out, err := json.Marshal(rec)
		if err != nil {
			return &records.PersistenceError{Op: "encode record", Err: err}
		}
		if err := txn.Put(s.dbi, []byte(id), out, 0); err != nil {
			return &records.PersistenceError{Op: "put record", Err: err}
		}
		metricCloses.Inc()
		return nil
	})
	if err != nil {
		return records.Record{}, err
	}
	return rec, nil
}

// Get returns the record for the given id, or a NotFound error.
func (s *Store) Get(id string) (records.Record, error) {
	var rec records.Record
	err := s.env.View(func(txn *lmdb.Txn) error {
		val, err := txn.Get(s.dbi, []byte(id))
		if lmdb.IsNotFound(err) {
			metricNotFound.Inc()
			return &records.NotFoundError{RecordID: id}
		}
		if err != nil {
			return &records.PersistenceError{Op: "get record", Err: err}
		}
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return records.Record{}, err
	}
	return rec, nil
}

// NewReadOnly opens an existing records database without write access, for
// tools like dump that must work on an env opened with lmdb.Readonly.
func NewReadOnly(env *lmdb.Env) (*Store, error) {
	s := &Store{
		env: env,
		l:   logrus.WithField("component", "store"),
		now: func() time.Time { return time.Now().UTC() },
	}
	err := env.View(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI(recordsDBI, 0)
		if err != nil {
			return err
		}
		s.dbi = dbi
		return nil
	})
	if err != nil {
		return nil, &records.PersistenceError{Op: "open records dbi", Err: err}
	}
	return s, nil
}

// BulkResult is the per-element result of a BulkCreate, with the error kept
// as a real error so callers can branch on the taxonomy. The wire form is
// records.BulkResult.
type BulkResult struct {
	RecordID string
	Outcome  records.BulkOutcome
	Err      error
}

// BulkCreate applies Create to each record independently: one failing element
// never rolls back the others, and every element gets its own outcome.
// A duplicate reports AlreadyExists regardless of leniency; leniency only
// decides whether a single-record create surfaces it as an error, while the
// bulk outcome is always explicit.
func (s *Store) BulkCreate(recs []records.Record) []BulkResult {
	results := make([]BulkResult, len(recs))
	now := s.now()

	err := s.env.Update(func(txn *lmdb.Txn) error {
		for i, rec := range recs {
			results[i].RecordID = rec.RecordID
			if err := rec.Validate(); err != nil {
				results[i].Outcome = records.BulkRejected
				results[i].Err = err
				continue
			}
			rec.Normalize()
			rec.UpdatedAt = now

			val, err := json.Marshal(rec)
			if err != nil {
				results[i].Outcome = records.BulkRejected
				results[i].Err = &records.PersistenceError{Op: "encode record", Err: err}
				continue
			}
			err = txn.Put(s.dbi, []byte(rec.RecordID), val, lmdb.NoOverwrite)
			switch {
			case lmdb.IsErrno(err, lmdb.KeyExist):
				metricConflicts.Inc()
				results[i].Outcome = records.BulkAlreadyExists
				if !s.opt.Lenient {
					results[i].Err = &records.ConflictError{RecordID: rec.RecordID}
				}
			case err != nil:
				return err // transaction-level failure
			default:
				metricCreates.Inc()
				results[i].Outcome = records.BulkCreated
			}
		}
		return nil
	})
	if err != nil {
		perr := &records.PersistenceError{Op: "bulk create", Err: err}
		for i := range results {
			results[i].Outcome = records.BulkRejected
			results[i].Err = perr
		}
	}
	return results
}

// Scan iterates over all records in record_id order. The callback returns
// false to stop early. This is the store-defined default order of the query
// engine.
func (s *Store) Scan(fn func(rec records.Record) (bool, error)) error {
	return s.env.View(func(txn *lmdb.Txn) error {
		cur, err := txn.OpenCursor(s.dbi)
		if err != nil {
			return &records.PersistenceError{Op: "open cursor", Err: err}
		}
		defer cur.Close()
		for {
			_, val, err := cur.Get(nil, nil, lmdb.Next)
			if lmdb.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return &records.PersistenceError{Op: "scan records", Err: err}
			}
			var rec records.Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return &records.PersistenceError{Op: "decode record", Err: errors.Wrap(err, "scan")}
			}
			cont, err := fn(rec)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	})
}

// Count returns the number of stored records.
func (s *Store) Count() (uint64, error) {
	var n uint64
	err := s.env.View(func(txn *lmdb.Txn) error {
		stat, err := txn.Stat(s.dbi)
		if err != nil {
			return err
		}
		n = stat.Entries
		return nil
	})
	if err != nil {
		return 0, &records.PersistenceError{Op: "stat records", Err: err}
	}
	return n, nil
}

// Dump writes all records as JSON lines in record_id order.
func (s *Store) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	err := s.Scan(func(rec records.Record) (bool, error) {
		return true, enc.Encode(rec)
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}
