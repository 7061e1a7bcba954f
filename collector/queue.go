package collector

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/sirupsen/logrus"

	"github.com/ALU-Schumacher/AUDITOR-sub000/lmdbenv"
	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

const (
	queueDBI  = "queue"
	cursorDBI = "cursor"

	cursorKey = "cursor"
)

// Entry is one queued delivery. The queue key is a monotonically increasing
// sequence number, so iteration order is submission order.
type Entry struct {
	Seq uint64 `json:"-"`

	Record records.Record `json:"record"`

	// Attempts counts failed delivery attempts and drives the delivery
	// backoff exponent.
	Attempts int `json:"attempts"`

	// IncompleteAttempts counts incomplete-data holdback retries, kept
	// separate so a long holdback does not inflate the delivery backoff.
	IncompleteAttempts int `json:"incomplete_attempts,omitempty"`

	// NotBefore delays the next attempt for this entry, used for the
	// incomplete-data holdback. Delivery backoff after an unreachable store
	// stalls the whole drain instead, to keep submission order.
	NotBefore time.Time `json:"not_before,omitempty"`

	// Deadline is the point at which an incomplete entry is sent anyway,
	// with the configured defaults applied.
	Deadline time.Time `json:"deadline,omitempty"`

	// Complete marks whether the source reported all metrics for this
	// record. Incomplete entries are held back and re-enriched.
	Complete bool `json:"complete"`
}

// State is the durable per-collector state: the delivery queue and the
// collection cursor, stored in one LMDB environment so that queue appends and
// cursor advances commit atomically. Losing this database means re-collecting
// everything the source still reports (deduplicated by the store) and losing
// queued-but-unsent entries.
type State struct {
	env    *lmdb.Env
	queue  lmdb.DBI
	cursor lmdb.DBI
	l      logrus.FieldLogger
}

// OpenState opens or creates the collector state database at path. An
// unreadable database is a PersistenceError; the caller must treat it as
// fatal instead of starting with an implicitly empty queue.
func OpenState(path string, opt lmdbenv.Options) (*State, error) {
	opt.EnvFlags |= lmdb.Create
	env, err := lmdbenv.NewWithOptions(path, opt)
	if err != nil {
		return nil, &records.PersistenceError{Op: "open state env", Err: err}
	}
	s := &State{
		env: env,
		l:   logrus.WithField("component", "collector-state"),
	}
	err = env.Update(func(txn *lmdb.Txn) error {
		if s.queue, err = txn.OpenDBI(queueDBI, lmdb.Create); err != nil {
			return err
		}
		if s.cursor, err = txn.OpenDBI(cursorDBI, lmdb.Create); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		env.Close()
		return nil, &records.PersistenceError{Op: "open state dbis", Err: err}
	}
	return s, nil
}

func (s *State) Close() {
	s.env.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Append adds entries to the tail of the queue and advances the collection
// cursor in the same transaction: an event is either both queued and
// acknowledged, or neither. A crash between collect and send therefore never
// loses an observed event.
func (s *State) Append(entries []Entry, cursor []byte) error {
	err := s.env.Update(func(txn *lmdb.Txn) error {
		next, err := s.nextSeq(txn)
		if err != nil {
			return err
		}
		for i := range entries {
			entries[i].Seq = next
			val, err := json.Marshal(entries[i])
			if err != nil {
				return err
			}
			if err := txn.Put(s.queue, seqKey(next), val, 0); err != nil {
				return err
			}
			next++
		}
		if cursor != nil {
			return txn.Put(s.cursor, []byte(cursorKey), cursor, 0)
		}
		return nil
	})
	if err != nil {
		return &records.PersistenceError{Op: "append queue entries", Err: err}
	}
	return nil
}

func (s *State) nextSeq(txn *lmdb.Txn) (uint64, error) {
	cur, err := txn.OpenCursor(s.queue)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	key, _, err := cur.Get(nil, nil, lmdb.Last)
	if lmdb.IsNotFound(err) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(key) + 1, nil
}

// Next returns up to max entries in submission order, skipping entries whose
// NotBefore lies in the future.
func (s *State) Next(now time.Time, max int) ([]Entry, error) {
	var out []Entry
	err := s.env.View(func(txn *lmdb.Txn) error {
		cur, err := txn.OpenCursor(s.queue)
		if err != nil {
			return err
		}
		defer cur.Close()
		for len(out) < max {
			key, val, err := cur.Get(nil, nil, lmdb.Next)
			if lmdb.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			e.Seq = binary.BigEndian.Uint64(key)
			if e.NotBefore.After(now) {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, &records.PersistenceError{Op: "read queue", Err: err}
	}
	return out, nil
}

// Update rewrites a queued entry, typically to bump attempts or NotBefore.
func (s *State) Update(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return &records.PersistenceError{Op: "encode queue entry", Err: err}
	}
	err = s.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(s.queue, seqKey(e.Seq), val, 0)
	})
	if err != nil {
		return &records.PersistenceError{Op: "update queue entry", Err: err}
	}
	return nil
}

// Delete removes a delivered (or permanently rejected) entry.
func (s *State) Delete(seq uint64) error {
	err := s.env.Update(func(txn *lmdb.Txn) error {
		err := txn.Del(s.queue, seqKey(seq), nil)
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return &records.PersistenceError{Op: "delete queue entry", Err: err}
	}
	return nil
}

// Len returns the number of queued entries.
func (s *State) Len() (uint64, error) {
	var n uint64
	err := s.env.View(func(txn *lmdb.Txn) error {
		stat, err := txn.Stat(s.queue)
		if err != nil {
			return err
		}
		n = stat.Entries
		return nil
	})
	if err != nil {
		return 0, &records.PersistenceError{Op: "stat queue", Err: err}
	}
	return n, nil
}

// Cursor returns the last acknowledged collection cursor, or nil if nothing
// was collected yet. The cursor is opaque to the state layer; the source
// defines its encoding.
func (s *State) Cursor() ([]byte, error) {
	var out []byte
	err := s.env.View(func(txn *lmdb.Txn) error {
		val, err := txn.Get(s.cursor, []byte(cursorKey))
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, &records.PersistenceError{Op: "read cursor", Err: err}
	}
	return out, nil
}
