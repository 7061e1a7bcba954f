package query

import (
	"sort"
	"time"

	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

// Runner is the scan surface the engine needs from the record store.
type Runner interface {
	Scan(fn func(rec records.Record) (bool, error)) error
	Get(id string) (records.Record, error)
}

// Run executes the query and returns the matching records in the requested
// order. Without a sort the store order (record_id) applies. With a limit the
// engine never holds more than limit records in memory; a sorted query keeps
// a bounded buffer and evicts the worst entry as it scans.
func (q *Query) Run(st Runner) ([]records.Record, error) {
	// A record_id equality clause makes the query a single-record lookup.
	if id, ok := q.recordIDLookup(); ok {
		rec, err := st.Get(id)
		if records.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !q.matches(rec) {
			return nil, nil
		}
		return []records.Record{rec}, nil
	}

	if q.sortBy == "" {
		return q.runUnsorted(st)
	}
	return q.runSorted(st)
}

func (q *Query) runUnsorted(st Runner) ([]records.Record, error) {
	var out []records.Record
	err := st.Scan(func(rec records.Record) (bool, error) {
		if !q.matches(rec) {
			return true, nil
		}
		out = append(out, rec)
		return q.limit == 0 || len(out) < q.limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Query) runSorted(st Runner) ([]records.Record, error) {
	less := q.lessFunc()
	var out []records.Record
	err := st.Scan(func(rec records.Record) (bool, error) {
		if !q.matches(rec) {
			return true, nil
		}
		// Insert in sorted position, bounded by the limit.
		i := sort.Search(len(out), func(i int) bool { return less(rec, out[i]) })
		if q.limit > 0 && len(out) == q.limit {
			if i == len(out) {
				return true, nil // worse than everything kept
			}
			out = out[:len(out)-1]
		}
		out = append(out, records.Record{})
		copy(out[i+1:], out[i:])
		out[i] = rec
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Query) recordIDLookup() (string, bool) {
	for _, c := range q.clauses {
		if rc, ok := c.(recordIDClause); ok {
			return rc.ID, true
		}
	}
	return "", false
}

// matches evaluates the conjunction of all clauses.
func (q *Query) matches(rec records.Record) bool {
	for _, c := range q.clauses {
		if !c.matches(rec) {
			return false
		}
	}
	return true
}

func (c recordIDClause) matches(rec records.Record) bool {
	return rec.RecordID == c.ID
}

func (c timeClause) matches(rec records.Record) bool {
	var t time.Time
	switch c.Field {
	case SortStartTime:
		t = rec.StartTime
	case SortStopTime:
		if rec.StopTime == nil {
			return false // open records never match stop_time ranges
		}
		t = *rec.StopTime
	}
	return compareTime(t, c.Op, c.Value)
}

func (c runtimeClause) matches(rec records.Record) bool {
	if rec.Runtime == nil {
		return false
	}
	return compareInt(*rec.Runtime, c.Op, c.Seconds)
}

// matches implements list membership against the multi-valued meta entry:
// contains is satisfied if any of the clause values is present in the list;
// does-not-contain if none is. A record that lacks the key entirely satisfies
// does-not-contain.
func (c metaClause) matches(rec records.Record) bool {
	have := rec.Meta.Get(c.Key)
	found := false
outer:
	for _, want := range c.Values {
		for _, v := range have {
			if v == want {
				found = true
				break outer
			}
		}
	}
	return found != c.Negate
}

func (c componentClause) matches(rec records.Record) bool {
	// Records lacking the component never match; with duplicate component
	// names, any matching amount satisfies the clause.
	for _, amount := range rec.ComponentAmounts(c.Name) {
		if compareInt(amount, c.Op, c.Amount) {
			return true
		}
	}
	return false
}

func compareInt(a int64, op Operator, b int64) bool {
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	case OpEquals:
		return a == b
	}
	return false
}

func compareTime(a time.Time, op Operator, b time.Time) bool {
	switch op {
	case OpGT:
		return a.After(b)
	case OpGTE:
		return !a.Before(b)
	case OpLT:
		return a.Before(b)
	case OpLTE:
		return !a.After(b)
	case OpEquals:
		return a.Equal(b)
	}
	return false
}

// lessFunc builds the comparison for the requested sort. Records missing the
// sort field (open records for stop_time and runtime) always sort last, and
// ties fall back to record_id so the order is deterministic.
func (q *Query) lessFunc() func(a, b records.Record) bool {
	desc := q.sortDir == Desc
	cmp := func(a, b records.Record) int {
		switch q.sortBy {
		case SortStartTime:
			return compareTimes(a.StartTime, b.StartTime)
		case SortStopTime:
			return comparePtrTimes(a.StopTime, b.StopTime, desc)
		case SortRuntime:
			return comparePtrInts(a.Runtime, b.Runtime, desc)
		default: // SortRecordID
			return compareStrings(a.RecordID, b.RecordID)
		}
	}
	return func(a, b records.Record) bool {
		c := cmp(a, b)
		if c == 0 {
			return a.RecordID < b.RecordID
		}
		if desc {
			return c > 0
		}
		return c < 0
	}
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// comparePtrTimes sorts nil values last regardless of direction.
func comparePtrTimes(a, b *time.Time, desc bool) int {
	if a == nil || b == nil {
		return compareMissing(a == nil, b == nil, desc)
	}
	return compareTimes(*a, *b)
}

func comparePtrInts(a, b *int64, desc bool) int {
	if a == nil || b == nil {
		return compareMissing(a == nil, b == nil, desc)
	}
	switch {
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func compareMissing(aMissing, bMissing, desc bool) int {
	if aMissing == bMissing {
		return 0
	}
	// The missing one goes last; invert for desc because the caller flips
	// the sign again.
	last := 1
	if desc {
		last = -1
	}
	if aMissing {
		return last
	}
	return -last
}
