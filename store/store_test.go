package store

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALU-Schumacher/AUDITOR-sub000/lmdbenv"
	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

func withStore(t *testing.T, opt Options, f func(s *Store)) {
	t.Helper()
	err := lmdbenv.TestEnv(func(env *lmdb.Env) error {
		s, err := New(env, opt)
		require.NoError(t, err)
		f(s)
		return nil
	})
	require.NoError(t, err)
}

func testRecord(id string) records.Record {
	return records.Record{
		RecordID:  id,
		StartTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Meta:      records.Meta{{Key: "site", Values: []string{"site_a"}}},
		Components: []records.Component{
			{Name: "CPU", Amount: 8, Scores: []records.Score{{Name: "hepspec06", Value: 1.1}}},
		},
	}
}

func TestStore_CreateGet(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		rec := testRecord("slurm-1")
		require.NoError(t, s.Create(rec))

		got, err := s.Get("slurm-1")
		require.NoError(t, err)
		assert.Equal(t, "slurm-1", got.RecordID)
		assert.Nil(t, got.Runtime, "open record has no runtime")
		assert.Nil(t, got.StopTime)
		assert.False(t, got.UpdatedAt.IsZero(), "updated_at is server-assigned")
		assert.Equal(t, rec.Meta, got.Meta)

		_, err = s.Get("slurm-2")
		assert.True(t, records.IsNotFound(err))
	})
}

func TestStore_CreateDerivesRuntime(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		rec := testRecord("slurm-1")
		rec = rec.WithStopTime(rec.StartTime.Add(90 * time.Second))
		bogus := int64(1)
		rec.Runtime = &bogus // must be discarded

		require.NoError(t, s.Create(rec))
		got, err := s.Get("slurm-1")
		require.NoError(t, err)
		require.NotNil(t, got.Runtime)
		assert.Equal(t, int64(90), *got.Runtime)
	})
}

func TestStore_DuplicateCreate(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		withStore(t, Options{}, func(s *Store) {
			require.NoError(t, s.Create(testRecord("slurm-1")))
			err := s.Create(testRecord("slurm-1"))
			assert.True(t, records.IsConflict(err))
		})
	})

	t.Run("lenient-first-write-wins", func(t *testing.T) {
		withStore(t, Options{Lenient: true}, func(s *Store) {
			first := testRecord("slurm-1")
			require.NoError(t, s.Create(first))

			second := testRecord("slurm-1")
			second.Meta.Set("site", []string{"site_b"})
			require.NoError(t, s.Create(second), "lenient duplicate is a no-op success")

			got, err := s.Get("slurm-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"site_a"}, got.Meta.Get("site"))
		})
	})
}

// Concurrent creates for one record_id must resolve deterministically:
// exactly one writer wins, every other one observes a Conflict. This rests
// entirely on the NoOverwrite put inside a single write transaction, so any
// restructuring of Create towards a read-then-put pattern must keep this
// test green.
func TestStore_ConcurrentCreate(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		const writers = 8
		errs := make([]error, writers)

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Create(testRecord("slurm-1"))
			}(i)
		}
		wg.Wait()

		var created, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				created++
			case records.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, created)
		assert.Equal(t, writers-1, conflicts)

		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})
}

func TestStore_CreateInvalid(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		err := s.Create(records.Record{RecordID: "slurm-1"})
		assert.True(t, records.IsValidation(err))

		rec := testRecord("slurm-1")
		stop := rec.StartTime.Add(-time.Second)
		rec.StopTime = &stop
		err = s.Create(rec)
		assert.True(t, records.IsValidation(err))
	})
}

func TestStore_CloseRecord(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		rec := testRecord("slurm-42")
		require.NoError(t, s.Create(rec))

		stop := rec.StartTime.Add(2 * time.Hour)
		closed, err := s.CloseRecord("slurm-42", stop)
		require.NoError(t, err)
		require.NotNil(t, closed.Runtime)
		assert.Equal(t, int64(7200), *closed.Runtime)

		_, err = s.CloseRecord("slurm-unknown", stop)
		assert.True(t, records.IsNotFound(err))

		_, err = s.CloseRecord("slurm-42", rec.StartTime.Add(-time.Hour))
		assert.True(t, records.IsValidation(err))
	})
}

func TestStore_CloseIdempotent(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return fixed }

		rec := testRecord("slurm-42")
		require.NoError(t, s.Create(rec))
		stop := rec.StartTime.Add(time.Hour)

		_, err := s.CloseRecord("slurm-42", stop)
		require.NoError(t, err)
		first, err := s.Get("slurm-42")
		require.NoError(t, err)

		// Same stop_time again: no observable state change
		s.now = func() time.Time { return fixed.Add(time.Hour) }
		_, err = s.CloseRecord("slurm-42", stop)
		require.NoError(t, err)
		second, err := s.Get("slurm-42")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// Different stop_time overwrites (last-write-wins) and refreshes
		// updated_at
		newStop := stop.Add(time.Minute)
		_, err = s.CloseRecord("slurm-42", newStop)
		require.NoError(t, err)
		third, err := s.Get("slurm-42")
		require.NoError(t, err)
		assert.True(t, third.StopTime.Equal(newStop))
		assert.True(t, third.UpdatedAt.After(first.UpdatedAt))
	})
}

func TestStore_BulkCreate(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		require.NoError(t, s.Create(testRecord("slurm-1")))

		results := s.BulkCreate([]records.Record{
			testRecord("slurm-1"), // duplicate
			testRecord("slurm-2"), // fine
			{RecordID: "slurm-3"}, // missing start_time
			testRecord("slurm-4"), // fine, must not be rolled back
		})
		require.Len(t, results, 4)
		assert.Equal(t, records.BulkAlreadyExists, results[0].Outcome)
		assert.True(t, records.IsConflict(results[0].Err))
		assert.Equal(t, records.BulkCreated, results[1].Outcome)
		assert.Equal(t, records.BulkRejected, results[2].Outcome)
		assert.True(t, records.IsValidation(results[2].Err))
		assert.Equal(t, records.BulkCreated, results[3].Outcome)

		// Partial failure did not roll back the independent elements
		_, err := s.Get("slurm-2")
		assert.NoError(t, err)
		_, err = s.Get("slurm-4")
		assert.NoError(t, err)

		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, uint64(3), n)
	})
}

func TestStore_BulkCreateLenient(t *testing.T) {
	withStore(t, Options{Lenient: true}, func(s *Store) {
		require.NoError(t, s.Create(testRecord("slurm-1")))
		results := s.BulkCreate([]records.Record{testRecord("slurm-1")})
		require.Len(t, results, 1)
		// The outcome stays explicit even in lenient mode; only the error
		// is suppressed.
		assert.Equal(t, records.BulkAlreadyExists, results[0].Outcome)
		assert.NoError(t, results[0].Err)
	})
}

func TestStore_ScanOrderAndStop(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		for _, id := range []string{"c", "a", "b"} {
			require.NoError(t, s.Create(testRecord(id)))
		}
		var seen []string
		err := s.Scan(func(rec records.Record) (bool, error) {
			seen = append(seen, rec.RecordID)
			return len(seen) < 2, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, seen, "scan is in record_id order and stops early")
	})
}

func TestStore_Dump(t *testing.T) {
	withStore(t, Options{}, func(s *Store) {
		require.NoError(t, s.Create(testRecord("slurm-1")))
		require.NoError(t, s.Create(testRecord("slurm-2")))

		var buf bytes.Buffer
		require.NoError(t, s.Dump(&buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"record_id":"slurm-1"`)
		assert.Contains(t, lines[1], `"record_id":"slurm-2"`)
	})
}
