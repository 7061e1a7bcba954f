package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALU-Schumacher/AUDITOR-sub000/config"
	"github.com/ALU-Schumacher/AUDITOR-sub000/lmdbenv"
	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
	"github.com/ALU-Schumacher/AUDITOR-sub000/store"
)

func withHandler(t *testing.T, f func(h http.Handler, st *store.Store)) {
	t.Helper()
	err := lmdbenv.TestEnv(func(env *lmdb.Env) error {
		st, err := store.New(env, store.Options{})
		require.NoError(t, err)
		f(New(st, config.Default()).Handler(), st)
		return nil
	})
	require.NoError(t, err)
}

func doJSON(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const recordJSON = `{
	"record_id": "slurm-1",
	"start_time": "2024-05-01T10:00:00Z",
	"meta": {"site": ["site_a"]},
	"components": [{"name": "CPU", "amount": 8}]
}`

func TestServer_CreateStatusCodes(t *testing.T) {
	withHandler(t, func(h http.Handler, _ *store.Store) {
		w := doJSON(h, http.MethodPost, "/record", recordJSON)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doJSON(h, http.MethodPost, "/record", recordJSON)
		assert.Equal(t, http.StatusConflict, w.Code)
		var eb struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eb))
		assert.Equal(t, "conflict", eb.Kind)
		assert.Contains(t, eb.Error, "slurm-1")

		w = doJSON(h, http.MethodPost, "/record", `{"record_id": "x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(h, http.MethodPost, "/record", `not json`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServer_CloseAndGet(t *testing.T) {
	withHandler(t, func(h http.Handler, _ *store.Store) {
		require.Equal(t, http.StatusOK, doJSON(h, http.MethodPost, "/record", recordJSON).Code)

		w := doJSON(h, http.MethodPut, "/record",
			`{"record_id": "slurm-1", "stop_time": "2024-05-01T12:00:00Z"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var rec records.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		require.NotNil(t, rec.Runtime)
		assert.Equal(t, int64(7200), *rec.Runtime)

		// Close without stop_time is a validation failure, not a close
		w = doJSON(h, http.MethodPut, "/record", `{"record_id": "slurm-1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		// Unknown id
		w = doJSON(h, http.MethodPut, "/record",
			`{"record_id": "nope", "stop_time": "2024-05-01T12:00:00Z"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(h, http.MethodGet, "/record/slurm-1", "")
		require.Equal(t, http.StatusOK, w.Code)
		w = doJSON(h, http.MethodGet, "/record/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestServer_QueryEndpoint(t *testing.T) {
	withHandler(t, func(h http.Handler, st *store.Store) {
		base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		for i, id := range []string{"job-1", "job-2", "job-3"} {
			rec := records.Record{
				RecordID:  id,
				StartTime: base.Add(time.Duration(i) * time.Hour),
				Components: []records.Component{
					{Name: "CPU", Amount: int64(4 * (i + 1))},
				},
			}
			require.NoError(t, st.Create(rec))
		}

		w := doJSON(h, http.MethodGet,
			"/records?start_time[gt]=2024-05-01T10:30:00Z&sort_by[desc]=start_time&limit=1", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var recs []records.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
		require.Len(t, recs, 1)
		assert.Equal(t, "job-3", recs[0].RecordID)

		// component clause in wire grammar
		w = doJSON(h, http.MethodGet, "/records?component[CPU][gte]=8", "")
		require.Equal(t, http.StatusOK, w.Code)
		recs = nil
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
		assert.Len(t, recs, 2)

		// Empty match set is a JSON array, never null
		w = doJSON(h, http.MethodGet, "/records?meta[site][c]=[nowhere]", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

		// One bad clause fails the whole query
		w = doJSON(h, http.MethodGet, "/records?start_time[between]=x", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var eb struct {
			Kind string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eb))
		assert.Equal(t, "invalid_query", eb.Kind)
	})
}

func TestServer_BulkEndpoint(t *testing.T) {
	withHandler(t, func(h http.Handler, _ *store.Store) {
		require.Equal(t, http.StatusOK, doJSON(h, http.MethodPost, "/record", recordJSON).Code)

		w := doJSON(h, http.MethodPost, "/records", `[
			{"record_id": "slurm-1", "start_time": "2024-05-01T10:00:00Z"},
			{"record_id": "slurm-2", "start_time": "2024-05-01T10:00:00Z"},
			{"record_id": "slurm-3"}
		]`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var results []records.BulkResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
		require.Len(t, results, 3)
		assert.Equal(t, records.BulkAlreadyExists, results[0].Outcome)
		assert.Equal(t, records.BulkCreated, results[1].Outcome)
		assert.Equal(t, records.BulkRejected, results[2].Outcome)
		assert.NotEmpty(t, results[2].Error)
	})
}

func TestServer_AuxiliaryEndpoints(t *testing.T) {
	withHandler(t, func(h http.Handler, _ *store.Store) {
		assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/health_check", "").Code)
		assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/metrics", "").Code)

		w := doJSON(h, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Auditor")

		assert.Equal(t, http.StatusNotFound, doJSON(h, http.MethodGet, "/nope", "").Code)
		assert.Equal(t, http.StatusMethodNotAllowed, doJSON(h, http.MethodDelete, "/record", `{}`).Code)
	})
}
