// Package server exposes the record store as an HTTP API, together with the
// prometheus metrics, the health endpoint and a small status page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"

	"github.com/ALU-Schumacher/AUDITOR-sub000/config"
	"github.com/ALU-Schumacher/AUDITOR-sub000/query"
	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
	"github.com/ALU-Schumacher/AUDITOR-sub000/status"
	"github.com/ALU-Schumacher/AUDITOR-sub000/store"
)

type Server struct {
	st   *store.Store
	c    config.Config
	l    logrus.FieldLogger
	addr string
}

func New(st *store.Store, c config.Config) *Server {
	return &Server{
		st:   st,
		c:    c,
		l:    logrus.WithField("component", "server"),
		addr: c.Server.Address,
	}
}

// Handler returns the full API handler, also used directly by tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/record", s.handleRecord)
	mux.HandleFunc("/record/", s.handleGetRecord)
	mux.HandleFunc("/records", s.handleRecords)
	mux.Handle("/health_check", healthz.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", status.NewPage(s.c))
	return s.logRequests(mux)
}

// Run serves the API until the context is canceled, then shuts down
// gracefully so in-flight ingestion requests can finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.l.WithField("address", s.addr).Info("Record store API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return context.Canceled
	}
}

// handleRecord handles POST /record (create) and PUT /record (close).
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var rec records.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeError(w, &records.ValidationError{Reason: fmt.Sprintf("malformed record body: %v", err)})
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := s.st.Create(rec); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"record_id": rec.RecordID})

	case http.MethodPut:
		if rec.StopTime == nil {
			s.writeError(w, &records.ValidationError{Reason: "close requires a stop_time"})
			return
		}
		closed, err := s.st.CloseRecord(rec.RecordID, *rec.StopTime)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, closed)

	default:
		w.Header().Set("Allow", "POST, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGetRecord handles GET /record/{id}.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/record/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	rec, err := s.st.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleRecords handles POST /records (bulk create) and GET /records (query).
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var recs []records.Record
		if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
			s.writeError(w, &records.ValidationError{Reason: fmt.Sprintf("malformed record array: %v", err)})
			return
		}
		out := lo.Map(s.st.BulkCreate(recs), func(res store.BulkResult, _ int) records.BulkResult {
			wire := records.BulkResult{RecordID: res.RecordID, Outcome: res.Outcome}
			if res.Err != nil {
				wire.Error = res.Err.Error()
			}
			return wire
		})
		s.writeJSON(w, http.StatusOK, out)

	case http.MethodGet:
		q, err := query.Parse(r.URL.Query())
		if err != nil {
			s.writeError(w, err)
			return
		}
		recs, err := q.Run(s.st)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if recs == nil {
			recs = []records.Record{}
		}
		s.writeJSON(w, http.StatusOK, recs)

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// errorBody is the wire form of a typed failure. The kind field lets clients
// reconstruct the error taxonomy without parsing messages.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	var kind string
	switch {
	case records.IsValidation(err):
		status, kind = http.StatusBadRequest, "validation"
	case records.IsInvalidQuery(err):
		status, kind = http.StatusBadRequest, "invalid_query"
	case records.IsConflict(err):
		status, kind = http.StatusConflict, "conflict"
	case records.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	default:
		status, kind = http.StatusInternalServerError, "persistence"
		s.l.WithError(err).Error("Internal error")
	}
	metricErrors.WithLabelValues(kind).Inc()
	s.writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, context.Canceled) {
		s.l.WithError(err).Debug("Response write failed")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		next.ServeHTTP(w, r)
		metricRequests.WithLabelValues(r.Method, r.URL.Path).Inc()
		s.l.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(t0).Round(time.Millisecond),
		}).Debug("Request handled")
	})
}
