// Package client is a typed HTTP client for the record store API. It maps
// error responses back to the records error taxonomy, so a collector can
// branch on Conflict vs UpstreamError without inspecting status codes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ALU-Schumacher/AUDITOR-sub000/query"
	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	base string
	hc   *http.Client
}

// New returns a client for the record store at baseURL. A zero timeout
// falls back to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

// Create submits a single record. A duplicate record_id yields a Conflict
// error unless the server runs in lenient mode.
func (c *Client) Create(ctx context.Context, rec records.Record) error {
	return c.do(ctx, http.MethodPost, "/record", rec, nil)
}

// BulkCreate submits a batch of records and returns the per-element outcomes
// in input order.
func (c *Client) BulkCreate(ctx context.Context, recs []records.Record) ([]records.BulkResult, error) {
	var results []records.BulkResult
	if err := c.do(ctx, http.MethodPost, "/records", recs, &results); err != nil {
		return nil, err
	}
	if len(results) != len(recs) {
		return nil, &records.UpstreamError{
			Op:  "bulk create",
			Err: fmt.Errorf("got %d results for %d records", len(results), len(recs)),
		}
	}
	return results, nil
}

// CloseRecord sets the stop_time of an existing record and returns the
// updated record with its derived runtime.
func (c *Client) CloseRecord(ctx context.Context, id string, stop time.Time) (records.Record, error) {
	req := records.Record{RecordID: id}
	req.StopTime = &stop
	var rec records.Record
	err := c.do(ctx, http.MethodPut, "/record", req, &rec)
	return rec, err
}

// Get fetches one record by id.
func (c *Client) Get(ctx context.Context, id string) (records.Record, error) {
	var rec records.Record
	err := c.do(ctx, http.MethodGet, "/record/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// Query runs a typed query against the store and returns the matching
// records in the requested order.
func (c *Client) Query(ctx context.Context, q *query.Query) ([]records.Record, error) {
	path := "/records"
	if enc := q.Encode().Encode(); enc != "" {
		path += "?" + enc
	}
	var recs []records.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Health checks store liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health_check", nil, nil)
}

// errorBody mirrors the server error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Network and timeout failures are transient from the caller's
		// point of view, unlike a typed rejection from the store.
		return &records.UpstreamError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &records.UpstreamError{Op: "decode response", Err: err}
		}
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Kind == "" {
		if resp.StatusCode >= 500 {
			return &records.UpstreamError{
				Op:  "request",
				Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	switch eb.Kind {
	case "validation":
		return &records.ValidationError{Reason: strings.TrimPrefix(eb.Error, "invalid record: ")}
	case "invalid_query":
		return &records.InvalidQueryError{Reason: strings.TrimPrefix(eb.Error, "invalid query: ")}
	case "conflict":
		return &records.ConflictError{RecordID: conflictID(eb.Error)}
	case "not_found":
		return &records.NotFoundError{RecordID: conflictID(eb.Error)}
	default:
		// Persistence failures on the server side are retryable from here.
		return &records.UpstreamError{Op: "request", Err: errors.New(eb.Error)}
	}
}

// conflictID extracts the quoted record_id from a conflict or not-found
// message. Best effort; an empty id still satisfies the taxonomy.
func conflictID(msg string) string {
	i := strings.Index(msg, `"`)
	if i < 0 {
		return ""
	}
	j := strings.Index(msg[i+1:], `"`)
	if j < 0 {
		return ""
	}
	return msg[i+1 : i+1+j]
}
