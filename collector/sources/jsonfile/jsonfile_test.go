package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

func TestSource_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	content := `{"job_id": "41", "start_time": "2024-05-01T10:00:00Z", "meta": {"site": ["site_a"], "user": ["alice"]}, "components": [{"name": "CPU", "amount": 8}]}
{"job_id": "42", "start_time": "2024-05-01T11:00:00Z", "complete": false}
this line is not json
{"start_time": "2024-05-01T11:00:00Z"}
{"job_id": "43", "start_time": "2024-05-01T10:00:00Z", "stop_time": "2024-05-01T12:00:00Z"}
{"job_id": "44", "start_`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := New(path)
	items, cursor, err := src.Fetch(context.Background(), nil)
	require.NoError(t, err)

	// Malformed and id-less lines are skipped, the partial trailing line
	// is left for the next pass.
	require.Len(t, items, 3)
	assert.Equal(t, "41", items[0].JobID)
	assert.True(t, items[0].Complete)
	assert.Equal(t, records.Meta{
		{Key: "site", Values: []string{"site_a"}},
		{Key: "user", Values: []string{"alice"}},
	}, items[0].Record.Meta, "meta key order is preserved")

	assert.Equal(t, "42", items[1].JobID)
	assert.False(t, items[1].Complete)

	assert.Equal(t, "43", items[2].JobID)
	require.NotNil(t, items[2].Record.StopTime)

	// Complete the partial line and append a new one; only the new data is
	// returned on the next fetch.
	content += "time\": \"2024-05-01T13:00:00Z\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	items, cursor2, err := src.Fetch(context.Background(), cursor)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "44", items[0].JobID)

	// Nothing new
	items, _, err = src.Fetch(context.Background(), cursor2)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSource_MissingFileIsUpstreamError(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "nope.json"))
	_, _, err := src.Fetch(context.Background(), nil)
	assert.True(t, records.IsUpstream(err), "got %v", err)
}

func TestSource_BadCursorRestartsFromZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"job_id": "1", "start_time": "2024-05-01T10:00:00Z"}`+"\n"), 0o644))

	src := New(path)
	items, _, err := src.Fetch(context.Background(), []byte("garbage"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].JobID)
}
