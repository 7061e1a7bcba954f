package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  address: ":8000"
  path: /var/lib/auditor/records
  lenient_duplicates: true
collectors:
  slurm:
    source:
      type: jsonfile
      path: ${JOBFILE}
    record_prefix: slurm
    state_path: /var/lib/auditor/slurm-state
    store_url: http://localhost:8000
    send_batch_size: 50
`

func TestLoadYAML(t *testing.T) {
	t.Setenv("JOBFILE", "/var/log/jobs.json")

	c := Default()
	require.NoError(t, c.LoadYAML([]byte(testYAML), true))
	require.NoError(t, c.Check())

	assert.True(t, c.Server.LenientDuplicates)
	col, ok := c.Collectors["slurm"]
	require.True(t, ok)
	assert.Equal(t, "/var/log/jobs.json", col.Source.Path, "env vars are expanded")

	col = col.WithDefaults()
	assert.Equal(t, 50, col.SendBatchSize, "explicit value kept")
	assert.Equal(t, DefaultCollectInterval, col.CollectInterval)
	assert.Equal(t, DefaultMaxRetry, col.MaxRetryInterval)
	assert.Equal(t, DefaultIncompleteGrace, col.IncompleteGrace)
}

func TestLoadYAMLStrict(t *testing.T) {
	c := Default()
	err := c.LoadYAML([]byte("server:\n  adress: \":8000\"\n"), false)
	assert.Error(t, err, "unknown keys are rejected")
}

func TestCheck(t *testing.T) {
	base := func() Config {
		c := Default()
		require.NoError(t, c.LoadYAML([]byte(testYAML), false))
		return c
	}

	c := base()
	c.Server.Address = "8000" // missing colon
	assert.Error(t, c.Check())

	c = base()
	c.Server.Path = ""
	assert.Error(t, c.Check())

	c = base()
	col := c.Collectors["slurm"]
	col.Source.Type = "carrier-pigeon"
	c.Collectors["slurm"] = col
	assert.Error(t, c.Check())

	c = base()
	col = c.Collectors["slurm"]
	col.RecordPrefix = ""
	c.Collectors["slurm"] = col
	assert.Error(t, c.Check())

	c = base()
	col = c.Collectors["slurm"]
	col.CollectInterval = time.Millisecond
	c.Collectors["slurm"] = col
	assert.Error(t, c.Check())
}
