package status

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ALU-Schumacher/AUDITOR-sub000/config"
)

func TestPage_ServeHTTP(t *testing.T) {
	c := config.Config{
		Collectors: map[string]config.Collector{
			"slurm": {
				Source:   config.Source{Type: "jsonfile", Path: "/var/log/jobs.json"},
				StoreURL: "http://localhost:8000",
			},
		},
	}

	w := httptest.NewRecorder()
	NewPage(c).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 200, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Auditor Status")
	assert.Contains(t, body, "slurm")
	assert.Contains(t, body, "jsonfile /var/log/jobs.json")
	assert.Contains(t, body, "http://localhost:8000")
}

func TestPage_NoCollectors(t *testing.T) {
	w := httptest.NewRecorder()
	NewPage(config.Config{}).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 200, w.Code)
	assert.NotContains(t, w.Body.String(), "<h2>Collectors</h2>",
		"the serve command has no collectors configured")
}

func TestPage_NotFound(t *testing.T) {
	w := httptest.NewRecorder()
	NewPage(config.Config{}).ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, 404, w.Code)
}
