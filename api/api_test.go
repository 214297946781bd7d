package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipewright/pipewright/api/rest/controller/monitoring"
	"github.com/pipewright/pipewright/api/rest/controller/workflow"
	"github.com/pipewright/pipewright/api/rest/service/stats"
	rest "github.com/pipewright/pipewright/api/rest/v1"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/jobrun"
	"github.com/pipewright/pipewright/internal/lifecycle"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewServesHealthAndMetrics(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	st := store.New(db)
	e := New(rest.Services{
		Store:     st,
		Lifecycle: lifecycle.New(st, nil, lifecycle.Config{}),
		Tracker:   jobrun.New(db, nil),
		Bus:       event.Nop(),
		Stats:     stats.New(db),
		Checks:    map[string]monitoring.Checker{},
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, Healthy, health.Status)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list workflow.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Empty(t, list.Workflows)
}
