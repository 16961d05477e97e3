package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
)

func TestRegistry_RecordRequest(t *testing.T) {
	r := NewRegistry()
	r.RecordRequest(http.MethodPost, "/api/v1/allocate", 200, 15*time.Millisecond)
	r.RecordRequest(http.MethodPost, "/api/v1/allocate", 200, 5*time.Millisecond)
	r.RecordRequest(http.MethodPost, "/api/v1/allocate", 400, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("POST", "/api/v1/allocate", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("POST", "/api/v1/allocate", "400")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.HTTPDuration))
}

func TestRecorder_EngineRun(t *testing.T) {
	r := NewRegistry()
	rec := NewRecorder(r)

	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	drivers := []model.Driver{{ID: "D1", PreferredRegion: "north", Capacity: 2}}
	orders := []model.Order{
		{ID: "O1", Region: "north", Pickup: day.Add(9 * time.Hour), Teardown: day.Add(12 * time.Hour)},
		{ID: "O2", Region: "north", Pickup: day.Add(10 * time.Hour), Teardown: day.Add(13 * time.Hour)},
	}
	proposal := model.Proposal{Source: "llm", Allocations: model.Allocation{"D1": {"O1", "O2"}}}

	e := engine.New(engine.DefaultConfig(), nil, nil, nil,
		engine.WithObserver(rec),
		engine.WithLogger(logger.NewAllocatorLoggerFrom(zerolog.Nop())),
	)
	out, err := e.Run(context.Background(), engine.Input{Drivers: drivers, Orders: orders, Proposals: []model.Proposal{proposal}})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Attempts.WithLabelValues("greedy", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Attempts.WithLabelValues("proposal", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Issues.WithLabelValues(string(model.CategoryTimeConflicts))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("success", "")))
	assert.Equal(t, float64(out.Best.Score), testutil.ToFloat64(r.BestScore))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AssignedOrders.WithLabelValues("unrestricted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RegionMatchRate))
}

func TestRecorder_RunFailed(t *testing.T) {
	r := NewRegistry()
	NewRecorder(r).RunFailed(errors.CodeNoAttempts)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("failure", string(errors.CodeNoAttempts))))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.RecordRequest(http.MethodGet, "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "allocator_http_requests_total"))
	assert.True(t, strings.Contains(body, `path="/health"`))
}

func TestRegistry_Gatherer(t *testing.T) {
	r := NewRegistry()
	NewRecorder(r).RunFailed(errors.CodeTimeout)

	n, err := testutil.GatherAndCount(r.Gatherer(), "allocator_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
