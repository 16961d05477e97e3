package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/stats"
)

type execCall struct {
	query string
	args  []interface{}
}

// fakeDB 仅记录写入语句
type fakeDB struct {
	calls  []execCall
	failAt int
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return nil, stderrors.New("connection reset")
	}
	return driverResult(1), nil
}

func (f *fakeDB) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, stderrors.New("not supported")
}

func (f *fakeDB) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func sampleOutput() *engine.Output {
	best := model.Attempt{
		Sequence:   0,
		Source:     model.SourceGreedy,
		Allocation: model.Allocation{"D1": {"O1"}},
		Breakdown:  model.NewBreakdown(nil),
	}
	worse := model.Attempt{
		Sequence:   1,
		Source:     "proposal_01",
		Allocation: model.Allocation{"D1": {"O1", "O2"}},
		Issues:     []model.Issue{{Kind: model.IssueTimeConflict, DriverID: "D1", OrderIDs: []string{"O1", "O2"}}},
		Score:      1e10,
		Breakdown:  model.Breakdown{model.CategoryTimeConflicts: 1},
	}
	return &engine.Output{
		RunID:     uuid.New().String(),
		Best:      best,
		Attempts:  []model.Attempt{best, worse},
		Report:    &stats.Report{Metrics: &stats.Metrics{TotalOrders: 2, TotalAssigned: 1, RegionMatchRate: 1}},
		StartedAt: time.Now(),
		Duration:  25 * time.Millisecond,
	}
}

func TestNewRun(t *testing.T) {
	out := sampleOutput()
	run, err := NewRun(out)
	require.NoError(t, err)

	assert.Equal(t, out.RunID, run.ID.String())
	assert.Equal(t, RunStatusAccepted, run.Status)
	assert.True(t, run.CriticalFree)
	assert.Equal(t, 2, run.TotalOrders)
	assert.Equal(t, 1, run.TotalAssigned)
	assert.Equal(t, int64(25), run.DurationMs)
	assert.True(t, json.Valid(run.Report))

	out.Best = out.Attempts[1]
	run, err = NewRun(out)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDegraded, run.Status)
}

func TestNewRun_BadID(t *testing.T) {
	out := sampleOutput()
	out.RunID = "not-a-uuid"
	_, err := NewRun(out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestRunRepository_SaveRun(t *testing.T) {
	db := &fakeDB{}
	run, err := NewRunRepository(db).SaveRun(context.Background(), sampleOutput())
	require.NoError(t, err)

	require.Len(t, db.calls, 3)
	assert.Contains(t, db.calls[0].query, "INSERT INTO allocation_runs")
	assert.Equal(t, run.ID, db.calls[0].args[0])

	for i, call := range db.calls[1:] {
		assert.Contains(t, call.query, "INSERT INTO allocation_attempts")
		assert.Equal(t, run.ID, call.args[1])
		assert.Equal(t, i, call.args[2])
	}

	var breakdown model.Breakdown
	require.NoError(t, json.Unmarshal(db.calls[2].args[6].([]byte), &breakdown))
	assert.Equal(t, 1, breakdown[model.CategoryTimeConflicts])

	var issues []model.Issue
	require.NoError(t, json.Unmarshal(db.calls[2].args[7].([]byte), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueTimeConflict, issues[0].Kind)

	var alloc model.Allocation
	require.NoError(t, json.Unmarshal(db.calls[2].args[8].([]byte), &alloc))
	assert.Equal(t, []string{"O1", "O2"}, alloc["D1"])
}

func TestRunRepository_SaveRunFailure(t *testing.T) {
	db := &fakeDB{failAt: 2}
	_, err := NewRunRepository(db).SaveRun(context.Background(), sampleOutput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeDatabaseError))
	assert.Len(t, db.calls, 2, "首个失败后停止写入")
}

// fakeRow 按顺序填充扫描目标
type fakeRow struct {
	values []interface{}
}

func (r fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *uuid.UUID:
			*p = r.values[i].(uuid.UUID)
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		case *int64:
			*p = r.values[i].(int64)
		case *bool:
			*p = r.values[i].(bool)
		case *float64:
			*p = r.values[i].(float64)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanAttempt(t *testing.T) {
	id, runID := uuid.New(), uuid.New()
	row := fakeRow{values: []interface{}{
		id, runID, 2, "proposal_02", int64(1000), true,
		[]byte(`{"capacity":1}`), []byte(`[{"kind":"capacity_exceeded","driver_id":"D1"}]`),
		[]byte(`{"D1":["O1"]}`), []byte(nil), time.Now(),
	}}

	a, err := scanAttempt(row)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, 2, a.Sequence)
	assert.Equal(t, 1, a.Breakdown[model.CategoryCapacity])
	require.Len(t, a.Issues, 1)
	assert.Equal(t, model.IssueCapacityExceeded, a.Issues[0].Kind)
	assert.Equal(t, []string{"O1"}, a.Allocation["D1"])
	assert.Nil(t, a.Reasoning)
}

func TestListFilter_OrderClause(t *testing.T) {
	assert.Equal(t, "created_at DESC", DefaultListFilter().orderClause())

	f := DefaultListFilter()
	f.OrderBy = "best_score"
	f.OrderDir = "asc"
	assert.Equal(t, "best_score ASC", f.orderClause())

	f.OrderBy = "id; DROP TABLE allocation_runs"
	assert.False(t, strings.Contains(f.orderClause(), "DROP"))
}
