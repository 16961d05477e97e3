package loader

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/stats"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDrivers(t *testing.T) {
	dir := t.TempDir()
	body := `{"driver_id": "DRV-001", "name": "张三", "preferred_region": "north", "max_orders_per_day": 3, "capabilities": ["vip"]}`

	tests := []struct {
		name    string
		content string
	}{
		{"数组", "[" + body + "]"},
		{"包装对象", `{"drivers": [` + body + `]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drivers, err := LoadDrivers(writeFile(t, dir, "drivers.json", tt.content))
			require.NoError(t, err)
			require.Len(t, drivers, 1)
			assert.Equal(t, "DRV-001", drivers[0].ID)
			assert.Equal(t, 3, drivers[0].Capacity)
			assert.Equal(t, []string{"vip"}, drivers[0].Capabilities)
		})
	}
}

func TestLoadOrders(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "orders.json", `[
		{"order_id": "Q3370", "region": "north", "pickup_time": "2024-06-15T02:00:00", "teardown_time": "2024-06-15T05:00:00", "pax_count": 40, "tags": ["wedding"]}
	]`)

	orders, err := LoadOrders(path)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "Q3370", orders[0].ID)
	assert.Equal(t, 3*time.Hour, orders[0].Teardown.Sub(orders[0].Pickup))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDrivers(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, errors.CodeNotFound))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = LoadDrivers(writeFile(t, dir, "bad.json", `[{"driver_id": 1`))
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))

	_, err = LoadOrders(writeFile(t, dir, "wrong_key.json", `{"drivers": []}`))
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestLoadProposals(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b_llm.json", `{"allocations": {"D1": ["O2"]}}`)
	writeFile(t, dir, "a_manual.json", `{"allocations": {"D1": ["O1"]}}`)
	writeFile(t, dir, "notes.txt", `ignored`)
	single := writeFile(t, t.TempDir(), "broken.json", `{{`)

	proposals, err := LoadProposals(dir, single)
	require.NoError(t, err)
	require.Len(t, proposals, 3)

	assert.Equal(t, "a_manual", proposals[0].Source)
	assert.Equal(t, "b_llm", proposals[1].Source)
	assert.Equal(t, "broken", proposals[2].Source)
	assert.NotEmpty(t, proposals[2].Defects)

	_, err = LoadProposals(filepath.Join(dir, "nope"))
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 6, 15, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "attempt_03_20240615_090507_score_1000.json", FileName(3, at, 1000))
}

func TestAttemptWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "attempts")
	w, err := NewAttemptWriter(dir)
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC) }

	attempts := []model.Attempt{
		{Sequence: 0, Source: model.SourceGreedy, Allocation: model.Allocation{"D1": {"O1"}}, Breakdown: model.NewBreakdown(nil)},
		{
			Sequence:   1,
			Source:     "llm",
			Allocation: model.Allocation{"D1": {"O1", "O2"}},
			Issues:     []model.Issue{{Kind: model.IssueCapacityExceeded, DriverID: "D1", Message: "超出容量"}},
			Score:      1000,
			Breakdown:  model.Breakdown{model.CategoryCapacity: 1},
		},
		{
			Sequence:   2,
			Source:     "llm",
			Allocation: model.Allocation{"D1": {"O1", "O3"}},
			Issues: []model.Issue{
				{Kind: model.IssueTimeConflict, DriverID: "D1", OrderIDs: []string{"O1", "O3"}, Message: "时间冲突"},
			},
			Score:     10000000000,
			Breakdown: model.Breakdown{model.CategoryTimeConflicts: 1},
		},
	}

	paths, err := w.WriteAll(attempts, func(model.Allocation) *stats.Metrics { return &stats.Metrics{TotalOrders: 2} })
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "attempt_01_20240615_090000_score_1000.json"), paths[1])

	read := func(path string) AttemptFile {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var file AttemptFile
		require.NoError(t, json.Unmarshal(data, &file))
		return file
	}

	// 超出容量不属于严重问题
	file := read(paths[1])
	assert.Equal(t, 1, file.Sequence)
	assert.Equal(t, 1, file.TotalIssues)
	assert.True(t, file.CriticalFree)
	assert.Equal(t, 2, file.Metrics.TotalOrders)

	conflicted := read(paths[2])
	assert.Equal(t, 2, conflicted.Sequence)
	assert.False(t, conflicted.CriticalFree)
}

func TestSaveResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "final_allocation.json")
	out := &engine.Output{
		RunID:     "run-1",
		Best:      model.Attempt{Sequence: 2, Source: "llm", Breakdown: model.NewBreakdown(nil)},
		Attempts:  make([]model.Attempt, 3),
		Report:    &stats.Report{Metrics: &stats.Metrics{TotalAssigned: 5}},
		StartedAt: time.Now(),
	}

	require.NoError(t, SaveResult(path, out))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "allocation_metadata")
	assert.Contains(t, doc, "metrics")

	var meta ResultMetadata
	require.NoError(t, json.Unmarshal(doc["allocation_metadata"], &meta))
	assert.Equal(t, 2, meta.SelectedSequence)
	assert.Equal(t, 3, meta.TotalAttempts)
	assert.True(t, meta.CriticalFree)
}
