package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/scoring"
)

var day = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func order(id, region string, startHour, endHour int, tags ...string) model.Order {
	return model.Order{
		ID:       id,
		Region:   region,
		Pickup:   day.Add(time.Duration(startHour) * time.Hour),
		Teardown: day.Add(time.Duration(endHour) * time.Hour),
		Tags:     tags,
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	attempts  int
	completed int
	failed    []errors.Code
}

func (r *recordingObserver) AttemptEvaluated(*model.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
}

func (r *recordingObserver) RunCompleted(*Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *recordingObserver) RunFailed(code errors.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, code)
}

func newEngine(cfg Config, obs Observer) *Engine {
	opts := []Option{WithLogger(logger.NewAllocatorLoggerFrom(zerolog.Nop()))}
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	return New(cfg, nil, nil, nil, opts...)
}

func TestEngine_GreedyOnly(t *testing.T) {
	drivers := []model.Driver{
		{ID: "D1", PreferredRegion: "north", Capacity: 1, Capabilities: []string{"wedding"}},
		{ID: "D2", PreferredRegion: "south", Capacity: 1},
	}
	orders := []model.Order{
		order("O1", "north", 18, 22, "wedding"),
		order("O2", "south", 9, 12),
	}

	obs := &recordingObserver{}
	out, err := newEngine(DefaultConfig(), obs).Run(context.Background(), Input{Drivers: drivers, Orders: orders})
	require.NoError(t, err)

	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, model.SourceGreedy, out.Best.Source)
	assert.Empty(t, out.Best.Issues)
	assert.Zero(t, out.Best.Score)
	assert.Equal(t, 2, out.Report.Metrics.TotalAssigned)
	assert.InDelta(t, 1.0, out.Report.Metrics.RegionMatchRate, 1e-9)
	assert.Empty(t, out.Report.Unassigned)
	assert.Empty(t, out.Report.IdleDrivers)

	assert.Equal(t, 1, obs.attempts)
	assert.Equal(t, 1, obs.completed)
}

func TestEngine_ProposalsCompeteWithGreedy(t *testing.T) {
	drivers := []model.Driver{
		{ID: "D1", PreferredRegion: "north", Capacity: 2},
		{ID: "D2", PreferredRegion: "north", Capacity: 2},
	}
	orders := []model.Order{
		order("O1", "north", 9, 12),
		order("O2", "north", 10, 13),
	}

	proposals := []model.Proposal{
		{Source: "conflicting", Allocations: model.Allocation{"D1": {"O1", "O2"}}},
		{Source: "hallucinated", Allocations: model.Allocation{"D9": {"O1"}, "D2": {"O7"}}, Defects: []string{"reasoning 不是对象"}},
	}

	out, err := newEngine(DefaultConfig(), nil).Run(context.Background(), Input{
		Drivers: drivers, Orders: orders, Proposals: proposals,
	})
	require.NoError(t, err)
	require.Len(t, out.Attempts, 3)

	assert.Equal(t, 0, out.Best.Sequence, "贪心方案无问题，应当胜出")
	assert.False(t, out.Attempts[1].CriticalFree())
	assert.Equal(t, "conflicting", out.Attempts[1].Source)
	assert.Equal(t, 1, out.Attempts[1].Breakdown[model.CategoryTimeConflicts])
	assert.Equal(t, 3, out.Attempts[2].Breakdown[model.CategoryOther])
}

func TestEngine_ProposalOnly(t *testing.T) {
	drivers := []model.Driver{{ID: "D1", PreferredRegion: "north", Capacity: 2}}
	orders := []model.Order{order("O1", "north", 9, 12), order("O2", "south", 13, 14)}

	proposals := []model.Proposal{
		{Allocations: model.Allocation{"D1": {"O1"}}, Reasoning: map[string]string{"O1": "区域匹配"}},
		{Allocations: model.Allocation{"D1": {"O1", "O2"}}},
	}

	out, err := newEngine(DefaultConfig(), nil).Run(context.Background(), Input{
		Drivers: drivers, Orders: orders, Proposals: proposals, DisableGreedy: true,
	})
	require.NoError(t, err)
	require.Len(t, out.Attempts, 2)

	// 两个方案均无问题，同分取先到者
	assert.Equal(t, 1, out.Best.Sequence)
	assert.Equal(t, "proposal_01", out.Best.Source)
	assert.Equal(t, "区域匹配", out.Report.Drivers[0].Orders[0].Reasoning)
	require.Len(t, out.Report.Unassigned, 1)
	assert.Equal(t, "O2", out.Report.Unassigned[0].Order.ID)
}

func TestEngine_NoAttempts(t *testing.T) {
	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.EnableGreedy = false

	_, err := newEngine(cfg, obs).Run(context.Background(), Input{
		Drivers: []model.Driver{{ID: "D1", Capacity: 1}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeNoAttempts))
	assert.Equal(t, []errors.Code{errors.CodeNoAttempts}, obs.failed)
}

func TestEngine_FailureLogged(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.EnableGreedy = false
	e := New(cfg, nil, nil, nil, WithLogger(logger.NewAllocatorLoggerFrom(zerolog.New(&buf))))

	_, err := e.Run(context.Background(), Input{})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"code":"NO_ATTEMPTS"`)
	assert.Contains(t, buf.String(), "分配失败")
}

func TestEngine_InvalidInput(t *testing.T) {
	orders := []model.Order{{ID: "O1", Pickup: day.Add(5 * time.Hour), Teardown: day.Add(4 * time.Hour)}}

	_, err := newEngine(DefaultConfig(), nil).Run(context.Background(), Input{Orders: orders})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeValidationFail))
}

func TestEngine_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(DefaultConfig(), nil).Run(ctx, Input{
		Drivers: []model.Driver{{ID: "D1", Capacity: 1}},
		Orders:  []model.Order{order("O1", "north", 9, 10)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeCanceled))
}

func TestEngine_ProposalNotMutated(t *testing.T) {
	drivers := []model.Driver{{ID: "D1", PreferredRegion: "north", Capacity: 2}}
	orders := []model.Order{order("O1", "north", 9, 12)}
	alloc := model.Allocation{"D1": {"O1"}}

	out, err := newEngine(DefaultConfig(), nil).Run(context.Background(), Input{
		Drivers: drivers, Orders: orders, Proposals: []model.Proposal{{Allocations: alloc}},
	})
	require.NoError(t, err)

	out.Attempts[1].Allocation["D1"][0] = "changed"
	assert.Equal(t, "O1", alloc["D1"][0])
}

func TestParallelEvaluator_OrderPreserved(t *testing.T) {
	drivers := []model.Driver{{ID: "D1", PreferredRegion: "north", Capacity: 1}}
	orders := []model.Order{order("O1", "north", 9, 12), order("O2", "north", 10, 13)}
	idx := model.NewIndex(drivers, orders)

	var candidates []Candidate
	for i := 0; i < 20; i++ {
		alloc := model.Allocation{"D1": {"O1"}}
		if i%2 == 1 {
			alloc = model.Allocation{"D1": {"O1", "O2"}}
		}
		candidates = append(candidates, Candidate{Sequence: i, Allocation: alloc})
	}

	p := NewParallelEvaluator(3, newEngine(DefaultConfig(), nil).evaluator.validator, scoring.NewDefaultScorer())
	attempts, err := p.EvaluateBatch(context.Background(), candidates, idx)
	require.NoError(t, err)
	require.Len(t, attempts, 20)

	for i, a := range attempts {
		assert.Equal(t, i, a.Sequence)
		assert.Equal(t, i%2 == 0, a.CriticalFree())
	}
}
