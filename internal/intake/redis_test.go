package intake

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
)

type fakeQueue struct {
	docs       []string
	lrangeErr  error
	publishErr error

	gotStop   int64
	published map[string][]byte
}

func (f *fakeQueue) LRange(_ context.Context, _ string, _, stop int64) *redis.StringSliceCmd {
	f.gotStop = stop
	return redis.NewStringSliceResult(f.docs, f.lrangeErr)
}

func (f *fakeQueue) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.published == nil {
		f.published = make(map[string][]byte)
	}
	f.published[channel] = message.([]byte)
	return redis.NewIntResult(1, f.publishErr)
}

func TestRedisSource_Proposals(t *testing.T) {
	q := &fakeQueue{docs: []string{
		`{"allocations": {"D1": ["O1"]}}`,
		`garbage`,
	}}

	proposals, err := NewRedisSource(q, "allocator:proposals", "", 5).Proposals(context.Background())
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	assert.Equal(t, int64(4), q.gotStop)
	assert.Equal(t, "redis_01", proposals[0].Source)
	assert.Empty(t, proposals[0].Defects)
	assert.Equal(t, "redis_02", proposals[1].Source)
	assert.Len(t, proposals[1].Defects, 1)
}

func TestRedisSource_Unlimited(t *testing.T) {
	q := &fakeQueue{}
	proposals, err := NewRedisSource(q, "k", "", 0).Proposals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, proposals)
	assert.Equal(t, int64(-1), q.gotStop)
}

func TestRedisSource_QueueError(t *testing.T) {
	q := &fakeQueue{lrangeErr: stderrors.New("connection refused")}
	_, err := NewRedisSource(q, "k", "", 0).Proposals(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeQueueError))
}

func TestRedisSource_Publish(t *testing.T) {
	out := &engine.Output{
		RunID: uuid.New().String(),
		Best: model.Attempt{
			Sequence:   0,
			Source:     model.SourceGreedy,
			Allocation: model.Allocation{"D1": {"O1"}},
			Breakdown:  model.NewBreakdown(nil),
		},
	}

	q := &fakeQueue{}
	require.NoError(t, NewRedisSource(q, "k", "allocator:results", 0).Publish(context.Background(), out))

	var s Summary
	require.NoError(t, json.Unmarshal(q.published["allocator:results"], &s))
	assert.Equal(t, out.RunID, s.RunID)
	assert.True(t, s.CriticalFree)
	assert.Equal(t, []string{"O1"}, s.Allocation["D1"])

	q = &fakeQueue{}
	require.NoError(t, NewRedisSource(q, "k", "", 0).Publish(context.Background(), out))
	assert.Empty(t, q.published, "未配置频道时不发布")

	q = &fakeQueue{publishErr: stderrors.New("broken pipe")}
	err := NewRedisSource(q, "k", "c", 0).Publish(context.Background(), out)
	assert.True(t, errors.Is(err, errors.CodeQueueError))
}
