package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/paiban/allocator/internal/config"
	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
)

// QueueClient RedisSource 依赖的命令子集
type QueueClient interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewRedisClient 按配置创建客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisSource 从 Redis 列表读取排队的候选方案
type RedisSource struct {
	client  QueueClient
	key     string
	channel string
	limit   int64
}

// NewRedisSource 创建方案来源，limit<=0 时读取整个列表
func NewRedisSource(client QueueClient, key, channel string, limit int) *RedisSource {
	return &RedisSource{
		client:  client,
		key:     key,
		channel: channel,
		limit:   int64(limit),
	}
}

// Proposals 读取队列中的方案，按入队顺序编号
func (s *RedisSource) Proposals(ctx context.Context) ([]model.Proposal, error) {
	stop := int64(-1)
	if s.limit > 0 {
		stop = s.limit - 1
	}

	docs, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueueError, "读取方案队列失败").WithField("key", s.key)
	}

	proposals := make([]model.Proposal, 0, len(docs))
	for i, doc := range docs {
		p := Decode(fmt.Sprintf("redis_%02d", i+1), []byte(doc))
		if len(p.Defects) > 0 {
			logger.Warn().
				Str("source", p.Source).
				Strs("defects", p.Defects).
				Msg("队列方案存在格式问题")
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// Summary 发布到结果频道的运行摘要
type Summary struct {
	RunID        string           `json:"run_id"`
	BestSequence int              `json:"best_sequence"`
	BestSource   string           `json:"best_source"`
	Score        int64            `json:"score"`
	CriticalFree bool             `json:"critical_free"`
	Breakdown    model.Breakdown  `json:"issue_breakdown"`
	Allocation   model.Allocation `json:"allocations"`
}

// NewSummary 从引擎输出构建摘要
func NewSummary(out *engine.Output) Summary {
	return Summary{
		RunID:        out.RunID,
		BestSequence: out.Best.Sequence,
		BestSource:   out.Best.Source,
		Score:        out.Best.Score,
		CriticalFree: out.Best.CriticalFree(),
		Breakdown:    out.Best.Breakdown,
		Allocation:   out.Best.Allocation,
	}
}

// Publish 发布运行摘要，未配置频道时忽略
func (s *RedisSource) Publish(ctx context.Context, out *engine.Output) error {
	if s.channel == "" {
		return nil
	}

	data, err := json.Marshal(NewSummary(out))
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "序列化运行摘要失败")
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return errors.Wrap(err, errors.CodeQueueError, "发布运行摘要失败").WithField("channel", s.channel)
	}
	return nil
}
