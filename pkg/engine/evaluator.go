package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/scoring"
	"github.com/paiban/allocator/pkg/validator"
)

// Candidate 待评估的候选方案
type Candidate struct {
	Sequence   int
	Source     string
	Allocation model.Allocation
	Reasoning  map[string]string
	Defects    []string // 来源格式问题，记为 other 类问题
}

// ParallelEvaluator 并行评估器
// 校验与评分均为纯函数，各方案互不影响，无需加锁
type ParallelEvaluator struct {
	workers   int
	validator *validator.Validator
	scorer    *scoring.Scorer
}

// NewParallelEvaluator 创建并行评估器
func NewParallelEvaluator(workers int, v *validator.Validator, s *scoring.Scorer) *ParallelEvaluator {
	if workers <= 0 {
		workers = 4
	}
	return &ParallelEvaluator{
		workers:   workers,
		validator: v,
		scorer:    s,
	}
}

// EvaluateBatch 并行评估一批候选方案，结果顺序与输入一致
func (p *ParallelEvaluator) EvaluateBatch(ctx context.Context, candidates []Candidate, idx *model.Index) ([]model.Attempt, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	results := make([]model.Attempt, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = p.Evaluate(candidates[i], idx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Evaluate 评估单个候选方案
func (p *ParallelEvaluator) Evaluate(c Candidate, idx *model.Index) model.Attempt {
	issues := p.validator.ValidateIndexed(c.Allocation, idx)
	for _, defect := range c.Defects {
		issues = append(issues, model.Issue{
			Kind:    model.IssueOther,
			Message: fmt.Sprintf("方案格式问题: %s", defect),
		})
	}

	score, breakdown := p.scorer.Score(issues)
	return model.Attempt{
		Sequence:   c.Sequence,
		Source:     c.Source,
		Allocation: c.Allocation,
		Reasoning:  c.Reasoning,
		Issues:     issues,
		Score:      score,
		Breakdown:  breakdown,
	}
}
