// Package engine 串联分类、贪心分配、校验、评分与选择
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/allocator/pkg/assigner"
	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/scoring"
	"github.com/paiban/allocator/pkg/stats"
	"github.com/paiban/allocator/pkg/validator"
)

// Config 引擎配置
type Config struct {
	EnableGreedy bool `yaml:"enable_greedy" json:"enable_greedy"`
	Workers      int  `yaml:"workers" json:"workers"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{EnableGreedy: true, Workers: 4}
}

// Observer 运行过程观察者，用于指标上报
type Observer interface {
	AttemptEvaluated(attempt *model.Attempt)
	RunCompleted(out *Output)
	RunFailed(code errors.Code)
}

// Input 单次分配输入
type Input struct {
	Drivers       []model.Driver
	Orders        []model.Order
	Proposals     []model.Proposal
	DisableGreedy bool
}

// Output 单次分配输出
type Output struct {
	RunID          string                     `json:"run_id"`
	Best           model.Attempt              `json:"best"`
	Attempts       []model.Attempt            `json:"attempts"`
	Classification *classifier.Classification `json:"classification"`
	Report         *stats.Report              `json:"report"`
	Unassigned     []assigner.Unassigned      `json:"greedy_unassigned,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	Duration       time.Duration              `json:"duration"`
}

// Engine 分配引擎
type Engine struct {
	config     Config
	classifier *classifier.Classifier
	assigner   assigner.Assigner
	evaluator  *ParallelEvaluator
	calculator *stats.Calculator
	logger     *logger.AllocatorLogger
	observer   Observer
}

// Option 引擎选项
type Option func(*Engine)

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger 设置日志器
func WithLogger(l *logger.AllocatorLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAssigner 替换基线分配器
func WithAssigner(a assigner.Assigner) Option {
	return func(e *Engine) { e.assigner = a }
}

// New 创建分配引擎
func New(cfg Config, c *classifier.Classifier, v *validator.Validator, s *scoring.Scorer, opts ...Option) *Engine {
	if c == nil {
		c = classifier.NewDefault()
	}
	if v == nil {
		v = validator.New(nil, c)
	}
	if s == nil {
		s = scoring.NewDefaultScorer()
	}

	e := &Engine{
		config:     cfg,
		classifier: c,
		evaluator:  NewParallelEvaluator(cfg.Workers, v, s),
		calculator: stats.NewCalculator(c),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.NewAllocatorLogger()
	}
	if e.assigner == nil {
		e.assigner = assigner.NewGreedyAssigner(c, e.logger)
	}
	return e
}

// Classifier 返回引擎使用的分类器
func (e *Engine) Classifier() *classifier.Classifier {
	return e.classifier
}

// Run 执行一次分配：生成基线方案，评估所有候选，选出最优
func (e *Engine) Run(ctx context.Context, in Input) (*Output, error) {
	out, err := e.run(ctx, in)
	if err != nil {
		e.logger.Logger().Warn().Err(err).Str("code", string(errors.GetCode(err))).Msg("分配失败")
		if e.observer != nil {
			e.observer.RunFailed(errors.GetCode(err))
		}
	}
	return out, err
}

func (e *Engine) run(ctx context.Context, in Input) (*Output, error) {
	startTime := time.Now()
	runID := uuid.New().String()

	if err := model.CheckInput(in.Drivers, in.Orders); err != nil {
		return nil, err
	}

	e.logger.StartRun(runID, len(in.Drivers), len(in.Orders), len(in.Proposals))

	out := &Output{
		RunID:          runID,
		Classification: e.classifier.Classify(in.Drivers, in.Orders),
		StartedAt:      startTime,
	}

	candidates := make([]Candidate, 0, len(in.Proposals)+1)
	var greedyReasons map[string]string

	if e.config.EnableGreedy && !in.DisableGreedy {
		result, err := e.assigner.Assign(ctx, in.Drivers, in.Orders)
		if err != nil {
			return nil, wrapContextErr(err, "基线分配失败")
		}
		candidates = append(candidates, Candidate{
			Sequence:   0,
			Source:     model.SourceGreedy,
			Allocation: result.Allocation,
			Reasoning:  result.Reasoning,
		})
		out.Unassigned = result.Unassigned
		greedyReasons = make(map[string]string, len(result.Unassigned))
		for _, u := range result.Unassigned {
			greedyReasons[u.OrderID] = u.Message
		}
	}

	for i, p := range in.Proposals {
		source := p.Source
		if source == "" {
			source = fmt.Sprintf("proposal_%02d", i+1)
		}
		candidates = append(candidates, Candidate{
			Sequence:   i + 1,
			Source:     source,
			Allocation: p.Allocations.Clone(),
			Reasoning:  p.Reasoning,
			Defects:    p.Defects,
		})
	}

	if len(candidates) == 0 {
		return nil, errors.NoAttempts("没有可评估的分配方案：基线分配已关闭且没有外部方案")
	}

	idx := model.NewIndex(in.Drivers, in.Orders)
	attempts, err := e.evaluator.EvaluateBatch(ctx, candidates, idx)
	if err != nil {
		return nil, wrapContextErr(err, "方案评估失败")
	}

	for i := range attempts {
		a := &attempts[i]
		e.logger.AttemptEvaluated(runID, a.Sequence, a.Source, a.Score, len(a.Issues))
		if e.observer != nil {
			e.observer.AttemptEvaluated(a)
		}
		if a.Source == model.SourceGreedy {
			e.selfCheck(runID, a)
		}
	}

	best, err := scoring.Select(attempts)
	if err != nil {
		return nil, err
	}

	var reasons map[string]string
	if best.Source == model.SourceGreedy {
		reasons = greedyReasons
	}

	out.Best = best
	out.Attempts = attempts
	out.Report = e.calculator.BuildReport(stats.ReportInput{
		Allocation: best.Allocation,
		Reasoning:  best.Reasoning,
		Reasons:    reasons,
		Drivers:    in.Drivers,
		Orders:     in.Orders,
	})
	out.Duration = time.Since(startTime)

	e.logger.RunComplete(runID, out.Duration, best.Sequence, best.Score, best.CriticalFree())
	if e.observer != nil {
		e.observer.RunCompleted(out)
	}
	return out, nil
}

// selfCheck 基线方案不应出现时间冲突、能力不匹配或超容量
func (e *Engine) selfCheck(runID string, a *model.Attempt) {
	for _, issue := range a.Issues {
		if issue.Kind.IsCritical() || issue.Kind == model.IssueCapacityExceeded {
			e.logger.SelfCheckFailed(runID, string(issue.Kind), issue.Message)
		}
	}
}

// wrapContextErr 将上下文错误转换为对应错误码
func wrapContextErr(err error, message string) error {
	switch {
	case err == context.DeadlineExceeded:
		return errors.Wrap(err, errors.CodeTimeout, message)
	case err == context.Canceled:
		return errors.Wrap(err, errors.CodeCanceled, message)
	default:
		return errors.Wrap(err, errors.CodeInternal, message)
	}
}
