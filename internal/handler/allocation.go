// Package handler 提供HTTP请求处理器
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/allocator/internal/constraints"
	"github.com/paiban/allocator/internal/intake"
	"github.com/paiban/allocator/internal/repository"
	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/scoring"
	"github.com/paiban/allocator/pkg/stats"
	"github.com/paiban/allocator/pkg/validator"
)

// RunStore 运行记录存储
type RunStore interface {
	SaveRun(ctx context.Context, out *engine.Output) (*repository.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*repository.Run, error)
	ListRuns(ctx context.Context, filter repository.ListFilter) ([]*repository.Run, int, error)
	ListAttempts(ctx context.Context, runID uuid.UUID) ([]*repository.AttemptRecord, error)
}

// ProposalQueue 外部方案队列
type ProposalQueue interface {
	Proposals(ctx context.Context) ([]model.Proposal, error)
	Publish(ctx context.Context, out *engine.Output) error
}

// AllocationHandler 分配处理器
type AllocationHandler struct {
	engine     *engine.Engine
	classifier *classifier.Classifier
	validator  *validator.Validator
	scorer     *scoring.Scorer
	calculator *stats.Calculator
	library    constraints.LibraryResponse

	store   RunStore
	queue   ProposalQueue
	timeout time.Duration
	maxBody int64
}

// Option 处理器选项
type Option func(*AllocationHandler)

// WithStore 启用运行记录持久化
func WithStore(s RunStore) Option {
	return func(h *AllocationHandler) { h.store = s }
}

// WithQueue 启用外部方案队列
func WithQueue(q ProposalQueue) Option {
	return func(h *AllocationHandler) { h.queue = q }
}

// WithTimeout 单次分配超时
func WithTimeout(d time.Duration) Option {
	return func(h *AllocationHandler) { h.timeout = d }
}

// WithMaxBody 请求体大小上限
func WithMaxBody(n int64) Option {
	return func(h *AllocationHandler) { h.maxBody = n }
}

// NewAllocationHandler 创建分配处理器
func NewAllocationHandler(e *engine.Engine, v *validator.Validator, s *scoring.Scorer, opts ...Option) *AllocationHandler {
	c := e.Classifier()
	if v == nil {
		v = validator.New(nil, c)
	}
	if s == nil {
		s = scoring.NewDefaultScorer()
	}

	h := &AllocationHandler{
		engine:     e,
		classifier: c,
		validator:  v,
		scorer:     s,
		calculator: stats.NewCalculator(c),
		timeout:    30 * time.Second,
		maxBody:    10 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.library = constraints.GetLibraryResponse(constraints.Settings{
		Weights:   s.Weights(),
		Validator: v.Config(),
		Tiers:     c.TierConfig(),
	})
	return h
}

// Register 注册路由
func (h *AllocationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/allocate", h.Allocate)
	mux.HandleFunc("/api/v1/validate", h.Validate)
	mux.HandleFunc("/api/v1/classify", h.Classify)
	mux.HandleFunc("GET /api/v1/constraints/library", h.Library)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
}

// AllocateRequest 分配请求
type AllocateRequest struct {
	Drivers         []model.Driver    `json:"drivers"`
	Orders          []model.Order     `json:"orders"`
	Proposals       []json.RawMessage `json:"proposals,omitempty"` // 外部方案原文，宽松解析
	UseQueue        bool              `json:"use_queued_proposals,omitempty"`
	DisableGreedy   bool              `json:"disable_greedy,omitempty"`
	IncludeAttempts bool              `json:"include_attempts,omitempty"`
}

// AttemptSummary 方案摘要
type AttemptSummary struct {
	Sequence     int             `json:"sequence"`
	Source       string          `json:"source"`
	Score        int64           `json:"score"`
	CriticalFree bool            `json:"critical_free"`
	Breakdown    model.Breakdown `json:"issue_breakdown"`
	TotalIssues  int             `json:"total_issues"`
}

// AllocateResponse 分配响应
type AllocateResponse struct {
	Success          bool                       `json:"success"`
	RunID            string                     `json:"run_id"`
	SelectedSequence int                        `json:"selected_attempt"`
	SelectedSource   string                     `json:"selected_source"`
	Score            int64                      `json:"score"`
	CriticalFree     bool                       `json:"critical_free"`
	Breakdown        model.Breakdown            `json:"issue_breakdown"`
	Issues           []model.Issue              `json:"issues"`
	Allocations      model.Allocation           `json:"allocations"`
	Report           *stats.Report              `json:"report"`
	Classification   *classifier.Classification `json:"classification,omitempty"`
	Attempts         []AttemptSummary           `json:"attempts,omitempty"`
	Persisted        bool                       `json:"persisted"`
	Published        bool                       `json:"published"`
	Warnings         []string                   `json:"warnings,omitempty"` // 保存或发布失败
	Duration         string                     `json:"duration"`
}

// Allocate 执行一次分配
func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return
	}

	var req AllocateRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	proposals := make([]model.Proposal, 0, len(req.Proposals))
	for _, raw := range req.Proposals {
		proposals = append(proposals, intake.Decode("", raw))
	}
	if req.UseQueue && h.queue != nil {
		queued, err := h.queue.Proposals(ctx)
		if err != nil {
			respondError(w, errors.As(err))
			return
		}
		proposals = append(proposals, queued...)
	}

	out, err := h.engine.Run(ctx, engine.Input{
		Drivers:       req.Drivers,
		Orders:        req.Orders,
		Proposals:     proposals,
		DisableGreedy: req.DisableGreedy,
	})
	if err != nil {
		respondError(w, errors.As(err))
		return
	}

	resp := AllocateResponse{
		Success:          true,
		RunID:            out.RunID,
		SelectedSequence: out.Best.Sequence,
		SelectedSource:   out.Best.Source,
		Score:            out.Best.Score,
		CriticalFree:     out.Best.CriticalFree(),
		Breakdown:        out.Best.Breakdown,
		Issues:           out.Best.Issues,
		Allocations:      out.Best.Allocation,
		Report:           out.Report,
		Classification:   out.Classification,
		Duration:         out.Duration.String(),
	}
	if req.IncludeAttempts {
		resp.Attempts = summarize(out.Attempts)
	}
	h.afterRun(r.Context(), out, &resp)

	respondJSON(w, http.StatusOK, resp)
}

// afterRun 持久化与发布失败不影响分配结果，只在响应中附带警告
func (h *AllocationHandler) afterRun(ctx context.Context, out *engine.Output, resp *AllocateResponse) {
	log := logger.WithContext(ctx)

	if h.store != nil {
		if _, err := h.store.SaveRun(ctx, out); err != nil {
			log.Warn().Err(err).Str("run_id", out.RunID).Msg("保存运行记录失败")
			resp.Warnings = append(resp.Warnings, "保存运行记录失败")
		} else {
			resp.Persisted = true
		}
	}
	if h.queue != nil {
		if err := h.queue.Publish(ctx, out); err != nil {
			log.Warn().Err(err).Str("run_id", out.RunID).Msg("发布运行摘要失败")
			resp.Warnings = append(resp.Warnings, "发布运行摘要失败")
		} else {
			resp.Published = true
		}
	}
}

func summarize(attempts []model.Attempt) []AttemptSummary {
	out := make([]AttemptSummary, 0, len(attempts))
	for i := range attempts {
		a := &attempts[i]
		out = append(out, AttemptSummary{
			Sequence:     a.Sequence,
			Source:       a.Source,
			Score:        a.Score,
			CriticalFree: a.CriticalFree(),
			Breakdown:    a.Breakdown,
			TotalIssues:  len(a.Issues),
		})
	}
	return out
}

// ValidateRequest 校验请求
type ValidateRequest struct {
	Drivers     []model.Driver   `json:"drivers"`
	Orders      []model.Order    `json:"orders"`
	Allocations model.Allocation `json:"allocations"`
}

// ValidateResponse 校验响应
type ValidateResponse struct {
	Valid        bool            `json:"valid"`
	CriticalFree bool            `json:"critical_free"`
	Score        int64           `json:"score"`
	Breakdown    model.Breakdown `json:"issue_breakdown"`
	Issues       []model.Issue   `json:"issues"`
	Metrics      *stats.Metrics  `json:"metrics"`
}

// Validate 校验并评分给定方案
func (h *AllocationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return
	}

	var req ValidateRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := model.CheckInput(req.Drivers, req.Orders); err != nil {
		respondError(w, errors.As(err))
		return
	}

	idx := model.NewIndex(req.Drivers, req.Orders)
	issues := h.validator.ValidateIndexed(req.Allocations, idx)
	score, breakdown := h.scorer.Score(issues)
	if issues == nil {
		issues = []model.Issue{}
	}

	respondJSON(w, http.StatusOK, ValidateResponse{
		Valid:        len(issues) == 0,
		CriticalFree: breakdown.Critical() == 0,
		Score:        score,
		Breakdown:    breakdown,
		Issues:       issues,
		Metrics:      h.calculator.CalculateIndexed(req.Allocations, idx),
	})
}

// ClassifyRequest 分类请求
type ClassifyRequest struct {
	Drivers []model.Driver `json:"drivers"`
	Orders  []model.Order  `json:"orders"`
}

// Classify 返回订单与司机的层级、区域、时段分组
func (h *AllocationHandler) Classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return
	}

	var req ClassifyRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := model.CheckInput(req.Drivers, req.Orders); err != nil {
		respondError(w, errors.As(err))
		return
	}

	respondJSON(w, http.StatusOK, h.classifier.Classify(req.Drivers, req.Orders))
}

// Library 返回当前生效的校验规则、权重与层级标签
func (h *AllocationHandler) Library(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.library)
}

// RunListResponse 运行记录列表
type RunListResponse struct {
	Runs  []*repository.Run `json:"runs"`
	Total int               `json:"total"`
}

// ListRuns 列出历史运行
func (h *AllocationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, errors.New(errors.CodeNotFound, "未启用运行记录存储"))
		return
	}

	q := r.URL.Query()
	filter := repository.DefaultListFilter().WithStatus(q.Get("status")).WithSource(q.Get("source"))
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= 100 {
		filter = filter.WithLimit(limit)
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset >= 0 {
		filter = filter.WithOffset(offset)
	}

	runs, total, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		respondError(w, errors.As(err))
		return
	}
	if runs == nil {
		runs = []*repository.Run{}
	}
	respondJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// RunDetailResponse 运行详情
type RunDetailResponse struct {
	Run      *repository.Run            `json:"run"`
	Attempts []*repository.AttemptRecord `json:"attempts"`
}

// GetRun 获取单次运行及其全部方案
func (h *AllocationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, errors.New(errors.CodeNotFound, "未启用运行记录存储"))
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "无效的运行ID格式"))
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, errors.As(err))
		return
	}
	attempts, err := h.store.ListAttempts(r.Context(), id)
	if err != nil {
		respondError(w, errors.As(err))
		return
	}
	respondJSON(w, http.StatusOK, RunDetailResponse{Run: run, Attempts: attempts})
}

// decode 限制大小并解析请求体
func (h *AllocationHandler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) *errors.AppError {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "解析请求失败").WithDetails(err.Error())
	}
	return nil
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError 返回错误响应
func respondError(w http.ResponseWriter, err *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"code":    err.Code,
		"message": err.Message,
		"details": err.Details,
	})
}

// Index API 根路由
func Index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "司机订单分配引擎 API v1",
		"endpoints": map[string]string{
			"allocate": "POST /api/v1/allocate",
			"validate": "POST /api/v1/validate",
			"classify": "POST /api/v1/classify",
			"library":  "GET /api/v1/constraints/library",
			"runs":     "GET /api/v1/runs",
			"run":      "GET /api/v1/runs/{id}",
		},
	})
}
