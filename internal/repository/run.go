package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
)

// 运行状态
const (
	RunStatusAccepted = "accepted" // 选中方案无关键问题
	RunStatusDegraded = "degraded" // 所有方案均有关键问题，取分数最低者
)

// Run 分配运行记录
type Run struct {
	ID              uuid.UUID        `json:"id"`
	Status          string           `json:"status"`
	BestSequence    int              `json:"best_sequence"`
	BestSource      string           `json:"best_source"`
	BestScore       int64            `json:"best_score"`
	CriticalFree    bool             `json:"critical_free"`
	TotalOrders     int              `json:"total_orders"`
	TotalAssigned   int              `json:"total_assigned"`
	RegionMatchRate float64          `json:"region_match_rate"`
	Allocation      model.Allocation `json:"allocation"`
	Report          json.RawMessage  `json:"report,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	DurationMs      int64            `json:"duration_ms"`
	CreatedAt       time.Time        `json:"created_at"`
}

// AttemptRecord 方案评估记录
type AttemptRecord struct {
	ID           uuid.UUID         `json:"id"`
	RunID        uuid.UUID         `json:"run_id"`
	Sequence     int               `json:"sequence"`
	Source       string            `json:"source"`
	Score        int64             `json:"score"`
	CriticalFree bool              `json:"critical_free"`
	Breakdown    model.Breakdown   `json:"issue_breakdown"`
	Issues       []model.Issue     `json:"issues"`
	Allocation   model.Allocation  `json:"allocation"`
	Reasoning    map[string]string `json:"reasoning,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RunRepository 分配运行仓储
type RunRepository struct {
	db DB
}

// NewRunRepository 创建运行仓储
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// NewRun 从引擎输出构建运行记录
func NewRun(out *engine.Output) (*Run, error) {
	id, err := uuid.Parse(out.RunID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "运行ID不是合法UUID")
	}

	run := &Run{
		ID:           id,
		Status:       RunStatusDegraded,
		BestSequence: out.Best.Sequence,
		BestSource:   out.Best.Source,
		BestScore:    out.Best.Score,
		CriticalFree: out.Best.CriticalFree(),
		Allocation:   out.Best.Allocation,
		StartedAt:    out.StartedAt,
		DurationMs:   out.Duration.Milliseconds(),
		CreatedAt:    time.Now(),
	}
	if run.CriticalFree {
		run.Status = RunStatusAccepted
	}
	if out.Report != nil {
		if m := out.Report.Metrics; m != nil {
			run.TotalOrders = m.TotalOrders
			run.TotalAssigned = m.TotalAssigned
			run.RegionMatchRate = m.RegionMatchRate
		}
		if run.Report, err = json.Marshal(out.Report); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "序列化报告失败")
		}
	}
	return run, nil
}

// NewAttemptRecords 从引擎输出构建方案记录
func NewAttemptRecords(runID uuid.UUID, attempts []model.Attempt) []*AttemptRecord {
	now := time.Now()
	records := make([]*AttemptRecord, 0, len(attempts))
	for _, a := range attempts {
		records = append(records, &AttemptRecord{
			ID:           uuid.New(),
			RunID:        runID,
			Sequence:     a.Sequence,
			Source:       a.Source,
			Score:        a.Score,
			CriticalFree: a.CriticalFree(),
			Breakdown:    a.Breakdown,
			Issues:       a.Issues,
			Allocation:   a.Allocation,
			Reasoning:    a.Reasoning,
			CreatedAt:    now,
		})
	}
	return records
}

// SaveRun 保存运行记录及全部方案，数据库支持事务时在同一事务内写入
func (r *RunRepository) SaveRun(ctx context.Context, out *engine.Output) (*Run, error) {
	run, err := NewRun(out)
	if err != nil {
		return nil, err
	}
	attempts := NewAttemptRecords(run.ID, out.Attempts)

	save := func(db DB) error {
		if err := insertRun(ctx, db, run); err != nil {
			return err
		}
		for _, a := range attempts {
			if err := insertAttempt(ctx, db, a); err != nil {
				return err
			}
		}
		return nil
	}

	if t, ok := r.db.(Transactor); ok {
		err = t.Transaction(ctx, func(tx *sql.Tx) error { return save(tx) })
	} else {
		err = save(r.db)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func insertRun(ctx context.Context, db DB, run *Run) error {
	allocationJSON, err := json.Marshal(run.Allocation)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "序列化分配方案失败")
	}

	query := `
		INSERT INTO allocation_runs (
			id, status, best_sequence, best_source, best_score, critical_free,
			total_orders, total_assigned, region_match_rate, allocation, report,
			started_at, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = db.ExecContext(ctx, query,
		run.ID, run.Status, run.BestSequence, run.BestSource, run.BestScore, run.CriticalFree,
		run.TotalOrders, run.TotalAssigned, run.RegionMatchRate, allocationJSON, []byte(run.Report),
		run.StartedAt, run.DurationMs, run.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "创建运行记录失败").WithField("run_id", run.ID.String())
	}
	return nil
}

func insertAttempt(ctx context.Context, db DB, a *AttemptRecord) error {
	// issue_breakdown, issues, allocation, reasoning
	columns := make([][]byte, 0, 4)
	for _, v := range []interface{}{a.Breakdown, a.Issues, a.Allocation, a.Reasoning} {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal, "序列化方案记录失败").WithField("sequence", a.Sequence)
		}
		columns = append(columns, data)
	}

	query := `
		INSERT INTO allocation_attempts (
			id, run_id, sequence, source, score, critical_free,
			issue_breakdown, issues, allocation, reasoning, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := db.ExecContext(ctx, query,
		a.ID, a.RunID, a.Sequence, a.Source, a.Score, a.CriticalFree,
		columns[0], columns[1], columns[2], columns[3], a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "创建方案记录失败").
			WithField("run_id", a.RunID.String()).
			WithField("sequence", a.Sequence)
	}
	return nil
}

const runColumns = `
	id, status, best_sequence, best_source, best_score, critical_free,
	total_orders, total_assigned, region_match_rate, allocation, report,
	started_at, duration_ms, created_at
`

// GetRun 根据ID获取运行记录，不存在时返回 NotFound
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := "SELECT " + runColumns + " FROM allocation_runs WHERE id = $1"
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("运行记录", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "查询运行记录失败")
	}
	return run, nil
}

// ListRuns 列出运行记录
func (r *RunRepository) ListRuns(ctx context.Context, filter ListFilter) ([]*Run, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filter.Status)
		argNum++
	}

	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("best_source = $%d", argNum))
		args = append(args, filter.Source)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// 计数
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM allocation_runs %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeDatabaseError, "统计运行数量失败")
	}

	query := fmt.Sprintf("SELECT %s FROM allocation_runs %s ORDER BY %s LIMIT $%d OFFSET $%d",
		runColumns, whereClause, filter.orderClause(), argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeDatabaseError, "查询运行列表失败")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.CodeDatabaseError, "扫描运行记录失败")
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// ListAttempts 列出某次运行的全部方案，按序号排列
func (r *RunRepository) ListAttempts(ctx context.Context, runID uuid.UUID) ([]*AttemptRecord, error) {
	query := `
		SELECT id, run_id, sequence, source, score, critical_free,
			issue_breakdown, issues, allocation, reasoning, created_at
		FROM allocation_attempts
		WHERE run_id = $1
		ORDER BY sequence
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "查询方案记录失败")
	}
	defer rows.Close()

	var records []*AttemptRecord
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "扫描方案记录失败")
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// scanRun 扫描单行运行记录
func scanRun(row Scanner) (*Run, error) {
	run := &Run{}
	var allocationJSON, reportJSON []byte

	err := row.Scan(
		&run.ID, &run.Status, &run.BestSequence, &run.BestSource, &run.BestScore, &run.CriticalFree,
		&run.TotalOrders, &run.TotalAssigned, &run.RegionMatchRate, &allocationJSON, &reportJSON,
		&run.StartedAt, &run.DurationMs, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(allocationJSON) > 0 {
		if err := json.Unmarshal(allocationJSON, &run.Allocation); err != nil {
			return nil, err
		}
	}
	if len(reportJSON) > 0 {
		run.Report = reportJSON
	}
	return run, nil
}

// scanAttempt 扫描单行方案记录
func scanAttempt(row Scanner) (*AttemptRecord, error) {
	a := &AttemptRecord{}
	var breakdownJSON, issuesJSON, allocationJSON, reasoningJSON []byte

	err := row.Scan(
		&a.ID, &a.RunID, &a.Sequence, &a.Source, &a.Score, &a.CriticalFree,
		&breakdownJSON, &issuesJSON, &allocationJSON, &reasoningJSON, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		data []byte
		dest interface{}
	}{
		{breakdownJSON, &a.Breakdown},
		{issuesJSON, &a.Issues},
		{allocationJSON, &a.Allocation},
		{reasoningJSON, &a.Reasoning},
	} {
		if len(field.data) == 0 {
			continue
		}
		if err := json.Unmarshal(field.data, field.dest); err != nil {
			return nil, err
		}
	}
	return a, nil
}
