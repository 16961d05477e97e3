package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/stats"
)

// TimestampLayout 文件名中的时间格式
const TimestampLayout = "20060102_150405"

// AttemptFile 单个方案的记录文件
type AttemptFile struct {
	Sequence     int               `json:"attempt_number"`
	Source       string            `json:"source"`
	Timestamp    string            `json:"timestamp"`
	Score        int64             `json:"score"`
	CriticalFree bool              `json:"critical_free"`
	Breakdown    model.Breakdown   `json:"issue_breakdown"`
	TotalIssues  int               `json:"total_issues"`
	Issues       []string          `json:"validation_issues"`
	Allocation   model.Allocation  `json:"allocation"`
	Reasoning    map[string]string `json:"reasoning,omitempty"`
	Metrics      *stats.Metrics    `json:"actual_metrics,omitempty"`
}

// AttemptWriter 将每个方案保存为独立文件
type AttemptWriter struct {
	dir string
	now func() time.Time
}

// NewAttemptWriter 创建方案记录器，目录不存在时创建
func NewAttemptWriter(dir string) (*AttemptWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "创建方案目录失败").WithField("dir", dir)
	}
	return &AttemptWriter{dir: dir, now: time.Now}, nil
}

// Dir 返回记录目录
func (w *AttemptWriter) Dir() string {
	return w.dir
}

// FileName 方案文件名：attempt_<序号>_<时间>_score_<分数>.json
func FileName(sequence int, at time.Time, score int64) string {
	return fmt.Sprintf("attempt_%02d_%s_score_%d.json", sequence, at.Format(TimestampLayout), score)
}

// Write 保存单个方案，返回文件路径
func (w *AttemptWriter) Write(a *model.Attempt, metrics *stats.Metrics) (string, error) {
	at := w.now()
	file := AttemptFile{
		Sequence:     a.Sequence,
		Source:       a.Source,
		Timestamp:    at.Format(TimestampLayout),
		Score:        a.Score,
		CriticalFree: a.CriticalFree(),
		Breakdown:    a.Breakdown,
		TotalIssues:  len(a.Issues),
		Issues:       a.IssueMessages(),
		Allocation:   a.Allocation,
		Reasoning:    a.Reasoning,
		Metrics:      metrics,
	}

	path := filepath.Join(w.dir, FileName(a.Sequence, at, a.Score))
	if err := writeJSON(path, file); err != nil {
		return "", err
	}

	logger.Debug().
		Int("sequence", a.Sequence).
		Str("path", path).
		Msg("方案已保存")
	return path, nil
}

// WriteAll 保存一次运行的全部方案，metrics 为每个方案计算指标，可为空
func (w *AttemptWriter) WriteAll(attempts []model.Attempt, metrics func(model.Allocation) *stats.Metrics) ([]string, error) {
	paths := make([]string, 0, len(attempts))
	for i := range attempts {
		var m *stats.Metrics
		if metrics != nil {
			m = metrics(attempts[i].Allocation)
		}
		path, err := w.Write(&attempts[i], m)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ResultMetadata 最终结果元数据
type ResultMetadata struct {
	RunID            string          `json:"run_id"`
	GeneratedAt      time.Time       `json:"generated_at"`
	SelectedSequence int             `json:"selected_attempt"`
	SelectedSource   string          `json:"selected_source"`
	Score            int64           `json:"score"`
	CriticalFree     bool            `json:"critical_free"`
	Breakdown        model.Breakdown `json:"issue_breakdown"`
	Issues           []string        `json:"validation_issues"`
	TotalAttempts    int             `json:"total_attempts"`
	Duration         string          `json:"duration"`
}

// ResultFile 最终结果文件
type ResultFile struct {
	Metadata ResultMetadata `json:"allocation_metadata"`
	*stats.Report
}

// NewResultFile 从引擎输出构建结果文件
func NewResultFile(out *engine.Output) ResultFile {
	return ResultFile{
		Metadata: ResultMetadata{
			RunID:            out.RunID,
			GeneratedAt:      out.StartedAt.Add(out.Duration),
			SelectedSequence: out.Best.Sequence,
			SelectedSource:   out.Best.Source,
			Score:            out.Best.Score,
			CriticalFree:     out.Best.CriticalFree(),
			Breakdown:        out.Best.Breakdown,
			Issues:           out.Best.IssueMessages(),
			TotalAttempts:    len(out.Attempts),
			Duration:         out.Duration.String(),
		},
		Report: out.Report,
	}
}

// SaveResult 写入最终结果
func SaveResult(path string, out *engine.Output) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.CodeStorageError, "创建输出目录失败").WithField("dir", dir)
		}
	}
	if err := writeJSON(path, NewResultFile(out)); err != nil {
		return err
	}

	logger.Info().Str("path", path).Msg("最终结果已保存")
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "序列化失败")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "写入文件失败").WithField("path", path)
	}
	return nil
}
