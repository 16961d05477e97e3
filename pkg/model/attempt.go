package model

// 方案来源
const (
	SourceGreedy = "greedy"
)

// Attempt 一次候选方案的评估记录，生成后不再修改
type Attempt struct {
	Sequence   int               `json:"sequence"`
	Source     string            `json:"source"`
	Allocation Allocation        `json:"allocations"`
	Reasoning  map[string]string `json:"reasoning,omitempty"`
	Issues     []Issue           `json:"issues"`
	Score      int64             `json:"score"`
	Breakdown  Breakdown         `json:"issue_breakdown"`
}

// CriticalFree 无时间冲突且无能力不匹配
func (a *Attempt) CriticalFree() bool {
	if a.Breakdown.Critical() > 0 {
		return false
	}
	for _, issue := range a.Issues {
		if issue.Kind.IsCritical() {
			return false
		}
	}
	return true
}

// IssueMessages 问题描述列表
func (a *Attempt) IssueMessages() []string {
	msgs := make([]string, len(a.Issues))
	for i, issue := range a.Issues {
		msgs[i] = issue.String()
	}
	return msgs
}
