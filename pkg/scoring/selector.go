package scoring

import (
	"sort"

	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
)

// Rank 按选择规则排序：无严重问题优先，其次分数低，最后序号小
// 返回新切片，不修改输入
func Rank(attempts []model.Attempt) []model.Attempt {
	ranked := append([]model.Attempt(nil), attempts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := ranked[i].CriticalFree(), ranked[j].CriticalFree()
		if ci != cj {
			return ci
		}
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score < ranked[j].Score
		}
		return ranked[i].Sequence < ranked[j].Sequence
	})
	return ranked
}

// Select 选出最优方案，列表为空时返回错误
func Select(attempts []model.Attempt) (model.Attempt, error) {
	if len(attempts) == 0 {
		return model.Attempt{}, errors.NoAttempts("没有可评估的分配方案")
	}
	return Rank(attempts)[0], nil
}
