package database

import (
	"strings"
	"testing"
)

func TestTruncateQuery(t *testing.T) {
	short := "SELECT 1"
	if got := truncateQuery(short); got != short {
		t.Errorf("短查询不应截断, got %q", got)
	}

	long := strings.Repeat("x", 250)
	got := truncateQuery(long)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("长查询应截断为200字符加省略号, got len=%d", len(got))
	}
}

func TestSchema(t *testing.T) {
	for _, table := range []string{"allocation_runs", "allocation_attempts"} {
		if !strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("缺少表 %s", table)
		}
	}
	if !strings.Contains(Schema, "UNIQUE (run_id, sequence)") {
		t.Error("方案记录应按运行与序号唯一")
	}
}
