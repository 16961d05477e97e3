// Package database 提供数据库连接和管理
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL 驱动

	"github.com/paiban/allocator/internal/config"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
)

// Schema 分配运行记录表结构
const Schema = `
CREATE TABLE IF NOT EXISTS allocation_runs (
	id                UUID PRIMARY KEY,
	status            VARCHAR(20)      NOT NULL,
	best_sequence     INT              NOT NULL,
	best_source       VARCHAR(100)     NOT NULL,
	best_score        BIGINT           NOT NULL,
	critical_free     BOOLEAN          NOT NULL,
	total_orders      INT              NOT NULL DEFAULT 0,
	total_assigned    INT              NOT NULL DEFAULT 0,
	region_match_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	allocation        JSONB,
	report            JSONB,
	started_at        TIMESTAMPTZ      NOT NULL,
	duration_ms       BIGINT           NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_allocation_runs_created_at ON allocation_runs (created_at DESC);

CREATE TABLE IF NOT EXISTS allocation_attempts (
	id              UUID PRIMARY KEY,
	run_id          UUID         NOT NULL REFERENCES allocation_runs (id) ON DELETE CASCADE,
	sequence        INT          NOT NULL,
	source          VARCHAR(100) NOT NULL,
	score           BIGINT       NOT NULL,
	critical_free   BOOLEAN      NOT NULL,
	issue_breakdown JSONB,
	issues          JSONB,
	allocation      JSONB,
	reasoning       JSONB,
	created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, sequence)
);
`

// DB 数据库连接封装
type DB struct {
	*sql.DB
	cfg *config.DatabaseConfig
}

// New 创建新的数据库连接
func New(cfg *config.DatabaseConfig) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "打开数据库连接失败")
	}

	// 配置连接池
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "数据库连接测试失败")
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("数据库连接成功")

	return &DB{DB: db, cfg: cfg}, nil
}

// EnsureSchema 创建所需的表
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.DB.ExecContext(ctx, Schema); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "初始化表结构失败")
	}
	return nil
}

// Close 关闭数据库连接
func (db *DB) Close() error {
	if db.DB != nil {
		logger.Info().Msg("关闭数据库连接")
		return db.DB.Close()
	}
	return nil
}

// Health 健康检查
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Transaction 执行事务
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "开始事务失败")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("事务回滚失败: %v (原始错误: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "事务提交失败")
	}

	return nil
}

// ExecContext 执行SQL语句，记录慢查询
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := db.DB.ExecContext(ctx, query, args...)
	logSlow(query, time.Since(start))
	return result, err
}

// QueryContext 执行查询
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	logSlow(query, time.Since(start))
	return rows, err
}

// QueryRowContext 执行单行查询
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

func logSlow(query string, duration time.Duration) {
	if duration > 100*time.Millisecond {
		logger.Warn().
			Str("query", truncateQuery(query)).
			Dur("duration", duration).
			Msg("慢SQL查询")
	}
}

// truncateQuery 截断长查询
func truncateQuery(query string) string {
	if len(query) > 200 {
		return query[:200] + "..."
	}
	return query
}
