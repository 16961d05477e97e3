// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

type ctxKey string

// RequestIDKey 上下文中请求ID的键
const RequestIDKey ctxKey = "request_id"

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器，仅首次调用生效
func Init(cfg Config) {
	once.Do(func() {
		zerolog.SetGlobalLevel(parseLevel(cfg.Level))

		var output io.Writer = os.Stdout
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				if f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
					output = f
				}
			}
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器，未初始化时使用默认配置
func Get() *zerolog.Logger {
	Init(DefaultConfig())
	return &logger
}

// ContextWithRequestID 将请求ID写入上下文
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFrom 从上下文读取请求ID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With().Str("request_id", reqID).Logger()
	}
	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// WithField 添加字段
func WithField(key string, value interface{}) *zerolog.Logger {
	l := Get().With().Interface(key, value).Logger()
	return &l
}

// AllocatorLogger 分配引擎专用日志器
type AllocatorLogger struct {
	base *zerolog.Logger
}

// NewAllocatorLogger 创建分配引擎日志器
func NewAllocatorLogger() *AllocatorLogger {
	return NewAllocatorLoggerFrom(*Get())
}

// NewAllocatorLoggerFrom 基于指定日志器创建，测试中可传入 zerolog.Nop()
func NewAllocatorLoggerFrom(base zerolog.Logger) *AllocatorLogger {
	l := base.With().Str("component", "allocator").Logger()
	return &AllocatorLogger{base: &l}
}

// Logger 返回底层日志器
func (l *AllocatorLogger) Logger() *zerolog.Logger {
	return l.base
}

// StartRun 记录分配开始
func (l *AllocatorLogger) StartRun(runID string, drivers, orders, proposals int) {
	l.base.Info().
		Str("run_id", runID).
		Int("drivers", drivers).
		Int("orders", orders).
		Int("proposals", proposals).
		Msg("开始分配")
}

// AttemptEvaluated 记录方案评估结果
func (l *AllocatorLogger) AttemptEvaluated(runID string, seq int, source string, score int64, issues int) {
	l.base.Debug().
		Str("run_id", runID).
		Int("sequence", seq).
		Str("source", source).
		Int64("score", score).
		Int("issues", issues).
		Msg("方案评估完成")
}

// OrderUnassigned 记录未分配订单
func (l *AllocatorLogger) OrderUnassigned(orderID, tier, reason string) {
	l.base.Debug().
		Str("order_id", orderID).
		Str("tier", tier).
		Str("reason", reason).
		Msg("订单未分配")
}

// SelfCheckFailed 记录贪心结果自检失败
func (l *AllocatorLogger) SelfCheckFailed(runID, kind, details string) {
	l.base.Error().
		Str("run_id", runID).
		Str("kind", kind).
		Str("details", details).
		Msg("贪心分配自检发现严重问题")
}

// RunComplete 记录分配完成
func (l *AllocatorLogger) RunComplete(runID string, duration time.Duration, bestSeq int, score int64, criticalFree bool) {
	l.base.Info().
		Str("run_id", runID).
		Dur("duration", duration).
		Int("best_sequence", bestSeq).
		Int64("score", score).
		Bool("critical_free", criticalFree).
		Msg("分配完成")
}
