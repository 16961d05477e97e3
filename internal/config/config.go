// Package config 提供配置管理
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/scoring"
	"github.com/paiban/allocator/pkg/validator"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `yaml:"app"`
	Log       logger.Config   `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	API       APIConfig       `yaml:"api"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
	Port int    `yaml:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	ProposalKey   string `yaml:"proposal_key"`   // 外部方案队列
	ResultChannel string `yaml:"result_channel"` // 分配结果发布频道
}

// Addr 返回Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig API配置
type APIConfig struct {
	RateLimit int           `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBody   int64         `yaml:"max_body"`
	APIKeys   []string      `yaml:"api_keys"` // 为空时不校验
	CORS      CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// AllocatorConfig 分配引擎配置
type AllocatorConfig struct {
	RestrictedTags       []string        `yaml:"restricted_tags"`
	SecondaryTags        []string        `yaml:"secondary_tags"`
	Weights              scoring.Weights `yaml:"weights"`
	RegionMatchThreshold float64         `yaml:"region_match_threshold"`
	EnableGreedy         bool            `yaml:"enable_greedy"`
	Workers              int             `yaml:"workers"`
	MaxProposals         int             `yaml:"max_proposals"`
	RunTimeout           time.Duration   `yaml:"run_timeout"`

	// 批处理文件路径
	DriversFile string `yaml:"drivers_file"`
	OrdersFile  string `yaml:"orders_file"`
	AttemptsDir string `yaml:"attempts_dir"`
	OutputFile  string `yaml:"output_file"`
}

// TierConfig 层级标签配置
func (c *AllocatorConfig) TierConfig() classifier.TierConfig {
	return classifier.TierConfig{Restricted: c.RestrictedTags, Secondary: c.SecondaryTags}
}

// ValidatorConfig 校验配置
func (c *AllocatorConfig) ValidatorConfig() *validator.Config {
	return &validator.Config{RegionMatchThreshold: c.RegionMatchThreshold}
}

// EngineConfig 引擎配置
func (c *AllocatorConfig) EngineConfig() engine.Config {
	return engine.Config{EnableGreedy: c.EnableGreedy, Workers: c.Workers}
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default 返回默认配置
func Default() *Config {
	tiers := classifier.DefaultTierConfig()
	return &Config{
		App: AppConfig{
			Name: "allocator",
			Env:  "development",
			Port: 7012,
		},
		Log: logger.DefaultConfig(),
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "allocator",
			User:            "allocator",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:          "localhost",
			Port:          6379,
			PoolSize:      10,
			ProposalKey:   "allocator:proposals",
			ResultChannel: "allocator:results",
		},
		API: APIConfig{
			RateLimit: 100,
			Timeout:   30 * time.Second,
			MaxBody:   10 << 20,
			CORS: CORSConfig{
				Enabled: true,
				Origins: []string{"*"},
			},
		},
		Allocator: AllocatorConfig{
			RestrictedTags:       tiers.Restricted,
			SecondaryTags:        tiers.Secondary,
			Weights:              scoring.DefaultWeights(),
			RegionMatchThreshold: validator.DefaultConfig().RegionMatchThreshold,
			EnableGreedy:         true,
			Workers:              4,
			MaxProposals:         20,
			RunTimeout:           30 * time.Second,
			DriversFile:          "data/drivers.json",
			OrdersFile:           "data/orders.json",
			AttemptsDir:          "allocation_attempts",
			OutputFile:           "final_allocation.json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load 加载配置：.env 文件、ALLOCATOR_CONFIG_FILE 指定的 YAML 文件、环境变量，后者覆盖前者
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "读取 .env 文件失败")
	}
	return LoadFile(os.Getenv("ALLOCATOR_CONFIG_FILE"))
}

// LoadFile 从 YAML 文件加载配置并应用环境变量，path 为空时只使用默认值与环境变量
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "读取配置文件失败").WithField("path", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "解析配置文件失败").WithField("path", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.Port = getEnvInt("APP_PORT", c.App.Port)

	c.Log.Level = getEnv("APP_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("APP_LOG_FORMAT", c.Log.Format)
	c.Log.Output = getEnv("APP_LOG_OUTPUT", c.Log.Output)
	c.Log.FilePath = getEnv("APP_LOG_FILE", c.Log.FilePath)

	c.Database.Enabled = getEnvBool("DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.ProposalKey = getEnv("REDIS_PROPOSAL_KEY", c.Redis.ProposalKey)
	c.Redis.ResultChannel = getEnv("REDIS_RESULT_CHANNEL", c.Redis.ResultChannel)

	c.API.RateLimit = getEnvInt("API_RATE_LIMIT", c.API.RateLimit)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)
	c.API.APIKeys = getEnvList("API_KEYS", c.API.APIKeys)
	c.API.CORS.Enabled = getEnvBool("API_CORS_ENABLED", c.API.CORS.Enabled)
	c.API.CORS.Origins = getEnvList("API_CORS_ORIGINS", c.API.CORS.Origins)

	a := &c.Allocator
	a.RestrictedTags = getEnvList("ALLOCATOR_RESTRICTED_TAGS", a.RestrictedTags)
	a.SecondaryTags = getEnvList("ALLOCATOR_SECONDARY_TAGS", a.SecondaryTags)
	a.RegionMatchThreshold = getEnvFloat("ALLOCATOR_REGION_THRESHOLD", a.RegionMatchThreshold)
	a.EnableGreedy = getEnvBool("ALLOCATOR_ENABLE_GREEDY", a.EnableGreedy)
	a.Workers = getEnvInt("ALLOCATOR_WORKERS", a.Workers)
	a.MaxProposals = getEnvInt("ALLOCATOR_MAX_PROPOSALS", a.MaxProposals)
	a.RunTimeout = getEnvDuration("ALLOCATOR_RUN_TIMEOUT", a.RunTimeout)
	a.DriversFile = getEnv("ALLOCATOR_DRIVERS_FILE", a.DriversFile)
	a.OrdersFile = getEnv("ALLOCATOR_ORDERS_FILE", a.OrdersFile)
	a.AttemptsDir = getEnv("ALLOCATOR_ATTEMPTS_DIR", a.AttemptsDir)
	a.OutputFile = getEnv("ALLOCATOR_OUTPUT_FILE", a.OutputFile)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("METRICS_PATH", c.Metrics.Path)
}

// Validate 校验配置
func (c *Config) Validate() error {
	var ve errors.ValidationErrors

	if err := c.Allocator.Weights.Validate(); err != nil {
		ve.Add("allocator.weights", errors.As(err).Message)
	}
	if t := c.Allocator.RegionMatchThreshold; t < 0 || t > 1 {
		ve.Add("allocator.region_match_threshold", fmt.Sprintf("必须在 0 到 1 之间: %v", t))
	}
	if c.Allocator.Workers <= 0 {
		ve.Add("allocator.workers", "必须为正数")
	}
	if len(c.Allocator.RestrictedTags) == 0 {
		ve.Add("allocator.restricted_tags", "不能为空")
	}
	for _, tag := range c.Allocator.RestrictedTags {
		for _, other := range c.Allocator.SecondaryTags {
			if tag == other {
				ve.Add("allocator.secondary_tags", fmt.Sprintf("标签 %s 同时属于受限与次级层级", tag))
			}
		}
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		ve.Add("app.port", fmt.Sprintf("端口无效: %d", c.App.Port))
	}

	if ve.HasErrors() {
		err := ve.ToAppError()
		err.Code = errors.CodeInvalidConfig
		return err
	}
	return nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList 逗号分隔的列表
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
