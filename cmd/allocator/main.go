// 司机订单分配命令行工具
// 读取本地数据文件，离线执行分配与方案校验

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paiban/allocator/internal/config"
	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/scoring"
	"github.com/paiban/allocator/pkg/stats"
	"github.com/paiban/allocator/pkg/validator"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "allocator",
		Short:         "司机订单分配引擎",
		Version:       fmt.Sprintf("%s (build %s, %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "配置文件路径，默认读取 ALLOCATOR_CONFIG_FILE")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "日志级别 (debug/info/warn/error)")

	cmd.AddCommand(newRunCmd(opts), newValidateCmd(opts))
	return cmd
}

// load 读取配置并初始化日志，日志写到标准错误以免混入命令输出
func (o *rootOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if cfg.Log.Output == "" || cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}
	logger.Init(cfg.Log)
	return cfg, nil
}

// components 按配置组装的分配组件
type components struct {
	classifier *classifier.Classifier
	validator  *validator.Validator
	scorer     *scoring.Scorer
	calculator *stats.Calculator
	engine     *engine.Engine
}

func newComponents(cfg *config.Config) (*components, error) {
	c := classifier.New(cfg.Allocator.TierConfig())
	v := validator.New(cfg.Allocator.ValidatorConfig(), c)
	s, err := scoring.NewScorer(cfg.Allocator.Weights)
	if err != nil {
		return nil, err
	}
	return &components{
		classifier: c,
		validator:  v,
		scorer:     s,
		calculator: stats.NewCalculator(c),
		engine:     engine.New(cfg.Allocator.EngineConfig(), c, v, s),
	}, nil
}
