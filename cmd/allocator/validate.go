package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paiban/allocator/internal/intake"
	"github.com/paiban/allocator/internal/loader"
	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
)

type validateOptions struct {
	driversFile string
	ordersFile  string
	strict      bool
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <allocation.json>",
		Short: "校验并评分一个分配方案",
		Long: `按与 run 相同的规则校验一个方案文件并输出问题列表。
方案文件需包含 allocations 字段，格式问题计入 other 类问题而不是直接报错。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("drivers") {
				opts.driversFile = cfg.Allocator.DriversFile
			}
			if !cmd.Flags().Changed("orders") {
				opts.ordersFile = cfg.Allocator.OrdersFile
			}

			comp, err := newComponents(cfg)
			if err != nil {
				return err
			}
			return validateAllocation(cmd.OutOrStdout(), comp, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.driversFile, "drivers", "", "司机数据文件")
	f.StringVar(&opts.ordersFile, "orders", "", "订单数据文件")
	f.BoolVar(&opts.strict, "strict", false, "存在严重问题时以非零状态退出")
	return cmd
}

func validateAllocation(w io.Writer, comp *components, opts *validateOptions, path string) error {
	drivers, orders, err := loader.LoadData(opts.driversFile, opts.ordersFile)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeNotFound, "读取方案文件失败").WithField("path", path)
	}
	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := intake.Decode(source, data)

	evaluator := engine.NewParallelEvaluator(1, comp.validator, comp.scorer)
	idx := model.NewIndex(drivers, orders)
	attempt := evaluator.Evaluate(engine.Candidate{
		Source:     p.Source,
		Allocation: p.Allocations,
		Reasoning:  p.Reasoning,
		Defects:    p.Defects,
	}, idx)
	m := comp.calculator.CalculateIndexed(p.Allocations, idx)

	fmt.Fprintf(w, "方案 %s：分数 %d，问题 %d 个\n", attempt.Source, attempt.Score, len(attempt.Issues))
	fmt.Fprintf(w, "%s\n", attempt.Breakdown)
	for _, issue := range attempt.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
	fmt.Fprintf(w, "已分配 %d/%d 单，区域匹配率 %.1f%%\n", m.TotalAssigned, m.TotalOrders, m.RegionMatchRate*100)

	if opts.strict && !attempt.CriticalFree() {
		return errors.New(errors.CodeValidationFail, fmt.Sprintf("方案存在 %d 个严重问题", attempt.Breakdown.Critical()))
	}
	return nil
}
