package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/paiban/allocator/internal/loader"
	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/stats"
)

type runOptions struct {
	driversFile string
	ordersFile  string
	proposals   []string
	noGreedy    bool
	output      string
	attemptsDir string
	noAttempts  bool
	coverage    bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "执行一次分配，保存全部方案与最终结果",
		Long: `读取司机与订单数据，生成贪心基线方案，并与 --proposals 指定的外部方案一起校验评分，
选出最优方案写入结果文件。外部方案可以是单个 JSON 文件或包含 JSON 文件的目录。`,
		Args: cobra.NoArgs,
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
			if !cmd.Flags().Changed("output") {
				opts.output = cfg.Allocator.OutputFile
			}
			if !cmd.Flags().Changed("attempts-dir") {
				opts.attemptsDir = cfg.Allocator.AttemptsDir
			}

			comp, err := newComponents(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Allocator.RunTimeout)
			defer cancel()
			return runAllocation(ctx, cmd.OutOrStdout(), comp, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.driversFile, "drivers", "", "司机数据文件")
	f.StringVar(&opts.ordersFile, "orders", "", "订单数据文件")
	f.StringSliceVarP(&opts.proposals, "proposals", "p", nil, "外部方案文件或目录，可重复指定")
	f.BoolVar(&opts.noGreedy, "no-greedy", false, "不生成贪心基线方案")
	f.StringVarP(&opts.output, "output", "o", "", "最终结果文件")
	f.StringVar(&opts.attemptsDir, "attempts-dir", "", "方案保存目录")
	f.BoolVar(&opts.noAttempts, "no-save-attempts", false, "不保存各个方案文件")
	f.BoolVar(&opts.coverage, "coverage", false, "输出选中方案的覆盖率报告")
	return cmd
}

func runAllocation(ctx context.Context, w io.Writer, comp *components, opts *runOptions) error {
	drivers, orders, err := loader.LoadData(opts.driversFile, opts.ordersFile)
	if err != nil {
		return err
	}

	var proposals []model.Proposal
	if len(opts.proposals) > 0 {
		if proposals, err = loader.LoadProposals(opts.proposals...); err != nil {
			return err
		}
	}

	out, err := comp.engine.Run(ctx, engine.Input{
		Drivers:       drivers,
		Orders:        orders,
		Proposals:     proposals,
		DisableGreedy: opts.noGreedy,
	})
	if err != nil {
		return err
	}

	if !opts.noAttempts && opts.attemptsDir != "" {
		writer, err := loader.NewAttemptWriter(opts.attemptsDir)
		if err != nil {
			return err
		}
		idx := model.NewIndex(drivers, orders)
		metrics := func(a model.Allocation) *stats.Metrics {
			return comp.calculator.CalculateIndexed(a, idx)
		}
		if _, err := writer.WriteAll(out.Attempts, metrics); err != nil {
			return err
		}
	}

	if opts.output != "" {
		if err := loader.SaveResult(opts.output, out); err != nil {
			return err
		}
	}

	printSummary(w, out, opts)
	if opts.coverage && out.Report.Coverage != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, stats.NewCoverageAnalyzer(comp.classifier).GenerateCoverageReport(out.Report.Coverage))
	}
	return nil
}

func printSummary(w io.Writer, out *engine.Output, opts *runOptions) {
	best := out.Best
	fmt.Fprintf(w, "运行 %s 完成，耗时 %s\n", out.RunID, out.Duration)
	fmt.Fprintf(w, "共评估 %d 个方案\n\n", len(out.Attempts))

	for _, a := range out.Attempts {
		marker := " "
		if a.Sequence == best.Sequence {
			marker = "*"
		}
		fmt.Fprintf(w, "%s #%02d %-16s 分数 %-12d %s\n", marker, a.Sequence, a.Source, a.Score, a.Breakdown)
	}

	fmt.Fprintf(w, "\n选中方案 #%02d (%s)，严重问题: %d\n", best.Sequence, best.Source, best.Breakdown.Critical())

	if m := out.Report.Metrics; m != nil {
		fmt.Fprintf(w, "已分配 %d/%d 单，使用司机 %d 名，区域匹配率 %.1f%%\n",
			m.TotalAssigned, m.TotalOrders, m.DriversUsed, m.RegionMatchRate*100)

		tiers := make([]string, 0, len(m.AssignedByTier))
		for tier := range m.AssignedByTier {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			fmt.Fprintf(w, "  %-12s %d\n", tier, m.AssignedByTier[tier])
		}
	}

	if opts.output != "" {
		fmt.Fprintf(w, "结果已写入 %s\n", opts.output)
	}
}
