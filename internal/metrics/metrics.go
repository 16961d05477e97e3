// Package metrics 提供Prometheus监控指标
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
)

const namespace = "allocator"

// Registry 指标注册表
type Registry struct {
	reg *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	Attempts        *prometheus.CounterVec
	Issues          *prometheus.CounterVec
	BestScore       prometheus.Gauge
	AssignedOrders  *prometheus.GaugeVec
	RegionMatchRate prometheus.Gauge
	WorkloadGini    prometheus.Gauge
}

var (
	registry *Registry
	once     sync.Once
)

// GetRegistry 获取全局注册表，附带Go运行时与进程指标
func GetRegistry() *Registry {
	once.Do(func() {
		registry = NewRegistry()
		registry.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// NewRegistry 创建独立的注册表
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP请求总数"},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP请求延迟",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "path"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "runs_total", Help: "分配运行次数"},
			[]string{"status", "code"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "单次分配运行耗时",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "attempts_total", Help: "已评估的方案数"},
			[]string{"source", "critical_free"},
		),
		Issues: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "issues_total", Help: "校验发现的问题数"},
			[]string{"category"},
		),
		BestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "best_score", Help: "最近一次运行选中方案的分数",
		}),
		AssignedOrders: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "assigned_orders", Help: "最近一次运行各层级已分配订单数"},
			[]string{"tier"},
		),
		RegionMatchRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "region_match_rate", Help: "最近一次运行的区域匹配率",
		}),
		WorkloadGini: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workload_gini", Help: "最近一次运行的司机利用率基尼系数",
		}),
	}

	r.reg.MustRegister(
		r.HTTPRequests,
		r.HTTPDuration,
		r.Runs,
		r.RunDuration,
		r.Attempts,
		r.Issues,
		r.BestScore,
		r.AssignedOrders,
		r.RegionMatchRate,
		r.WorkloadGini,
	)
	return r
}

// Gatherer 返回底层采集器
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler 返回Prometheus格式的指标HTTP处理器
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// RecordRequest 记录请求指标
func (r *Registry) RecordRequest(method, path string, status int, duration time.Duration) {
	r.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Recorder 将引擎事件转换为指标
type Recorder struct {
	registry *Registry
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder 创建引擎观察者
func NewRecorder(r *Registry) *Recorder {
	if r == nil {
		r = GetRegistry()
	}
	return &Recorder{registry: r}
}

// AttemptEvaluated 记录方案评估结果
func (rec *Recorder) AttemptEvaluated(a *model.Attempt) {
	source := "proposal"
	if a.Source == model.SourceGreedy {
		source = model.SourceGreedy
	}
	rec.registry.Attempts.WithLabelValues(source, strconv.FormatBool(a.CriticalFree())).Inc()

	for category, n := range a.Breakdown {
		if n > 0 {
			rec.registry.Issues.WithLabelValues(string(category)).Add(float64(n))
		}
	}
}

// RunCompleted 记录成功的运行
func (rec *Recorder) RunCompleted(out *engine.Output) {
	r := rec.registry
	r.Runs.WithLabelValues("success", "").Inc()
	r.RunDuration.Observe(out.Duration.Seconds())
	r.BestScore.Set(float64(out.Best.Score))

	if out.Report == nil || out.Report.Metrics == nil {
		return
	}
	for tier, n := range out.Report.Metrics.AssignedByTier {
		r.AssignedOrders.WithLabelValues(tier).Set(float64(n))
	}
	r.RegionMatchRate.Set(out.Report.Metrics.RegionMatchRate)
	if out.Report.Workload != nil {
		r.WorkloadGini.Set(out.Report.Workload.UtilizationGini)
	}
}

// RunFailed 记录失败的运行
func (rec *Recorder) RunFailed(code errors.Code) {
	rec.registry.Runs.WithLabelValues("failure", string(code)).Inc()
}
