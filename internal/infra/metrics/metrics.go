package metrics

import (
	"net/http"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dealer"

// Metrics 收集 gateway 与 stream 的事件，实现 dealer.Observer
// 使用独立的注册表，避免多个实例之间冲突
type Metrics struct {
	registry *prometheus.Registry

	sends   *prometheus.CounterVec
	polls   *prometheus.CounterVec
	open    *prometheus.GaugeVec
	closed  *prometheus.CounterVec
	proxied *prometheus.HistogramVec
}

var _ dealer.Observer = (*Metrics)(nil)

// New 创建指标集合并注册 Go 运行时采集器
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Total number of send attempts by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Total number of poll results by service, kind and outcome",
			},
			[]string{"service", "kind", "outcome"},
		),
		open: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_streams",
				Help:      "Number of response streams that have not reached a terminal state",
			},
			[]string{"service"},
		),
		closed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_closed_total",
				Help:      "Total number of streams by terminal state",
			},
			[]string{"service", "state"},
		),
		proxied: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Duration of proxied requests in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"service", "status"},
		),
	}
}

// ObserveSend 记录一次发送
func (m *Metrics) ObserveSend(service string, err error) {
	m.sends.WithLabelValues(service, dealer.Category(err)).Inc()
}

// ObservePoll 记录一次 Poll 结果
func (m *Metrics) ObservePoll(service string, kind dealer.ResultKind, err error) {
	m.polls.WithLabelValues(service, kind.String(), dealer.Category(err)).Inc()
}

func (m *Metrics) StreamOpened(service string) {
	m.open.WithLabelValues(service).Inc()
}

func (m *Metrics) StreamClosed(service string, state dealer.State) {
	m.open.WithLabelValues(service).Dec()
	m.closed.WithLabelValues(service, string(state)).Inc()
}

// ObserveProxy 记录一次 HTTP 代理请求的耗时
func (m *Metrics) ObserveProxy(service, status string, seconds float64) {
	m.proxied.WithLabelValues(service, status).Observe(seconds)
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
