// Package metrics 投票引擎的Prometheus指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "surveyvote"

// Metrics 一组已注册的指标，nil *Metrics 上的方法均为空操作
type Metrics struct {
	Votes            *prometheus.CounterVec
	VoteRejections   *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	Resolutions      prometheus.Counter
	ResolveDuration  prometheus.Histogram
	CacheLookups     *prometheus.CounterVec
	Degraded         *prometheus.CounterVec
	BatchPaths       *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	EventsConsumed   prometheus.Counter
	SummaryRefreshes *prometheus.CounterVec
}

// New 创建并向reg注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "votes_total",
			Help: "已接受的投票数，按类型区分",
		}, []string{"kind"}),
		VoteRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vote_rejections_total",
			Help: "被拒绝的投票数，按原因区分",
		}, []string{"reason"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "permanent_transitions_total",
			Help: "永久票引起的锁定状态迁移",
		}, []string{"kind"}),
		Resolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolutions_total",
			Help: "实际执行的裁决次数",
		}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "resolve_duration_seconds",
			Help:    "单路径裁决耗时（含读取投票）",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolver_cache_lookups_total",
			Help: "裁决结果缓存查询",
		}, []string{"result"}),
		Degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolver_degraded_total",
			Help: "裁决降级处理的次数（跳过的投票、未知状态）",
		}, []string{"reason"}),
		BatchPaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batch_paths_total",
			Help: "批量裁决处理的路径",
		}, []string{"result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "发送到Kafka的投票事件",
		}, []string{"result"}),
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_consumed_total",
			Help: "从Kafka消费的其它实例的投票事件",
		}),
		SummaryRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "summary_refreshes_total",
			Help: "locale汇总刷新",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.Votes, m.VoteRejections, m.Transitions, m.Resolutions, m.ResolveDuration,
		m.CacheLookups, m.Degraded, m.BatchPaths,
		m.EventsPublished, m.EventsConsumed, m.SummaryRefreshes,
	)
	return m
}

func (m *Metrics) VoteAccepted(kind string) {
	if m != nil {
		m.Votes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) VoteRejected(reason string) {
	if m != nil {
		m.VoteRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Transition(kind string) {
	if m != nil {
		m.Transitions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Resolved(seconds float64) {
	if m != nil {
		m.Resolutions.Inc()
		m.ResolveDuration.Observe(seconds)
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// ResolverDegraded 记录一次降级，reason如 unknown_voter / unknown_status
func (m *Metrics) ResolverDegraded(reason string) {
	if m != nil {
		m.Degraded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) BatchPath(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.BatchPaths.WithLabelValues("ok").Inc()
	} else {
		m.BatchPaths.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) EventPublished(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.EventsPublished.WithLabelValues("ok").Inc()
	} else {
		m.EventsPublished.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) EventConsumed() {
	if m != nil {
		m.EventsConsumed.Inc()
	}
}

func (m *Metrics) SummaryRefreshed(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.SummaryRefreshes.WithLabelValues("ok").Inc()
	} else {
		m.SummaryRefreshes.WithLabelValues("error").Inc()
	}
}
