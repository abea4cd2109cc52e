// Package metrics exposes pipeline counters in Prometheus format. It is fed
// from the event bus, so nothing in the posting path depends on it.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopost/internal/eventbus"
	"autopost/internal/queue"
)

const namespace = "autopost"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	Posts           *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	Enqueued        *prometheus.CounterVec
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	DuePerTick      prometheus.Histogram
	Alerts          *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_outcomes_total",
			Help:      "Dispatch outcomes by platform and outcome.",
		}, []string{"platform", "outcome", "reason"}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from pickup to outcome, including generation and jitter.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"platform"}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_enqueued_total",
			Help:      "Posts added to the queue by platform.",
		}, []string{"platform"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Completed scheduler ticks.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Wall time of one scheduler tick.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		DuePerTick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_due_posts",
			Help:      "Due posts found per tick.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Operator alerts by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		m.Posts, m.PublishDuration, m.Enqueued,
		m.Ticks, m.TickDuration, m.DuePerTick, m.Alerts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchQueue exports queue sizes by status, read at scrape time.
func (m *Metrics) WatchQueue(stats func() queue.Stats) {
	for status, pick := range map[string]func(queue.Stats) int{
		string(queue.StatusPending):  func(s queue.Stats) int { return s.Pending },
		string(queue.StatusInFlight): func(s queue.Stats) int { return s.InFlight },
		string(queue.StatusPosted):   func(s queue.Stats) int { return s.Posted },
		string(queue.StatusFailed):   func(s queue.Stats) int { return s.Failed },
	} {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "queue_posts",
			Help:        "Posts in the queue by status.",
			ConstLabels: prometheus.Labels{"status": status},
		}, func() float64 { return float64(pick(stats())) }))
	}
}

// WatchBreakers exports the number of open platform circuit breakers.
func (m *Metrics) WatchBreakers(open func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breakers_open",
		Help:      "Platform circuit breakers currently open.",
	}, func() float64 { return float64(open()) }))
}

// Record applies one bus event to the collectors.
func (m *Metrics) Record(e eventbus.Event) {
	switch e.Type {
	case eventbus.PostEnqueued:
		if pe, ok := e.Data.(eventbus.PostEvent); ok {
			m.Enqueued.WithLabelValues(pe.Platform).Inc()
		}
	case eventbus.PostPosted, eventbus.PostRequeued, eventbus.PostDeferred, eventbus.PostFailed, eventbus.PostSkipped:
		pe, ok := e.Data.(eventbus.PostEvent)
		if !ok {
			return
		}
		m.Posts.WithLabelValues(pe.Platform, outcomeOf(e.Type), pe.Reason).Inc()
		if pe.Took > 0 {
			m.PublishDuration.WithLabelValues(pe.Platform).Observe(pe.Took.Seconds())
		}
	case eventbus.TickDone:
		if te, ok := e.Data.(eventbus.TickEvent); ok {
			m.Ticks.Inc()
			m.TickDuration.Observe(te.Took.Seconds())
			m.DuePerTick.Observe(float64(te.Due))
		}
	case eventbus.AlertSent:
		m.Alerts.WithLabelValues("sent").Inc()
	case eventbus.AlertDropped:
		m.Alerts.WithLabelValues("dropped").Inc()
	}
}

// Consume records bus events until ctx ends.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Record(e)
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func outcomeOf(typ string) string {
	switch typ {
	case eventbus.PostPosted:
		return "posted"
	case eventbus.PostRequeued:
		return "requeued"
	case eventbus.PostDeferred:
		return "deferred"
	case eventbus.PostFailed:
		return "failed"
	default:
		return "skipped"
	}
}
