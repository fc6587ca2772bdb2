package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 드롭 사유
const (
	DropMalformed    = "malformed"
	DropUnknownEvent = "unknown_event"
	DropInvalid      = "invalid_payload"
	DropSlowConsumer = "slow_consumer"
	DropEmptyBatch   = "empty_batch"
)

// Collector 인스턴스마다 독립 레지스트리를 가진다 (테스트에서 중복 등록 방지)
// nil 수신자에서도 안전하게 호출할 수 있다.
type Collector struct {
	registry *prometheus.Registry

	Connections         prometheus.Gauge
	Elements            prometheus.Gauge
	ElementBatches      prometheus.Counter
	ElementsRelayed     prometheus.Counter
	CursorEvents        prometheus.Counter
	DroppedMessages     *prometheus.CounterVec
	SessionResets       prometheus.Counter
	ArchiveFailures     *prometheus.CounterVec
	ArchiveWriteSeconds *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently open websocket connections",
		}),
		Elements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elements",
			Help:      "Elements held by the current session",
		}),
		ElementBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "element_batches_total",
			Help:      "Element update batches accepted from clients",
		}),
		ElementsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elements_relayed_total",
			Help:      "Elements relayed to other connections",
		}),
		CursorEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_events_total",
			Help:      "Cursor move events received",
		}),
		DroppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Messages dropped without processing",
		}, []string{"reason"}),
		SessionResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resets_total",
			Help:      "Session resets performed",
		}),
		ArchiveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Archive writes that failed",
		}, []string{"sink"}),
		ArchiveWriteSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_write_seconds",
			Help:      "Archive write latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
	}

	registry.MustRegister(
		c.Connections,
		c.Elements,
		c.ElementBatches,
		c.ElementsRelayed,
		c.CursorEvents,
		c.DroppedMessages,
		c.SessionResets,
		c.ArchiveFailures,
		c.ArchiveWriteSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler /metrics 용 HTTP 핸들러
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SetConnections(n int) {
	if c == nil {
		return
	}
	c.Connections.Set(float64(n))
}

func (c *Collector) SetElements(n int) {
	if c == nil {
		return
	}
	c.Elements.Set(float64(n))
}

func (c *Collector) BatchRelayed(elements, recipients int) {
	if c == nil {
		return
	}
	c.ElementBatches.Inc()
	c.ElementsRelayed.Add(float64(elements * recipients))
}

func (c *Collector) CursorMoved() {
	if c == nil {
		return
	}
	c.CursorEvents.Inc()
}

func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.DroppedMessages.WithLabelValues(reason).Inc()
}

func (c *Collector) ResetPerformed() {
	if c == nil {
		return
	}
	c.SessionResets.Inc()
}

// ArchiveWrite 싱크별 쓰기 결과 기록
func (c *Collector) ArchiveWrite(sink string, took time.Duration, err error) {
	if c == nil {
		return
	}
	c.ArchiveWriteSeconds.WithLabelValues(sink).Observe(took.Seconds())
	if err != nil {
		c.ArchiveFailures.WithLabelValues(sink).Inc()
	}
}
