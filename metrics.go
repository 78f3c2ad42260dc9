package nats

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the prometheus instrumentation a connection exposes, the
// way ws/metrics.go centralizes a server's gauges/counters in one struct
// that's optionally registered. A nil *Metrics (the default) is always
// safe to call into — every method no-ops — so instrumentation is strictly
// opt-in via WithMetrics.
type Metrics struct {
	outMsgs      prometheus.Counter
	outBytes     prometheus.Counter
	inMsgs       prometheus.Counter
	inBytes      prometheus.Counter
	reconnects   prometheus.Counter
	dropped      prometheus.Counter
	slowConsumer prometheus.Counter
	pendingMsgs  prometheus.Gauge
	pendingBytes prometheus.Gauge
}

// NewMetrics creates and registers a Metrics collector against reg. Pass a
// fresh prometheus.Registry per Conn, or nil to leave the collectors
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outMsgs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "natscore_out_msgs_total", Help: "Messages published.",
		}),
		outBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "natscore_out_bytes_total", Help: "Bytes published.",
		}),
		inMsgs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "natscore_in_msgs_total", Help: "Messages delivered to subscriptions.",
		}),
		inBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "natscore_in_bytes_total", Help: "Bytes delivered to subscriptions.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "natscore_reconnects_total", Help: "Successful reconnects.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "natscore_dropped_msgs_total", Help: "Messages dropped by slow-consumer limits.",
		}),
		slowConsumer: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "natscore_slow_consumer_total", Help: "Slow-consumer episodes flagged.",
		}),
		pendingMsgs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "natscore_pending_msgs", Help: "Current total pending messages across subscriptions.",
		}),
		pendingBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "natscore_pending_bytes", Help: "Current total pending bytes across subscriptions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outMsgs, m.outBytes, m.inMsgs, m.inBytes,
			m.reconnects, m.dropped, m.slowConsumer, m.pendingMsgs, m.pendingBytes)
	}
	return m
}

func (m *Metrics) observePublish(n int) {
	if m == nil {
		return
	}
	m.outMsgs.Inc()
	m.outBytes.Add(float64(n))
}

func (m *Metrics) observeDeliver(n int) {
	if m == nil {
		return
	}
	m.inMsgs.Inc()
	m.inBytes.Add(float64(n))
}

func (m *Metrics) observeReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) observeDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) observeSlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumer.Inc()
}

func (m *Metrics) setPending(msgs, bytes int64) {
	if m == nil {
		return
	}
	m.pendingMsgs.Set(float64(msgs))
	m.pendingBytes.Set(float64(bytes))
}

// WithMetrics attaches a Metrics collector to a connection's options.
func WithMetrics(m *Metrics) Option {
	return func(o *ConnectionOptions) { o.metrics = m }
}
