package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lightlink/host/device"
	"lightlink/protocol"
)

const namespace = "lights"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics is a device.Observer that counts protocol activity
type Metrics struct {
	FramesSent   *prometheus.CounterVec   // labels: cmd
	BytesSent    prometheus.Counter
	Exchanges    *prometheus.CounterVec   // labels: cmd, state
	Duration     *prometheus.HistogramVec // labels: cmd
	Retries      *prometheus.CounterVec   // labels: cmd
	Faults       *prometheus.CounterVec   // labels: cmd, code
	SkippedLines prometheus.Counter
}

// NewMetrics registers the protocol metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Command frames written to the device.",
		}, []string{"cmd"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Frame bytes written to the device.",
		}),
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Finished exchange attempts by final state.",
		}, []string{"cmd", "state"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from frame write to exchange completion.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"cmd"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Commands re-sent after a timeout.",
		}, []string{"cmd"}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_faults_total",
			Help:      "Replies carrying a non-OK error code.",
		}, []string{"cmd", "code"}),
		SkippedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_lines_total",
			Help:      "Device output lines that were not a matching reply.",
		}),
	}
	reg.MustRegister(m.FramesSent, m.BytesSent, m.Exchanges, m.Duration, m.Retries, m.Faults, m.SkippedLines)
	return m
}

func (m *Metrics) FrameSent(cmd protocol.Command, frame []byte) {
	m.FramesSent.WithLabelValues(cmd.ID.String()).Inc()
	m.BytesSent.Add(float64(len(frame)))
}

func (m *Metrics) LineSkipped([]byte, error) {
	m.SkippedLines.Inc()
}

func (m *Metrics) DeviceFault(cmd protocol.Command, resp protocol.Response) {
	m.Faults.WithLabelValues(cmd.ID.String(), resp.Error.String()).Inc()
}

func (m *Metrics) Retry(cmd protocol.Command, _ int, _ time.Duration, _ error) {
	m.Retries.WithLabelValues(cmd.ID.String()).Inc()
}

func (m *Metrics) ExchangeDone(ev device.ExchangeEvent) {
	cmd := ev.Command.ID.String()
	m.Exchanges.WithLabelValues(cmd, ev.State.String()).Inc()
	m.Duration.WithLabelValues(cmd).Observe(ev.Elapsed.Seconds())
}
