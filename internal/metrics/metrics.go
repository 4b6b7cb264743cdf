// Package metrics exports session traffic and decoded register values to
// Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/register"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

const namespace = "afe"

// Collector implements transport.Observer and keeps one gauge per catalog
// field. Each Collector owns its registry.
type Collector struct {
	registry *prometheus.Registry

	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	decodeErrors    *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	fields      *prometheus.GaugeVec
	fieldErrors *prometheus.CounterVec
	lastUpdate  prometheus.Gauge
	connected   prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Frames written to the device.",
		}, []string{"op"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Valid frames decoded from the device.",
		}, []string{"op"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Frame bytes written.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Frame bytes decoded.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decode_errors_total",
			Help: "Inbound frames dropped by the decoder.",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Completed requests by outcome.",
		}, []string{"op", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds",
			Help:    "Request round-trip time.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"op"}),
		fields: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "field_value",
			Help: "Decoded register field in engineering units.",
		}, []string{"field", "group", "unit"}),
		fieldErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "field_decode_errors_total",
			Help: "Fields that failed to decode.",
		}, []string{"field"}),
		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_update_timestamp_seconds",
			Help: "Time of the last decoded snapshot.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected",
			Help: "1 while a session to the device is open.",
		}),
	}
	c.registry.MustRegister(
		c.framesSent, c.framesReceived, c.bytesSent, c.bytesReceived,
		c.decodeErrors, c.requests, c.requestDuration,
		c.fields, c.fieldErrors, c.lastUpdate, c.connected,
	)
	return c
}

// Registry exposes the collector's registry, e.g. to add process metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FrameSent(op protocol.Opcode, size int) {
	c.framesSent.WithLabelValues(op.String()).Inc()
	c.bytesSent.Add(float64(size))
}

func (c *Collector) FrameReceived(op protocol.Opcode, size int) {
	c.framesReceived.WithLabelValues(op.String()).Inc()
	c.bytesReceived.Add(float64(size))
}

func (c *Collector) DecodeError(err error) {
	reason := "other"
	switch {
	case errors.Is(err, protocol.ErrChecksum):
		reason = "checksum"
	case errors.Is(err, protocol.ErrUnknownOpcode):
		reason = "unknown_opcode"
	}
	c.decodeErrors.WithLabelValues(reason).Inc()
}

func (c *Collector) RequestDone(op protocol.Opcode, elapsed time.Duration, err error) {
	c.requests.WithLabelValues(op.String(), outcome(err)).Inc()
	if err == nil {
		c.requestDuration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrRejected):
		return "rejected"
	case errors.Is(err, transport.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

var _ transport.Observer = (*Collector)(nil)

// SetConnected records whether a session is open.
func (c *Collector) SetConnected(up bool) {
	if up {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}

// Update sets one gauge per reading and counts the fields named in a
// *register.BatchError.
func (c *Collector) Update(rs register.Readings, err error) {
	for _, r := range rs {
		v, unit := sample(r)
		c.fields.WithLabelValues(r.Field.Name, r.Field.Group.String(), unit).Set(v)
	}
	var be *register.BatchError
	if errors.As(err, &be) {
		for _, fe := range be.Errs {
			c.fieldErrors.WithLabelValues(fe.Field.String()).Inc()
		}
	}
	c.lastUpdate.SetToCurrentTime()
}

// sample is the gauge value and unit label of r. Timed fields are reported
// in seconds so the series does not change with the unit selector.
func sample(r register.Reading) (float64, string) {
	if r.Field.UnitField != nil {
		return r.Value.Duration().Seconds(), "s"
	}
	if r.Value.Unit != "" {
		return r.Value.Num, r.Value.Unit
	}
	return r.Value.Num, r.Field.Unit
}
