package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/adapter/serial"
	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mppt"

// Prometheus records controller activity and mirrors sensor events as gauges.
type Prometheus struct {
	registry     *prometheus.Registry
	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	lastSuccess  prometheus.Gauge
	commands     *prometheus.CounterVec
	serialSteps  *prometheus.HistogramVec
	sensors      *prometheus.GaugeVec
	binary       *prometheus.GaugeVec
}

var _ port.ControllerMetrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Telemetry polls by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of telemetry exchanges.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_poll_timestamp_seconds",
			Help:      "Unix time of the last decoded telemetry frame.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands sent to the controller by kind and result.",
		}, []string{"command", "result"}),
		serialSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "step_duration_seconds",
			Help:      "Duration of serial link steps.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		sensors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last published numeric sensor value.",
		}, []string{"sensor"}),
		binary: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_state",
			Help:      "Last published binary sensor or switch state.",
		}, []string{"sensor"}),
	}
	p.registry.MustRegister(p.polls, p.pollDuration, p.lastSuccess, p.commands, p.serialSteps, p.sensors, p.binary)
	return p
}

func (p *Prometheus) ObservePoll(result string, duration time.Duration) {
	p.polls.WithLabelValues(result).Inc()
	if result == port.RESULT_OK {
		p.lastSuccess.SetToCurrentTime()
	}
	if result != port.RESULT_SKIPPED {
		p.pollDuration.Observe(duration.Seconds())
	}
}

func (p *Prometheus) ObserveCommand(command string, result string) {
	p.commands.WithLabelValues(command, result).Inc()
}

// SerialInstrument times link steps.
func (p *Prometheus) SerialInstrument() *serial.Instrument {
	return &serial.Instrument{
		RecordTime: func(op string, d time.Duration) {
			p.serialSteps.WithLabelValues(op).Observe(d.Seconds())
		},
	}
}

// Subscribe mirrors sensor events into gauges until the subscription is removed.
func (p *Prometheus) Subscribe(es *eventstream.EventStream) *eventstream.Subscription {
	return es.Subscribe(p.onEvent)
}

func (p *Prometheus) onEvent(evt any) {
	switch event := evt.(type) {
	case domain.FloatSensorUpdateEvent:
		p.sensors.WithLabelValues(event.Id).Set(event.Value)
	case domain.InputNumberSensorUpdateEvent:
		p.sensors.WithLabelValues(event.Id).Set(event.Value)
	case domain.BinarySensorUpdateEvent:
		p.binary.WithLabelValues(event.Id).Set(bool2Float(event.Value))
	case domain.SwitchSensorUpdateEvent:
		p.binary.WithLabelValues(event.Id).Set(bool2Float(event.Value))
	}
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func bool2Float(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
