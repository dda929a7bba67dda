package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusControllerMetrics(t *testing.T) {

	assert := assert.New(t)

	p := NewPrometheus()
	p.ObservePoll(port.RESULT_OK, 40*time.Millisecond)
	p.ObservePoll(port.RESULT_OK, 60*time.Millisecond)
	p.ObservePoll(port.RESULT_TIMEOUT, time.Second)
	p.ObservePoll(port.RESULT_SKIPPED, 0)
	p.ObserveCommand("set_load_output", port.RESULT_OK)

	assert.Equal(2.0, testutil.ToFloat64(p.polls.WithLabelValues(port.RESULT_OK)))
	assert.Equal(1.0, testutil.ToFloat64(p.polls.WithLabelValues(port.RESULT_SKIPPED)))
	assert.Equal(1.0, testutil.ToFloat64(p.commands.WithLabelValues("set_load_output", port.RESULT_OK)))
	assert.Equal(1, testutil.CollectAndCount(p.pollDuration, "mppt_poll_duration_seconds"))
	assert.Greater(testutil.ToFloat64(p.lastSuccess), 0.0)

	p.SerialInstrument().RecordTime("write", 2*time.Millisecond)
	assert.Equal(1, testutil.CollectAndCount(p.serialSteps))
}

func TestPrometheusSensorGauges(t *testing.T) {

	assert := assert.New(t)

	p := NewPrometheus()
	es := &eventstream.EventStream{}
	sub := p.Subscribe(es)

	es.Publish(domain.NewFloatEvent(domain.SENSOR_ID_PV_VOLTAGE, 36.4, 1))
	es.Publish(domain.NewSwitchEvent(domain.SWITCH_ID_LOAD, true))
	es.Publish(domain.NewBinaryEvent(domain.SENSOR_ID_DEVICE_CONNECTED, false))
	es.Publish(domain.NewTextEvent(domain.SENSOR_ID_WORKING_MODE, "MPPT"))

	assert.Equal(36.4, testutil.ToFloat64(p.sensors.WithLabelValues(domain.SENSOR_ID_PV_VOLTAGE)))
	assert.Equal(1.0, testutil.ToFloat64(p.binary.WithLabelValues(domain.SWITCH_ID_LOAD)))
	assert.Equal(0.0, testutil.ToFloat64(p.binary.WithLabelValues(domain.SENSOR_ID_DEVICE_CONNECTED)))

	es.Unsubscribe(sub)
	es.Publish(domain.NewFloatEvent(domain.SENSOR_ID_PV_VOLTAGE, 1, 1))
	assert.Equal(36.4, testutil.ToFloat64(p.sensors.WithLabelValues(domain.SENSOR_ID_PV_VOLTAGE)))
}

func TestPrometheusHandler(t *testing.T) {

	p := NewPrometheus()
	p.ObservePoll(port.RESULT_OK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mppt_polls_total{result="ok"} 1`)
}
