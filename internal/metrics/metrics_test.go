package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sds011 "github.com/hjkoskel/sds011sampler"
)

// value of metric with given label values, -1 if not found
func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metricLoop
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func TestSensorMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewSensorMetrics(reg)
	var obs sds011.Observer = m

	obs.CommandSent("s1", sds011.Wake)
	obs.CommandSent("s1", sds011.Wake)
	obs.DecodeMiss("s1", sds011.RequestMeasurement)
	obs.TransportError("s1", "read")
	obs.StateChanged("s1", sds011.FanOff, sds011.FanWarming)
	obs.FrameDecoded("s1", sds011.NewDataReply(0xA160, 123, 256))
	obs.ReadingRecorded("s1", sds011.Reading{SensorID: "s1", PM25: 12.3, PM10: 25.6, Timestamp: time.Now()})
	m.SinkResult("mqtt", nil)
	m.SinkResult("mqtt", errors.New("down"))
	m.SinkResult("mqtt", errors.New("down"))

	assert.Equal(t, 2.0, gathered(t, reg, "sds011_commands_sent_total", map[string]string{"sensor": "s1", "cmd": sds011.Wake.String()}))
	assert.Equal(t, 1.0, gathered(t, reg, "sds011_decode_miss_total", map[string]string{"sensor": "s1", "cmd": sds011.RequestMeasurement.String()}))
	assert.Equal(t, 1.0, gathered(t, reg, "sds011_transport_errors_total", map[string]string{"sensor": "s1", "op": "read"}))
	assert.Equal(t, 1.0, gathered(t, reg, "sds011_state_changes_total", map[string]string{"sensor": "s1", "to": "fan-warming"}))
	assert.Equal(t, 1.0, gathered(t, reg, "sds011_frames_decoded_total", map[string]string{"sensor": "s1", "kind": "data"}))
	assert.Equal(t, 1.0, gathered(t, reg, "sds011_readings_total", map[string]string{"sensor": "s1"}))
	assert.Equal(t, 12.3, gathered(t, reg, "sds011_pm_ugm3", map[string]string{"sensor": "s1", "size": "pm25"}))
	assert.Equal(t, 25.6, gathered(t, reg, "sds011_pm_ugm3", map[string]string{"sensor": "s1", "size": "pm10"}))
	assert.Equal(t, 1.0, gathered(t, reg, "sds011_sink_results_total", map[string]string{"sink": "mqtt", "result": "ok"}))
	assert.Equal(t, 2.0, gathered(t, reg, "sds011_sink_results_total", map[string]string{"sink": "mqtt", "result": "error"}))
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewSensorMetrics(reg)
	m.ReadingRecorded("s1", sds011.Reading{SensorID: "s1", PM25: 1, PM10: 2})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sds011_readings_total{sensor="s1"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSensorMetrics(reg)
	assert.Panics(t, func() { NewSensorMetrics(reg) })
}
