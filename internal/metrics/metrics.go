package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sds011 "github.com/hjkoskel/sds011sampler"
)

// NewRegistry creates own registry with go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SensorMetrics implements sds011.Observer
type SensorMetrics struct {
	CommandsSent    *prometheus.CounterVec // labels: sensor, cmd
	FramesDecoded   *prometheus.CounterVec // labels: sensor, kind
	DecodeMisses    *prometheus.CounterVec // labels: sensor, cmd
	TransportErrors *prometheus.CounterVec // labels: sensor, op
	StateChanges    *prometheus.CounterVec // labels: sensor, to
	Readings        *prometheus.CounterVec // labels: sensor
	PM              *prometheus.GaugeVec   // labels: sensor, size
	SinkResults     *prometheus.CounterVec // labels: sink, result
}

func NewSensorMetrics(reg prometheus.Registerer) *SensorMetrics {
	m := &SensorMetrics{
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds011_commands_sent_total",
			Help: "Command frames written to sensor.",
		}, []string{"sensor", "cmd"}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds011_frames_decoded_total",
			Help: "Valid response frames decoded.",
		}, []string{"sensor", "kind"}),
		DecodeMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds011_decode_miss_total",
			Help: "Ticks where expected reply did not arrive.",
		}, []string{"sensor", "cmd"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds011_transport_errors_total",
			Help: "Serial link errors.",
		}, []string{"sensor", "op"}),
		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds011_state_changes_total",
			Help: "Duty cycle transitions by target state.",
		}, []string{"sensor", "to"}),
		Readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds011_readings_total",
			Help: "Completed samples.",
		}, []string{"sensor"}),
		PM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sds011_pm_ugm3",
			Help: "Latest particulate matter reading in µg/m³.",
		}, []string{"sensor", "size"}),
		SinkResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds011_sink_results_total",
			Help: "Sink record attempts.",
		}, []string{"sink", "result"}),
	}
	reg.MustRegister(m.CommandsSent, m.FramesDecoded, m.DecodeMisses, m.TransportErrors, m.StateChanges, m.Readings, m.PM, m.SinkResults)
	return m
}

func (m *SensorMetrics) CommandSent(sensor string, cmd sds011.Command) {
	m.CommandsSent.WithLabelValues(sensor, cmd.String()).Inc()
}

func (m *SensorMetrics) FrameDecoded(sensor string, f sds011.ResponseFrame) {
	kind := "ack"
	if f.IsMeasurement() {
		kind = "data"
	}
	m.FramesDecoded.WithLabelValues(sensor, kind).Inc()
}

func (m *SensorMetrics) DecodeMiss(sensor string, cmd sds011.Command) {
	m.DecodeMisses.WithLabelValues(sensor, cmd.String()).Inc()
}

func (m *SensorMetrics) TransportError(sensor string, op string) {
	m.TransportErrors.WithLabelValues(sensor, op).Inc()
}

func (m *SensorMetrics) StateChanged(sensor string, from sds011.SensorState, to sds011.SensorState) {
	m.StateChanges.WithLabelValues(sensor, to.String()).Inc()
}

func (m *SensorMetrics) ReadingRecorded(sensor string, r sds011.Reading) {
	m.Readings.WithLabelValues(sensor).Inc()
	m.PM.WithLabelValues(sensor, "pm25").Set(r.PM25)
	m.PM.WithLabelValues(sensor, "pm10").Set(r.PM10)
}

// SinkResult counts outcome of one sink record call
func (m *SensorMetrics) SinkResult(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SinkResults.WithLabelValues(sink, result).Inc()
}
