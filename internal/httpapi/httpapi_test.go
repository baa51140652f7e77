package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	sds011 "github.com/hjkoskel/sds011sampler"
	"github.com/hjkoskel/sds011sampler/internal/fleet"
	"github.com/hjkoskel/sds011sampler/sds011sim"
)

type fakeSource struct {
	status []fleet.SensorStatus
	latest []sds011.Reading
}

func (p *fakeSource) Len() int                      { return len(p.status) }
func (p *fakeSource) Status() []fleet.SensorStatus { return p.status }
func (p *fakeSource) Latest() []sds011.Reading     { return p.latest }

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestRouter(t *testing.T) {
	ts := time.Date(2020, 2, 14, 8, 30, 0, 0, time.UTC)
	reading := sds011.Reading{SensorID: "sds011_A160", DeviceID: 0xA160, PM25: 12.3, PM10: 25.6, Timestamp: ts}
	src := &fakeSource{
		status: []fleet.SensorStatus{
			{Name: "sds011_A160", Port: "/dev/ttyUSB0", DeviceID: "A160", State: "fan-off", Latest: &reading},
			{Name: "/dev/ttyUSB1", Port: "/dev/ttyUSB1", State: "uninitialized"},
		},
		latest: []sds011.Reading{reading},
	}
	sim := sds011sim.NewSensor(0xA160)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sds011_readings_total 1\n"))
	})
	srv := httptest.NewServer(NewRouter(src, Options{Metrics: metrics, Sims: map[string]*sds011sim.Sensor{"sim0": sim}}))
	defer srv.Close()

	code, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","sensors":2}`, string(body))

	code, body = get(t, srv.URL+"/readings")
	assert.Equal(t, http.StatusOK, code)
	var readings []sds011.Reading
	require.NoError(t, json.Unmarshal(body, &readings))
	require.Len(t, readings, 1)
	assert.Equal(t, "sds011_A160", readings[0].SensorID)
	assert.Equal(t, 25.6, readings[0].PM10)
	assert.True(t, ts.Equal(readings[0].Timestamp))

	code, body = get(t, srv.URL+"/sensors")
	assert.Equal(t, http.StatusOK, code)
	var status []fleet.SensorStatus
	require.NoError(t, json.Unmarshal(body, &status))
	require.Len(t, status, 2)
	assert.Equal(t, "fan-off", status[0].State)
	assert.Nil(t, status[1].Latest)

	code, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "sds011_readings_total")

	code, body = get(t, srv.URL+"/sim/sim0/status")
	assert.Equal(t, http.StatusOK, code)
	var simStatus sds011sim.SensorModelStatus
	require.NoError(t, json.Unmarshal(body, &simStatus))
	assert.True(t, simStatus.Working)

	code, _ = get(t, srv.URL+"/sim/nope/status")
	assert.Equal(t, http.StatusNotFound, code)

	resp, err := http.Post(srv.URL+"/readings", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouterWithoutMetrics(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&fakeSource{}, Options{}))
	defer srv.Close()
	code, _ := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
	code, body := get(t, srv.URL+"/readings")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `null`, string(body))
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", NewRouter(&fakeSource{}, Options{}), zaptest.NewLogger(t))
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeBadAddress(t *testing.T) {
	err := Serve(context.Background(), "127.0.0.1:-1", http.NotFoundHandler(), zaptest.NewLogger(t))
	assert.Error(t, err)
}
