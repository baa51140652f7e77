package sds011

import (
	"fmt"
	"time"
)

// Reading is one completed sample. NOTICE: non calibrated values
type Reading struct {
	SensorID  string    `json:"sensor"`
	DeviceID  uint16    `json:"deviceId"`
	PM25      float64   `json:"pm25"` //µg/m³
	PM10      float64   `json:"pm10"` //µg/m³
	Timestamp time.Time `json:"time"`
}

func (p Reading) String() string {
	return fmt.Sprintf("%v %v PM2.5= %.1fµg/m³ PM10= %.1fµg/m³", p.SensorID, p.Timestamp.Format(time.RFC3339), p.PM25, p.PM10)
}

// Recorder gets every completed reading. How many sinks are behind it is not driver's business
type Recorder interface {
	RecordReading(r Reading)
}

type RecorderFunc func(r Reading)

func (f RecorderFunc) RecordReading(r Reading) {
	f(r)
}

type nopRecorder struct{}

func (nopRecorder) RecordReading(Reading) {}
