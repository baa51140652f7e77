/*
Package sink has destinations for completed readings.
Every sink reports its own result. What to do with failure is caller's policy
*/
package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	sds011 "github.com/hjkoskel/sds011sampler"
)

type Sink interface {
	Name() string
	Record(ctx context.Context, r sds011.Reading) error
	Close() error
}

// Payload is JSON shape shared by broker and cache sinks
type Payload struct {
	Time   string  `json:"time"`
	Sensor string  `json:"sensor"`
	PM25   float64 `json:"pm25"`
	PM10   float64 `json:"pm10"`
	Type   string  `json:"type"`
}

func NewPayload(r sds011.Reading) Payload {
	return Payload{
		Time:   r.Timestamp.Format(time.RFC3339),
		Sensor: r.SensorID,
		PM25:   r.PM25,
		PM10:   r.PM10,
		Type:   "json",
	}
}

// Multi records to all sinks, one failing does not stop others
type Multi struct {
	Sinks    []Sink
	OnResult func(sink string, err error) //optional
}

func (p *Multi) Name() string {
	return "multi"
}

func (p *Multi) Record(ctx context.Context, r sds011.Reading) error {
	var result error
	for _, s := range p.Sinks {
		err := s.Record(ctx, r)
		if p.OnResult != nil {
			p.OnResult(s.Name(), err)
		}
		if err != nil {
			result = multierr.Append(result, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return result
}

func (p *Multi) Close() error {
	var result error
	for _, s := range p.Sinks {
		result = multierr.Append(result, s.Close())
	}
	return result
}

/*
Recorder adapts Sink to sds011.Recorder. Policy is log and drop,
sensor keeps its cadence even if network is down
*/
type Recorder struct {
	Sink    Sink
	Timeout time.Duration
	Log     *zap.Logger
}

func (p *Recorder) RecordReading(r sds011.Reading) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Sink.Record(ctx, r); err != nil {
		for _, e := range multierr.Errors(err) {
			p.Log.Warn("sink failed", zap.String("sensor", r.SensorID), zap.Error(e))
		}
	}
}
