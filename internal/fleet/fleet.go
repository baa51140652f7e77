/*
Package fleet runs set of sensor drivers. Each sensor has own goroutine and own ticker,
slow or dead sensor does not delay others
*/
package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sds011 "github.com/hjkoskel/sds011sampler"
)

const DefaultTick = time.Second

type SensorStatus struct {
	Name     string          `json:"name"`
	Port     string          `json:"port"`
	DeviceID string          `json:"deviceId,omitempty"`
	State    string          `json:"state"`
	Latest   *sds011.Reading `json:"latest,omitempty"`
}

type Fleet struct {
	tick time.Duration
	log  *zap.Logger
	next sds011.Recorder

	mu      sync.Mutex
	drivers []*sds011.Driver
	latest  map[string]sds011.Reading
}

// New fleet passes every reading to next (may be nil) after storing it as latest
func New(tick time.Duration, next sds011.Recorder, log *zap.Logger) *Fleet {
	if tick <= 0 {
		tick = DefaultTick
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fleet{
		tick:   tick,
		log:    log,
		next:   next,
		latest: make(map[string]sds011.Reading),
	}
}

// RecordReading implements sds011.Recorder. Give fleet to drivers with sds011.WithRecorder
func (p *Fleet) RecordReading(r sds011.Reading) {
	p.mu.Lock()
	p.latest[r.SensorID] = r
	p.mu.Unlock()
	if p.next != nil {
		p.next.RecordReading(r)
	}
}

func (p *Fleet) Add(d *sds011.Driver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drivers = append(p.drivers, d)
}

func (p *Fleet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.drivers)
}

// Latest readings, one per sensor, sorted by sensor
func (p *Fleet) Latest() []sds011.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]sds011.Reading, 0, len(p.latest))
	for _, r := range p.latest {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SensorID < result[j].SensorID })
	return result
}

// Status of every sensor. Does not wait polls in progress
func (p *Fleet) Status() []SensorStatus {
	p.mu.Lock()
	drivers := append([]*sds011.Driver{}, p.drivers...)
	p.mu.Unlock()

	result := make([]SensorStatus, 0, len(drivers))
	for _, d := range drivers {
		st := SensorStatus{
			Name:  d.Name(),
			Port:  d.Port(),
			State: d.State().String(),
		}
		if id := d.DeviceID(); id != 0 {
			st.DeviceID = sds011.FormatDeviceID(id)
		}
		p.mu.Lock()
		if r, ok := p.latest[st.Name]; ok {
			st.Latest = &r
		}
		p.mu.Unlock()
		result = append(result, st)
	}
	return result
}

/*
Run polls all drivers until ctx is cancelled. Drivers are closed when Run returns
*/
func (p *Fleet) Run(ctx context.Context) error {
	p.mu.Lock()
	drivers := append([]*sds011.Driver{}, p.drivers...)
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range drivers {
		g.Go(func() error {
			defer func() {
				if err := d.Close(); err != nil {
					p.log.Warn("closing sensor failed", zap.String("port", d.Port()), zap.Error(err))
				}
			}()
			return p.runOne(ctx, d)
		})
	}
	return g.Wait()
}

func (p *Fleet) runOne(ctx context.Context, d *sds011.Driver) error {
	p.log.Info("sensor polling started", zap.String("port", d.Port()), zap.Duration("tick", p.tick))
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		d.Poll()
		select {
		case <-ctx.Done():
			p.log.Info("sensor polling stopped", zap.String("sensor", d.Name()))
			return nil
		case <-ticker.C:
		}
	}
}
