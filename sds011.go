package sds011

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultReadTimeout = 2 * time.Second //Query is sent, how long wait sensor response
)

var ErrInvalidConfig = errors.New("invalid sensor config")

type Config struct {
	TransportPath string
	SensorName    string        //Empty: sds011_<device id> learned from first reply
	Interval      time.Duration //Between samples
	Warmup        time.Duration //Fan running before sample
	ReadTimeout   time.Duration
	Target        uint16 //Zero or AnyDevice = broadcast
	//Consecutive missing replies before new handshake. 0 = never, stay and retry
	ResetAfterMisses int
	FanCheck         time.Duration //Query fan state this often while fan should be off. 0 = never
	KeepFanOn        bool          //Fan runs all the time, sample every interval
}

func DefaultConfig(path string) Config {
	return Config{
		TransportPath: path,
		Interval:      DefaultInterval,
		Warmup:        DefaultWarmup,
		ReadTimeout:   DefaultReadTimeout,
		Target:        AnyDevice,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Warmup == 0 {
		c.Warmup = DefaultWarmup
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Target == 0 {
		c.Target = AnyDevice
	}
	return c
}

func (c Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval %v", ErrInvalidConfig, c.Interval)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("%w: warmup %v", ErrInvalidConfig, c.Warmup)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout %v", ErrInvalidConfig, c.ReadTimeout)
	}
	if c.FanCheck < 0 {
		return fmt.Errorf("%w: fan check %v", ErrInvalidConfig, c.FanCheck)
	}
	if c.ResetAfterMisses < 0 {
		return fmt.Errorf("%w: reset after misses %v", ErrInvalidConfig, c.ResetAfterMisses)
	}
	return nil
}

type Option func(*Driver)

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithClock is for tests
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(d *Driver) {
		if r != nil {
			d.recorder = r
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.observer = o
		}
	}
}

// What Name, State and DeviceID report. Published when Poll returns
type driverStatus struct {
	name     string
	state    SensorState
	deviceID uint16
}

/*
Driver owns one sensor. Poll it on any cadence, it does one step per call.
Independent drivers share nothing and can be polled in parallel.
Status getters do not wait for poll in progress
*/
type Driver struct {
	mu sync.Mutex

	statusMu sync.RWMutex
	status   driverStatus

	conn  Conn
	cfg   Config
	cycle *DutyCycle

	name     string
	deviceID uint16 //Learned from replies

	now      func() time.Time
	log      *zap.Logger
	recorder Recorder
	observer Observer
}

func NewDriver(conn Conn, cfg Config, opts ...Option) (*Driver, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil conn", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		conn:     conn,
		cfg:      cfg,
		cycle:    NewDutyCycle(cfg.Interval, cfg.Warmup),
		name:     cfg.SensorName,
		now:      time.Now,
		log:      zap.NewNop(),
		recorder: nopRecorder{},
		observer: nopObserver{},
	}
	d.cycle.CheckFanEvery(cfg.FanCheck)
	d.cycle.KeepFanOn(cfg.KeepFanOn)
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(zap.String("port", cfg.TransportPath))
	d.publish()
	return d, nil
}

// Open opens serial port of the platform and creates driver on it
func Open(cfg Config, opts ...Option) (*Driver, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := OpenSerial(cfg.TransportPath, cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	d, err := NewDriver(conn, cfg, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Name is sensor id used in readings, port path until device id is known
func (d *Driver) Name() string {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status.name
}

func (d *Driver) nameLocked() string {
	if d.name != "" {
		return d.name
	}
	return d.cfg.TransportPath
}

// Port is transport path given in config
func (d *Driver) Port() string {
	return d.cfg.TransportPath
}

func (d *Driver) State() SensorState {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status.state
}

func (d *Driver) DeviceID() uint16 {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status.deviceID
}

// publish copies status for getters. d.mu must be held
func (d *Driver) publish() {
	st := driverStatus{name: d.nameLocked(), state: d.cycle.State(), deviceID: d.deviceID}
	d.statusMu.Lock()
	d.status = st
	d.statusMu.Unlock()
}

func (d *Driver) Close() error {
	return d.conn.Close()
}

/*
Poll does single state machine step: at most one command write and one read.
Transport trouble and garbage on line mean just "no reading this time"
*/
func (d *Driver) Poll() (Reading, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	before := d.cycle.State()
	defer func() {
		if after := d.cycle.State(); after != before {
			d.log.Debug("state changed", zap.Stringer("from", before), zap.Stringer("to", after))
			d.observer.StateChanged(d.nameLocked(), before, after)
		}
		d.publish()
	}()

	cmd, due := d.cycle.Next(now)
	if !due {
		return Reading{}, false
	}
	if err := d.send(cmd); err != nil {
		return Reading{}, false
	}
	d.cycle.Sent(cmd, now)
	if !cmd.AwaitsReply() {
		return Reading{}, false
	}

	raw, errRead := d.conn.ReadAvailable(d.cfg.ReadTimeout)
	if errRead != nil {
		d.log.Warn("serial read failed", zap.Stringer("cmd", cmd), zap.Error(errRead))
		d.observer.TransportError(d.nameLocked(), "read")
		return Reading{}, false
	}
	reply, found := d.match(cmd, raw)
	if !found {
		d.missed(cmd, len(raw))
		return Reading{}, false
	}
	if !d.cycle.Observe(cmd, reply, now) {
		return Reading{}, false
	}
	if cmd != RequestMeasurement {
		return Reading{}, false
	}

	r := Reading{
		SensorID:  d.nameLocked(),
		DeviceID:  reply.DeviceID,
		PM25:      reply.PM25(),
		PM10:      reply.PM10(),
		Timestamp: now,
	}
	d.log.Info("reading", zap.String("sensor", r.SensorID), zap.Float64("pm25", r.PM25), zap.Float64("pm10", r.PM10))
	d.recorder.RecordReading(r)
	d.observer.ReadingRecorded(r.SensorID, r)
	return r, true
}

func (d *Driver) send(cmd Command) error {
	if err := d.conn.Discard(); err != nil { //stale acks and spontaneous data away
		d.log.Warn("serial discard failed", zap.Error(err))
		d.observer.TransportError(d.nameLocked(), "discard")
		return err
	}
	payload := cmd.Frame(d.cfg.Target).Bytes()
	n, err := d.conn.Write(payload)
	if err == nil && n != len(payload) {
		err = fmt.Errorf("wrote only %v of %v bytes", n, len(payload))
	}
	if err != nil {
		d.log.Warn("serial write failed", zap.Stringer("cmd", cmd), zap.Error(err))
		d.observer.TransportError(d.nameLocked(), "write")
		return err
	}
	d.observer.CommandSent(d.nameLocked(), cmd)
	return nil
}

// First frame answering cmd from our target. Others are dropped silently
func (d *Driver) match(cmd Command, raw []byte) (ResponseFrame, bool) {
	for _, f := range DecodeAll(raw) {
		d.observer.FrameDecoded(d.nameLocked(), f)
		if d.cfg.Target != AnyDevice && f.DeviceID != d.cfg.Target {
			continue
		}
		if !cmd.Expects(f) {
			d.log.Debug("unexpected frame", zap.Stringer("cmd", cmd), zap.Stringer("frame", f))
			continue
		}
		d.learnID(f.DeviceID)
		return f, true
	}
	return ResponseFrame{}, false
}

func (d *Driver) learnID(id uint16) {
	if d.deviceID == id {
		return
	}
	d.deviceID = id
	if d.cfg.SensorName == "" {
		d.name = "sds011_" + FormatDeviceID(id)
		d.log.Info("sensor detected", zap.String("sensor", d.name))
	}
}

func (d *Driver) missed(cmd Command, nBytes int) {
	d.observer.DecodeMiss(d.nameLocked(), cmd)
	misses := d.cycle.Missed()
	d.log.Debug("no reply", zap.Stringer("cmd", cmd), zap.Int("bytes", nBytes), zap.Int("misses", misses))
	if 0 < d.cfg.ResetAfterMisses && d.cfg.ResetAfterMisses <= misses {
		d.log.Warn("sensor not answering, starting new handshake", zap.Int("misses", misses), zap.Stringer("state", d.cycle.State()))
		d.cycle.Reset()
	}
}
