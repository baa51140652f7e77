package sds011

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeConn answers like a sensor would. respond decides reply per command frame
type fakeConn struct {
	written  []CommandFrame
	pending  []byte
	discards int
	reads    int

	respond    func(f CommandFrame) []byte
	writeErr   error
	readErr    error
	discardErr error
	shortWrite bool
}

func (p *fakeConn) Write(data []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	f, _, ok := ParseCommandFrame(data)
	if !ok {
		return 0, errors.New("not a command frame")
	}
	p.written = append(p.written, f)
	if p.respond != nil {
		p.pending = append(p.pending, p.respond(f)...)
	}
	if p.shortWrite {
		return len(data) - 1, nil
	}
	return len(data), nil
}

func (p *fakeConn) ReadAvailable(time.Duration) ([]byte, error) {
	p.reads++
	if p.readErr != nil {
		return nil, p.readErr
	}
	result := p.pending
	p.pending = nil
	return result, nil
}

func (p *fakeConn) Discard() error {
	p.discards++
	if p.discardErr != nil {
		return p.discardErr
	}
	p.pending = nil
	return nil
}

func (p *fakeConn) Close() error {
	return nil
}

func (p *fakeConn) lastOpcode() [3]byte {
	if len(p.written) == 0 {
		return [3]byte{}
	}
	return p.written[len(p.written)-1].Opcode()
}

// sensorLike acks everything the way SDS011 with id does
func sensorLike(id uint16, pm25Reg uint16, pm10Reg uint16) func(f CommandFrame) []byte {
	return func(f CommandFrame) []byte {
		op := f.Opcode()
		if op[0] == FuncQueryData {
			return NewDataReply(id, pm25Reg, pm10Reg).Bytes()
		}
		return NewResponse(ReplyAck, [4]byte{op[0], op[1], op[2], 0}, id).Bytes()
	}
}

type fakeClock struct {
	t time.Time
}

func (p *fakeClock) Now() time.Time {
	return p.t
}

func (p *fakeClock) Advance(d time.Duration) {
	p.t = p.t.Add(d)
}

type recorded struct {
	readings []Reading
}

func (p *recorded) RecordReading(r Reading) {
	p.readings = append(p.readings, r)
}

func newTestDriver(t *testing.T, conn Conn, cfg Config) (*Driver, *fakeClock, *recorded) {
	clock := &fakeClock{t: time.Date(2020, 2, 1, 12, 0, 0, 0, time.UTC)}
	rec := &recorded{}
	d, err := NewDriver(conn, cfg, WithClock(clock.Now), WithRecorder(rec), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return d, clock, rec
}

func TestDriverFullCycle(t *testing.T) {
	conn := &fakeConn{respond: sensorLike(0xA160, 1236, 2618)}
	d, clock, rec := newTestDriver(t, conn, DefaultConfig("/dev/ttyUSB0"))
	require.Equal(t, Uninitialized, d.State())
	assert.Equal(t, "/dev/ttyUSB0", d.Name())

	_, ok := d.Poll()
	assert.False(t, ok)
	assert.Equal(t, FanOff, d.State())
	assert.Equal(t, EnterQueryMode.Opcode(), conn.lastOpcode())
	assert.Equal(t, uint16(0xA160), d.DeviceID())
	assert.Equal(t, "sds011_A160", d.Name())

	clock.Advance(time.Second)
	_, ok = d.Poll()
	assert.False(t, ok)
	assert.Equal(t, FanWarming, d.State())
	assert.Equal(t, Wake.Opcode(), conn.lastOpcode())
	readsAfterWake := conn.reads

	clock.Advance(DefaultWarmup)
	r, ok := d.Poll()
	require.True(t, ok)
	assert.Equal(t, SamplingReady, d.State())
	assert.Equal(t, RequestMeasurement.Opcode(), conn.lastOpcode())
	assert.InDelta(t, 123.6, r.PM25, 1e-9)
	assert.InDelta(t, 261.8, r.PM10, 1e-9)
	assert.Equal(t, "sds011_A160", r.SensorID)
	assert.Equal(t, uint16(0xA160), r.DeviceID)
	assert.Equal(t, clock.Now(), r.Timestamp)
	require.Len(t, rec.readings, 1)
	assert.Equal(t, r, rec.readings[0])

	clock.Advance(time.Second)
	_, ok = d.Poll()
	assert.False(t, ok)
	assert.Equal(t, FanOff, d.State())
	assert.Equal(t, Sleep.Opcode(), conn.lastOpcode())

	//wake and sleep are fire and forget
	assert.Equal(t, readsAfterWake+1, conn.reads)
	assert.Equal(t, len(conn.written), conn.discards, "discard before every write")

	clock.Advance(30 * time.Second)
	nWritten := len(conn.written)
	_, ok = d.Poll()
	assert.False(t, ok)
	assert.Equal(t, nWritten, len(conn.written), "interval not passed yet")
	assert.Len(t, rec.readings, 1)
}

func TestDriverWarmingIsIdle(t *testing.T) {
	conn := &fakeConn{respond: sensorLike(0xA160, 10, 20)}
	d, clock, _ := newTestDriver(t, conn, DefaultConfig("/dev/ttyUSB0"))
	d.Poll()
	d.Poll()
	require.Equal(t, FanWarming, d.State())

	nWritten := len(conn.written)
	nReads := conn.reads
	for i := 0; i < 19; i++ {
		clock.Advance(time.Second)
		_, ok := d.Poll()
		assert.False(t, ok)
	}
	assert.Equal(t, FanWarming, d.State())
	assert.Equal(t, nWritten, len(conn.written))
	assert.Equal(t, nReads, conn.reads)
}

func TestDriverConfiguredNameIsKept(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB1")
	cfg.SensorName = "balcony"
	conn := &fakeConn{respond: sensorLike(0xA160, 10, 20)}
	d, _, _ := newTestDriver(t, conn, cfg)
	d.Poll()
	assert.Equal(t, "balcony", d.Name())
	assert.Equal(t, uint16(0xA160), d.DeviceID())
}

func TestDriverNoReplyStaysPut(t *testing.T) {
	conn := &fakeConn{}
	d, clock, _ := newTestDriver(t, conn, DefaultConfig("/dev/ttyUSB0"))
	for i := 0; i < 5; i++ {
		_, ok := d.Poll()
		assert.False(t, ok)
		clock.Advance(time.Second)
	}
	assert.Equal(t, Uninitialized, d.State())
	assert.Len(t, conn.written, 5, "query mode is retried every tick")
}

func TestDriverTransportErrorsPreserveState(t *testing.T) {
	conn := &fakeConn{respond: sensorLike(0xA160, 10, 20)}
	d, clock, rec := newTestDriver(t, conn, DefaultConfig("/dev/ttyUSB0"))
	d.Poll()
	d.Poll()
	require.Equal(t, FanWarming, d.State())
	clock.Advance(DefaultWarmup)

	conn.writeErr = errors.New("link down")
	_, ok := d.Poll()
	assert.False(t, ok)
	assert.Equal(t, FanWarming, d.State())
	conn.writeErr = nil

	conn.readErr = errors.New("read failed")
	_, ok = d.Poll()
	assert.False(t, ok)
	assert.Equal(t, FanWarming, d.State())
	conn.readErr = nil

	conn.discardErr = errors.New("flush failed")
	_, ok = d.Poll()
	assert.False(t, ok)
	assert.Equal(t, FanWarming, d.State())
	conn.discardErr = nil

	conn.shortWrite = true
	_, ok = d.Poll()
	assert.False(t, ok)
	assert.Equal(t, FanWarming, d.State())
	conn.shortWrite = false

	_, ok = d.Poll()
	assert.True(t, ok)
	assert.Len(t, rec.readings, 1)
}

func TestDriverWakeWriteFailureStaysFanOff(t *testing.T) {
	conn := &fakeConn{respond: sensorLike(0xA160, 10, 20)}
	d, _, _ := newTestDriver(t, conn, DefaultConfig("/dev/ttyUSB0"))
	d.Poll()
	require.Equal(t, FanOff, d.State())

	conn.writeErr = errors.New("link down")
	d.Poll()
	assert.Equal(t, FanOff, d.State())
}

func TestDriverGarbageAndWrongReplies(t *testing.T) {
	conn := &fakeConn{}
	d, _, _ := newTestDriver(t, conn, DefaultConfig("/dev/ttyUSB0"))

	conn.respond = func(CommandFrame) []byte {
		return []byte{0xAA, 0x13, 0x37, 0xAA, 0xAB}
	}
	d.Poll()
	assert.Equal(t, Uninitialized, d.State())

	conn.respond = func(CommandFrame) []byte { //valid frame, wrong answer
		return NewResponse(ReplyAck, [4]byte{FuncSleepWork, 1, 1, 0}, 0xA160).Bytes()
	}
	d.Poll()
	assert.Equal(t, Uninitialized, d.State())

	conn.respond = func(f CommandFrame) []byte { //noise first, then ack
		return append([]byte{0x00, 0xAA, 0x01}, sensorLike(0xA160, 1, 2)(f)...)
	}
	d.Poll()
	assert.Equal(t, FanOff, d.State())
}

func TestDriverTargetFilter(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")
	cfg.Target = 0xA160
	conn := &fakeConn{respond: sensorLike(0x1234, 10, 20)}
	d, _, _ := newTestDriver(t, conn, cfg)

	d.Poll()
	assert.Equal(t, Uninitialized, d.State(), "other sensor on bus")
	assert.Equal(t, uint16(0xA160), conn.written[0].Target())

	conn.respond = sensorLike(0xA160, 10, 20)
	d.Poll()
	assert.Equal(t, FanOff, d.State())
}

func TestDriverResetAfterMisses(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")
	cfg.ResetAfterMisses = 3
	conn := &fakeConn{respond: sensorLike(0xA160, 10, 20)}
	d, clock, _ := newTestDriver(t, conn, cfg)
	d.Poll()
	d.Poll()
	require.Equal(t, FanWarming, d.State())
	clock.Advance(DefaultWarmup)

	conn.respond = nil //sensor unplugged
	d.Poll()
	d.Poll()
	assert.Equal(t, FanWarming, d.State())
	d.Poll()
	assert.Equal(t, Uninitialized, d.State())

	conn.respond = sensorLike(0xA160, 10, 20)
	d.Poll()
	assert.Equal(t, FanOff, d.State())
}

func TestDriverStallsWithoutReset(t *testing.T) {
	conn := &fakeConn{respond: sensorLike(0xA160, 10, 20)}
	d, clock, _ := newTestDriver(t, conn, DefaultConfig("/dev/ttyUSB0"))
	d.Poll()
	d.Poll()
	clock.Advance(DefaultWarmup)

	conn.respond = nil
	for i := 0; i < 50; i++ {
		d.Poll()
	}
	assert.Equal(t, FanWarming, d.State())
}

type countingObserver struct {
	nopObserver
	sent        int
	misses      int
	transport   int
	transitions []SensorState
	readings    int
}

func (p *countingObserver) CommandSent(string, Command) { p.sent++ }
func (p *countingObserver) DecodeMiss(string, Command) { p.misses++ }
func (p *countingObserver) TransportError(string, string) { p.transport++ }
func (p *countingObserver) ReadingRecorded(string, Reading) {
	p.readings++
}
func (p *countingObserver) StateChanged(_ string, _ SensorState, to SensorState) {
	p.transitions = append(p.transitions, to)
}

func TestDriverObserver(t *testing.T) {
	obs := &countingObserver{}
	conn := &fakeConn{respond: sensorLike(0xA160, 10, 20)}
	clock := &fakeClock{t: time.Now()}
	d, err := NewDriver(conn, DefaultConfig("/dev/ttyUSB0"), WithClock(clock.Now), WithObserver(obs))
	require.NoError(t, err)

	d.Poll()
	d.Poll()
	clock.Advance(DefaultWarmup)
	d.Poll()
	d.Poll()

	assert.Equal(t, 4, obs.sent)
	assert.Equal(t, 1, obs.readings)
	assert.Equal(t, []SensorState{FanOff, FanWarming, SamplingReady, FanOff}, obs.transitions)

	conn.respond = nil
	clock.Advance(DefaultInterval)
	d.Poll()
	clock.Advance(DefaultWarmup)
	d.Poll()
	assert.Equal(t, 1, obs.misses)

	conn.readErr = errors.New("boom")
	d.Poll()
	assert.Equal(t, 1, obs.transport)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig("/dev/ttyUSB0").Validate())

	cfg := DefaultConfig("/dev/ttyUSB0")
	cfg.Interval = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig("/dev/ttyUSB0")
	cfg.FanCheck = -time.Minute
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig("/dev/ttyUSB0")
	cfg.ResetAfterMisses = -1
	_, err := NewDriver(&fakeConn{}, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDriver(nil, DefaultConfig("/dev/ttyUSB0"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaultsFilled(t *testing.T) {
	conn := &fakeConn{}
	d, err := NewDriver(conn, Config{TransportPath: "/dev/ttyUSB0"})
	require.NoError(t, err)
	d.Poll()
	require.Len(t, conn.written, 1)
	assert.Equal(t, uint16(AnyDevice), conn.written[0].Target())
}

// blockingConn holds ReadAvailable until released, like dead sensor on long timeout
type blockingConn struct {
	fakeConn
	reading chan struct{}
	release chan struct{}
}

func (p *blockingConn) ReadAvailable(timeout time.Duration) ([]byte, error) {
	p.reading <- struct{}{}
	<-p.release
	return nil, nil
}

func TestDriverStatusDoesNotWaitPoll(t *testing.T) {
	conn := &blockingConn{reading: make(chan struct{}), release: make(chan struct{})}
	d, err := NewDriver(conn, DefaultConfig("/dev/ttyUSB0"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		d.Poll()
		close(done)
	}()
	<-conn.reading

	start := time.Now()
	assert.Equal(t, "/dev/ttyUSB0", d.Name())
	assert.Equal(t, Uninitialized, d.State())
	assert.Equal(t, uint16(0), d.DeviceID())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(conn.release)
	<-done
	assert.Equal(t, Uninitialized, d.State())
}

func TestDriverFanCheckSleepsPowerCycledSensor(t *testing.T) {
	fanRunning := false
	conn := &fakeConn{}
	plain := sensorLike(0xA160, 100, 200)
	conn.respond = func(f CommandFrame) []byte {
		op := f.Opcode()
		if op[0] == FuncSleepWork && op[1] == 0 {
			state := byte(0)
			if fanRunning {
				state = 1
			}
			return NewResponse(ReplyAck, [4]byte{FuncSleepWork, 0, state, 0}, 0xA160).Bytes()
		}
		if op[0] == FuncSleepWork {
			fanRunning = op[2] == 1
		}
		return plain(f)
	}
	cfg := DefaultConfig("/dev/ttyUSB0")
	cfg.Interval = time.Hour
	cfg.FanCheck = time.Minute
	d, clock, rec := newTestDriver(t, conn, cfg)

	for i := 0; i < 30; i++ { //handshake, wake, sample, sleep
		d.Poll()
		clock.Advance(time.Second)
	}
	require.Len(t, rec.readings, 1)
	require.Equal(t, FanOff, d.State())
	require.False(t, fanRunning)

	fanRunning = true //power cut and back
	clock.Advance(time.Minute)
	d.Poll()
	assert.Equal(t, QueryFanState.Opcode(), conn.lastOpcode())
	clock.Advance(time.Second)
	d.Poll()
	assert.Equal(t, Sleep.Opcode(), conn.lastOpcode())
	assert.False(t, fanRunning)
	assert.Equal(t, FanOff, d.State())
}
