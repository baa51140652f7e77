/*
Duty cycle of the fan

Fan wears down while running, so it is kept off between samples.
After wake it must run a while before particle counts are trustworthy
(fresh airflow gives biased readings).

	Uninitialized -> FanOff -> FanWarming -> SamplingReady -> FanOff ...

Nothing here does I/O. Driver asks what to send with Next and reports back with Sent/Observe
*/

package sds011

import (
	"fmt"
	"time"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultWarmup   = 20 * time.Second //Hardware settling
)

type SensorState int

const (
	Uninitialized SensorState = iota
	FanOff
	FanWarming
	SamplingReady
)

func (s SensorState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case FanOff:
		return "fan-off"
	case FanWarming:
		return "fan-warming"
	case SamplingReady:
		return "sampling-ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// QueryModeConfirmed is true once handshake is done
func (s SensorState) QueryModeConfirmed() bool {
	return s != Uninitialized
}

type DutyCycle struct {
	interval time.Duration
	warmup   time.Duration
	fanCheck time.Duration //0: never ask fan state
	alwaysOn bool

	state        SensorState
	lastSample   time.Time //zero: sample right after handshake
	lastFanOn    time.Time
	lastFanCheck time.Time
	fanRunning   bool //fan reported working while it should be off, eg. sensor power cycled
	misses       int  //expected replies not arrived in row
}

func NewDutyCycle(interval time.Duration, warmup time.Duration) *DutyCycle {
	return &DutyCycle{interval: interval, warmup: warmup}
}

/*
CheckFanEvery makes fan state queried while fan should be off. Sensor that lost
power comes back working, fan found running is put to sleep.
First check goes right after handshake
*/
func (p *DutyCycle) CheckFanEvery(d time.Duration) {
	p.fanCheck = d
}

// KeepFanOn skips sleep: after first wake sample is requested every interval and fan keeps running
func (p *DutyCycle) KeepFanOn(on bool) {
	p.alwaysOn = on
}

func (p *DutyCycle) State() SensorState {
	return p.state
}

func (p *DutyCycle) LastSample() time.Time {
	return p.lastSample
}

func (p *DutyCycle) LastFanOn() time.Time {
	return p.lastFanOn
}

func (p *DutyCycle) Misses() int {
	return p.misses
}

// Next returns command current state wants sent now. false = idle tick
func (p *DutyCycle) Next(now time.Time) (Command, bool) {
	switch p.state {
	case Uninitialized:
		return EnterQueryMode, true
	case FanOff:
		if p.fanRunning {
			return Sleep, true
		}
		if p.interval <= now.Sub(p.lastSample) {
			return Wake, true
		}
		if 0 < p.fanCheck && p.fanCheck <= now.Sub(p.lastFanCheck) {
			return QueryFanState, true
		}
	case FanWarming:
		if p.warmup <= now.Sub(p.lastFanOn) {
			return RequestMeasurement, true
		}
	case SamplingReady:
		if !p.alwaysOn {
			return Sleep, true
		}
		if p.interval <= now.Sub(p.lastSample) {
			return RequestMeasurement, true
		}
	}
	return 0, false
}

// Sent commits transitions of commands that are not waiting reply. Called after every write
func (p *DutyCycle) Sent(cmd Command, now time.Time) {
	switch {
	case cmd == Wake && p.state == FanOff:
		p.lastFanOn = now
		p.state = FanWarming
	case cmd == Sleep && p.state == SamplingReady:
		p.state = FanOff
	case cmd == Sleep && p.state == FanOff:
		p.fanRunning = false
	case cmd == QueryFanState:
		p.lastFanCheck = now
	}
}

/*
Observe applies reply of pending command. Returns true if state advanced or
new sample was taken. Replies not matching to pending command are ignored
*/
func (p *DutyCycle) Observe(cmd Command, reply ResponseFrame, now time.Time) bool {
	if !cmd.Expects(reply) {
		return false
	}
	switch {
	case cmd == EnterQueryMode && p.state == Uninitialized:
		p.state = FanOff
	case cmd == RequestMeasurement && (p.state == FanWarming || p.alwaysOn && p.state == SamplingReady):
		p.lastSample = now
		p.state = SamplingReady
	case cmd == QueryFanState && p.state == FanOff:
		p.fanRunning = reply.Data[2] == 1
		p.misses = 0
		return false
	default:
		return false
	}
	p.misses = 0
	return true
}

// Missed counts tick where expected reply did not come
func (p *DutyCycle) Missed() int {
	p.misses++
	return p.misses
}

// Reset forces new handshake. Sample timing is kept
func (p *DutyCycle) Reset() {
	p.state = Uninitialized
	p.misses = 0
}
