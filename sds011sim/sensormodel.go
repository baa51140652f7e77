/*
Sensor model

Simulated SDS011 on the other end of Conn. Model can be manipulated by user while running

It is important to notice that simulated sensor recieves all messages "ok".
It just acts as faulty sensor (or comm link) when needed.
*/

package sds011sim

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	sds011 "github.com/hjkoskel/sds011sampler"
)

const (
	INTERVALIDLECHARS = 1500 * time.Millisecond
	continuousReport  = time.Second //Period 0 reports every second
)

var ErrClosed = errors.New("simulated sensor closed")

// Separate settings and status
type SensorModelStatus struct {
	Working            bool   `json:"working"`            //fan running or sleep
	FanStarts          int    `json:"fanStarts"`          //sleep->work transitions, fan wear
	MeasurementCounter int    `json:"measurementCounter"` //- measurement counter (for sim)
	RxPacketCounter    int    `json:"rxPacketCounter"`    //- packet counters
	TxPacketCounter    int    `json:"txPacketCounter"`    //- packet counters
	SmallRegNow        uint16 `json:"smallRegNow"`
	LargeRegNow        uint16 `json:"largeRegNow"`
	BurnEventCounter   int    `json:"burnEventCounter"` //How many persistent save events happened
}

type SensorModel struct {
	SensorMem      SensorMemory      `json:"sensorMem"`
	SmallParticles SignalModel       `json:"smallParticles"`
	LargeParticles SignalModel       `json:"largeParticles"`
	Connectivity   ConnectivityModel `json:"connectivity"` //Allow simulate communication conditions
}

type ConnectivityModel struct {
	RxConnected         bool `json:"rxConnected"`         //- rx line connected ( computer-> sensor)  RX not connected. Sensor do not react :D
	TxConnected         bool `json:"txConnected"`         //- tx line connected (sensor -> computer).
	ShortCircuit        bool `json:"shortCircuit"`        //rx and tx lines are connected together ERROR MODE
	DirectionChangeNull bool `json:"directionChangeNull"` //RS485 artefact. when recieve/transit changes there is null character
	IncompletePackages  bool `json:"incompletePackages"`  //Not all bytes are coming
	InvalidCRC          bool `json:"invalidCRC"`          //Wrong CRC, easy test
	IdleCharacters      bool `json:"idleCharacters"`      //Random line noise in between packets
}

type SignalModel struct { //Works as floats.. registers report as 10*
	Noise     float64 `json:"noise"` //in range [value-noise, value+noise]
	Offset    float64 `json:"offset"`
	Period    int64   `json:"period"`    //In milliseconds, sine period
	Phase     int64   `json:"phase"`     //In milliseconds.
	Amplitude float64 `json:"amplitude"` // offset-amplitude to offset+amplitude
}

type SensorMemory struct {
	Id           uint16 `json:"id"`
	VersionYear  byte   `json:"year"` // - Version:  year,month,day
	VersionMonth byte   `json:"month"`
	VersionDay   byte   `json:"day"`
	Period       byte   `json:"period"`
	QueryMode    bool   `json:"queryMode"`
}

func (p *SignalModel) Calc(t time.Time, rnd *rand.Rand) float64 {
	wave := 0.0
	if p.Period != 0 {
		ms := t.UnixMilli()
		angle := 2.0 * math.Pi * float64((ms+p.Phase)%p.Period) / float64(p.Period)
		wave = math.Sin(angle) * p.Amplitude
	}
	noise := 0.0
	if p.Noise != 0 {
		noise = (rnd.Float64()*2.0 - 1.0) * p.Noise
	}
	return math.Max(0, noise+wave+p.Offset)
}

// Trash signal only if needed
func (p *ConnectivityModel) TrashSignal(f sds011.ResponseFrame) []byte {
	arr := f.Bytes()
	if p.InvalidCRC {
		arr[len(arr)-2] += 1
	}
	if p.DirectionChangeNull {
		arr = append([]byte{0}, arr...)
		arr = append(arr, 0)
	}
	if p.IncompletePackages { //Cut away from end reciever might keep waiting?
		arr = arr[0 : len(arr)-4]
	}
	return arr
}

/*
Sensor implements sds011.Conn. Everything happens when host writes or reads,
there is no goroutine inside
*/
type Sensor struct {
	mu     sync.Mutex
	model  SensorModel
	status SensorModelStatus

	out        []byte //towards host
	closed     bool
	now        func() time.Time
	rnd        *rand.Rand
	lastReport time.Time
	lastTrash  time.Time
}

func NewSensor(id uint16) *Sensor {
	result := &Sensor{
		now: time.Now,
		rnd: rand.New(rand.NewSource(int64(id))),
	}
	result.model = SensorModel{
		SensorMem:      SensorMemory{Id: id, VersionYear: 19, VersionMonth: 9, VersionDay: 28, Period: 0, QueryMode: false},
		SmallParticles: SignalModel{Offset: 12.3},
		LargeParticles: SignalModel{Offset: 25.6},
		Connectivity:   ConnectivityModel{RxConnected: true, TxConnected: true},
	}
	result.status.Working = true //Powers up running
	return result
}

func (p *Sensor) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *Sensor) Model() SensorModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

func (p *Sensor) SetModel(m SensorModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = m
}

func (p *Sensor) Status() SensorModelStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// PowerCycle is power cut and back. Settings in flash stay, fan starts running
func (p *Sensor) PowerCycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = nil
	if !p.status.Working {
		p.status.FanStarts++
	}
	p.status.Working = true
}

// Inject puts raw bytes on the line towards host
func (p *Sensor) Inject(raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, raw...)
}

func (p *Sensor) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if !p.model.Connectivity.RxConnected {
		return len(data), nil //Goes nowhere
	}
	if p.model.Connectivity.ShortCircuit {
		p.out = append(p.out, data...) //Immediately report same back as fast wires would :D
		return len(data), nil
	}
	buf := data
	for {
		f, next, ok := sds011.ParseCommandFrame(buf)
		if !ok {
			break
		}
		buf = buf[next:]
		p.status.RxPacketCounter++
		target := f.Target()
		if target != sds011.AnyDevice && target != p.model.SensorMem.Id {
			continue
		}
		if resp, respOk := p.reactToCommand(f); respOk {
			p.emit(resp)
		}
	}
	return len(data), nil
}

func (p *Sensor) ReadAvailable(time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	p.spontaneous()
	result := p.out
	p.out = nil
	return result, nil
}

func (p *Sensor) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.out = nil
	return nil
}

func (p *Sensor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Sensor) emit(f sds011.ResponseFrame) {
	if !p.model.Connectivity.TxConnected {
		return
	}
	p.out = append(p.out, p.model.Connectivity.TrashSignal(f)...)
	p.status.TxPacketCounter++
}

func boolToByte(boo bool) byte {
	if boo {
		return 1
	}
	return 0
}

func (p *Sensor) ack(function byte, write bool, value byte) sds011.ResponseFrame {
	return sds011.NewResponse(sds011.ReplyAck, [4]byte{function, boolToByte(write), value, 0}, p.model.SensorMem.Id)
}

func (p *Sensor) measure() sds011.ResponseFrame {
	tNow := p.now()
	p.status.SmallRegNow = uint16(math.Round(p.model.SmallParticles.Calc(tNow, p.rnd) * 10))
	p.status.LargeRegNow = uint16(math.Round(p.model.LargeParticles.Calc(tNow, p.rnd) * 10))
	p.status.MeasurementCounter++
	p.lastReport = tNow
	return sds011.NewDataReply(p.model.SensorMem.Id, p.status.SmallRegNow, p.status.LargeRegNow)
}

func (p *Sensor) reactToCommand(f sds011.CommandFrame) (sds011.ResponseFrame, bool) {
	op := f.Opcode()
	write := 0 < op[1]
	mem := &p.model.SensorMem

	switch op[0] {
	case sds011.FuncReportingMode:
		if write {
			mem.QueryMode = 0 < op[2]
			p.status.BurnEventCounter++ //Important to count memory wear out
		}
		return p.ack(sds011.FuncReportingMode, write, boolToByte(mem.QueryMode)), true
	case sds011.FuncQueryData:
		if !p.status.Working {
			return sds011.ResponseFrame{}, false //Laser and fan off, nothing to tell
		}
		return p.measure(), true
	case sds011.FuncSetID:
		fill := f.Fill()
		mem.Id = uint16(fill[8])<<8 | uint16(fill[9])
		p.status.BurnEventCounter++
		return p.ack(sds011.FuncSetID, false, 0), true
	case sds011.FuncSleepWork:
		if write {
			working := 0 < op[2]
			if working && !p.status.Working {
				p.status.FanStarts++
			}
			p.status.Working = working
		}
		return p.ack(sds011.FuncSleepWork, write, boolToByte(p.status.Working)), true
	case sds011.FuncPeriod:
		if write && op[2] <= sds011.MaxSamplingPeriod {
			mem.Period = op[2]
			p.status.BurnEventCounter++
		}
		return p.ack(sds011.FuncPeriod, write, mem.Period), true
	case sds011.FuncVersion:
		return sds011.NewResponse(sds011.ReplyAck, [4]byte{sds011.FuncVersion, mem.VersionYear, mem.VersionMonth, mem.VersionDay}, mem.Id), true
	}
	return sds011.ResponseFrame{}, false
}

// Active mode reporting and line noise. Called on read
func (p *Sensor) spontaneous() {
	tNow := p.now()
	if p.status.Working && !p.model.SensorMem.QueryMode {
		every := continuousReport
		if 0 < p.model.SensorMem.Period {
			every = time.Duration(p.model.SensorMem.Period) * time.Minute
		}
		if every <= tNow.Sub(p.lastReport) {
			p.emit(p.measure())
		}
	}
	if p.model.Connectivity.IdleCharacters && INTERVALIDLECHARS <= tNow.Sub(p.lastTrash) {
		junk := make([]byte, 9)
		for i := range junk {
			junk[i] = byte(p.rnd.Uint32() & 0xFF)
		}
		p.out = append(p.out, junk...)
		p.lastTrash = tNow
	}
}
