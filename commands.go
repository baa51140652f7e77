package sds011

import (
	"errors"
	"fmt"
)

// Function numbers, first opcode byte
const (
	FuncReportingMode = 2 //NON-volatile
	FuncQueryData     = 4
	FuncSetID         = 5 //NON-volatile
	FuncSleepWork     = 6
	FuncVersion       = 7
	FuncPeriod        = 8 //NON-volatile
)

const (
	MinSamplingPeriod = 1  //minutes
	MaxSamplingPeriod = 30 //minutes
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidPeriod  = errors.New("invalid sampling period")
)

// Command is closed set of operations sensor understands
type Command int

const (
	EnterQueryMode Command = iota
	EnterContinuousMode
	RequestMeasurement
	Sleep
	Wake
	QueryRunMode
	QueryFanState
	SetSamplingPeriod
	QueryFirmwareVersion
)

type catalogEntry struct {
	name   string
	opcode [3]byte
}

// Read-only after init
var catalog = [...]catalogEntry{
	EnterQueryMode:       {"enter-query-mode", [3]byte{FuncReportingMode, 1, 1}},
	EnterContinuousMode:  {"enter-continuous-mode", [3]byte{FuncReportingMode, 1, 0}},
	RequestMeasurement:   {"request-measurement", [3]byte{FuncQueryData, 0, 0}},
	Sleep:                {"sleep", [3]byte{FuncSleepWork, 1, 0}},
	Wake:                 {"wake", [3]byte{FuncSleepWork, 1, 1}},
	QueryRunMode:         {"query-run-mode", [3]byte{FuncReportingMode, 0, 0}},
	QueryFanState:        {"query-fan-state", [3]byte{FuncSleepWork, 0, 0}},
	SetSamplingPeriod:    {"set-sampling-period", [3]byte{FuncPeriod, 1, MinSamplingPeriod}},
	QueryFirmwareVersion: {"query-firmware-version", [3]byte{FuncVersion, 0, 0}},
}

var commandsByName = func() map[string]Command {
	result := make(map[string]Command, len(catalog))
	for i, e := range catalog {
		result[e.name] = Command(i)
	}
	return result
}()

// Commands lists whole catalog in order
func Commands() []Command {
	result := make([]Command, len(catalog))
	for i := range catalog {
		result[i] = Command(i)
	}
	return result
}

// LookupCommand is for configuration time. Unknown name must stop the setup
func LookupCommand(name string) (Command, error) {
	c, ok := commandsByName[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	return c, nil
}

func (c Command) valid() bool {
	return 0 <= c && int(c) < len(catalog)
}

func (c Command) String() string {
	if !c.valid() {
		return fmt.Sprintf("command(%d)", int(c))
	}
	return catalog[c].name
}

/*
Opcode returns 3 byte payload. Set sampling period uses 1 minute here,
use SamplingPeriodOpcode for other periods
*/
func (c Command) Opcode() [3]byte {
	if !c.valid() {
		return [3]byte{}
	}
	return catalog[c].opcode
}

func (c Command) Frame(target uint16) CommandFrame {
	op := c.Opcode()
	f, _ := EncodeCommand(op[:], target) //always 3 bytes
	return f
}

func SamplingPeriodOpcode(minutes int) ([3]byte, error) {
	if minutes < MinSamplingPeriod || MaxSamplingPeriod < minutes {
		return [3]byte{}, fmt.Errorf("%w %v, allowed %v-%v minutes", ErrInvalidPeriod, minutes, MinSamplingPeriod, MaxSamplingPeriod)
	}
	return [3]byte{FuncPeriod, 1, byte(minutes)}, nil
}

// AwaitsReply tells is there something to wait after sending. Wake and sleep are fire and forget
func (c Command) AwaitsReply() bool {
	return c != Wake && c != Sleep
}

/*
Expects tells does frame answer to this command.
Write flag (second data byte) is not compared, sensors echo it inconsistently
*/
func (c Command) Expects(f ResponseFrame) bool {
	if c == RequestMeasurement {
		return f.IsMeasurement()
	}
	if !f.IsAck() {
		return false
	}
	switch c {
	case EnterQueryMode:
		return f.Data[0] == FuncReportingMode && f.Data[2] == 1
	case EnterContinuousMode:
		return f.Data[0] == FuncReportingMode && f.Data[2] == 0
	case QueryRunMode:
		return f.Data[0] == FuncReportingMode
	case Sleep:
		return f.Data[0] == FuncSleepWork && f.Data[2] == 0
	case Wake:
		return f.Data[0] == FuncSleepWork && f.Data[2] == 1
	case QueryFanState:
		return f.Data[0] == FuncSleepWork
	case SetSamplingPeriod:
		return f.Data[0] == FuncPeriod
	case QueryFirmwareVersion:
		return f.Data[0] == FuncVersion
	}
	return false
}
