/*
For packing command frames and unpacking response frames of SDS011

- Frame starts ALWAYS with 0xAA and ends with 0xAB
- PC -> sensor is 19 bytes ALWAYS
- sensor -> PC is 10 bytes
- checksum is the low byte of the sum of everything between command id and checksum
*/

package sds011

import (
	"errors"
	"fmt"
)

const (
	CommandFrameSize  = 19
	ResponseFrameSize = 10
)

const (
	FrameHead = 0xAA
	FrameTail = 0xAB
)

const (
	CommandID = 0xB4
	ReplyAck  = 0xC5
	ReplyData = 0xC0 //First byte in data is not function number
)

// AnyDevice is the broadcast target id
const AnyDevice = 0xFFFF

const opcodeSize = 3

var ErrOpcodeLength = errors.New("opcode must be 3 bytes")

// Checksum is the low 8 bits of the byte sum
func Checksum(payload []byte) byte {
	var result byte
	for _, b := range payload {
		result += b
	}
	return result
}

/*
CommandFrame
AA B4 op0 op1 op2 [10 x 00] idHi idLo ck AB
*/
type CommandFrame [CommandFrameSize]byte

func EncodeCommand(opcode []byte, target uint16) (CommandFrame, error) {
	var f CommandFrame
	if len(opcode) != opcodeSize {
		return f, fmt.Errorf("%w, got %v", ErrOpcodeLength, len(opcode))
	}
	f[0] = FrameHead
	f[1] = CommandID
	copy(f[2:5], opcode)
	f[15] = byte(target >> 8)
	f[16] = byte(target & 0xFF)
	f[17] = Checksum(f[2:17])
	f[18] = FrameTail
	return f, nil
}

func (f CommandFrame) Bytes() []byte {
	return f[:]
}

func (f CommandFrame) Opcode() [3]byte {
	return [3]byte{f[2], f[3], f[4]}
}

func (f CommandFrame) Target() uint16 {
	return uint16(f[15])<<8 | uint16(f[16])
}

// Extra payload bytes between opcode and target. Only set id uses these
func (f CommandFrame) Fill() []byte {
	return f[5:15]
}

func (f CommandFrame) String() string {
	return fmt.Sprintf("<SDS011:%04X:cmd % X>", f.Target(), f.Opcode())
}

/*
ParseCommandFrame finds first valid command frame from buffer.
Returns offset after the frame so caller can continue scanning
*/
func ParseCommandFrame(buf []byte) (CommandFrame, int, bool) {
	var f CommandFrame
	for i := 0; i+CommandFrameSize <= len(buf); i++ {
		if buf[i] != FrameHead || buf[i+1] != CommandID || buf[i+CommandFrameSize-1] != FrameTail {
			continue
		}
		if Checksum(buf[i+2:i+17]) != buf[i+17] {
			continue
		}
		copy(f[:], buf[i:i+CommandFrameSize])
		return f, i + CommandFrameSize, true
	}
	return f, 0, false
}

/*
ResponseFrame
AA kind d0 d1 d2 d3 idHi idLo ck AB
*/
type ResponseFrame struct {
	Kind     byte
	Data     [4]byte
	DeviceID uint16
	Checksum byte
}

// NewResponse builds frame with correct checksum
func NewResponse(kind byte, data [4]byte, deviceID uint16) ResponseFrame {
	f := ResponseFrame{Kind: kind, Data: data, DeviceID: deviceID}
	f.Checksum = f.calcChecksum()
	return f
}

// NewDataReply is what sensor sends when it has measurement
func NewDataReply(deviceID uint16, pm25Reg uint16, pm10Reg uint16) ResponseFrame {
	return NewResponse(ReplyData, [4]byte{byte(pm25Reg & 0xFF), byte(pm25Reg >> 8), byte(pm10Reg & 0xFF), byte(pm10Reg >> 8)}, deviceID)
}

func (f ResponseFrame) calcChecksum() byte {
	return Checksum([]byte{f.Data[0], f.Data[1], f.Data[2], f.Data[3], byte(f.DeviceID >> 8), byte(f.DeviceID & 0xFF)})
}

func (f ResponseFrame) ChecksumOk() bool {
	return f.Checksum == f.calcChecksum()
}

// Bytes re-encodes frame as is. Checksum is not recalculated
func (f ResponseFrame) Bytes() []byte {
	return []byte{FrameHead, f.Kind, f.Data[0], f.Data[1], f.Data[2], f.Data[3], byte(f.DeviceID >> 8), byte(f.DeviceID & 0xFF), f.Checksum, FrameTail}
}

func (f ResponseFrame) IsMeasurement() bool {
	return f.Kind == ReplyData
}

// Anything else than measurement is some kind of acknowledge. Vendors vary
func (f ResponseFrame) IsAck() bool {
	return f.Kind != ReplyData
}

func (f ResponseFrame) PM25Reg() uint16 {
	return uint16(f.Data[0]) + uint16(f.Data[1])*256
}

func (f ResponseFrame) PM10Reg() uint16 {
	return uint16(f.Data[2]) + uint16(f.Data[3])*256
}

// µg/m³
func (f ResponseFrame) PM25() float64 {
	return float64(f.PM25Reg()) / 10
}

// µg/m³
func (f ResponseFrame) PM10() float64 {
	return float64(f.PM10Reg()) / 10
}

// Function number of acknowledge
func (f ResponseFrame) Function() byte {
	return f.Data[0]
}

// Valid only on firmware reply: year-month-day
func (f ResponseFrame) FirmwareVersion() (string, error) {
	if !f.IsAck() || f.Data[0] != FuncVersion {
		return "", fmt.Errorf("not a firmware reply %v", f)
	}
	return fmt.Sprintf("%02d-%02d-%02d", f.Data[1], f.Data[2], f.Data[3]), nil
}

// FormatDeviceID as printed on sensor sticker, 4 hex digits
func FormatDeviceID(id uint16) string {
	return fmt.Sprintf("%04X", id)
}

func (f ResponseFrame) String() string {
	if f.IsMeasurement() {
		return fmt.Sprintf("<SDS011:%04X:data PM2.5=%.1f PM10=%.1f>", f.DeviceID, f.PM25(), f.PM10())
	}
	rw := "r"
	if 0 < f.Data[1] {
		rw = "w"
	}
	switch f.Data[0] {
	case FuncReportingMode:
		if 0 < f.Data[2] {
			return fmt.Sprintf("<SDS011:%04X:%v:mode:QUERY>", f.DeviceID, rw)
		}
		return fmt.Sprintf("<SDS011:%04X:%v:mode:ACTIVE>", f.DeviceID, rw)
	case FuncSleepWork:
		if 0 < f.Data[2] {
			return fmt.Sprintf("<SDS011:%04X:%v:WORK>", f.DeviceID, rw)
		}
		return fmt.Sprintf("<SDS011:%04X:%v:SLEEP>", f.DeviceID, rw)
	case FuncPeriod:
		return fmt.Sprintf("<SDS011:%04X:%v:period=%v>", f.DeviceID, rw, f.Data[2])
	case FuncVersion:
		ver, _ := f.FirmwareVersion()
		return fmt.Sprintf("<SDS011:%04X:version:%v>", f.DeviceID, ver)
	}
	return fmt.Sprintf("<SDS011:%04X:kind %X % X>", f.DeviceID, f.Kind, f.Data)
}

/*
DecodeResponse scans buffer for first valid response frame.
Line noise and false starts (0xAA inside payload) are skipped. Nothing found is not an error.
Second return value is offset after found frame
*/
func DecodeResponse(buf []byte) (ResponseFrame, int, bool) {
	for i := 0; i+ResponseFrameSize <= len(buf); i++ {
		if buf[i] != FrameHead {
			continue
		}
		cand := buf[i : i+ResponseFrameSize]
		if cand[ResponseFrameSize-1] != FrameTail {
			continue
		}
		if cand[1] == CommandID { //Our own command echoed back. RX-TX short?
			continue
		}
		if Checksum(cand[2:8]) != cand[8] {
			continue
		}
		return ResponseFrame{
			Kind:     cand[1],
			Data:     [4]byte{cand[2], cand[3], cand[4], cand[5]},
			DeviceID: uint16(cand[6])<<8 | uint16(cand[7]),
			Checksum: cand[8],
		}, i + ResponseFrameSize, true
	}
	return ResponseFrame{}, 0, false
}

// DecodeAll returns every valid response frame in order
func DecodeAll(buf []byte) []ResponseFrame {
	result := []ResponseFrame{}
	for 0 < len(buf) {
		f, next, ok := DecodeResponse(buf)
		if !ok {
			break
		}
		result = append(result, f)
		buf = buf[next:]
	}
	return result
}
