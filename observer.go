package sds011

// Observer gets low level events from driver. Metrics hook here
type Observer interface {
	CommandSent(sensor string, cmd Command)
	FrameDecoded(sensor string, f ResponseFrame)
	DecodeMiss(sensor string, cmd Command)
	TransportError(sensor string, op string)
	StateChanged(sensor string, from SensorState, to SensorState)
	ReadingRecorded(sensor string, r Reading)
}

type nopObserver struct{}

func (nopObserver) CommandSent(string, Command) {}
func (nopObserver) FrameDecoded(string, ResponseFrame) {}
func (nopObserver) DecodeMiss(string, Command) {}
func (nopObserver) TransportError(string, string) {}
func (nopObserver) StateChanged(string, SensorState, SensorState) {}
func (nopObserver) ReadingRecorded(string, Reading) {}
