/*
Conn
is byte link to sensor. Usually serial port

This is interface. Different implementations are made for linux, other platforms and simulator
Reads are never assumed to be frame aligned
*/
package sds011

import "time"

type Conn interface {
	Write(data []byte) (int, error)
	ReadAvailable(timeout time.Duration) ([]byte, error) //Empty if nothing arrived before timeout
	Discard() error                                      //Drop pending input and output
	Close() error
}
