//go:build !linux

package sds011

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const maxReadSize = 256

// TarmConn is for platforms without termios code. Read timeout is fixed when opening
type TarmConn struct {
	port *serial.Port
}

func OpenSerial(deviceportName string, readTimeout time.Duration) (Conn, error) {
	config := &serial.Config{
		Name:        deviceportName,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	}
	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open port %v", deviceportName)
	}
	return &TarmConn{port: port}, nil
}

func (p *TarmConn) Write(data []byte) (int, error) {
	n, err := p.port.Write(data)
	return n, errors.Wrap(err, "write")
}

func (p *TarmConn) ReadAvailable(time.Duration) ([]byte, error) {
	result := []byte{}
	chunk := make([]byte, maxReadSize)
	for len(result) < maxReadSize {
		n, err := p.port.Read(chunk[:maxReadSize-len(result)])
		if err != nil && err != io.EOF {
			return result, errors.Wrap(err, "read")
		}
		if n <= 0 {
			break
		}
		result = append(result, chunk[:n]...)
	}
	return result, nil
}

func (p *TarmConn) Discard() error {
	return errors.Wrap(p.port.Flush(), "flush")
}

func (p *TarmConn) Close() error {
	return p.port.Close()
}
