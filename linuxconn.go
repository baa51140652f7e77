//go:build linux

package sds011

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hjkoskel/listserialports"
	"golang.org/x/sys/unix"
)

const (
	interByteGap = 50 * time.Millisecond //10 bytes on 9600 baud takes ~10ms
	maxReadSize  = 256
)

type LinuxConn struct {
	f           *os.File
	fd          int
	readTimeout time.Duration
}

func OpenSerial(deviceportName string, readTimeout time.Duration) (Conn, error) {
	return CreateLinuxSerial(deviceportName, readTimeout)
}

// Uses fixed settings for SDS011. 9600 8N1, raw
func CreateLinuxSerial(deviceportName string, readTimeout time.Duration) (*LinuxConn, error) {
	//TESTED  socat -d -d pty,raw,echo=0 pty,raw,echo=0
	if !strings.HasPrefix(deviceportName, "/dev/pts") { //Avoid issues with testing with socat
		portUsedByPids, _, errPortDetect := listserialports.FileIsInUseByPids(deviceportName)
		if errPortDetect != nil {
			return nil, fmt.Errorf("serial port error: %w", errPortDetect)
		}
		if 0 < len(portUsedByPids) {
			return nil, fmt.Errorf("serial port %v is in use (by PID %#v)", deviceportName, portUsedByPids)
		}
	}

	f, errOpen := os.OpenFile(deviceportName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0666)
	if errOpen != nil {
		return nil, fmt.Errorf("serial device %v open error: %w", deviceportName, errOpen)
	}
	result := LinuxConn{f: f, fd: int(f.Fd()), readTimeout: readTimeout}

	//No parity, one stop bit. VMIN=VTIME=0, waiting is done with poll
	t := unix.Termios{
		Iflag:  unix.IGNPAR,
		Cflag:  unix.CREAD | unix.CLOCAL | unix.B9600 | unix.CS8,
		Ispeed: unix.B9600,
		Ospeed: unix.B9600,
	}
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	if errTermios := unix.IoctlSetTermios(result.fd, unix.TCSETS, &t); errTermios != nil {
		f.Close()
		return nil, fmt.Errorf("setting termios on %v: %w", deviceportName, errTermios)
	}
	if errNonBlock := unix.SetNonblock(result.fd, false); errNonBlock != nil {
		f.Close()
		return nil, fmt.Errorf("setting nonblock: %w", errNonBlock)
	}
	return &result, nil
}

func (p *LinuxConn) Close() error {
	return p.f.Close()
}

func (p *LinuxConn) Write(data []byte) (int, error) {
	return p.f.Write(data)
}

func (p *LinuxConn) Discard() error {
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH)
}

/*
ReadAvailable waits first byte up to timeout, after that reads as long as bytes keep coming.
*/
func (p *LinuxConn) ReadAvailable(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = p.readTimeout
	}
	result := []byte{}
	chunk := make([]byte, maxReadSize)
	wait := timeout
	for len(result) < maxReadSize {
		ready, errPoll := p.waitReadable(wait)
		if errPoll != nil {
			return result, errPoll
		}
		if !ready {
			return result, nil
		}
		n, errRead := unix.Read(p.fd, chunk[:maxReadSize-len(result)])
		if errRead != nil {
			if errors.Is(errRead, unix.EINTR) || errors.Is(errRead, unix.EAGAIN) {
				continue
			}
			return result, fmt.Errorf("error reading: %w", errRead)
		}
		if n <= 0 {
			return result, nil
		}
		result = append(result, chunk[:n]...)
		wait = interByteGap
	}
	return result, nil
}

func (p *LinuxConn) waitReadable(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	rev := fds[0].Revents
	if rev&unix.POLLIN == 0 && rev&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("serial link down (revents %#x)", rev)
	}
	return rev&unix.POLLIN != 0, nil
}
