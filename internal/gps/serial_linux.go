//go:build linux

package gps

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var termiosSpeeds = map[int]uint32{
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// openSerial configures the tty raw at baud. Linux uses termios directly so
// the fd stays an *os.File and Close unblocks a pending read.
func openSerial(path string, baud int) (io.ReadCloser, error) {
	speed, ok := termiosSpeeds[baud]
	if !ok {
		return nil, fmt.Errorf("gps: unsupported baud %d", baud)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", path, err)
	}
	if err := configureRaw(fd, speed); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("gps: configure %s: %w", path, err)
	}
	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("gps: os.NewFile failed for %s", path)
	}
	return f, nil
}

func configureRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	makeRaw(t, speed)
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// makeRaw sets 8N1 without line processing. A read returns after one byte
// or a one second gap.
func makeRaw(t *unix.Termios, speed uint32) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 10
}
