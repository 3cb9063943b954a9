// Package serial reads newline-terminated lines from, and writes raw commands
// to, the radio coordinator's serial port.
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	bugserial "go.bug.st/serial"
)

// MaxLineLength bounds a single line; longer input is discarded.
const MaxLineLength = 1024

var (
	// ErrReadTimeout indicates no complete line arrived within the read timeout.
	ErrReadTimeout = errors.New("serial: read timeout")

	// ErrLineTooLong indicates a line exceeded MaxLineLength and was dropped.
	ErrLineTooLong = errors.New("serial: line too long")

	// ErrClosed indicates the link has been closed.
	ErrClosed = errors.New("serial: link closed")
)

// Port is the subset of a serial port the link needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Link is a line-oriented view of a serial port. ReadLine must only be
// called from one goroutine; Write is safe for concurrent use.
type Link struct {
	port        Port
	readTimeout time.Duration
	logger      zerolog.Logger

	pending []byte
	chunk   []byte

	// discarding is set while the tail of an oversized line is dropped
	discarding bool

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// OpenPort opens device at baudRate with 8N1 framing.
func OpenPort(device string, baudRate int) (Port, error) {
	port, err := bugserial.Open(device, &bugserial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", device, err)
	}
	return port, nil
}

// Open opens device at baudRate (8N1) and wraps it in a Link.
func Open(device string, baudRate int, readTimeout time.Duration) (*Link, error) {
	port, err := OpenPort(device, baudRate)
	if err != nil {
		return nil, err
	}

	link, err := NewLink(port, readTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}

	link.logger.Info().
		Str("device", device).
		Int("baud_rate", baudRate).
		Dur("read_timeout", readTimeout).
		Msg("Serial device opened")

	return link, nil
}

// NewLink wraps an already open port.
func NewLink(port Port, readTimeout time.Duration) (*Link, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Link{
		port:        port,
		readTimeout: readTimeout,
		logger:      log.With().Str("component", "serial").Logger(),
		chunk:       make([]byte, 256),
	}, nil
}

// ReadLine returns the next line without its terminator. It returns
// ErrReadTimeout when no complete line arrives within the read timeout;
// partial input is kept for the next call. A line longer than MaxLineLength
// yields ErrLineTooLong once and is dropped through its terminator.
func (l *Link) ReadLine() (string, error) {
	deadline := time.Now().Add(l.readTimeout)

	for {
		if l.discarding {
			l.skipToTerminator()
		}
		if !l.discarding {
			line, ok, err := l.takeLine()
			if ok {
				return line, err
			}
			if len(l.pending) > MaxLineLength {
				l.logger.Warn().Int("bytes", len(l.pending)).Msg("Discarding oversized line")
				l.pending = l.pending[:0]
				l.discarding = true
				return "", ErrLineTooLong
			}
		}

		if !time.Now().Before(deadline) {
			return "", ErrReadTimeout
		}

		n, err := l.port.Read(l.chunk)
		if n > 0 {
			l.pending = append(l.pending, l.chunk[:n]...)
			continue
		}
		if err != nil {
			if l.isClosed() {
				return "", ErrClosed
			}
			return "", fmt.Errorf("failed to read serial device: %w", err)
		}
		return "", ErrReadTimeout
	}
}

// takeLine removes the first complete line from pending. ok is false when no
// terminator has arrived yet.
func (l *Link) takeLine() (line string, ok bool, err error) {
	i := bytes.IndexByte(l.pending, '\n')
	if i < 0 {
		return "", false, nil
	}
	if i > MaxLineLength {
		l.logger.Warn().Int("bytes", i).Msg("Discarding oversized line")
		l.consume(i + 1)
		return "", true, ErrLineTooLong
	}
	line = string(l.pending[:i])
	l.consume(i + 1)
	return line, true, nil
}

// skipToTerminator drops pending input up to and including the next newline.
func (l *Link) skipToTerminator() {
	i := bytes.IndexByte(l.pending, '\n')
	if i < 0 {
		l.pending = l.pending[:0]
		return
	}
	l.consume(i + 1)
	l.discarding = false
}

func (l *Link) consume(n int) {
	l.pending = append(l.pending[:0], l.pending[n:]...)
}

// Write sends p to the coordinator as-is.
func (l *Link) Write(p []byte) (int, error) {
	if l.isClosed() {
		return 0, ErrClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	n, err := l.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write serial device: %w", err)
	}
	return n, nil
}

// Close closes the underlying port.
func (l *Link) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	l.closeMu.Unlock()

	return l.port.Close()
}

func (l *Link) isClosed() bool {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	return l.closed
}
