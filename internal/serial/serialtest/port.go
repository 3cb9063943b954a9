// Package serialtest provides an in-memory serial port for tests.
package serialtest

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a closed Port.
var ErrClosed = errors.New("serialtest: port closed")

// Port is an in-memory serial.Port. Bytes fed with Feed are returned by Read;
// bytes passed to Write are captured and can be inspected with Written.
type Port struct {
	mu          sync.Mutex
	cond        *sync.Cond
	in          bytes.Buffer
	out         bytes.Buffer
	readTimeout time.Duration
	closed      bool
	writeErr    error
}

// NewPort creates an empty port.
func NewPort() *Port {
	p := &Port{readTimeout: time.Second}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed makes data available to Read.
func (p *Port) Feed(data string) {
	p.mu.Lock()
	p.in.WriteString(data)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FailWrites makes subsequent writes return err. A nil err restores writes.
func (p *Port) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Written returns everything written so far.
func (p *Port) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

// SetReadTimeout implements serial.Port.
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// Read returns buffered input, or 0 bytes once the read timeout elapses.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(p.readTimeout)
	timer := time.AfterFunc(p.readTimeout, p.cond.Broadcast)
	defer timer.Stop()

	for p.in.Len() == 0 && !p.closed && time.Now().Before(deadline) {
		p.cond.Wait()
	}
	if p.closed {
		return 0, ErrClosed
	}
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

// Write captures b.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.out.Write(b)
}

// Close unblocks pending reads and fails further I/O.
func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}
