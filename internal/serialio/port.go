// Package serialio provides an exact-length, blocking byte channel on top of
// an OS serial handle. Higher layers never see short reads or short writes:
// a call either transfers the full buffer or returns an error.
package serialio

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the exact-length transport the rest of the driver depends on.
// Depending on the interface instead of *Port lets tests substitute an
// in-memory fake without touching an OS device.
type Port interface {
	ReadExact(buf []byte) error
	WriteAll(buf []byte) error
	Flush() error
	Close() error
}

// OpenError identifies which step of opening the port failed, matching the
// coarse failure taxonomy a caller needs to react to (retry vs. give up).
type OpenError struct {
	Reason string
	Err    error
}

func (e *OpenError) Error() string { return fmt.Sprintf("serial: open failed: %s: %v", e.Reason, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// port is the real implementation, backed by go.bug.st/serial.
type port struct {
	sp serial.Port
}

// Open configures the named device for 8N1, no flow control, raw mode at the
// requested bitrate and returns an exact-length Port wrapping it.
func Open(portPath string, bitrate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: bitrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	sp, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, &OpenError{Reason: "open port", Err: err}
	}

	// The hardware stream is continuous while scanning; callers enforce their
	// own logical timeouts (motor-ready polling) by bounding round trips, not
	// by a read deadline. A short poll period here just keeps ReadExact's
	// retry loop from blocking the runtime scheduler indefinitely on a single
	// syscall, so Close() can still interrupt it promptly.
	if err := sp.SetReadTimeout(500 * time.Millisecond); err != nil {
		_ = sp.Close()
		return nil, &OpenError{Reason: "set read timeout", Err: err}
	}

	return &port{sp: sp}, nil
}

// ReadExact blocks until exactly len(buf) bytes are delivered or fails.
// A zero-length, error-free read is a read-timeout poll tick (see Open) and
// is retried rather than treated as end-of-stream.
func (p *port) ReadExact(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := p.sp.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return fmt.Errorf("serial: read: %w", err)
		}
		if n == 0 {
			continue
		}
	}
	return nil
}

// WriteAll blocks until exactly len(buf) bytes are written or fails.
func (p *port) WriteAll(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := p.sp.Write(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return fmt.Errorf("serial: write: %w", err)
		}
		if n == 0 && err == nil {
			return fmt.Errorf("serial: write: no progress")
		}
	}
	return nil
}

// Flush discards any buffered input.
func (p *port) Flush() error {
	return p.sp.ResetInputBuffer()
}

// Close flushes best-effort then closes the handle. Flush errors are
// suppressed; close errors are returned.
func (p *port) Close() error {
	_ = p.sp.ResetInputBuffer()
	return p.sp.Close()
}
