// Package sweep is the driver core for a 2D rotating LiDAR scanner of the
// "Sweep" device family. It owns the binary wire protocol, the device state
// machine, the scan-assembly worker, and the bounded queue that hands
// completed rotations to a caller blocked in GetScan.
package sweep

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/scanse/sweep-sdk/internal/serialio"
	"github.com/scanse/sweep-sdk/internal/wire"
)

type deviceState int

const (
	stateIdle deviceState = iota
	stateScanning
)

// motorReadyPollAttempts and motorReadyPollInterval bound the motor-ready
// wait at a hard 10 seconds (20 * 500ms), after which StartScanning and
// SetMotorSpeed fail with TimedOutError.
const (
	motorReadyPollAttempts = 20
	motorReadyPollInterval = 500 * time.Millisecond
)

// stopDrainDelay is how long StopScanning waits after writing DX for
// in-flight sample bytes to drain before it reads the stop acknowledgement.
const stopDrainDelay = 35 * time.Millisecond

// Option configures a Device at Open time.
type Option func(*deviceConfig)

type deviceConfig struct {
	bitrate       int
	queueCapacity int
}

// WithBitrate overrides the default 115200 bps link speed.
func WithBitrate(bps int) Option {
	return func(c *deviceConfig) { c.bitrate = bps }
}

// WithQueueCapacity overrides the default bounded-scan-queue capacity of 20.
func WithQueueCapacity(n int) Option {
	return func(c *deviceConfig) { c.queueCapacity = n }
}

// Device is the public handle to one Sweep scanner. It exclusively owns one
// SerialPort plus, while scanning, one worker goroutine and one bounded scan
// queue. All public methods are safe to call from a single caller goroutine;
// GetScan is additionally safe to call concurrently with Close.
type Device struct {
	port          serialio.Port
	queue         *boundedScanQueue
	assembler     *scanAssembler
	queueCapacity int

	state       atomic.Int32 // deviceState; read by GetScan concurrently with Close
	closed      atomic.Bool  // port released; read by GetScan concurrently with Close
	invalidated atomic.Bool  // Reset() succeeded; device unusable until reopened
}

func (d *Device) getState() deviceState  { return deviceState(d.state.Load()) }
func (d *Device) setState(s deviceState) { d.state.Store(int32(s)) }
func (d *Device) isClosed() bool         { return d.closed.Load() || d.invalidated.Load() }

// Open opens the named serial port, configures it for the Sweep protocol,
// and returns the device to a known Idle state via the stop-scan idempotency
// sequence regardless of whatever the device was doing before.
func Open(portPath string, opts ...Option) (*Device, error) {
	cfg := deviceConfig{bitrate: 115200, queueCapacity: DefaultQueueCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}

	port, err := serialio.Open(portPath, cfg.bitrate)
	if err != nil {
		return nil, &SerialError{Op: "open", Reason: portPath, Err: err}
	}

	d := newDeviceWithPort(port, cfg.queueCapacity)

	if err := d.stopScanning(); err != nil {
		_ = port.Close()
		return nil, err
	}

	return d, nil
}

// newDeviceWithPort builds a Device around an already-open transport. Used by
// Open and directly by tests, which substitute an in-memory fake Port.
func newDeviceWithPort(port serialio.Port, queueCapacity int) *Device {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Device{
		port:          port,
		queueCapacity: queueCapacity,
	}
}

// --- command/response helpers ---

func (d *Device) writeCmd(cmd [2]byte) error {
	if err := d.port.WriteAll(wire.EncodeCmd(cmd)); err != nil {
		return &SerialError{Op: "write", Reason: string(cmd[:]), Err: err}
	}
	return nil
}

func (d *Device) writeCmdParam(cmd, arg [2]byte) error {
	if err := d.port.WriteAll(wire.EncodeCmdParam(cmd, arg)); err != nil {
		return &SerialError{Op: "write", Reason: string(cmd[:]), Err: err}
	}
	return nil
}

func (d *Device) readResponseHeader(cmd [2]byte) (wire.ResponseHeader, error) {
	buf := make([]byte, 6)
	if err := d.port.ReadExact(buf); err != nil {
		return wire.ResponseHeader{}, &SerialError{Op: "read", Reason: "response header", Err: err}
	}
	h, err := wire.DecodeResponseHeader(cmd, buf)
	if err != nil {
		return wire.ResponseHeader{}, &ProtocolError{Reason: err.Error()}
	}
	return h, nil
}

func (d *Device) readResponseParam(cmd [2]byte) (wire.ResponseParam, error) {
	buf := make([]byte, 9)
	if err := d.port.ReadExact(buf); err != nil {
		return wire.ResponseParam{}, &SerialError{Op: "read", Reason: "response param", Err: err}
	}
	p, err := wire.DecodeResponseParam(cmd, buf)
	if err != nil {
		return wire.ResponseParam{}, &ProtocolError{Reason: err.Error()}
	}
	return p, nil
}

func (d *Device) readMotorReady() (wire.ResponseInfoMotorReady, error) {
	buf := make([]byte, 5)
	if err := d.port.ReadExact(buf); err != nil {
		return wire.ResponseInfoMotorReady{}, &SerialError{Op: "read", Reason: "motor ready", Err: err}
	}
	r, err := wire.DecodeResponseInfoMotorReady(wire.CmdMotorReady, buf)
	if err != nil {
		return wire.ResponseInfoMotorReady{}, &ProtocolError{Reason: err.Error()}
	}
	return r, nil
}

func (d *Device) readMotorSpeed() (wire.ResponseInfoMotorSpeed, error) {
	buf := make([]byte, 5)
	if err := d.port.ReadExact(buf); err != nil {
		return wire.ResponseInfoMotorSpeed{}, &SerialError{Op: "read", Reason: "motor speed", Err: err}
	}
	r, err := wire.DecodeResponseInfoMotorSpeed(wire.CmdMotorInformation, buf)
	if err != nil {
		return wire.ResponseInfoMotorSpeed{}, &ProtocolError{Reason: err.Error()}
	}
	return r, nil
}

func (d *Device) readSampleRate() (wire.ResponseInfoSampleRate, error) {
	buf := make([]byte, 5)
	if err := d.port.ReadExact(buf); err != nil {
		return wire.ResponseInfoSampleRate{}, &SerialError{Op: "read", Reason: "sample rate", Err: err}
	}
	r, err := wire.DecodeResponseInfoSampleRate(wire.CmdSampleRateInfo, buf)
	if err != nil {
		return wire.ResponseInfoSampleRate{}, &ProtocolError{Reason: err.Error()}
	}
	return r, nil
}

// statusError translates a DS/MS/LR status byte pair into the documented
// failure, or nil on success.
func statusError(command string, status1, status2 byte) error {
	code, err := wire.DecodeASCIIInt([2]byte{status1, status2})
	if err != nil {
		return &ProtocolError{Reason: err.Error()}
	}
	switch command {
	case "DS":
		switch code {
		case 12:
			return &DeviceStatusError{Code: code, Command: command, Reason: "motor speed not stabilized"}
		case 13:
			return &DeviceStatusError{Code: code, Command: command, Reason: "motor stationary"}
		}
	case "MS":
		switch code {
		case 11:
			return &DeviceStatusError{Code: code, Command: command, Reason: "invalid parameter"}
		case 12:
			return &DeviceStatusError{Code: code, Command: command, Reason: "prior speed not yet stabilized"}
		}
	case "LR":
		if code == 11 {
			return &DeviceStatusError{Code: code, Command: command, Reason: "invalid parameter"}
		}
	}
	return nil
}

// --- state-machine gating ---

func (d *Device) requireIdle() error {
	if d.isClosed() {
		return ErrClosed
	}
	if d.getState() != stateIdle {
		return &InvalidArgumentError{Reason: "operation requires the device to be idle, it is scanning"}
	}
	return nil
}

// --- motor-ready polling, shared by StartScanning and SetMotorSpeed ---

func (d *Device) pollMotorReady() error {
	for i := 0; i < motorReadyPollAttempts; i++ {
		if i > 0 {
			time.Sleep(motorReadyPollInterval)
		}
		if err := d.writeCmd(wire.CmdMotorReady); err != nil {
			return err
		}
		resp, err := d.readMotorReady()
		if err != nil {
			return err
		}
		if resp.IsReady() {
			return nil
		}
	}
	return &TimedOutError{Reason: "motor stabilize"}
}

// --- public API ---

// GetMotorSpeed returns the current motor speed in Hz. Idle-only.
func (d *Device) GetMotorSpeed() (int, error) {
	if err := d.requireIdle(); err != nil {
		return 0, err
	}
	if err := d.writeCmd(wire.CmdMotorInformation); err != nil {
		return 0, err
	}
	resp, err := d.readMotorSpeed()
	if err != nil {
		return 0, err
	}
	speed, err := wire.DecodeASCIIInt(resp.Speed)
	if err != nil {
		return 0, &ProtocolError{Reason: err.Error()}
	}
	return speed, nil
}

// SetMotorSpeed sets the motor speed to hz (0..10), waiting for the motor to
// report ready first. Idle-only.
func (d *Device) SetMotorSpeed(hz int) error {
	if err := d.requireIdle(); err != nil {
		return err
	}
	if hz < 0 || hz > 10 {
		return &InvalidArgumentError{Reason: "motor speed must be in [0,10]"}
	}

	if err := d.pollMotorReady(); err != nil {
		return err
	}

	arg, err := wire.EncodeASCIIInt(hz)
	if err != nil {
		return &InvalidArgumentError{Reason: err.Error()}
	}
	if err := d.writeCmdParam(wire.CmdMotorSpeedAdjust, arg); err != nil {
		return err
	}
	resp, err := d.readResponseParam(wire.CmdMotorSpeedAdjust)
	if err != nil {
		return err
	}
	return statusError("MS", resp.StatusByte1, resp.StatusByte2)
}

// GetSampleRate returns the current sample rate in Hz (500, 750 or 1000). Idle-only.
func (d *Device) GetSampleRate() (int, error) {
	if err := d.requireIdle(); err != nil {
		return 0, err
	}
	if err := d.writeCmd(wire.CmdSampleRateInfo); err != nil {
		return 0, err
	}
	resp, err := d.readSampleRate()
	if err != nil {
		return 0, err
	}
	code, err := wire.DecodeASCIIInt(resp.Rate)
	if err != nil {
		return 0, &ProtocolError{Reason: err.Error()}
	}
	switch code {
	case 1:
		return 500, nil
	case 2:
		return 750, nil
	case 3:
		return 1000, nil
	default:
		return 0, &ProtocolError{Reason: "unknown sample rate code"}
	}
}

// SetSampleRate sets the sample rate to hz, one of 500, 750 or 1000. Idle-only.
func (d *Device) SetSampleRate(hz int) error {
	if err := d.requireIdle(); err != nil {
		return err
	}
	var code int
	switch hz {
	case 500:
		code = 1
	case 750:
		code = 2
	case 1000:
		code = 3
	default:
		return &InvalidArgumentError{Reason: "sample rate must be one of 500, 750, 1000"}
	}

	arg, err := wire.EncodeASCIIInt(code)
	if err != nil {
		return &InvalidArgumentError{Reason: err.Error()}
	}
	if err := d.writeCmdParam(wire.CmdSampleRateAdjust, arg); err != nil {
		return err
	}
	resp, err := d.readResponseParam(wire.CmdSampleRateAdjust)
	if err != nil {
		return err
	}
	return statusError("LR", resp.StatusByte1, resp.StatusByte2)
}

// GetMotorReady reports whether the motor has finished stabilizing. Idle-only.
func (d *Device) GetMotorReady() (bool, error) {
	if err := d.requireIdle(); err != nil {
		return false, err
	}
	if err := d.writeCmd(wire.CmdMotorReady); err != nil {
		return false, err
	}
	resp, err := d.readMotorReady()
	if err != nil {
		return false, err
	}
	return resp.IsReady(), nil
}

// StartScanning brings the motor up to speed, arms data acquisition, and
// spawns the scan-assembly worker. Precondition: Idle.
func (d *Device) StartScanning() error {
	if err := d.requireIdle(); err != nil {
		return err
	}

	speed, err := d.GetMotorSpeed()
	if err != nil {
		return err
	}
	if speed == 0 {
		if err := d.SetMotorSpeed(5); err != nil {
			return err
		}
	}

	if err := d.pollMotorReady(); err != nil {
		return err
	}

	if err := d.writeCmd(wire.CmdDataAcquisitionStart); err != nil {
		return err
	}
	resp, err := d.readResponseHeader(wire.CmdDataAcquisitionStart)
	if err != nil {
		return err
	}
	if err := statusError("DS", resp.StatusByte1, resp.StatusByte2); err != nil {
		return err
	}

	if d.queue == nil {
		d.queue = newBoundedScanQueue(d.queueCapacity)
	} else {
		d.queue.clear()
	}
	d.assembler = newScanAssembler(d.port, d.queue)
	d.assembler.start()
	d.setState(stateScanning)

	return nil
}

// StopScanning is tolerant of being called in either state. It halts the
// worker (if any), issues the stop sequence twice to flush any in-flight
// sample frame, and transitions to Idle.
func (d *Device) StopScanning() error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.stopScanning()
}

func (d *Device) stopScanning() error {
	if d.assembler != nil {
		d.assembler.signalStop()
	}

	if err := d.writeCmd(wire.CmdDataAcquisitionStop); err != nil {
		return err
	}

	time.Sleep(stopDrainDelay)

	// Step 4: a parse/checksum failure here is expected noise (trailing
	// sample-frame bytes look like garbage to a header parser) and is
	// deliberately swallowed.
	_, _ = d.readResponseHeader(wire.CmdDataAcquisitionStop)

	if err := d.port.Flush(); err != nil {
		return &SerialError{Op: "flush", Reason: "stop scanning", Err: err}
	}

	if err := d.writeCmd(wire.CmdDataAcquisitionStop); err != nil {
		return err
	}
	if _, err := d.readResponseHeader(wire.CmdDataAcquisitionStop); err != nil {
		return err
	}

	if d.assembler != nil {
		d.assembler.wait()
		d.assembler = nil
	}
	d.setState(stateIdle)

	return nil
}

// GetScan blocks until a completed Scan is available, the context is
// cancelled, or the worker has posted a terminal error. Precondition: Scanning.
func (d *Device) GetScan(ctx context.Context) (Scan, error) {
	if d.isClosed() {
		return Scan{}, ErrClosed
	}
	if d.getState() != stateScanning {
		return Scan{}, &InvalidArgumentError{Reason: "GetScan requires the device to be scanning"}
	}
	return d.queue.dequeue(ctx)
}

// Reset writes the reset command. No response is expected. The Device is
// marked unusable afterward: every subsequent call other than Close returns
// ErrClosed and the caller must reopen the port. Close still releases the port.
func (d *Device) Reset() error {
	if err := d.requireIdle(); err != nil {
		return err
	}
	if err := d.writeCmd(wire.CmdResetDevice); err != nil {
		return err
	}
	d.invalidated.Store(true)
	return nil
}

// Close stops scanning (best-effort) and releases the serial port. If a
// caller is blocked in GetScan, it is unblocked with ErrClosed. Idempotent.
func (d *Device) Close() error {
	if d.closed.Load() {
		return nil
	}

	if d.getState() == stateScanning && d.queue != nil {
		// Unblock a caller parked in GetScan before running the (potentially
		// slow) stop handshake below.
		d.queue.enqueueError(ErrClosed)
	}

	_ = d.stopScanning() // best-effort; Close never fails because of it

	d.closed.Store(true)
	return d.port.Close()
}
