package sweep

import (
	"sync"
	"sync/atomic"

	"github.com/scanse/sweep-sdk/internal/serialio"
	"github.com/scanse/sweep-sdk/internal/wire"
)

// scanAssembler is the sole reader of the port for the duration of a
// scanning session. It reads one 7-byte sample record at a time, discards
// samples flagged with a communication or reserved error bit, and segments
// the accepted samples into Scans on the sync bit.
type scanAssembler struct {
	port   serialio.Port
	queue  *boundedScanQueue
	stop   atomic.Bool
	done   sync.WaitGroup
	buffer []Sample
}

func newScanAssembler(port serialio.Port, queue *boundedScanQueue) *scanAssembler {
	return &scanAssembler{port: port, queue: queue}
}

// start spawns the assembler's goroutine. Call signalStop then wait to stop it.
func (a *scanAssembler) start() {
	a.done.Add(1)
	go a.run()
}

// signalStop asks the loop to exit at its next iteration boundary. It does
// not block; call wait afterward to observe termination.
func (a *scanAssembler) signalStop() {
	a.stop.Store(true)
}

// wait blocks until the goroutine has returned.
func (a *scanAssembler) wait() {
	a.done.Wait()
}

func (a *scanAssembler) run() {
	defer a.done.Done()

	buf := make([]byte, 7)
	for {
		if a.stop.Load() {
			return
		}

		if err := a.port.ReadExact(buf); err != nil {
			a.queue.enqueueError(&SerialError{Op: "read", Reason: "scan sample", Err: err})
			return
		}

		sample, err := wire.DecodeResponseSample(buf)
		if err != nil {
			a.queue.enqueueError(&ProtocolError{Reason: err.Error()})
			return
		}

		if a.stop.Load() {
			return
		}

		a.accept(sample)
	}
}

// accept applies the segmentation rule to one decoded sample record.
func (a *scanAssembler) accept(sample wire.ResponseSample) {
	if sample.HasError() {
		// Discarded entirely: not appended, does not advance the buffer.
		// Its sync bit still segments, handled below via IsSync.
		if sample.IsSync() {
			a.onSync(nil)
		}
		return
	}

	s := Sample{
		AngleMillideg:  wire.AngleMillideg(sample.Angle),
		DistanceCM:     int32(sample.Distance),
		SignalStrength: sample.SignalStrength,
	}

	if sample.IsSync() {
		a.onSync(&s)
		return
	}

	if len(a.buffer) >= MaxSamplesPerScan {
		// Firmware misbehavior guard: a rotation that never resyncs must not
		// grow the in-flight buffer without bound.
		a.queue.enqueueScan(Scan{Samples: a.buffer})
		a.buffer = nil
		return
	}

	a.buffer = append(a.buffer, s)
}

// onSync implements the segmentation rule: if the in-flight buffer already
// holds >= 2 samples, package it (excluding the sync sample itself) as a
// completed Scan and enqueue it. Either way, the buffer restarts at the sync
// sample (or empty, if the sync sample itself was error-discarded).
func (a *scanAssembler) onSync(syncSample *Sample) {
	if len(a.buffer) >= 2 {
		a.queue.enqueueScan(Scan{Samples: a.buffer})
	}
	if syncSample != nil {
		a.buffer = make([]Sample, 0, MaxSamplesPerScan)
		a.buffer = append(a.buffer, *syncSample)
	} else {
		a.buffer = nil
	}
}
