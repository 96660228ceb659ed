// Package transport implements the host-side bulk transport layer: a
// dedicated reader goroutine that keeps one read context permanently
// armed against the adapter's bulk-IN endpoint, feeding a bounded ring
// FIFO that host/api drains (spec §4.5).
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/canbridge/usbcan/pkg"
)

// retryDelay is how long the reader goroutine backs off after a read
// error it cannot otherwise interpret (spec §4.5 "retries after 50 ms
// on unsolvable error").
const retryDelay = 50 * time.Millisecond

// closeJoinTimeout bounds how long Close waits for the reader goroutine
// to exit before giving up (spec §4.5 "bounded 1 s wait on close").
const closeJoinTimeout = time.Second

// USB abstracts one opened adapter's control and bulk endpoints. The
// production implementation (GousbUSB) wraps a *gousb.Device; tests use
// SimulatedUSB, an in-process channel pair — both satisfy this
// interface so host/api never depends on libusb directly (spec §3
// [ADD - DOMAIN STACK]).
type USB interface {
	// Control issues a control transfer (vendor or standard) to the
	// device's default control endpoint.
	Control(requestType, request uint8, value, index uint16, data []byte) (int, error)

	// ReadBulk blocks until one bulk-IN transfer completes or ctx is
	// cancelled.
	ReadBulk(ctx context.Context, buf []byte) (int, error)

	// WriteBulk submits one bulk-OUT transfer.
	WriteBulk(ctx context.Context, data []byte) (int, error)

	// Close releases the underlying device handle.
	Close() error
}

// Received is one bulk-IN transfer result queued by the reader
// goroutine, timestamped at the moment it was pulled off the wire.
type Received struct {
	Data      []byte
	Err       error
	Timestamp time.Time
}

// Reader runs the always-armed bulk-IN read loop described in spec
// §4.5: one goroutine blocks in ReadBulk with no deadline, and every
// completed read (success or error) is pushed into a bounded ring
// FIFO for the API layer to drain at its own pace.
type Reader struct {
	usb USB

	fifo chan Received
	stop chan struct{}
	done chan struct{}

	bufSize int
}

// NewReader starts the reader goroutine against usb, sized to hold up
// to depth pending transfers before the oldest is dropped.
func NewReader(usb USB, bufSize, depth int) *Reader {
	r := &Reader{
		usb:     usb,
		fifo:    make(chan Received, depth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		bufSize: bufSize,
	}
	go r.loop()
	return r
}

func (r *Reader) loop() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		buf := make([]byte, r.bufSize)
		n, err := r.usb.ReadBulk(context.Background(), buf)
		now := time.Now()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.push(Received{Err: err, Timestamp: now})
			select {
			case <-time.After(retryDelay):
			case <-r.stop:
				return
			}
			continue
		}

		r.push(Received{Data: buf[:n], Timestamp: now})
	}
}

// push enqueues one result, dropping the oldest pending entry when the
// ring is full rather than blocking the reader goroutine.
func (r *Reader) push(rx Received) {
	select {
	case r.fifo <- rx:
		return
	default:
	}
	select {
	case <-r.fifo:
	default:
	}
	select {
	case r.fifo <- rx:
	default:
		pkg.LogWarn(pkg.ComponentTransport, "bulk-IN FIFO overflow, dropping transfer")
	}
}

// Next returns the next queued bulk-IN result, blocking until one
// arrives or ctx is cancelled.
func (r *Reader) Next(ctx context.Context) (Received, error) {
	select {
	case rx := <-r.fifo:
		return rx, nil
	case <-ctx.Done():
		return Received{}, ctx.Err()
	}
}

// Close signals the reader goroutine to stop and waits up to
// closeJoinTimeout for it to exit. A read already blocked in ReadBulk
// only unblocks once the underlying USB handle itself is closed —
// callers close the USB device before or concurrently with Close.
func (r *Reader) Close() error {
	close(r.stop)
	select {
	case <-r.done:
	case <-time.After(closeJoinTimeout):
		pkg.LogWarn(pkg.ComponentTransport, "reader goroutine did not exit within join timeout")
	}
	return nil
}
