// Package simulated implements an in-process hal.DeviceHAL backed by
// channels instead of real USB hardware: the device-side half of the
// channel-pair bus described in spec §1 [ADD] "Process model". Its
// host-side counterpart is transport.SimulatedUSB; together they let
// the whole stack (device.Stack down to host/api) run end to end in a
// test binary with no microcontroller or libusb present.
package simulated

import (
	"context"

	"github.com/canbridge/usbcan/device/hal"
	"github.com/canbridge/usbcan/pkg"
)

// Bus is the shared channel set one simulated adapter's device and
// host halves rendezvous on. A Bus models exactly one control pipe
// plus one bulk IN/OUT endpoint pair, matching the candle vendor class
// layout (spec §6): this is not a general-purpose USB bus simulator.
type Bus struct {
	control chan ControlRequest
	resp    chan ControlResponse

	bulkOut chan []byte
	bulkIn  chan []byte

	connected chan struct{}
}

// ControlRequest is one host-to-device control transaction, built by
// the host-side transport and consumed by ReadSetup/ReadEP0.
type ControlRequest struct {
	Setup hal.SetupPacket
	Data  []byte // host-to-device data stage, nil otherwise
}

// ControlResponse is the device's reply to a ControlRequest.
type ControlResponse struct {
	Data []byte // device-to-host data stage, nil otherwise
	Err  error
}

// NewBus allocates a fresh, unconnected bus.
func NewBus() *Bus {
	return &Bus{
		control:   make(chan ControlRequest),
		resp:      make(chan ControlResponse),
		bulkOut:   make(chan []byte, 64),
		bulkIn:    make(chan []byte, 64),
		connected: make(chan struct{}),
	}
}

// InAddress/OutAddress are the bulk endpoint addresses the candle
// class layout exposes (spec §6): 0x81 IN, 0x01 OUT.
const (
	InAddress  = 0x81
	OutAddress = 0x01
)

// Exchange runs one synchronous control transaction from the host
// side: it hands req to the device's ReadSetup and blocks for the
// matching ControlResponse.
func (b *Bus) Exchange(req ControlRequest) ControlResponse {
	b.control <- req
	return <-b.resp
}

// BulkIn is the device-to-host bulk data channel.
func (b *Bus) BulkIn() <-chan []byte { return b.bulkIn }

// BulkOut is the host-to-device bulk data channel.
func (b *Bus) BulkOut() chan<- []byte { return b.bulkOut }

// HAL implements hal.DeviceHAL over a Bus. Every control transaction
// is a single synchronous rendezvous: ReadSetup blocks for the next
// request, and whichever of WriteEP0/AckEP0 or a zero-length ReadEP0
// comes last (per device.Stack's two-phase completeSetup) sends the
// response back.
type HAL struct {
	bus *Bus

	pending   ControlRequest
	pendingIn []byte
	speed     hal.Speed
}

// New creates the device-side half of bus.
func New(bus *Bus) *HAL {
	return &HAL{bus: bus, speed: hal.SpeedHigh}
}

// Init is a no-op: there is no hardware to bring up.
func (h *HAL) Init(ctx context.Context) error { return nil }

// Start marks the simulated bus connected.
func (h *HAL) Start() error {
	select {
	case <-h.bus.connected:
	default:
		close(h.bus.connected)
	}
	return nil
}

// Stop is a no-op; the bus has no attach/detach state to tear down.
func (h *HAL) Stop() error { return nil }

// SetAddress is a no-op: address assignment has no simulated effect.
func (h *HAL) SetAddress(address uint8) error { return nil }

// ConfigureEndpoints is a no-op: the bus has a fixed single bulk pair.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error { return nil }

// ReadSetup blocks for the next control transaction from the host.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case req := <-h.bus.control:
		h.pending = req
		h.pendingIn = nil
		*out = req.Setup
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteEP0 stages the IN data stage payload; it is sent to the host
// once the status stage completes (see ReadEP0).
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	h.pendingIn = append([]byte(nil), data...)
	return nil
}

// ReadEP0 serves two roles, matching device.Stack's call pattern: a
// positive-length read consumes the host-to-device data stage already
// captured by ReadSetup; a zero-length read is the device-to-host
// status-stage wait, which completes the transaction.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if len(buf) > 0 {
		n := copy(buf, h.pending.Data)
		return n, nil
	}
	return 0, h.respond(nil)
}

// StallEP0 completes the pending transaction with an error.
func (h *HAL) StallEP0() error {
	return h.respond(pkg.ErrInvalidRequest)
}

// AckEP0 completes a host-to-device transaction with no further data.
func (h *HAL) AckEP0() error {
	return h.respond(nil)
}

func (h *HAL) respond(err error) error {
	resp := ControlResponse{Data: h.pendingIn, Err: err}
	h.pendingIn = nil
	h.bus.resp <- resp
	return nil
}

// Read serves the bulk OUT endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	select {
	case data := <-h.bus.bulkOut:
		return copy(buf, data), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write serves the bulk IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	cp := append([]byte(nil), data...)
	select {
	case h.bus.bulkIn <- cp:
		return len(data), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stall and ClearStall have no simulated endpoint-halt state.
func (h *HAL) Stall(address uint8) error      { return nil }
func (h *HAL) ClearStall(address uint8) error { return nil }

// IsConnected reports whether Start has run.
func (h *HAL) IsConnected() bool {
	select {
	case <-h.bus.connected:
		return true
	default:
		return false
	}
}

// GetSpeed reports the fixed simulated link speed.
func (h *HAL) GetSpeed() hal.Speed { return h.speed }

// WaitConnect blocks until Start runs or ctx is cancelled.
func (h *HAL) WaitConnect(ctx context.Context) error {
	select {
	case <-h.bus.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitDisconnect never returns on its own; the simulated bus has no
// detach signal. It blocks until ctx is cancelled.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

var _ hal.DeviceHAL = (*HAL)(nil)
