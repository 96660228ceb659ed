// Package can implements the device-side CAN peripheral driver: bit
// timing, mask filtering, Tx/Rx dispatch, bus-state/error accounting,
// busload estimation, and the Closed/Configured/Running/Recovery state
// machine (spec §4.3).
package can

import "github.com/canbridge/usbcan/wire"

// Controller abstracts the physical CAN peripheral away from the
// driver logic in Driver, mirroring how samsamfire-gocanopen's Bus
// interface abstracts frame transport away from the CANopen protocol
// layer above it. A real register-level driver and the in-process
// Simulated controller both implement it.
type Controller interface {
	// Capability reports the bit-timing bounds this controller advertises.
	Capability() wire.Capability

	// Start arms the controller with the given nominal/data timing and
	// mode, enabling Rx and Tx-event interrupts. data is nil for classic
	// (non-FD) operation.
	Start(nominal wire.BitTiming, data *wire.BitTiming, mode wire.Mode) error

	// Stop disables the controller and clears pending mailboxes.
	Stop() error

	// MailboxFree reports whether at least one Tx mailbox is currently
	// free, so the driver only dequeues to_can when submission can
	// actually proceed (spec §4.2).
	MailboxFree() bool

	// Send pushes a frame to a free Tx mailbox, tagged with marker so a
	// later Tx-complete event can report the same value back through
	// TxEventCallback. ok is false if no mailbox is currently free.
	Send(f wire.Frame, marker uint8) (ok bool, err error)

	// SetFilters installs the active mask filter set.
	SetFilters(fs *wire.FilterSet)

	// ErrorCounters returns the controller's live Tx/Rx error counters.
	ErrorCounters() (tx, rx uint8)

	// ProtoErrors returns and clears the latched framing-violation flags
	// observed since the last call (spec §6 byte 2).
	ProtoErrors() wire.ProtoErrFlag

	// BusFlags returns the controller's protocol/bus status flags
	// (spec §6 byte 1).
	BusFlags() wire.BusFlag

	// BusloadPermille samples the current bus utilization in per-mille,
	// resetting the accumulator (spec §4.3 busload).
	BusloadPermille() uint32
}

// RxEvent is what a Controller reports to the driver's RxCallback for
// one received frame.
type RxEvent struct {
	Frame     wire.Frame
	Timestamp uint32
}

// TxEvent is what a Controller reports to the driver's TxEventCallback
// once a mailbox finishes transmitting (extended protocol only).
type TxEvent struct {
	Marker    uint8
	Timestamp uint32
}

// RxCallback is invoked once per frame accepted by the controller's
// filters (spec §4.3 RxCallback).
type RxCallback func(RxEvent)

// TxEventCallback is invoked once a submitted frame's mailbox reports
// a successful transmission (spec §4.3 TxEventCallback).
type TxEventCallback func(TxEvent)

// Callbacked is implemented by controllers that can dispatch Rx and
// Tx-complete events back into the driver, standing in for the real
// controller's interrupt vectors.
type Callbacked interface {
	SetCallbacks(onRx RxCallback, onTxEvent TxEventCallback)
}
