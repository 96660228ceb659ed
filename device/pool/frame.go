package pool

import "github.com/canbridge/usbcan/wire"

// Capacity constants from the device's fixed memory budget (spec §4.2,
// §GLOSSARY).
const (
	CanQueueSize  = 64 // can_pool
	HostQueueSize = 70 // host_pool
	TxEchoSlots   = 256
)

// Kind discriminates what a host_pool Slot carries once it reaches the
// to_host FIFO; can_pool slots are always Kind Tx (a host-submitted
// frame awaiting a mailbox).
type Kind uint8

const (
	KindTx Kind = iota // host -> device submission (can_pool only)
	KindRx             // bus-received frame
	KindTxEcho         // Tx-complete acknowledgment (extended protocol)
	KindError
	KindBusload
	KindString
)

// Slot is the payload carried by every pooled frame: a wire-neutral CAN
// frame plus bookkeeping the buffer layer needs to route it.
type Slot struct {
	Kind Kind

	Frame  wire.Frame
	EchoID uint32 // legacy protocol: 0xFFFFFFFF for bus-received, else echo
	Marker uint8  // extended protocol Tx-echo marker

	Error wire.ErrorReport
	ErrID wire.ErrID

	BusloadPermille uint32
	Text            string

	Immediate bool // error reports pre-empt ordinary messages (spec §5)
}

// Buffers is the pair of arenas described in spec §4.2: can_pool feeds
// the to_can FIFO (USB -> CAN bus submissions awaiting a free mailbox),
// host_pool feeds the to_host FIFO (CAN bus/control events awaiting
// the USB bulk-IN pump).
type Buffers struct {
	CanPool  *Arena[Slot]
	HostPool *Arena[Slot]
}

// NewBuffers allocates both arenas at their fixed capacities.
func NewBuffers() *Buffers {
	return &Buffers{
		CanPool:  New[Slot](CanQueueSize),
		HostPool: New[Slot](HostQueueSize),
	}
}

// Conserved reports the pool-conservation invariant from spec §8:
// |can_pool| + |to_can_inflight| + |mailboxes_in_use| == CanQueueSize,
// and likewise for the host side. Callers pass the counts they track
// outside the arena (in-flight mailbox submissions, the single
// in-flight bulk-IN transfer).
func (b *Buffers) Conserved(mailboxesInUse, bulkInFlight int) bool {
	canTotal := b.CanPool.PoolFree() + b.CanPool.QueueLen() + mailboxesInUse
	hostTotal := b.HostPool.PoolFree() + b.HostPool.QueueLen() + bulkInFlight
	return canTotal == CanQueueSize && hostTotal == HostQueueSize
}

// Clear empties both to_can/to_host FIFOs back to their pools, used by
// Close (spec §4.1 Cancellation).
func (b *Buffers) Clear() {
	b.CanPool.Clear()
	b.HostPool.Clear()
}
