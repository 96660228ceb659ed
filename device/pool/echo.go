package pool

import "github.com/canbridge/usbcan/wire"

// EchoSlot is a saved copy of a submitted Tx frame, kept around long
// enough to correlate the controller's Tx-complete event back to the
// original submission (spec §3 "Echo slot"). The marker is a
// free-running 8-bit counter; a slot is overwritten when the marker
// wraps, which is safe because the window of genuinely outstanding
// markers (a handful of controller mailboxes plus the queued backlog)
// is far smaller than TxEchoSlots.
type EchoSlot struct {
	Valid bool
	Frame wire.Frame
}

// EchoTable is the fixed TxEchoSlots-entry array indexed by marker
// byte. It persists for the device's lifetime (spec §3: "the Tx-echo
// slot array persists for the device's lifetime"), unlike the pools
// which are recreated at Open.
type EchoTable struct {
	slots  [TxEchoSlots]EchoSlot
	marker uint8
}

// NewEchoTable returns an empty table with the marker counter at zero.
func NewEchoTable() *EchoTable { return &EchoTable{} }

// Next assigns the next free-running marker to f, saves a copy, and
// returns the marker to embed in the TxFrame submission.
func (t *EchoTable) Next(f wire.Frame) uint8 {
	m := t.marker
	t.marker++
	t.slots[m] = EchoSlot{Valid: true, Frame: f}
	return m
}

// Take looks up and invalidates the slot for marker, returning the
// saved frame. ok is false if the slot was never assigned or was
// already consumed (a stale or duplicate Tx-complete event).
func (t *EchoTable) Take(marker uint8) (wire.Frame, bool) {
	s := t.slots[marker]
	if !s.Valid {
		return wire.Frame{}, false
	}
	t.slots[marker] = EchoSlot{}
	return s.Frame, true
}
