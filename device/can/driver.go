package can

import (
	"github.com/canbridge/usbcan/device/pool"
	"github.com/canbridge/usbcan/pkg"
	"github.com/canbridge/usbcan/wire"
)

// Error reporting cadence (spec §4.3).
const (
	reportDebounce = 100  // ms: delay before reporting a just-changed aggregate
	reportResend   = 3000 // ms: interval for re-sending an unchanged, still-active aggregate
)

// Driver implements the device CAN peripheral logic described in spec
// §4.3: Open/Close state machine, Tx submission via the buffer layer,
// Rx/Tx-event callbacks, error accounting cadence, and busload
// sampling. It owns no hardware directly — all of that is behind
// Controller.
type Driver struct {
	ctrl     Controller
	buffers  *pool.Buffers
	echo     *pool.EchoTable
	tickFunc func() uint32

	state      State
	nominalSet bool
	nominal    wire.BitTiming
	data       *wire.BitTiming
	mode       wire.Mode
	filters    wire.FilterSet

	appFlags wire.AppFlag

	lastReport     wire.ErrorReport
	haveLastReport bool
	pendingSince   uint32
	pendingActive  bool
	lastSentAt     uint32

	busloadIntervalMS uint32
	lastBusloadAt     uint32
}

// NewDriver wires a Controller to its buffer pools and echo table.
// tickFunc supplies the device's monotonic millisecond clock used for
// the error-report cadence and busload sampling intervals.
func NewDriver(ctrl Controller, buffers *pool.Buffers, echo *pool.EchoTable, tickFunc func() uint32) *Driver {
	d := &Driver{ctrl: ctrl, buffers: buffers, echo: echo, tickFunc: tickFunc, state: StateClosed}
	if cb, ok := ctrl.(Callbacked); ok {
		cb.SetCallbacks(d.onRx, d.onTxEvent)
	}
	return d
}

// State reports the current position in the open state machine.
func (d *Driver) State() State { return d.state }

// Capability reports the bit-timing bounds, feature bitset, and clock
// rate the underlying controller advertises (spec §4.4
// GetCapabilities/GetCapabilitiesFD).
func (d *Driver) Capability() wire.Capability { return d.ctrl.Capability() }

// SetNominalBitTiming validates and stages the nominal bit timing,
// advancing Closed -> Configured.
func (d *Driver) SetNominalBitTiming(t wire.BitTiming) error {
	if err := d.ctrl.Capability().Validate(t); err != nil {
		return err
	}
	d.nominal = t
	d.nominalSet = true
	if d.state == StateClosed {
		d.state = StateConfigured
	}
	return nil
}

// SetDataBitTiming validates and stages the data-phase bit timing,
// which implicitly enables FD mode at Open (spec §4.3).
func (d *Driver) SetDataBitTiming(t wire.BitTiming) error {
	if err := d.ctrl.Capability().Validate(t); err != nil {
		return err
	}
	d.data = &t
	return nil
}

// AddFilter installs a mask filter, returning false if that scope's
// table is full.
func (d *Driver) AddFilter(f wire.MaskFilter) bool { return d.filters.Add(f) }

// Open applies pending bit timings, resets error/Rx state, installs
// filters, and starts the controller (spec §4.3). Refuses to open
// without at least a nominal bit timing set.
func (d *Driver) Open(mode wire.Mode) error {
	if !d.nominalSet {
		return pkg.ErrBaudrateNotSet
	}
	if err := d.ctrl.Start(d.nominal, d.data, mode); err != nil {
		return err
	}
	d.mode = mode
	d.ctrl.SetFilters(&d.filters)
	d.appFlags = 0
	d.haveLastReport = false
	d.pendingActive = false
	d.state = StateRunning
	return nil
}

// Close stops the controller, flushes queues back to their pools, and
// returns to Closed, leaving the echo table intact (it persists for
// the device's lifetime, spec §3).
func (d *Driver) Close() error {
	if err := d.ctrl.Stop(); err != nil {
		return err
	}
	d.buffers.Clear()
	d.filters.Clear()
	d.appFlags = 0
	d.state = StateClosed
	return nil
}

// SendPacket is the device-side entry point for a host-submitted
// frame: it acquires a can_pool slot and enqueues it on to_can.
// Returns TxBufferFull if the pool is exhausted, BusIsOff / AdapterMustBeOpen
// / NoTxInSilentMode for the corresponding mode violations (spec §4.2,
// §7).
func (d *Driver) SendPacket(f wire.Frame) error {
	if d.state != StateRunning {
		return pkg.ErrAdapterMustBeOpen
	}
	if d.mode.Variant == wire.ModeListenOnly {
		return pkg.ErrNoTxInSilentMode
	}
	tx, rx := d.ctrl.ErrorCounters()
	if wire.BusStatusFromCounters(tx, rx) == wire.BusStatusOff {
		return pkg.ErrBusIsOff
	}
	slot, v, ok := d.buffers.CanPool.Acquire()
	if !ok {
		d.appFlags |= wire.AppFlagTxFifoOverflow
		return pkg.ErrTxBufferFull
	}
	*v = pool.Slot{Kind: pool.KindTx, Frame: f}
	d.buffers.CanPool.Enqueue(slot)
	return nil
}

// Drain services the to_can FIFO: while a mailbox is free and frames
// are queued, it dequeues one, validates it, and submits it to the
// controller (spec §4.2). On validation failure it asserts TxFail and
// returns the slot to can_pool without sending.
func (d *Driver) Drain() {
	for d.ctrl.MailboxFree() {
		slot, v, ok := d.buffers.CanPool.Dequeue()
		if !ok {
			break
		}
		f := v.Frame
		d.buffers.CanPool.Release(slot)

		if err := f.Validate(); err != nil {
			d.appFlags |= wire.AppFlagTxFail
			continue
		}

		extended := d.mode.Flags.Has(wire.FlagExtendedProtocol)
		var marker uint8
		if extended {
			// The marker must be assigned before Send so a synchronous
			// controller's onTxEvent can look it up immediately.
			marker = d.echo.Next(f)
		}

		sentOK, _ := d.ctrl.Send(f, marker)
		if !sentOK {
			d.appFlags |= wire.AppFlagTxFail
			if extended {
				d.echo.Take(marker)
			}
			continue
		}

		if d.mode.Flags.Has(wire.FlagSuppressTxEcho) {
			continue
		}

		if extended {
			// Real echo: emitted from onTxEvent once the mailbox
			// reports completion, carrying the controller's actual
			// transmit timestamp.
		} else {
			// Legacy protocol historically fakes the Tx-echo the
			// moment the frame enters the Tx FIFO rather than waiting
			// for the real Tx-ACK, so its timestamp does not reflect
			// the actual transmit time. Preserved here for
			// compatibility rather than fixed (spec §9 open question b).
			d.emitLegacyEcho(f)
		}
	}
}

func (d *Driver) emitLegacyEcho(f wire.Frame) {
	slot, v, ok := d.buffers.HostPool.Acquire()
	if !ok {
		d.appFlags |= wire.AppFlagUsbInOverflow
		return
	}
	*v = pool.Slot{Kind: pool.KindTxEcho, Frame: f, EchoID: 1}
	d.buffers.HostPool.Enqueue(slot)
}

// onRx is the controller's Rx-interrupt callback (spec §4.3
// RxCallback): copy the frame, acquire a host_pool slot, enqueue on
// to_host.
func (d *Driver) onRx(ev RxEvent) {
	f := ev.Frame
	f.HasTimestamp = true
	f.Timestamp = d.now()
	slot, v, ok := d.buffers.HostPool.Acquire()
	if !ok {
		d.appFlags |= wire.AppFlagUsbInOverflow
		return
	}
	*v = pool.Slot{Kind: pool.KindRx, Frame: f, EchoID: wire.LegacyEchoIDReceived}
	d.buffers.HostPool.Enqueue(slot)
}

// onTxEvent is the controller's Tx-complete callback (spec §4.3
// TxEventCallback), extended protocol only: format a TxEcho carrying
// the original marker and the controller's transmit timestamp.
func (d *Driver) onTxEvent(ev TxEvent) {
	if !d.mode.Flags.Has(wire.FlagExtendedProtocol) {
		return
	}
	if d.mode.Flags.Has(wire.FlagSuppressTxEcho) {
		return
	}
	if _, ok := d.echo.Take(ev.Marker); !ok {
		return
	}
	slot, v, ok := d.buffers.HostPool.Acquire()
	if !ok {
		d.appFlags |= wire.AppFlagUsbInOverflow
		return
	}
	*v = pool.Slot{Kind: pool.KindTxEcho, Marker: ev.Marker, Frame: wire.Frame{Timestamp: ev.Timestamp}}
	d.buffers.HostPool.Enqueue(slot)
}

// PopHostSlot dequeues the next message waiting on to_host, if any.
// Used by the ASCII command layer to read back the Tx-echo produced by
// a synchronous Process() call immediately after SendPacket.
func (d *Driver) PopHostSlot() (pool.Slot, bool) {
	idx, v, ok := d.buffers.HostPool.Dequeue()
	if !ok {
		return pool.Slot{}, false
	}
	slot := *v
	d.buffers.HostPool.Release(idx)
	return slot, true
}

func (d *Driver) now() uint32 {
	if d.tickFunc == nil {
		return 0
	}
	return d.tickFunc()
}

// PollErrors reads the controller's current error state, maps it to
// the five-level aggregate, and emits an Error message on to_host
// according to this cadence: a changed report, including the first one
// after Open, is emitted once it has been pending for 100 ms, then
// resent every 3 s while unchanged and still active. Entering bus-off
// is reported at once and moves the state machine to Recovery; the
// return from bus-off to Active is reported at once with BackToActive
// set. A return to Active from Warning or Passive is an ordinary change
// without BackToActive, and no other condition is reported without the
// 100 ms delay.
func (d *Driver) PollErrors() {
	now := d.now()
	tx, rx := d.ctrl.ErrorCounters()
	status := wire.BusStatusFromCounters(tx, rx)
	proto := d.ctrl.ProtoErrors()
	busFlags := d.ctrl.BusFlags()

	report := wire.ErrorReport{
		BusFlags:   busFlags,
		ProtoFlags: proto,
		AppFlags:   d.appFlags,
		TxErrors:   tx,
		RxErrors:   rx,
		BusStatus:  status,
	}

	wasOff := d.haveLastReport && d.lastReport.BusStatus == wire.BusStatusOff
	backToActive := wasOff && status == wire.BusStatusActive
	report.BackToActive = backToActive

	changed := !d.haveLastReport || report != d.lastReport
	active := status != wire.BusStatusActive || proto != 0 || d.appFlags != 0

	switch {
	case backToActive:
		d.emitError(report)
		d.state = StateRunning
	case status == wire.BusStatusOff && (!d.haveLastReport || d.lastReport.BusStatus != wire.BusStatusOff):
		d.emitError(report)
		d.state = StateRecovery
	case changed:
		if !d.pendingActive {
			d.pendingActive = true
			d.pendingSince = now
		}
		if now-d.pendingSince >= reportDebounce {
			d.emitError(report)
			d.pendingActive = false
		}
	case active && now-d.lastSentAt >= reportResend:
		d.emitError(report)
	}

	if !active && !changed {
		d.appFlags = 0
	}
}

func (d *Driver) emitError(report wire.ErrorReport) {
	slot, v, ok := d.buffers.HostPool.Acquire()
	if ok {
		*v = pool.Slot{Kind: pool.KindError, Error: report, Immediate: true}
		d.buffers.HostPool.Enqueue(slot)
	}
	d.lastReport = report
	d.haveLastReport = true
	d.lastSentAt = d.now()
	d.appFlags = 0
}

// EnableBusload arms busload sampling at the given interval (spec
// §4.3: "interval k*100ms"); intervalMS == 0 disables it.
func (d *Driver) EnableBusload(intervalMS uint32) {
	d.busloadIntervalMS = intervalMS
	d.lastBusloadAt = d.now()
}

// PollBusload samples the controller's busload accumulator once per
// configured interval and emits a Busload message if non-zero (spec
// §4.3: "Zero busload is not reported").
func (d *Driver) PollBusload() {
	if d.busloadIntervalMS == 0 {
		return
	}
	now := d.now()
	if now-d.lastBusloadAt < d.busloadIntervalMS {
		return
	}
	d.lastBusloadAt = now
	permille := d.ctrl.BusloadPermille()
	if permille == 0 {
		return
	}
	slot, v, ok := d.buffers.HostPool.Acquire()
	if !ok {
		d.appFlags |= wire.AppFlagUsbInOverflow
		return
	}
	*v = pool.Slot{Kind: pool.KindBusload, BusloadPermille: permille}
	d.buffers.HostPool.Enqueue(slot)
}
