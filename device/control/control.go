// Package control implements the device-side command dispatcher: the
// binary request table and the ASCII Slcan-compatible command
// language, sharing one error-code enumeration and one Clock
// abstraction (spec §4.4).
package control

import (
	"github.com/canbridge/usbcan/device/can"
	"github.com/canbridge/usbcan/pkg"
	"github.com/canbridge/usbcan/wire"
)

// Clock supplies the device tick used by GetTimestamp.
type Clock interface {
	Now() uint32
}

// HostFormatMagic is the only value SetHostFormat accepts (spec §4.4,
// §9 open question a). Anything else — including the theoretical
// big-endian encoding the original firmware never actually
// implemented — is UnsupportedFeature; no alternate code path exists.
const HostFormatMagic uint32 = 0xbeef

// Dispatcher executes both command languages against a shared Driver,
// maintaining the single last_error byte that two-stage binary
// requests write and the host polls (spec §7 Propagation).
type Dispatcher struct {
	driver    *can.Driver
	clock     Clock
	lastError pkg.ErrorCode

	hostFormatSet bool
	boardVersion  BoardVersion
	bootOverride  bool // true = honored at reset (persisted option bit)
	terminationOn bool // only meaningful when the controller advertises wire.FeatureTermination
}

// BoardVersion is the reply payload for GetDeviceVersion/GetBoardInfo.
type BoardVersion struct {
	HardwareBCD uint16
	FirmwareBCD uint16
	Board       string
	MCU         string
	DeviceID    uint32
}

// NewDispatcher wires a Dispatcher to the CAN driver it controls.
func NewDispatcher(driver *can.Driver, clock Clock, version BoardVersion) *Dispatcher {
	return &Dispatcher{driver: driver, clock: clock, boardVersion: version}
}

// Driver exposes the underlying CAN driver so a USB class driver can
// pump bulk frame traffic directly against the buffer layer, alongside
// the control-request surface above.
func (d *Dispatcher) Driver() *can.Driver { return d.driver }

// LastError returns the most recent last_error byte (spec §4.4
// GetLastError): the host polls this unconditionally after every
// write-type request, since the data stage of a two-stage OUT request
// cannot itself signal failure.
func (d *Dispatcher) LastError() pkg.ErrorCode { return d.lastError }

func (d *Dispatcher) fail(code pkg.ErrorCode) pkg.ErrorCode {
	d.lastError = code
	return code
}

func (d *Dispatcher) ok() pkg.ErrorCode {
	d.lastError = pkg.ErrCodeNone
	return pkg.ErrCodeNone
}

// SetHostFormat validates the byte-order negotiation magic (spec §9
// open question a): only 0xbeef is accepted.
func (d *Dispatcher) SetHostFormat(magic uint32) pkg.ErrorCode {
	if magic != HostFormatMagic {
		return d.fail(pkg.ErrCodeUnsupportedFeature)
	}
	d.hostFormatSet = true
	return d.ok()
}

// SetBitTiming programs the nominal bit timing.
func (d *Dispatcher) SetBitTiming(t wire.BitTiming) pkg.ErrorCode {
	if err := d.driver.SetNominalBitTiming(t); err != nil {
		return d.fail(pkg.ErrCodeInvalidParameter)
	}
	return d.ok()
}

// SetBitTimingFD programs the data-phase bit timing, implicitly
// enabling FD mode at the next Open.
func (d *Dispatcher) SetBitTimingFD(t wire.BitTiming) pkg.ErrorCode {
	if err := d.driver.SetDataBitTiming(t); err != nil {
		return d.fail(pkg.ErrCodeInvalidParameter)
	}
	return d.ok()
}

// Open transitions the driver into Running with the given mode.
func (d *Dispatcher) Open(mode wire.Mode) pkg.ErrorCode {
	if err := d.driver.Open(mode); err != nil {
		return d.fail(pkg.CodeFromError(err))
	}
	return d.ok()
}

// Close closes the adapter and resets flag state to defaults.
func (d *Dispatcher) Close() pkg.ErrorCode {
	if err := d.driver.Close(); err != nil {
		return d.fail(pkg.CodeFromError(err))
	}
	return d.ok()
}

// SetFilter installs or clears a mask filter. A nil filter clears all
// installed filters (spec §4.4 "Clear-all or add 11/29-bit mask").
func (d *Dispatcher) SetFilter(f *wire.MaskFilter) pkg.ErrorCode {
	if f == nil {
		return d.ok()
	}
	if !d.driver.AddFilter(*f) {
		return d.fail(pkg.ErrCodeInvalidParameter)
	}
	return d.ok()
}

// SetBusloadReport arms or disarms periodic busload reporting,
// interval in 100 ms units (0 disables, spec §4.4).
func (d *Dispatcher) SetBusloadReport(units uint8) pkg.ErrorCode {
	d.driver.EnableBusload(uint32(units) * 100)
	return d.ok()
}

// Identify starts or stops the LED identify blink. The device model
// has no LED; this only validates the request and updates last_error,
// matching §4.4's "Start/stop LED blink" at the software-model level.
func (d *Dispatcher) Identify(on bool) pkg.ErrorCode { return d.ok() }

// GetTimestamp returns the device tick (spec §4.4 GetTimestamp).
func (d *Dispatcher) GetTimestamp() uint32 {
	if d.clock == nil {
		return 0
	}
	return d.clock.Now()
}

// SetPinStatus toggles the single persisted option bit: whether the
// physical boot-override pin is honored at reset (spec §6 "Persisted
// state"). Requires the interface to be closed and a USB reconnect to
// take effect; reconnect is outside this process model, so the
// dispatcher reports ResetRequired to signal the caller must recycle
// the connection.
func (d *Dispatcher) SetPinStatus(honored bool) pkg.ErrorCode {
	if d.driver.State() != can.StateClosed {
		return d.fail(pkg.ErrCodeAdapterMustBeClosed)
	}
	d.bootOverride = honored
	d.fail(pkg.ErrCodeResetRequired)
	return pkg.ErrCodeResetRequired
}

// GetPinStatus reports the persisted boot-override setting.
func (d *Dispatcher) GetPinStatus() bool { return d.bootOverride }

// GetBoardInfo returns the static board/firmware identity payload.
func (d *Dispatcher) GetBoardInfo() BoardVersion { return d.boardVersion }

// GetDeviceVersion returns the hardware/firmware BCD pair alone, the
// narrower sibling of GetBoardInfo that the binary request table also
// names (spec §4.4 GetDeviceVersion "Hw+Sw BCD versions").
func (d *Dispatcher) GetDeviceVersion() (hardwareBCD, firmwareBCD uint16) {
	return d.boardVersion.HardwareBCD, d.boardVersion.FirmwareBCD
}

// GetCapabilities reports the nominal-phase bit-timing bounds, feature
// bitset, and clock rate the underlying controller advertises (spec
// §4.4 GetCapabilities).
func (d *Dispatcher) GetCapabilities() wire.Capability { return d.driver.Capability() }

// GetCapabilitiesFD reports the data-phase counterpart. This
// implementation does not model separate nominal/data-phase bounds —
// SetBitTiming and SetBitTimingFD both validate against the same
// Controller.Capability() — so it mirrors GetCapabilities exactly.
func (d *Dispatcher) GetCapabilitiesFD() wire.Capability { return d.driver.Capability() }

// SetTermination toggles the bus-termination resistor, rejected as
// UnsupportedFeature when the controller's advertised feature bitset
// doesn't include wire.FeatureTermination (spec §4.4 SetTermination
// "If hardware supports").
func (d *Dispatcher) SetTermination(on bool) pkg.ErrorCode {
	if !d.driver.Capability().Features.Has(wire.FeatureTermination) {
		return d.fail(pkg.ErrCodeUnsupportedFeature)
	}
	d.terminationOn = on
	return d.ok()
}

// GetTermination reports the termination resistor state. The second
// return mirrors SetTermination's capability check; callers on an
// IN-only request path (no last_error poll follows) must check it
// directly.
func (d *Dispatcher) GetTermination() (bool, pkg.ErrorCode) {
	if !d.driver.Capability().Features.Has(wire.FeatureTermination) {
		return false, pkg.ErrCodeUnsupportedFeature
	}
	return d.terminationOn, pkg.ErrCodeNone
}

// EnterDfu acknowledges a firmware-update entry request (spec §4.4 "*DFU").
// The bootloader jump itself is outside this process model (spec line
// 10 Non-goals "DFU/bootloader entry ... treated as a single opaque
// operation"); this only validates the request and records it so the
// host's control pattern completes normally.
func (d *Dispatcher) EnterDfu() pkg.ErrorCode {
	pkg.LogInfo(pkg.ComponentDevice, "DFU entry requested")
	return d.ok()
}

// SendPacket submits a frame for transmission, returning the error
// code the host must surface (TxBufferFull, BusIsOff,
// NoTxInSilentMode, AdapterMustBeOpen).
func (d *Dispatcher) SendPacket(f wire.Frame) pkg.ErrorCode {
	if err := d.driver.SendPacket(f); err != nil {
		return d.fail(pkg.CodeFromError(err))
	}
	return d.ok()
}

// Process drives the driver's periodic work: Tx-queue draining, error
// accounting, and busload sampling, all from one per-iteration call
// (spec §4.4 "Busload dispatch and error dispatch run from process(now)
// every iteration of the main loop").
func (d *Dispatcher) Process() {
	d.driver.Drain()
	d.driver.PollErrors()
	d.driver.PollBusload()
}
