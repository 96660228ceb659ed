// Package api implements the host driver's user-facing surface: open,
// configure, start, send, and receive against one adapter reached
// through host/transport, plus the control-pattern/echo-reconciliation
// logic spec §4.6 describes (every OUT call followed by GetLastError,
// each Tx echo matched to the oldest pending send; the echo's marker is
// not used for the match).
package api

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/canbridge/usbcan/device"
	"github.com/canbridge/usbcan/device/class/candle"
	"github.com/canbridge/usbcan/device/control"
	"github.com/canbridge/usbcan/host/transport"
	"github.com/canbridge/usbcan/pkg"
	"github.com/canbridge/usbcan/wire"
)

// controlTimeout bounds every vendor control transfer (spec §5 "control
// transfers use 500 ms").
const controlTimeout = 500 * time.Millisecond

// bulkOutTimeout bounds the bulk OUT pipe (spec §5).
const bulkOutTimeout = 500 * time.Millisecond

// bulkReadBufSize and fifoDepth size the always-armed reader (spec
// §4.5); large enough for several extended messages per transfer.
const (
	bulkReadBufSize = 512
	fifoDepth       = 64
)

// echoSlot is one entry in the client's pending-echo queue, kept in
// send order (spec §4.6 "Tx echo reconciliation").
type echoSlot struct {
	valid  bool
	frame  wire.Frame
	wallTS time.Time
}

// BoardInfo mirrors device/control.BoardVersion for the host side.
type BoardInfo = control.BoardVersion

// Client is one opened adapter. It owns the control/bulk transport, the
// send-ordered pending-echo queue, and the timestamp origin captured at
// Start (spec §4.6, §4.7).
type Client struct {
	usb    transport.USB
	reader *transport.Reader

	capability wire.Capability
	board      BoardInfo

	mu         sync.Mutex
	extended   bool
	timestamps bool

	marker            uint8
	pendingEcho       []echoSlot
	txOverflowLatched bool

	tickOrigin uint32
	wallOrigin time.Time
}

// Open acquires usb as the exclusive handle to one adapter: it sends
// SetHostFormat, reads back board info, and starts the bulk reader
// (spec §4.6 "open(path)"). cap bounds the bit-timing fields this
// adapter accepts, normally read from a descriptor in a real
// deployment; the simulated bus has no such descriptor so callers
// supply it directly.
func Open(usb transport.USB, cap wire.Capability) (*Client, error) {
	c := &Client{usb: usb, capability: cap}

	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], control.HostFormatMagic)
	if err := c.out(candle.ReqSetHostFormat, 0, 0, magic[:]); err != nil {
		return nil, err
	}

	info, err := c.getBoardInfo()
	if err != nil {
		return nil, err
	}
	c.board = info

	c.reader = transport.NewReader(usb, bulkReadBufSize, fifoDepth)
	pkg.LogInfo(pkg.ComponentHost, "adapter opened", "board", info.Board, "mcu", info.MCU)
	return c, nil
}

// Close stops the reader and releases the USB handle (spec §4.6
// "close()").
func (c *Client) Close() error {
	if c.reader != nil {
		c.reader.Close()
	}
	if err := c.out(candle.ReqClose, 0, 0, nil); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "close request failed", "error", err)
	}
	return c.usb.Close()
}

// BoardInfo returns the board/firmware identity captured at Open.
func (c *Client) BoardInfo() BoardInfo { return c.board }

// out issues one vendor SETUP with a host-to-device data stage, then
// unconditionally polls GetLastError and converts a non-zero feedback
// byte to the structured error (spec §4.6 "Control pattern").
func (c *Client) out(request uint8, value, index uint16, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var reqType uint8 = device.RequestDirectionHostToDevice | device.RequestTypeVendor | device.RequestRecipientInterface
	if _, err := c.controlCtx(ctx, reqType, request, value, index, data); err != nil {
		return fmt.Errorf("usbcan: %s: %w", requestName(request), err)
	}

	var last [1]byte
	var inType uint8 = device.RequestDirectionDeviceToHost | device.RequestTypeVendor | device.RequestRecipientInterface
	if _, err := c.controlCtx(ctx, inType, candle.ReqGetLastError, 0, 0, last[:]); err != nil {
		return fmt.Errorf("usbcan: GetLastError: %w", err)
	}

	if code := pkg.ErrorCode(last[0]); code != pkg.ErrCodeNone {
		return fmt.Errorf("usbcan: %s: %w", requestName(request), code.Err())
	}
	return nil
}

// in issues one vendor SETUP with a device-to-host data stage and
// returns the reply payload, with no GetLastError poll (spec §4.6
// applies the poll only to OUT calls).
func (c *Client) in(request uint8, value, index uint16, reply []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	var reqType uint8 = device.RequestDirectionDeviceToHost | device.RequestTypeVendor | device.RequestRecipientInterface
	_, err := c.controlCtx(ctx, reqType, request, value, index, reply)
	return err
}

func (c *Client) controlCtx(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := c.usb.Control(requestType, request, value, index, data)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", pkg.ErrTransport, ctx.Err())
	}
}

func requestName(request uint8) string {
	switch request {
	case candle.ReqSetHostFormat:
		return "SetHostFormat"
	case candle.ReqSetBitTiming:
		return "SetBitTiming"
	case candle.ReqSetBitTimingFD:
		return "SetBitTimingFD"
	case candle.ReqOpen:
		return "Open"
	case candle.ReqClose:
		return "Close"
	case candle.ReqSetFilter:
		return "SetFilter"
	case candle.ReqSetBusloadReport:
		return "SetBusloadReport"
	case candle.ReqIdentify:
		return "Identify"
	case candle.ReqSetPinStatus:
		return "SetPinStatus"
	case candle.ReqSetTermination:
		return "SetTermination"
	case candle.ReqEnterDfu:
		return "EnterDfu"
	default:
		return fmt.Sprintf("request(0x%02x)", request)
	}
}

func (c *Client) getBoardInfo() (BoardInfo, error) {
	var buf [2 + 2 + 4 + 16 + 16]byte
	if err := c.in(candle.ReqGetBoardInfo, 0, 0, buf[:]); err != nil {
		return BoardInfo{}, err
	}
	info := BoardInfo{
		HardwareBCD: binary.LittleEndian.Uint16(buf[0:2]),
		FirmwareBCD: binary.LittleEndian.Uint16(buf[2:4]),
		DeviceID:    binary.LittleEndian.Uint32(buf[4:8]),
		Board:       trimNulls(buf[8:24]),
		MCU:         trimNulls(buf[24:40]),
	}
	return info, nil
}

func trimNulls(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// SetNominalBitrate programs the nominal bit timing, deriving sjw =
// min(s1,s2) automatically (spec §4.6).
func (c *Client) SetNominalBitrate(brp, s1, s2 uint32) error {
	t := wire.BitTiming{BRP: brp, Seg1: s1, Seg2: s2, SJW: minU32(s1, s2)}
	if err := c.capability.Validate(t); err != nil {
		return fmt.Errorf("usbcan: %w", err)
	}
	return c.out(candle.ReqSetBitTiming, 0, 0, marshalBitTiming(t))
}

// SetDataBitrate programs the data-phase bit timing (FD), also
// deriving sjw = min(s1,s2) (spec §4.6).
func (c *Client) SetDataBitrate(brp, s1, s2 uint32) error {
	t := wire.BitTiming{BRP: brp, Seg1: s1, Seg2: s2, SJW: minU32(s1, s2)}
	if err := c.capability.Validate(t); err != nil {
		return fmt.Errorf("usbcan: %w", err)
	}
	return c.out(candle.ReqSetBitTimingFD, 0, 0, marshalBitTiming(t))
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func marshalBitTiming(t wire.BitTiming) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], t.BRP)
	binary.LittleEndian.PutUint32(buf[4:8], t.Seg1)
	binary.LittleEndian.PutUint32(buf[8:12], t.Seg2)
	binary.LittleEndian.PutUint32(buf[12:16], t.SJW)
	return buf
}

// AddMaskFilter installs one mask filter (spec §4.6). It always sends an
// add request, whatever the scope, accept and mask values; it never
// clears filters.
func (c *Client) AddMaskFilter(scope wire.FilterScope, accept, mask uint32) error {
	buf := make([]byte, 9)
	buf[0] = byte(scope)
	binary.LittleEndian.PutUint32(buf[1:5], accept)
	binary.LittleEndian.PutUint32(buf[5:9], mask)
	return c.out(candle.ReqSetFilter, 0, 0, buf)
}

// ClearFilters removes every installed mask filter (spec §4.4
// "Clear-all or add").
func (c *Client) ClearFilters() error {
	return c.out(candle.ReqSetFilter, 0, 0, nil)
}

// Start opens the CAN controller with the given mode and flags,
// forcing FlagExtendedProtocol on per spec §9(c) ("start() selects
// [extended] by default"), and captures the device-tick origin used to
// reconstruct wall-clock timestamps (spec §4.6 "start(flags)", §4.7).
func (c *Client) Start(variant wire.Variant, flags wire.ModeFlags) error {
	flags |= wire.FlagExtendedProtocol
	mode := wire.Mode{Variant: variant, Flags: flags}
	buf := []byte{byte(mode.Variant), byte(mode.Flags)}
	if err := c.out(candle.ReqOpen, 0, 0, buf); err != nil {
		return err
	}

	c.mu.Lock()
	c.extended = true
	c.timestamps = flags.Has(wire.FlagSendFirmwareTimestamp)
	c.txOverflowLatched = false
	c.mu.Unlock()

	origin, err := c.GetTimestamp()
	if err != nil {
		return err
	}
	c.tickOrigin = origin
	c.wallOrigin = time.Now()
	return nil
}

// Stop closes the CAN controller (spec §4.4 close).
func (c *Client) Stop() error {
	return c.out(candle.ReqClose, 0, 0, nil)
}

// GetTimestamp reads the device's free-running tick counter (spec
// §4.4, §4.7).
func (c *Client) GetTimestamp() (uint32, error) {
	var buf [4]byte
	if err := c.in(candle.ReqGetTimestamp, 0, 0, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// SendPacket transmits one frame: it reserves the next marker, appends
// a copy of the frame to the pending-echo queue, and issues the bulk
// OUT transfer (spec §4.6 "send_packet"). The marker is incremented
// only after the slot is populated, matching §4.6's "incremented last
// to enable the lookup." Reconciliation itself walks the queue in
// enqueue order rather than indexing by the device's own echo marker:
// the device driver assigns its Tx-echo markers from its own counter,
// independent of the value carried in the TxFrame message, so the
// only value the host can rely on is the to_host FIFO's enqueue order
// (spec §5 "within the to_host FIFO all items appear in the order they
// were enqueued").
func (c *Client) SendPacket(f wire.Frame) (uint8, time.Time, error) {
	c.mu.Lock()
	if c.txOverflowLatched {
		c.mu.Unlock()
		return 0, time.Time{}, pkg.ErrTxBufferFull
	}
	marker := c.marker
	now := time.Now()
	c.pendingEcho = append(c.pendingEcho, echoSlot{valid: true, frame: f, wallTS: now})
	c.marker++
	extended, timestamps := c.extended, c.timestamps
	c.mu.Unlock()

	var (
		buf []byte
		err error
	)
	if !extended {
		rec := wire.FrameToLegacy(f, uint32(marker), 0)
		b := make([]byte, wire.LegacyRecordSize)
		wire.MarshalLegacy(rec, b)
		buf = b
	} else {
		msg := wire.TxFrameToMessage(f, marker)
		msg.HasTimestamp = timestamps
		buf, err = msg.Marshal()
		if err != nil {
			return 0, time.Time{}, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), bulkOutTimeout)
	defer cancel()
	if _, err := c.usb.WriteBulk(ctx, buf); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", pkg.ErrTransport, err)
	}
	return marker, now, nil
}

// ReceiveResult is the tagged outcome of Receive: exactly one of Packet,
// Timeout, FifoOverflow, or TransportErr describes what happened (spec
// §4.6 "receive(timeout)").
type ReceiveResult struct {
	Packet       *Packet
	Timeout      bool
	FifoOverflow bool
	TransportErr error
}

// Packet is one decoded, timestamp-reconciled CAN record delivered to
// the caller.
type Packet struct {
	Frame     wire.Frame
	IsEcho    bool
	DeviceTS  uint32
	WallTS    time.Time
	ErrReport *wire.ErrorReport
	ErrID     wire.ErrID
	Busload   uint8
	Text      string
}

// Receive pops one FIFO slot, decodes it, and reconciles each Tx echo
// with the oldest pending send, without looking at the echo's marker
// (spec §4.6 "receive(timeout)",
// "Tx echo reconciliation").
func (c *Client) Receive(ctx context.Context) ReceiveResult {
	rx, err := c.reader.Next(ctx)
	if err != nil {
		return ReceiveResult{Timeout: true}
	}
	if rx.Err != nil {
		return ReceiveResult{TransportErr: fmt.Errorf("%w: %v", pkg.ErrTransport, rx.Err)}
	}

	c.mu.Lock()
	extended, timestamps := c.extended, c.timestamps
	c.mu.Unlock()

	if !extended {
		return c.decodeLegacy(rx.Data, rx.Timestamp)
	}
	return c.decodeExtended(rx.Data, timestamps, rx.Timestamp)
}

func (c *Client) decodeLegacy(data []byte, wallTS time.Time) ReceiveResult {
	if len(data) < wire.LegacyRecordSize {
		return ReceiveResult{TransportErr: fmt.Errorf("%w: short legacy record", pkg.ErrProtocol)}
	}
	rec, err := wire.UnmarshalLegacy(data[:wire.LegacyRecordSize])
	if err != nil {
		return ReceiveResult{TransportErr: err}
	}
	if rec.IsError() {
		report, id, _ := rec.ToErrorReport()
		return ReceiveResult{Packet: &Packet{ErrReport: &report, ErrID: id, WallTS: wallTS}}
	}
	if rec.IsEcho() {
		return c.reconcileEcho(wallTS)
	}
	f := rec.ToFrame()
	return ReceiveResult{Packet: &Packet{Frame: f, WallTS: wallTS}}
}

func (c *Client) decodeExtended(data []byte, timestamps bool, wallTS time.Time) ReceiveResult {
	msg, _, err := wire.Unmarshal(data, timestamps)
	if err != nil {
		return ReceiveResult{TransportErr: err}
	}
	switch msg.Type {
	case wire.MsgRxFrame:
		f := msg.ToFrame()
		return ReceiveResult{Packet: &Packet{Frame: f, DeviceTS: msg.Timestamp, WallTS: wallTS}}
	case wire.MsgTxEcho:
		res := c.reconcileEcho(wallTS)
		if res.Packet != nil {
			res.Packet.DeviceTS = msg.Timestamp
		}
		return res
	case wire.MsgError:
		report, _ := wire.UnmarshalErrorReport(msg.ErrBytes[:])
		if report.AppFlags.Has(wire.AppFlagTxFifoOverflow) {
			c.mu.Lock()
			c.txOverflowLatched = true
			c.mu.Unlock()
		}
		return ReceiveResult{Packet: &Packet{ErrReport: &report, ErrID: msg.ErrID, DeviceTS: msg.Timestamp, WallTS: wallTS}}
	case wire.MsgBusload:
		return ReceiveResult{Packet: &Packet{Busload: msg.Percent, WallTS: wallTS}}
	case wire.MsgString:
		return ReceiveResult{Packet: &Packet{Text: msg.Text, WallTS: wallTS}}
	default:
		return ReceiveResult{TransportErr: fmt.Errorf("%w: unknown message type %d", pkg.ErrProtocol, msg.Type)}
	}
}

// reconcileEcho pops the oldest pending send off the queue and
// synthesizes a successfully-sent record (spec §4.6 "Tx echo
// reconciliation"); a TxEcho with no pending send (should never happen
// under the FIFO-ordering guarantee) is reported as a transport error
// rather than a panic.
func (c *Client) reconcileEcho(wallTS time.Time) ReceiveResult {
	c.mu.Lock()
	var slot echoSlot
	if len(c.pendingEcho) > 0 {
		slot = c.pendingEcho[0]
		c.pendingEcho = c.pendingEcho[1:]
	}
	c.mu.Unlock()
	if !slot.valid {
		return ReceiveResult{TransportErr: fmt.Errorf("%w: echo with no pending send", pkg.ErrProtocol)}
	}
	return ReceiveResult{Packet: &Packet{Frame: slot.frame, IsEcho: true, WallTS: wallTS}}
}

// Identify starts or stops the adapter's LED identify blink (spec
// §4.6).
func (c *Client) Identify(on bool) error {
	var buf [4]byte
	if on {
		buf[0] = 1
	}
	return c.out(candle.ReqIdentify, 0, 0, buf[:])
}

// EnableBusload arms periodic busload reporting at the given interval;
// an interval of 0 disables it (spec §4.6).
func (c *Client) EnableBusload(interval time.Duration) error {
	units := uint8(interval / (100 * time.Millisecond))
	return c.out(candle.ReqSetBusloadReport, 0, 0, []byte{units})
}

// DisableBusload stops periodic busload reporting (spec §4.6
// "enable_busload(interval)" with interval 0).
func (c *Client) DisableBusload() error {
	return c.out(candle.ReqSetBusloadReport, 0, 0, []byte{0})
}

// DisableBootOverride clears the persisted "honor boot-override pin at
// reset" option bit; the change takes effect only after a USB
// reconnect, surfaced to the caller as ErrResetRequired (spec §4.4
// SetPinStatus, §4.6 "disable_boot_override()").
func (c *Client) DisableBootOverride() error {
	return c.out(candle.ReqSetPinStatus, 0, 0, []byte{0})
}

// IsBootOverrideDisabled reports the persisted boot-override setting
// (spec §4.6 "is_boot_override_disabled()").
func (c *Client) IsBootOverrideDisabled() (bool, error) {
	var buf [2]byte
	if err := c.in(candle.ReqGetPinStatus, 0, 0, buf[:]); err != nil {
		return false, err
	}
	return buf[0] == 0, nil
}

// EnterDfuMode issues the adapter's firmware-update entry request. The
// process model has no bootloader to jump to — the device side only
// acknowledges the request (spec line 10 Non-goals "DFU/bootloader
// entry ... treated as a single opaque operation") — but the control
// request itself is real, not a local no-op.
func (c *Client) EnterDfuMode() error {
	pkg.LogInfo(pkg.ComponentHost, "entering DFU mode")
	return c.out(candle.ReqEnterDfu, 0, 0, nil)
}

// Capabilities queries the adapter's advertised nominal-phase
// bit-timing bounds, feature bitset, and clock rate directly, rather
// than relying on the value the caller supplied to Open (spec §4.4
// GetCapabilities).
func (c *Client) Capabilities() (wire.Capability, error) {
	var buf [wire.CapabilitySize]byte
	if err := c.in(candle.ReqGetCapabilities, 0, 0, buf[:]); err != nil {
		return wire.Capability{}, err
	}
	var capab wire.Capability
	wire.ParseCapability(buf[:], &capab)
	return capab, nil
}

// DeviceVersion queries the hardware/firmware BCD pair directly (spec
// §4.4 GetDeviceVersion), the narrower sibling of the fuller identity
// payload BoardInfo returns.
func (c *Client) DeviceVersion() (hardwareBCD, firmwareBCD uint16, err error) {
	var buf [4]byte
	if err := c.in(candle.ReqGetDeviceVersion, 0, 0, buf[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint16(buf[0:2]), binary.LittleEndian.Uint16(buf[2:4]), nil
}

// SetTermination toggles the bus-termination resistor, returning
// ErrUnsupportedFeature when the adapter doesn't advertise
// wire.FeatureTermination (spec §4.4 SetTermination).
func (c *Client) SetTermination(on bool) error {
	var buf [1]byte
	if on {
		buf[0] = 1
	}
	return c.out(candle.ReqSetTermination, 0, 0, buf[:])
}

// GetTermination reports the termination resistor state (spec §4.4
// GetTermination).
func (c *Client) GetTermination() (bool, error) {
	var buf [1]byte
	if err := c.in(candle.ReqGetTermination, 0, 0, buf[:]); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}
