package candle

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/canbridge/usbcan/device"
	"github.com/canbridge/usbcan/device/control"
	"github.com/canbridge/usbcan/device/pool"
	"github.com/canbridge/usbcan/pkg"
	"github.com/canbridge/usbcan/wire"
)

// maxBulkPacket bounds one bulk transfer's scratch buffer; large
// enough for several extended-framing messages or one legacy record.
const maxBulkPacket = 512

// Candle is the vendor class driver binding the generic USB stack to
// the CAN control dispatcher (spec §4.4, §6). A single interface
// carries both the control surface (vendor SETUP requests) and the
// bulk IN/OUT endpoints that move wire-framed CAN traffic.
type Candle struct {
	mu sync.RWMutex

	iface *device.Interface
	inEP  *device.Endpoint
	outEP *device.Endpoint
	stack *device.Stack

	dispatcher *control.Dispatcher
	configured bool

	// Session flags, mirrored from the Open request body (spec §4.4
	// SetDeviceMode) the same way device/control/ascii.go tracks its own
	// mode letters: the bulk pump needs to know which framing and
	// timestamp convention is active to encode/decode correctly.
	extended   bool
	timestamps bool

	outBuf [maxBulkPacket]byte
}

// New creates a class driver wrapping dispatcher. SetStack must be
// called once the owning device.Stack exists before bulk pumping can
// run.
func New(dispatcher *control.Dispatcher) *Candle {
	return &Candle{dispatcher: dispatcher}
}

// SetStack sets the device stack reference used for bulk transfers.
func (c *Candle) SetStack(stack *device.Stack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stack = stack
}

// Init locates the interface's bulk IN/OUT endpoints.
func (c *Candle) Init(iface *device.Interface) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.iface = iface
	c.inEP = nil
	c.outEP = nil
	for _, ep := range iface.Endpoints() {
		if ep.IsBulk() && ep.IsIn() {
			c.inEP = ep
		} else if ep.IsBulk() && ep.IsOut() {
			c.outEP = ep
		}
	}
	c.configured = c.inEP != nil && c.outEP != nil

	pkg.LogDebug(pkg.ComponentDevice, "candle class driver configured",
		"interface", iface.Number, "configured", c.configured)
	return nil
}

// SetAlternate is a no-op: the CAN interface has no alternate settings.
func (c *Candle) SetAlternate(iface *device.Interface, alt uint8) error {
	return nil
}

// Close releases the endpoint references.
func (c *Candle) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iface = nil
	c.inEP = nil
	c.outEP = nil
	c.stack = nil
	c.configured = false
	return nil
}

// HandleSetup dispatches one vendor-specific SETUP request into the
// binary request table (spec §4.4). OUT requests never fail the
// transfer itself (spec: "failures detected in the second stage cannot
// stall the endpoint") — the outcome is recorded in last_error and
// retrieved separately via GetLastError. Only a structurally malformed
// body (wrong length) is reported as a transfer error, plus the IN
// request GetTermination when the controller lacks termination support.
func (c *Candle) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, []byte, error) {
	if !setup.IsVendor() {
		return false, nil, nil
	}

	switch setup.Request {
	case ReqSetHostFormat:
		if len(data) < hostFormatSize {
			return true, nil, pkg.ErrBufferTooSmall
		}
		c.dispatcher.SetHostFormat(binary.LittleEndian.Uint32(data))
		return true, nil, nil

	case ReqSetBitTiming:
		t, ok := parseBitTiming(data)
		if !ok {
			return true, nil, pkg.ErrBufferTooSmall
		}
		c.dispatcher.SetBitTiming(t)
		return true, nil, nil

	case ReqSetBitTimingFD:
		t, ok := parseBitTiming(data)
		if !ok {
			return true, nil, pkg.ErrBufferTooSmall
		}
		c.dispatcher.SetBitTimingFD(t)
		return true, nil, nil

	case ReqOpen:
		if len(data) < openBodySize {
			return true, nil, pkg.ErrBufferTooSmall
		}
		mode := wire.Mode{Variant: wire.Variant(data[0]), Flags: wire.ModeFlags(data[1])}
		c.mu.Lock()
		c.extended = mode.Flags.Has(wire.FlagExtendedProtocol)
		c.timestamps = mode.Flags.Has(wire.FlagSendFirmwareTimestamp)
		c.mu.Unlock()
		c.dispatcher.Open(mode)
		return true, nil, nil

	case ReqClose:
		c.dispatcher.Close()
		return true, nil, nil

	case ReqSetFilter:
		if setup.Length == 0 {
			c.dispatcher.SetFilter(nil)
			return true, nil, nil
		}
		if len(data) < filterBodySize {
			return true, nil, pkg.ErrBufferTooSmall
		}
		f := wire.MaskFilter{
			Scope:  wire.FilterScope(data[0]),
			Accept: binary.LittleEndian.Uint32(data[1:5]),
			Mask:   binary.LittleEndian.Uint32(data[5:9]),
		}
		c.dispatcher.SetFilter(&f)
		return true, nil, nil

	case ReqSetBusloadReport:
		if len(data) < busloadBodySize {
			return true, nil, pkg.ErrBufferTooSmall
		}
		c.dispatcher.SetBusloadReport(data[0])
		return true, nil, nil

	case ReqIdentify:
		if len(data) < identifyBodySize {
			return true, nil, pkg.ErrBufferTooSmall
		}
		c.dispatcher.Identify(binary.LittleEndian.Uint32(data) != 0)
		return true, nil, nil

	case ReqGetTimestamp:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], c.dispatcher.GetTimestamp())
		return true, buf[:], nil

	case ReqSetPinStatus:
		if len(data) < pinStatusSize {
			return true, nil, pkg.ErrBufferTooSmall
		}
		c.dispatcher.SetPinStatus(data[0] != 0)
		return true, nil, nil

	case ReqGetPinStatus:
		var buf [2]byte
		if c.dispatcher.GetPinStatus() {
			buf[0] = 1
		}
		return true, buf[:], nil

	case ReqGetBoardInfo:
		return true, marshalBoardInfo(c.dispatcher.GetBoardInfo()), nil

	case ReqGetCapabilities:
		var buf [wire.CapabilitySize]byte
		c.dispatcher.GetCapabilities().MarshalTo(buf[:])
		return true, buf[:], nil

	case ReqGetCapabilitiesFD:
		var buf [wire.CapabilitySize]byte
		c.dispatcher.GetCapabilitiesFD().MarshalTo(buf[:])
		return true, buf[:], nil

	case ReqGetDeviceVersion:
		var buf [deviceVersionSize]byte
		hw, sw := c.dispatcher.GetDeviceVersion()
		binary.LittleEndian.PutUint16(buf[0:2], hw)
		binary.LittleEndian.PutUint16(buf[2:4], sw)
		return true, buf[:], nil

	case ReqSetTermination:
		if len(data) < terminationSize {
			return true, nil, pkg.ErrBufferTooSmall
		}
		c.dispatcher.SetTermination(data[0] != 0)
		return true, nil, nil

	case ReqGetTermination:
		on, code := c.dispatcher.GetTermination()
		if code != pkg.ErrCodeNone {
			return true, nil, code.Err()
		}
		buf := []byte{0}
		if on {
			buf[0] = 1
		}
		return true, buf, nil

	case ReqEnterDfu:
		c.dispatcher.EnterDfu()
		return true, nil, nil

	case ReqGetLastError:
		return true, []byte{byte(c.dispatcher.LastError())}, nil

	default:
		return false, nil, nil
	}
}

func parseBitTiming(data []byte) (wire.BitTiming, bool) {
	if len(data) < bitTimingBodySize {
		return wire.BitTiming{}, false
	}
	return wire.BitTiming{
		BRP:  binary.LittleEndian.Uint32(data[0:4]),
		Seg1: binary.LittleEndian.Uint32(data[4:8]),
		Seg2: binary.LittleEndian.Uint32(data[8:12]),
		SJW:  binary.LittleEndian.Uint32(data[12:16]),
	}, true
}

func marshalBoardInfo(v control.BoardVersion) []byte {
	buf := make([]byte, boardInfoSize)
	binary.LittleEndian.PutUint16(buf[0:2], v.HardwareBCD)
	binary.LittleEndian.PutUint16(buf[2:4], v.FirmwareBCD)
	binary.LittleEndian.PutUint32(buf[4:8], v.DeviceID)
	copy(buf[8:8+boardInfoBoardLen], v.Board)
	copy(buf[8+boardInfoBoardLen:8+boardInfoBoardLen+boardInfoMCULen], v.MCU)
	return buf
}

// PumpOut reads one bulk OUT transfer and submits every TxFrame it
// carries to the dispatcher (spec §4.3 SendPacket). Non-frame message
// types in an OUT transfer are ignored; the host never sends them.
func (c *Candle) PumpOut(ctx context.Context) error {
	c.mu.RLock()
	stack, ep, extended, timestamps := c.stack, c.outEP, c.extended, c.timestamps
	c.mu.RUnlock()
	if stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	n, err := stack.Read(ctx, ep, c.outBuf[:])
	if err != nil {
		return err
	}
	data := c.outBuf[:n]

	if !extended {
		for len(data) >= wire.LegacyRecordSize {
			rec, err := wire.UnmarshalLegacy(data[:wire.LegacyRecordSize])
			if err != nil {
				return err
			}
			if !rec.IsError() {
				c.dispatcher.SendPacket(rec.ToFrame())
			}
			data = data[wire.LegacyRecordSize:]
		}
		return nil
	}

	for len(data) > 0 {
		msg, consumed, err := wire.Unmarshal(data, timestamps)
		if err != nil {
			return err
		}
		if msg.Type == wire.MsgTxFrame {
			extended, remote, id := wire.DecodeID(msg.CanID)
			c.dispatcher.SendPacket(wire.Frame{
				ID: id, Extended: extended, Remote: remote,
				Flags: msg.Flags, Data: msg.Data,
			})
		}
		data = data[consumed:]
	}
	return nil
}

// PumpIn drains at most one pending host_pool slot and writes it as a
// bulk IN transfer, returning (0, nil) when nothing is pending — the
// caller is expected to call this in a loop from the device's main
// iteration (spec §4.2 to_host FIFO -> USB bulk-IN pump).
func (c *Candle) PumpIn(ctx context.Context) (int, error) {
	c.mu.RLock()
	stack, ep := c.stack, c.inEP
	c.mu.RUnlock()
	if stack == nil || ep == nil {
		return 0, pkg.ErrNotConfigured
	}

	slot, ok := c.dispatcher.Driver().PopHostSlot()
	if !ok {
		return 0, nil
	}

	b, err := c.encodeSlot(slot)
	if err != nil || len(b) == 0 {
		return 0, err
	}
	return stack.Write(ctx, ep, b)
}

func (c *Candle) encodeSlot(slot pool.Slot) ([]byte, error) {
	c.mu.RLock()
	extended, timestamps := c.extended, c.timestamps
	c.mu.RUnlock()

	if !extended {
		buf := make([]byte, wire.LegacyRecordSize)
		var rec wire.LegacyRecord
		switch slot.Kind {
		case pool.KindRx:
			rec = wire.FrameToLegacy(slot.Frame, wire.LegacyEchoIDReceived, 0)
		case pool.KindTxEcho:
			rec = wire.FrameToLegacy(slot.Frame, slot.EchoID, 0)
		case pool.KindError:
			rec = wire.ErrorToLegacy(slot.Error, slot.ErrID)
		default:
			return nil, nil
		}
		wire.MarshalLegacy(rec, buf)
		return buf, nil
	}

	msg := wire.Message{HasTimestamp: timestamps}
	switch slot.Kind {
	case pool.KindRx:
		msg.Type = wire.MsgRxFrame
		msg.Flags = slot.Frame.Flags
		msg.CanID = wire.EncodeID(slot.Frame.Extended, slot.Frame.Remote, slot.Frame.ID)
		msg.Data = slot.Frame.Data
		msg.Timestamp = slot.Frame.Timestamp
	case pool.KindTxEcho:
		msg.Type = wire.MsgTxEcho
		msg.Marker = slot.Marker
		msg.Timestamp = slot.Frame.Timestamp
	case pool.KindError:
		msg.Type = wire.MsgError
		msg.ErrID = slot.ErrID
		slot.Error.MarshalTo(msg.ErrBytes[:])
	case pool.KindBusload:
		msg.Type = wire.MsgBusload
		msg.Percent = uint8(slot.BusloadPermille / 10)
	case pool.KindString:
		msg.Type = wire.MsgString
		msg.Text = slot.Text
	default:
		return nil, nil
	}
	return msg.Marshal()
}

// Compile-time interface check.
var _ device.ClassDriver = (*Candle)(nil)
