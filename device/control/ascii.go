package control

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/canbridge/usbcan/device/pool"
	"github.com/canbridge/usbcan/pkg"
	"github.com/canbridge/usbcan/wire"
)

// ASCII implements the Slcan-compatible command language (spec §4.4):
// each command is one line terminated by '\r'; feedback is "#\r" on
// success, "#X\r" on error (X is the error-code char), or "+...\r" for
// string responses. Close ('C') is the one command that never replies.
type ASCII struct {
	d *Dispatcher

	oneShot          bool
	suppressTxEcho   bool
	extendedProtocol bool
	timestamps       bool
	tripleSample     bool
	variant          wire.Variant
}

// NewASCII wires the parser to the dispatcher whose commands it drives.
func NewASCII(d *Dispatcher) *ASCII { return &ASCII{d: d} }

// Handle parses and executes one command line (without its trailing
// '\r') and returns the reply lines to send back, in order. An empty
// slice means no reply (spec §4.4: "close ... deliberately sends NO
// reply").
func (a *ASCII) Handle(line string) []string {
	if line == "" {
		return []string{a.feedback(pkg.ErrCodeInvalidCommand)}
	}
	cmd, rest := line[0], line[1:]
	switch cmd {
	case 'S':
		return a.handlePreset(nominalPresets, rest, a.d.SetBitTiming)
	case 'Y':
		return a.handlePreset(dataPresets, rest, a.d.SetBitTimingFD)
	case 's':
		return a.handleCustomTiming(rest, a.d.SetBitTiming)
	case 'y':
		return a.handleCustomTiming(rest, a.d.SetBitTimingFD)
	case 'M':
		return a.handleMode(rest)
	case 'O':
		return a.handleOpen(rest)
	case 'C':
		a.d.Close()
		a.reset()
		return nil
	case 'F':
		return a.handleFilterAdd(rest)
	case 'f':
		a.d.SetFilter(nil)
		return []string{a.feedback(pkg.ErrCodeNone)}
	case 'L':
		return a.handleBusload(rest)
	case 'V':
		return a.handleVersion()
	case '*':
		return a.handlePin(rest)
	case 't', 'T', 'r', 'R', 'd', 'D', 'b', 'B':
		return a.handleTransmit(cmd, rest)
	default:
		return []string{a.feedback(pkg.ErrCodeInvalidCommand)}
	}
}

func (a *ASCII) reset() {
	a.oneShot, a.suppressTxEcho, a.extendedProtocol, a.timestamps, a.tripleSample = false, false, false, false, false
	a.variant = wire.ModeNormal
}

func (a *ASCII) feedback(code pkg.ErrorCode) string {
	if code == pkg.ErrCodeNone {
		return "#\r"
	}
	return fmt.Sprintf("#%c\r", code.AsciiChar())
}

func (a *ASCII) handlePreset(table map[byte]wire.BitTiming, rest string, set func(wire.BitTiming) pkg.ErrorCode) []string {
	if len(rest) != 1 {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	t, ok := table[rest[0]]
	if !ok {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	return []string{a.feedback(set(t))}
}

func (a *ASCII) handleCustomTiming(rest string, set func(wire.BitTiming) pkg.ErrorCode) []string {
	parts := strings.Split(rest, ",")
	if len(parts) != 4 {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	var vals [4]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
		}
		vals[i] = uint32(n)
	}
	t := wire.BitTiming{BRP: vals[0], Seg1: vals[1], Seg2: vals[2], SJW: vals[3]}
	return []string{a.feedback(set(t))}
}

// handleMode implements the M<letter>/M<lowercase> flag toggles and
// the M0/M1 standalone reset pair. Letter assignment (not specified by
// the protocol's distilled form): A=OneShot, D=SuppressTxEcho,
// E=ExtendedProtocol, F=SendFirmwareTimestamp, M=ListenOnly,
// S=InternalLoopback, I=ExternalLoopback, R=TripleSample; uppercase
// enables, lowercase disables. M0 resets all flags and the variant to
// Normal; M1 is accepted as a reserved no-op.
func (a *ASCII) handleMode(rest string) []string {
	if len(rest) != 1 {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	switch rest[0] {
	case 'A':
		a.oneShot = true
	case 'a':
		a.oneShot = false
	case 'D':
		a.suppressTxEcho = true
	case 'd':
		a.suppressTxEcho = false
	case 'E':
		a.extendedProtocol = true
	case 'e':
		a.extendedProtocol = false
	case 'F':
		a.timestamps = true
	case 'f':
		a.timestamps = false
	case 'M':
		a.variant = wire.ModeListenOnly
	case 'm':
		a.variant = wire.ModeNormal
	case 'S':
		a.variant = wire.ModeInternalLoopback
	case 's':
		a.variant = wire.ModeNormal
	case 'I':
		a.variant = wire.ModeExternalLoopback
	case 'i':
		a.variant = wire.ModeNormal
	case 'R':
		a.tripleSample = true
	case 'r':
		a.tripleSample = false
	case '0':
		a.reset()
	case '1':
		// reserved no-op
	default:
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	return []string{a.feedback(pkg.ErrCodeNone)}
}

func (a *ASCII) mode() wire.Mode {
	var flags wire.ModeFlags
	if a.oneShot {
		flags |= wire.FlagOneShot
	}
	if a.suppressTxEcho {
		flags |= wire.FlagSuppressTxEcho
	}
	if a.extendedProtocol {
		flags |= wire.FlagExtendedProtocol
	}
	if a.timestamps {
		flags |= wire.FlagSendFirmwareTimestamp
	}
	if a.tripleSample {
		flags |= wire.FlagTripleSample
	}
	return wire.Mode{Variant: a.variant, Flags: flags}
}

// handleOpen implements the O/ON/OS/OI/OE variants: plain O opens with
// whatever variant the M-letters configured; the suffixed forms force
// a specific variant regardless of prior M-letter state.
func (a *ASCII) handleOpen(rest string) []string {
	m := a.mode()
	switch rest {
	case "":
	case "N":
		m.Variant = wire.ModeNormal
	case "S":
		m.Variant = wire.ModeListenOnly
	case "I":
		m.Variant = wire.ModeInternalLoopback
	case "E":
		m.Variant = wire.ModeExternalLoopback
	default:
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	return []string{a.feedback(a.d.Open(m))}
}

// handleFilterAdd parses "F<accept>,<mask>", chained with ';' for
// multiple filters in one line. A 3-hex-digit accept targets the
// 11-bit scope; an 8-hex-digit accept targets 29-bit.
func (a *ASCII) handleFilterAdd(rest string) []string {
	var out []string
	for _, clause := range strings.Split(rest, ";") {
		parts := strings.Split(clause, ",")
		if len(parts) != 2 {
			out = append(out, a.feedback(pkg.ErrCodeInvalidParameter))
			continue
		}
		acceptHex, maskHex := parts[0], parts[1]
		var scope wire.FilterScope
		switch len(acceptHex) {
		case 3:
			scope = wire.FilterScope11Bit
		case 8:
			scope = wire.FilterScope29Bit
		default:
			out = append(out, a.feedback(pkg.ErrCodeInvalidParameter))
			continue
		}
		accept, err1 := strconv.ParseUint(acceptHex, 16, 32)
		mask, err2 := strconv.ParseUint(maskHex, 16, 32)
		if err1 != nil || err2 != nil {
			out = append(out, a.feedback(pkg.ErrCodeInvalidParameter))
			continue
		}
		f := wire.MaskFilter{Scope: scope, Accept: uint32(accept), Mask: uint32(mask)}
		out = append(out, a.feedback(a.d.SetFilter(&f)))
	}
	return out
}

// handleVersion implements the 'V' command: a "+..." string reply
// carrying the hardware/firmware BCD versions and the nominal
// bit-timing capability bounds the controller advertises (spec §4.4
// "version/limits").
func (a *ASCII) handleVersion() []string {
	hw, sw := a.d.GetDeviceVersion()
	caps := a.d.GetCapabilities()
	return []string{fmt.Sprintf("+V%04X%04X%08X%08X%08X%08X%08X%08X%08X%08X\r",
		hw, sw,
		caps.BRP.Min, caps.BRP.Max,
		caps.Seg1.Min, caps.Seg1.Max,
		caps.Seg2.Min, caps.Seg2.Max,
		caps.SJW.Min, caps.SJW.Max)}
}

// handlePin implements the pin-boot override/query commands (spec
// §4.4 "pin-boot override and query"): "*Boot0:Off"/"*Boot0:On" set
// the persisted boot-override bit, "*Boot0:?" queries it, and "*DFU"
// enters the firmware-update path.
func (a *ASCII) handlePin(rest string) []string {
	switch rest {
	case "Boot0:Off":
		return []string{a.feedback(a.d.SetPinStatus(false))}
	case "Boot0:On":
		return []string{a.feedback(a.d.SetPinStatus(true))}
	case "Boot0:?":
		if a.d.GetPinStatus() {
			return []string{"+Boot0:On\r"}
		}
		return []string{"+Boot0:Off\r"}
	case "DFU":
		return []string{a.feedback(a.d.EnterDfu())}
	default:
		return []string{a.feedback(pkg.ErrCodeInvalidCommand)}
	}
}

func (a *ASCII) handleBusload(rest string) []string {
	n, err := strconv.ParseUint(rest, 10, 8)
	if err != nil {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	return []string{a.feedback(a.d.SetBusloadReport(uint8(n)))}
}

// handleTransmit parses the t/T/r/R/d/D/b/B family: <id><dlc>[<data>].
// id is 3 hex digits for standard frames (t,r,d,b) or 8 for extended
// (T,R,D,B); dlc is one hex digit; data is present only for non-remote
// frames and is dlc_to_byte_count(dlc)*2 hex digits.
func (a *ASCII) handleTransmit(cmd byte, rest string) []string {
	extended := cmd == 'T' || cmd == 'R' || cmd == 'D' || cmd == 'B'
	remote := cmd == 'r' || cmd == 'R'
	fd := cmd == 'd' || cmd == 'D' || cmd == 'b' || cmd == 'B'
	brs := cmd == 'b' || cmd == 'B'

	idLen := 3
	if extended {
		idLen = 8
	}
	if len(rest) < idLen+1 {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	idVal, err := strconv.ParseUint(rest[:idLen], 16, 32)
	if err != nil {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	dlcVal, err := strconv.ParseUint(rest[idLen:idLen+1], 16, 8)
	if err != nil {
		return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
	}
	n := wire.DLCToByteCount(uint8(dlcVal))

	f := wire.Frame{ID: uint32(idVal), Extended: extended, Remote: remote}
	if fd {
		f.Flags |= wire.FlagFDF
		if brs {
			f.Flags |= wire.FlagBRS
		}
	}
	if !remote {
		dataHex := rest[idLen+1:]
		if len(dataHex) != n*2 {
			return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
		}
		data, err := hex.DecodeString(dataHex)
		if err != nil {
			return []string{a.feedback(pkg.ErrCodeInvalidParameter)}
		}
		f.Data = data
	}

	code := a.d.SendPacket(f)
	if code != pkg.ErrCodeNone {
		return []string{a.feedback(code)}
	}

	// Run the main-loop iteration synchronously so the echo this
	// command produces is available immediately; the real firmware
	// would emit it on a later drain_tick, but the ASCII protocol's
	// reply ordering is unaffected since echoes always precede the
	// next "#\r".
	a.d.Process()

	reply := []string{}
	if slot, ok := a.d.driver.PopHostSlot(); ok && slot.Kind == pool.KindTxEcho {
		reply = append(reply, fmt.Sprintf("M%02X\r", slot.Marker))
	}
	reply = append(reply, a.feedback(pkg.ErrCodeNone))
	return reply
}
