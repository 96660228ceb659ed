package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/canbridge/usbcan/wire"
)

// FormatTimestamp renders a device tick relative to this Client's
// session origin as wall-clock-relative HH:MM:SS.mmm.µµµ (spec §4.7:
// "the host also records an offset from session start to wall-clock
// so that presentation can be rendered as HH:MM:SS.mmm.µµµ"). tick
// wraps at 32 bits; wrap-around since tickOrigin is treated as one lap
// forward.
func (c *Client) FormatTimestamp(tick uint32) string {
	c.mu.Lock()
	origin, wallOrigin := c.tickOrigin, c.wallOrigin
	c.mu.Unlock()

	delta := tick - origin // wraps correctly via uint32 subtraction
	at := wallOrigin.Add(time.Duration(delta) * time.Microsecond)
	return formatClock(at)
}

func formatClock(t time.Time) string {
	micros := t.Nanosecond() / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d.%03d",
		t.Hour(), t.Minute(), t.Second(), micros/1000, micros%1000)
}

// FormatHex renders data as space-separated upper-case hex pairs for
// display. The Slcan-superset ASCII language writes its data field as
// the same pairs with no separator, so this output is not a valid data
// field.
func FormatHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// FormatPacket renders a received Packet for logging/console display.
func FormatPacket(p *Packet) string {
	switch {
	case p.ErrReport != nil:
		return fmt.Sprintf("ERROR %s", FormatErrorReport(*p.ErrReport, p.ErrID))
	case p.Text != "":
		return fmt.Sprintf("STRING %q", p.Text)
	case p.Busload != 0:
		return fmt.Sprintf("BUSLOAD %d%%", p.Busload)
	case p.IsEcho:
		return fmt.Sprintf("TXECHO id=%03X dlc=%d data=[%s]", p.Frame.ID, len(p.Frame.Data), FormatHex(p.Frame.Data))
	default:
		kind := "RX"
		if p.Frame.Remote {
			kind = "RTR"
		}
		return fmt.Sprintf("%s id=%03X ext=%v dlc=%d data=[%s]", kind, p.Frame.ID, p.Frame.Extended, len(p.Frame.Data), FormatHex(p.Frame.Data))
	}
}

// FormatErrorReport renders the 8-byte error report plus its
// higher-level error-id as a short human-readable summary (spec §6
// "8-byte error report layout").
func FormatErrorReport(r wire.ErrorReport, id wire.ErrID) string {
	var flags []string
	if id&wire.ErrIDBusOff != 0 {
		flags = append(flags, "bus-off")
	}
	if id&wire.ErrIDNoAck != 0 {
		flags = append(flags, "no-ack")
	}
	if id&wire.ErrIDCRC != 0 {
		flags = append(flags, "crc")
	}
	if id&wire.ErrIDTxTimeout != 0 {
		flags = append(flags, "tx-timeout")
	}
	if id&wire.ErrIDArbitrationLost != 0 {
		flags = append(flags, "arbitration-lost")
	}
	if r.AppFlags.Has(wire.AppFlagTxFifoOverflow) {
		flags = append(flags, "tx-fifo-overflow")
	}
	if r.AppFlags.Has(wire.AppFlagUsbInOverflow) {
		flags = append(flags, "usb-in-overflow")
	}

	set := "none"
	if len(flags) > 0 {
		set = strings.Join(flags, ",")
	}
	return fmt.Sprintf("status=%s tx_err=%d rx_err=%d back_to_active=%v [%s]",
		r.BusStatus, r.TxErrors, r.RxErrors, r.BackToActive, set)
}
