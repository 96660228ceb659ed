package wire

import (
	"encoding/binary"
	"fmt"
)

// LegacyRecordSize is the fixed size of a legacy-framing record (spec
// §4.1, §9c): always 80 bytes regardless of payload size.
const LegacyRecordSize = 80

// LegacyEchoIDReceived is the sentinel echo_id meaning "received from
// bus" rather than "echo of a host-sent frame" (spec §4.1).
const LegacyEchoIDReceived uint32 = 0xFFFFFFFF

// LegacyRecord is the one record type used in both directions by the
// legacy framing protocol:
//
//	{echo_id:u32, can_id:u32, dlc:u8, channel:u8, flags:u8, reserved:u8,
//	 payload[64], timestamp_us:u32}
type LegacyRecord struct {
	EchoID    uint32
	CanID     uint32 // includes Extended/RemoteRequest/ErrorSentinel tag bits
	DLC       uint8
	Channel   uint8
	Flags     Flag
	Payload   [64]byte
	Timestamp uint32
}

// IsError reports whether this record carries an error report rather
// than a CAN frame (spec §4.1: can_id & 0x20000000 set).
func (r LegacyRecord) IsError() bool { return r.CanID&IDFlagErrorSentinel != 0 }

// IsEcho reports whether this is the device echoing back a host-sent
// frame (spec §4.1: echo_id != 0xFFFFFFFF).
func (r LegacyRecord) IsEcho() bool { return r.EchoID != LegacyEchoIDReceived }

// MarshalLegacy encodes r into buf, which must be at least
// LegacyRecordSize bytes. Returns the number of bytes written.
func MarshalLegacy(r LegacyRecord, buf []byte) int {
	if len(buf) < LegacyRecordSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], r.EchoID)
	binary.LittleEndian.PutUint32(buf[4:8], r.CanID)
	buf[8] = r.DLC
	buf[9] = r.Channel
	buf[10] = byte(r.Flags)
	buf[11] = 0 // reserved
	copy(buf[12:76], r.Payload[:])
	binary.LittleEndian.PutUint32(buf[76:80], r.Timestamp)
	return LegacyRecordSize
}

// UnmarshalLegacy decodes an 80-byte legacy record.
func UnmarshalLegacy(buf []byte) (LegacyRecord, error) {
	if len(buf) < LegacyRecordSize {
		return LegacyRecord{}, fmt.Errorf("wire: legacy record needs %d bytes, got %d", LegacyRecordSize, len(buf))
	}
	var r LegacyRecord
	r.EchoID = binary.LittleEndian.Uint32(buf[0:4])
	r.CanID = binary.LittleEndian.Uint32(buf[4:8])
	r.DLC = buf[8]
	r.Channel = buf[9]
	r.Flags = Flag(buf[10])
	copy(r.Payload[:], buf[12:76])
	r.Timestamp = binary.LittleEndian.Uint32(buf[76:80])
	return r, nil
}

// FrameToLegacy builds the host-to-device or device-to-host legacy
// record for a data/remote frame (not an error report). echoID should be
// LegacyEchoIDReceived for bus-received frames, or any other value when
// the device echoes a host-submitted Tx frame.
func FrameToLegacy(f Frame, echoID uint32, channel uint8) LegacyRecord {
	r := LegacyRecord{
		EchoID:  echoID,
		CanID:   EncodeID(f.Extended, f.Remote, f.ID),
		DLC:     ByteCountToDLC(len(f.Data)),
		Channel: channel,
		Flags:   f.Flags,
	}
	copy(r.Payload[:], f.Data)
	if f.HasTimestamp {
		r.Timestamp = f.Timestamp
	}
	return r
}

// ErrorToLegacy builds the legacy-framing record for an error report.
// The CAN-ID field carries the higher-level err-id flags together with
// the error sentinel bit (spec §4.1, §6); the payload carries the
// 8-byte ErrorReport.
func ErrorToLegacy(report ErrorReport, errID ErrID) LegacyRecord {
	r := LegacyRecord{
		EchoID: LegacyEchoIDReceived,
		CanID:  uint32(errID) | IDFlagErrorSentinel,
	}
	report.MarshalTo(r.Payload[:ErrorReportSize])
	return r
}

// ToErrorReport extracts the error report and err-id carried by an
// error-tagged legacy record.
func (r LegacyRecord) ToErrorReport() (ErrorReport, ErrID, bool) {
	if !r.IsError() {
		return ErrorReport{}, 0, false
	}
	report, ok := UnmarshalErrorReport(r.Payload[:ErrorReportSize])
	if !ok {
		return ErrorReport{}, 0, false
	}
	errID := ErrID(r.CanID &^ IDFlagErrorSentinel)
	return report, errID, true
}

// ToFrame extracts the CAN frame carried by a (non-error) legacy record.
func (r LegacyRecord) ToFrame() Frame {
	extended, remote, id := DecodeID(r.CanID)
	n := DLCToByteCount(r.DLC)
	f := Frame{
		ID:           id,
		Extended:     extended,
		Remote:       remote,
		Flags:        r.Flags,
		HasTimestamp: true,
		Timestamp:    r.Timestamp,
	}
	if !remote {
		f.Data = append([]byte(nil), r.Payload[:n]...)
	}
	return f
}
