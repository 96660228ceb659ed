package wire

// ProtoErrFlag is byte 2 of the error report: framing violations on the
// bus (spec §6).
type ProtoErrFlag uint8

// Framing violation flags.
const (
	ProtoErrSingleBit ProtoErrFlag = 1 << iota
	ProtoErrForm
	ProtoErrStuff
	ProtoErrCannotSendDominant
	ProtoErrCannotSendRecessive
	ProtoErrOverload
	ProtoErrActive
	ProtoErrTxError
)

// BusFlag is byte 1 of the error report: protocol/bus status flags.
type BusFlag uint8

// Protocol/bus status flags.
const (
	BusFlagErrorWarningTx BusFlag = 1 << iota
	BusFlagErrorWarningRx
	BusFlagErrorPassiveTx
	BusFlagErrorPassiveRx
	BusFlagBusBackActive
	BusFlagBufferOverflowTx
	BusFlagBufferOverflowRx
)

// ErrID is the 32-bit higher-level error-id that accompanies the 8-byte
// payload (spec §6).
type ErrID uint32

// Higher-level error-id flags.
const (
	ErrIDBusOff ErrID = 1 << iota
	ErrIDNoAck
	ErrIDCRC
	ErrIDTxTimeout
	ErrIDArbitrationLost
)

// ErrorReport is the bit-exact 8-byte payload shared by both framing
// protocols (spec §6):
//
//	byte 0: reserved (0)
//	byte 1: protocol/bus status flags
//	byte 2: framing violation flags
//	byte 3,4: reserved
//	byte 5: application flags
//	byte 6: Tx error counter
//	byte 7: Rx error counter
type ErrorReport struct {
	BusFlags   BusFlag
	ProtoFlags ProtoErrFlag
	AppFlags   AppFlag
	TxErrors   uint8
	RxErrors   uint8

	// BusStatus and BackToActive are derived aggregate fields, not part
	// of the 8-byte wire payload itself, but carried alongside it in the
	// (bus_status, last_proto_err, app_flags, tx_count, rx_count,
	// back_to_active) aggregate from spec §4.3.
	BusStatus    BusStatus
	BackToActive bool
}

// ErrorReportSize is the fixed length of the wire payload.
const ErrorReportSize = 8

// MarshalTo encodes the report into buf, which must be at least
// ErrorReportSize bytes.
func (r ErrorReport) MarshalTo(buf []byte) int {
	if len(buf) < ErrorReportSize {
		return 0
	}
	buf[0] = 0
	buf[1] = byte(r.BusFlags)
	buf[2] = byte(r.ProtoFlags)
	buf[3] = 0
	buf[4] = 0
	buf[5] = byte(r.AppFlags)
	buf[6] = r.TxErrors
	buf[7] = r.RxErrors
	return ErrorReportSize
}

// UnmarshalErrorReport decodes an 8-byte payload.
func UnmarshalErrorReport(buf []byte) (ErrorReport, bool) {
	if len(buf) < ErrorReportSize {
		return ErrorReport{}, false
	}
	return ErrorReport{
		BusFlags:   BusFlag(buf[1]),
		ProtoFlags: ProtoErrFlag(buf[2]),
		AppFlags:   AppFlag(buf[5]),
		TxErrors:   buf[6],
		RxErrors:   buf[7],
	}, true
}
