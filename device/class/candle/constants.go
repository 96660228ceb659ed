// Package candle implements the CAN adapter's USB class driver: the
// vendor-specific binary request table from spec §4.4 laid over the
// generic device.ClassDriver extension point, plus the bulk IN/OUT
// pump that moves wire-framed CAN traffic between device/pool and the
// endpoint layer. Named after the class layout spec §6 calls
// "Extended/Candlelight-class".
package candle

// Vendor request codes for the binary control table (spec §4.4
// "Binary request table"). Codes are this driver's own numbering;
// nothing in the distilled spec fixes numeric values, only names and
// bodies.
const (
	ReqSetHostFormat     = 0x00
	ReqSetBitTiming      = 0x01
	ReqSetBitTimingFD    = 0x02
	ReqOpen              = 0x03
	ReqClose             = 0x04
	ReqSetFilter         = 0x05
	ReqSetBusloadReport  = 0x06
	ReqIdentify          = 0x07
	ReqGetTimestamp      = 0x08
	ReqSetPinStatus      = 0x09
	ReqGetPinStatus      = 0x0A
	ReqGetBoardInfo      = 0x0B
	ReqGetLastError      = 0x0C
	ReqGetCapabilities   = 0x0D
	ReqGetCapabilitiesFD = 0x0E
	ReqGetDeviceVersion  = 0x0F
	ReqSetTermination    = 0x10
	ReqGetTermination    = 0x11
	ReqEnterDfu          = 0x12
)

// Fixed body sizes for the OUT requests that take one (spec §4.4).
const (
	bitTimingBodySize = 16 // BRP, Seg1, Seg2, SJW, each u32 LE
	openBodySize      = 2  // variant byte, flags byte
	filterBodySize    = 9  // scope byte, accept u32, mask u32
	hostFormatSize    = 4
	busloadBodySize   = 1
	identifyBodySize  = 4
	pinStatusSize     = 1
	terminationSize   = 1
	deviceVersionSize = 4 // hw bcd u16, sw bcd u16
)

// boardInfoBoardLen/boardInfoMCULen bound the null-padded identity
// strings in the GetBoardInfo response (spec §4.4 GetBoardInfo).
const (
	boardInfoBoardLen = 16
	boardInfoMCULen   = 16
	boardInfoSize     = 2 + 2 + 4 + boardInfoBoardLen + boardInfoMCULen // hw bcd, fw bcd, device id, board, mcu
)
