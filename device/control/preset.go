package control

import "github.com/canbridge/usbcan/wire"

// nominalPresets are the S0..S9 preset nominal bitrates, all at an
// 87.5% sample point (grounded on the original firmware's
// can_nom_bitrate table: S0=10k ... S8=1M, S9=83k).
var nominalPresets = map[byte]wire.BitTiming{
	'0': {BRP: 100, Seg1: 139, Seg2: 20, SJW: 20}, // 10k
	'1': {BRP: 50, Seg1: 139, Seg2: 20, SJW: 20},  // 20k
	'2': {BRP: 20, Seg1: 139, Seg2: 20, SJW: 20},  // 50k
	'3': {BRP: 10, Seg1: 139, Seg2: 20, SJW: 20},  // 100k
	'4': {BRP: 8, Seg1: 139, Seg2: 20, SJW: 20},   // 125k
	'5': {BRP: 4, Seg1: 139, Seg2: 20, SJW: 20},   // 250k
	'6': {BRP: 2, Seg1: 139, Seg2: 20, SJW: 20},  // 500k
	'7': {BRP: 1, Seg1: 174, Seg2: 25, SJW: 25},  // 800k
	'8': {BRP: 1, Seg1: 139, Seg2: 20, SJW: 20},  // 1000k
	'9': {BRP: 12, Seg1: 139, Seg2: 20, SJW: 20}, // 83k
}

// dataPresets are the Y0..Y8 preset data-phase bitrates (CAN-FD).
var dataPresets = map[byte]wire.BitTiming{
	'0': {BRP: 2, Seg1: 139, Seg2: 20, SJW: 20}, // 500k
	'1': {BRP: 1, Seg1: 139, Seg2: 20, SJW: 20}, // 1M
	'2': {BRP: 2, Seg1: 29, Seg2: 10, SJW: 10},  // 2M
	'4': {BRP: 1, Seg1: 29, Seg2: 10, SJW: 10},  // 4M
	'5': {BRP: 1, Seg1: 23, Seg2: 8, SJW: 8},    // 5M
	'8': {BRP: 1, Seg1: 14, Seg2: 5, SJW: 5},    // 8M
}
