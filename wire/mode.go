package wire

// Variant is the device's operating mode (spec §3). Only Closed and
// Open(mode, flags) are valid states; a mode value is meaningless while
// Closed.
type Variant uint8

// Device mode variants.
const (
	ModeNormal Variant = iota
	ModeListenOnly
	ModeInternalLoopback
	ModeExternalLoopback
)

// String returns a short name for the variant.
func (v Variant) String() string {
	switch v {
	case ModeNormal:
		return "normal"
	case ModeListenOnly:
		return "listen-only"
	case ModeInternalLoopback:
		return "internal-loopback"
	case ModeExternalLoopback:
		return "external-loopback"
	default:
		return "unknown"
	}
}

// ModeFlags are orthogonal to the Variant (spec §3).
type ModeFlags uint8

// Device mode flags.
const (
	FlagOneShot ModeFlags = 1 << iota
	FlagSendFirmwareTimestamp
	FlagSuppressTxEcho
	FlagExtendedProtocol
	FlagTripleSample
)

// Has reports whether all bits in mask are set.
func (f ModeFlags) Has(mask ModeFlags) bool { return f&mask == mask }

// Mode bundles the variant and flags exchanged by SetDeviceMode / start().
type Mode struct {
	Variant Variant
	Flags   ModeFlags
}
