package can

// State is a position in the device's open state machine (spec §4.3):
//
//	Closed --SetBitrate*--> Configured --Open--> Running --Close--> Closed
//	                                      ^                |
//	                                       \--Recovery<----/ (on BusOff after report)
type State uint8

const (
	StateClosed State = iota
	StateConfigured
	StateRunning
	StateRecovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}
