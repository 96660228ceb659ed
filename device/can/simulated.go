package can

import (
	"sync"

	"github.com/canbridge/usbcan/wire"
)

// mailboxCount mirrors the real controller's small number of
// in-silicon Tx mailboxes (spec §3: "3 in-controller Tx FIFO").
const mailboxCount = 3

// Simulated is an in-process stand-in for the physical CAN
// peripheral. It has no real bus timing; Send succeeds immediately
// against a free mailbox and calls the Tx-event callback synchronously,
// modeling an always-ACKing bus unless passive mode is armed via
// SetPassive. Deliver lets a test or the in-process bus inject a
// received frame as if it arrived from the wire.
type Simulated struct {
	mu sync.Mutex

	cap        wire.Capability
	nominal    wire.BitTiming
	data       *wire.BitTiming
	mode       wire.Mode
	filters    *wire.FilterSet
	running    bool
	mailboxes  int

	txErrors, rxErrors uint8
	protoErrs          wire.ProtoErrFlag
	busFlags           wire.BusFlag
	busloadAccum       uint32

	// passive makes Send fail (no ACK), for simulating a bus with no
	// other participants (spec §8 scenario 5: Tx overflow).
	passive bool

	onRx     RxCallback
	onTxDone TxEventCallback
}

// NewSimulated returns a Simulated controller advertising the given
// capability bounds.
func NewSimulated(capability wire.Capability) *Simulated {
	return &Simulated{cap: capability, mailboxes: mailboxCount}
}

// SetPassive arms or disarms the "no ACK available" fault used to
// exercise Tx-buffer-full and bus-off scenarios.
func (s *Simulated) SetPassive(passive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passive = passive
}

// SetErrorCounters lets a test directly force the Tx/Rx error counters
// reported by ErrorCounters, simulating bus noise.
func (s *Simulated) SetErrorCounters(tx, rx uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txErrors, s.rxErrors = tx, rx
}

// RaiseProtoError latches a framing violation flag, cleared on the
// next ProtoErrors call.
func (s *Simulated) RaiseProtoError(f wire.ProtoErrFlag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protoErrs |= f
}

// AccumulateBusload adds permille units to the busload accumulator
// sampled by BusloadPermille.
func (s *Simulated) AccumulateBusload(permille uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busloadAccum += permille
}

func (s *Simulated) Capability() wire.Capability { return s.cap }

func (s *Simulated) SetCallbacks(onRx RxCallback, onTxEvent TxEventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRx = onRx
	s.onTxDone = onTxEvent
}

func (s *Simulated) Start(nominal wire.BitTiming, data *wire.BitTiming, mode wire.Mode) error {
	if err := s.cap.Validate(nominal); err != nil {
		return err
	}
	if data != nil {
		if err := s.cap.Validate(*data); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nominal, s.data, s.mode = nominal, data, mode
	s.running = true
	s.mailboxes = mailboxCount
	s.txErrors, s.rxErrors = 0, 0
	s.protoErrs, s.busFlags = 0, 0
	return nil
}

func (s *Simulated) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.mailboxes = mailboxCount
	return nil
}

// MailboxFree reports whether a Tx mailbox is currently free.
func (s *Simulated) MailboxFree() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.mailboxes > 0 && !s.passive
}

// Send occupies a free mailbox and, unless passive mode is armed,
// immediately reports a successful transmission via onTxDone — there
// is no real bus latency to model in-process.
func (s *Simulated) Send(f wire.Frame, marker uint8) (bool, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false, nil
	}
	if s.mailboxes == 0 {
		s.mu.Unlock()
		return false, nil
	}
	if s.passive {
		s.mu.Unlock()
		return false, nil
	}
	s.mailboxes--
	cb := s.onTxDone
	s.mu.Unlock()

	if cb != nil {
		cb(TxEvent{Marker: marker})
	}
	s.mu.Lock()
	s.mailboxes++
	s.mu.Unlock()
	return true, nil
}

// Deliver simulates a frame arriving from the bus, applying the active
// filter set and invoking the Rx callback on acceptance.
func (s *Simulated) Deliver(f wire.Frame) {
	s.mu.Lock()
	running := s.running
	filters := s.filters
	cb := s.onRx
	s.mu.Unlock()
	if !running {
		return
	}
	if filters != nil && !filters.Accepts(f.Extended, f.ID) {
		return
	}
	if cb != nil {
		cb(RxEvent{Frame: f})
	}
}

func (s *Simulated) SetFilters(fs *wire.FilterSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = fs
}

func (s *Simulated) ErrorCounters() (tx, rx uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txErrors, s.rxErrors
}

func (s *Simulated) ProtoErrors() wire.ProtoErrFlag {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.protoErrs
	s.protoErrs = 0
	return f
}

func (s *Simulated) BusFlags() wire.BusFlag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busFlags
}

func (s *Simulated) BusloadPermille() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.busloadAccum
	s.busloadAccum = 0
	return v
}
