package wire

import (
	"encoding/binary"
	"fmt"
)

// BitTiming holds the processor-level bit timing parameters shared by
// the nominal and data phases (spec §3). A separate instance exists for
// each phase; setting the data instance implicitly enables FD mode
// (spec §4.3).
type BitTiming struct {
	BRP  uint32 // bitrate prescaler
	Seg1 uint32 // time segment 1 (before the sample point)
	Seg2 uint32 // time segment 2 (after the sample point)
	SJW  uint32 // synchronization jump width
}

// BaudRate computes the derived baud rate for the given controller
// clock, per spec §3: can_clock / brp / (1 + seg1 + seg2).
func (t BitTiming) BaudRate(clockHz uint32) uint32 {
	if t.BRP == 0 {
		return 0
	}
	return clockHz / t.BRP / (1 + t.Seg1 + t.Seg2)
}

// SamplePointPermille computes the sample point in per-mille of bit
// time, per spec §3: 1000*(1+seg1) / (1+seg1+seg2).
func (t BitTiming) SamplePointPermille() uint32 {
	denom := 1 + t.Seg1 + t.Seg2
	if denom == 0 {
		return 0
	}
	return 1000 * (1 + t.Seg1) / denom
}

// Range bounds one bit-timing field, as advertised by a controller's
// capabilities (spec §4.3).
type Range struct {
	Min, Max uint32
}

// Contains reports whether v lies within [Min,Max] inclusive.
func (r Range) Contains(v uint32) bool { return v >= r.Min && v <= r.Max }

// Feature is the bitset a controller advertises in GetCapabilities
// (spec §4.4 "feature bitset").
type Feature uint32

// Advertised controller features.
const (
	FeatureListenOnly Feature = 1 << iota
	FeatureLoopback
	FeatureTripleSample
	FeatureFD
	FeatureTermination
)

// Has reports whether all bits in mask are set.
func (f Feature) Has(mask Feature) bool { return f&mask == mask }

// Capability bounds every bit-timing field a controller advertises,
// plus the feature bitset and clock rate GetCapabilities reports
// alongside the bounds (spec §4.4 GetCapabilities "feature bitset +
// clock + min/max").
type Capability struct {
	BRP, Seg1, Seg2, SJW Range
	Features             Feature
	ClockHz              uint32
}

// CapabilitySize is the marshaled size of a GetCapabilities response:
// feature bitset (4) + clock rate (4) + four (min,max) u32 range pairs.
const CapabilitySize = 4 + 4 + 4*2*4

// MarshalTo serializes the capability struct in the layout
// GetCapabilities/GetCapabilitiesFD report it on the wire. Returns the
// number of bytes written, or 0 if buf is too small.
func (c Capability) MarshalTo(buf []byte) int {
	if len(buf) < CapabilitySize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Features))
	binary.LittleEndian.PutUint32(buf[4:8], c.ClockHz)
	off := 8
	for _, r := range [4]Range{c.BRP, c.Seg1, c.Seg2, c.SJW} {
		binary.LittleEndian.PutUint32(buf[off:off+4], r.Min)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], r.Max)
		off += 8
	}
	return CapabilitySize
}

// ParseCapability parses a GetCapabilities response from data into out.
// Returns false if data is too short.
func ParseCapability(data []byte, out *Capability) bool {
	if len(data) < CapabilitySize {
		return false
	}
	out.Features = Feature(binary.LittleEndian.Uint32(data[0:4]))
	out.ClockHz = binary.LittleEndian.Uint32(data[4:8])
	ranges := [4]*Range{&out.BRP, &out.Seg1, &out.Seg2, &out.SJW}
	off := 8
	for _, r := range ranges {
		r.Min = binary.LittleEndian.Uint32(data[off : off+4])
		r.Max = binary.LittleEndian.Uint32(data[off+4 : off+8])
		off += 8
	}
	return true
}

// Validate checks t against the controller's advertised bounds and the
// sync-jump-width rule from spec §4.3: sjw <= min(seg1, seg2).
func (c Capability) Validate(t BitTiming) error {
	if !c.BRP.Contains(t.BRP) {
		return fmt.Errorf("wire: brp %d out of range [%d,%d]", t.BRP, c.BRP.Min, c.BRP.Max)
	}
	if !c.Seg1.Contains(t.Seg1) {
		return fmt.Errorf("wire: seg1 %d out of range [%d,%d]", t.Seg1, c.Seg1.Min, c.Seg1.Max)
	}
	if !c.Seg2.Contains(t.Seg2) {
		return fmt.Errorf("wire: seg2 %d out of range [%d,%d]", t.Seg2, c.Seg2.Min, c.Seg2.Max)
	}
	if !c.SJW.Contains(t.SJW) {
		return fmt.Errorf("wire: sjw %d out of range [%d,%d]", t.SJW, c.SJW.Min, c.SJW.Max)
	}
	minSeg := t.Seg1
	if t.Seg2 < minSeg {
		minSeg = t.Seg2
	}
	if t.SJW > minSeg {
		return fmt.Errorf("wire: sjw %d exceeds min(seg1,seg2)=%d", t.SJW, minSeg)
	}
	return nil
}
