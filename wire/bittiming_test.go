package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBitTimingExampleValues checks the worked examples from the bit
// timing math (500 kbit/s nominal, 2 Mbit/s data phase, on a 160 MHz
// controller clock).
func TestBitTimingExampleValues(t *testing.T) {
	nominal := BitTiming{BRP: 2, Seg1: 139, Seg2: 20}
	assert.Equal(t, uint32(500000), nominal.BaudRate(160_000_000))
	assert.Equal(t, uint32(875), nominal.SamplePointPermille())

	data := BitTiming{BRP: 2, Seg1: 29, Seg2: 10}
	assert.Equal(t, uint32(2_000_000), data.BaudRate(160_000_000))
	assert.Equal(t, uint32(750), data.SamplePointPermille())
}

func TestBitTimingZeroBRP(t *testing.T) {
	var t0 BitTiming
	assert.Equal(t, uint32(0), t0.BaudRate(160_000_000))
}

func TestCapabilityValidate(t *testing.T) {
	limits := Capability{
		BRP:  Range{Min: 1, Max: 32},
		Seg1: Range{Min: 1, Max: 256},
		Seg2: Range{Min: 1, Max: 128},
		SJW:  Range{Min: 1, Max: 128},
	}
	require.NoError(t, limits.Validate(BitTiming{BRP: 2, Seg1: 139, Seg2: 20, SJW: 20}))

	err := limits.Validate(BitTiming{BRP: 99, Seg1: 139, Seg2: 20, SJW: 20})
	assert.Error(t, err)

	err = limits.Validate(BitTiming{BRP: 2, Seg1: 139, Seg2: 20, SJW: 21})
	assert.Error(t, err, "sjw must not exceed min(seg1,seg2)")
}
