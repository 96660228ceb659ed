package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceNowMonotonicWithinOneWrap(t *testing.T) {
	var d Device
	d.Advance(0)
	prev := d.Now()
	for _, raw := range []uint16{100, 1000, 40000, 65000} {
		d.Advance(raw)
		now := d.Now()
		assert.Greater(t, now, prev)
		prev = now
	}
}

func TestDeviceNowAcrossWrap(t *testing.T) {
	var d Device
	d.Advance(65000)
	before := d.Now()
	d.Advance(10) // wrapped: raw decreased
	after := d.Now()
	assert.Greater(t, after, before, "device tick must stay monotonic across a wrap")
}

func TestDeviceComposition(t *testing.T) {
	var d Device
	d.Advance(5)
	assert.Equal(t, uint32(5), d.Now())
	d.Advance(3) // wrap
	assert.Equal(t, uint32(1)<<16|3, d.Now())
}
