package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterSetEmptyAcceptsAll(t *testing.T) {
	var fs FilterSet
	assert.True(t, fs.Accepts(false, 0x123))
	assert.True(t, fs.Accepts(true, 0x1FFFFFFF))
}

func TestFilterSetMatchRejectsUnlisted(t *testing.T) {
	var fs FilterSet
	ok := fs.Add(MaskFilter{Scope: FilterScope11Bit, Accept: 0x100, Mask: 0x7FF})
	assert.True(t, ok)

	assert.True(t, fs.Accepts(false, 0x100))
	assert.False(t, fs.Accepts(false, 0x101))
	// Extended scope untouched, still accepts all.
	assert.True(t, fs.Accepts(true, 0xABCDE))
}

func TestFilterSetCapacity(t *testing.T) {
	var fs FilterSet
	for i := 0; i < MaxFilters; i++ {
		ok := fs.Add(MaskFilter{Scope: FilterScope11Bit, Accept: uint32(i), Mask: 0x7FF})
		assert.True(t, ok)
	}
	ok := fs.Add(MaskFilter{Scope: FilterScope11Bit, Accept: 99, Mask: 0x7FF})
	assert.False(t, ok, "ninth filter in the same scope must be rejected")
}

func TestFilterSetClear(t *testing.T) {
	var fs FilterSet
	fs.Add(MaskFilter{Scope: FilterScope11Bit, Accept: 0x100, Mask: 0x7FF})
	assert.False(t, fs.Accepts(false, 0x200))
	fs.Clear()
	assert.True(t, fs.Accepts(false, 0x200))
}

func TestMaskFilterMatch(t *testing.T) {
	f := MaskFilter{Accept: 0x100, Mask: 0x700}
	assert.True(t, f.Match(0x1FF))
	assert.False(t, f.Match(0x200))
}
