package api

import (
	"fmt"

	"github.com/google/gousb"
)

// AdapterInterface selects which of the adapter's two enumerated USB
// interfaces to search for (spec §4.6 "enumerate(interface)").
type AdapterInterface int

// Adapter interfaces an attached device may present.
const (
	InterfaceMain AdapterInterface = iota
	InterfaceDfu
)

// Listing is one attached adapter found by Enumerate.
type Listing struct {
	Display string // human-readable board identity
	Path    string // opaque bus/address path, stable for one physical port
}

// idPair is one vendor/product combination this driver recognizes for
// a given interface.
type idPair struct {
	vid, pid gousb.ID
}

// KnownIDs lists the vendor/product pairs Enumerate searches for,
// keyed by interface. Populated with this driver's own reserved test
// range; a real deployment would list the board variants it ships.
var KnownIDs = map[AdapterInterface][]idPair{
	InterfaceMain: {{vid: 0xcafe, pid: 0xbabe}},
	InterfaceDfu:  {{vid: 0xcafe, pid: 0xdf11}},
}

// Enumerate finds every attached adapter presenting the given
// interface (spec §4.6 "enumerate(interface) -> [(display, path)]"),
// backed by gousb.Context.OpenDevices.
func Enumerate(iface AdapterInterface) ([]Listing, error) {
	ids, ok := KnownIDs[iface]
	if !ok {
		return nil, fmt.Errorf("usbcan: unknown adapter interface %d", iface)
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []Listing
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, id := range ids {
			if desc.Vendor == id.vid && desc.Product == id.pid {
				found = append(found, Listing{
					Display: fmt.Sprintf("%s:%s @ bus %d addr %d", desc.Vendor, desc.Product, desc.Bus, desc.Address),
					Path:    fmt.Sprintf("%03d/%03d", desc.Bus, desc.Address),
				})
			}
		}
		return false // never keep a handle open, OpenDevices closes unkept ones
	})
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		d.Close()
	}
	return found, nil
}
