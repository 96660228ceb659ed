package transport

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// GousbUSB is the production USB backend, a thin wrapper over
// *gousb.Device binding the adapter's bulk IN/OUT endpoints (spec §3
// [ADD - DOMAIN STACK]: gousb.Context.OpenDeviceWithVIDPID,
// Device.SetAutoDetach, Device.DefaultInterface, Interface.InEndpoint,
// Interface.OutEndpoint, InEndpoint.ReadContext).
type GousbUSB struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	iface  *gousb.Interface
	closer func()

	in  *gousb.InEndpoint
	out *gousb.OutEndpoint
}

// OpenGousb opens the first device matching vid/pid and claims its
// default interface's bulk endpoints.
func OpenGousb(vid, pid uint16, inEP, outEP int) (*GousbUSB, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbcan: no device matching %04x:%04x", vid, pid)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}

	iface, closer, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}

	in, err := iface.InEndpoint(inEP)
	if err != nil {
		closer()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	out, err := iface.OutEndpoint(outEP)
	if err != nil {
		closer()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	return &GousbUSB{ctx: ctx, dev: dev, iface: iface, closer: closer, in: in, out: out}, nil
}

// Control issues a control transfer through the underlying device
// handle.
func (g *GousbUSB) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	return g.dev.Control(requestType, request, value, index, data)
}

// ReadBulk reads one bulk-IN transfer, blocking until ctx is cancelled
// or data arrives (spec §4.5 "infinite timeout").
func (g *GousbUSB) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	return g.in.ReadContext(ctx, buf)
}

// WriteBulk submits one bulk-OUT transfer.
func (g *GousbUSB) WriteBulk(ctx context.Context, data []byte) (int, error) {
	return g.out.WriteContext(ctx, data)
}

// Close releases the interface claim and device handle.
func (g *GousbUSB) Close() error {
	g.closer()
	err := g.dev.Close()
	g.ctx.Close()
	return err
}
