package cdc

import (
	"bytes"
	"context"

	"github.com/canbridge/usbcan/device"
	"github.com/canbridge/usbcan/device/can"
	"github.com/canbridge/usbcan/device/clock"
	"github.com/canbridge/usbcan/device/control"
	"github.com/canbridge/usbcan/device/hal"
	"github.com/canbridge/usbcan/device/pool"
	"github.com/canbridge/usbcan/pkg"
	"github.com/canbridge/usbcan/wire"
)

// maxLineBuffer bounds one accumulated ASCII command line; the
// longest legal line is an extended-id FD transmit command, well
// under this.
const maxLineBuffer = 256

// DeviceConfig names the identity fields this adapter build reports
// through USB string descriptors (spec §4.4, §6, the CDC-ACM class
// layout alternative to candle.DeviceConfig's vendor-class layout).
type DeviceConfig struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string
	BoardVersion control.BoardVersion
	Capability   wire.Capability
}

// Adapter bundles the device-side layers that make up one CAN/USB
// adapter presenting the Slcan-compatible ASCII command language over
// a CDC-ACM interface, rather than candle's binary vendor interface
// (spec §6 "Extended/Candlelight-class and CDC-ACM class").
type Adapter struct {
	Driver     *can.Driver
	Dispatcher *control.Dispatcher
	ASCII      *control.ASCII
	ACM        *ACM
	Stack      *device.Stack
	Clock      *clock.Device

	lineBuf bytes.Buffer
}

// NewAdapter assembles one in-process CDC-ACM CAN adapter atop the
// given controller and HAL: can.Controller -> can.Driver ->
// control.Dispatcher -> control.ASCII, fed line-by-line from bytes
// read over the CDC-ACM data endpoints by ACM.
func NewAdapter(ctrl can.Controller, h hal.DeviceHAL, cfg DeviceConfig) (*Adapter, error) {
	buffers := pool.NewBuffers()
	echo := pool.NewEchoTable()
	clk := &clock.Device{}

	driver := can.NewDriver(ctrl, buffers, echo, clk.Now)
	dispatcher := control.NewDispatcher(driver, clk, cfg.BoardVersion)
	parser := control.NewASCII(dispatcher)
	acm := NewACM()

	dev := device.NewDeviceBuilder().
		WithVendorProduct(cfg.VendorID, cfg.ProductID).
		WithStrings(cfg.Manufacturer, cfg.Product, cfg.Serial).
		AddConfiguration(1)
	acm.ConfigureDevice(dev, 0x83, 0x82, 0x02)

	built, err := dev.Build(context.Background())
	if err != nil {
		return nil, err
	}

	if err := acm.AttachToInterfaces(built, 1, 0, 1); err != nil {
		return nil, err
	}

	stack := device.NewStack(built, h)
	acm.SetStack(stack)

	return &Adapter{
		Driver:     driver,
		Dispatcher: dispatcher,
		ASCII:      parser,
		ACM:        acm,
		Stack:      stack,
		Clock:      clk,
	}, nil
}

// Start brings up the USB stack's control-transfer processing loop.
func (a *Adapter) Start(ctx context.Context) error {
	return a.Stack.Start(ctx)
}

// Stop tears down the USB stack.
func (a *Adapter) Stop() error {
	return a.Stack.Stop()
}

// PumpLine reads one blocking chunk of host output, feeds any
// complete '\r'-terminated lines it completes to the ASCII parser,
// and writes back whatever reply lines those commands produce. It
// returns the number of complete lines processed.
func (a *Adapter) PumpLine(ctx context.Context) (int, error) {
	var chunk [64]byte
	n, err := a.ACM.Read(ctx, chunk[:])
	if err != nil {
		return 0, err
	}
	a.lineBuf.Write(chunk[:n])
	if a.lineBuf.Len() > maxLineBuffer {
		a.lineBuf.Reset()
		return 0, pkg.ErrProtocol
	}

	lines := 0
	for {
		buf := a.lineBuf.Bytes()
		idx := bytes.IndexByte(buf, '\r')
		if idx < 0 {
			break
		}
		line := string(buf[:idx])
		a.lineBuf.Next(idx + 1)

		for _, reply := range a.ASCII.Handle(line) {
			if _, err := a.ACM.Write(ctx, []byte(reply)); err != nil {
				return lines, err
			}
		}
		lines++
	}
	return lines, nil
}

// Run drives the adapter's periodic work until ctx is cancelled: one
// control-layer Process tick followed by one blocking line pump,
// mirroring candle.Adapter.Run's single-threaded main-loop shape
// (spec §4.3, §4.4).
func (a *Adapter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		a.Dispatcher.Process()

		if _, err := a.PumpLine(ctx); err != nil && ctx.Err() == nil {
			pkg.LogWarn(pkg.ComponentDevice, "ASCII line pump failed", "error", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
