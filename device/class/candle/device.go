package candle

import (
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

// DeviceConfig names the identity fields a concrete adapter build
// reports through USB string descriptors and GetBoardInfo (spec §4.4,
// §6).
type DeviceConfig struct {
	VendorID        uint16
	ProductID       uint16
	Manufacturer    string
	Product         string
	Serial          string
	BoardVersion    control.BoardVersion
	Capability      wire.Capability
	FirmwareDateBCD uint16 // bcdDevice: firmware build date, e.g. 0x2601 for January 2026 (spec §6)
}

// firmwareUpdateInterfaceProtocol distinguishes the endpoint-less
// vendor interface 1 reserved for firmware-update signaling (spec §6
// "vendor-specific interface 1 ... no endpoints") from interface 0's
// CAN control/bulk surface.
const firmwareUpdateInterfaceProtocol = 1

// Adapter bundles every device-side layer that makes up one running
// CAN/USB adapter: the CAN driver and its buffer pools, the control
// dispatcher, the vendor class driver pumping bulk traffic, the USB
// stack, and the free-running device clock GetTimestamp reads from.
// Run drives device-side work by calling Dispatcher.Process, the
// device-side analogue of a main-loop tick (spec §4.3 Process, §4.4
// Process).
type Adapter struct {
	Driver     *can.Driver
	Dispatcher *control.Dispatcher
	Candle     *Candle
	Stack      *device.Stack
	Clock      *clock.Device

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdapter assembles one in-process CAN/USB adapter atop the given
// controller and HAL, following the layering spec §4 lays out:
// can.Controller -> can.Driver -> control.Dispatcher -> candle.Candle
// -> device.Stack. The returned Adapter has not been Start-ed yet.
func NewAdapter(ctrl can.Controller, h hal.DeviceHAL, cfg DeviceConfig) (*Adapter, error) {
	buffers := pool.NewBuffers()
	echo := pool.NewEchoTable()
	clk := &clock.Device{}

	driver := can.NewDriver(ctrl, buffers, echo, clk.Now)
	dispatcher := control.NewDispatcher(driver, clk, cfg.BoardVersion)
	cd := New(dispatcher)

	dev := device.NewDeviceBuilder().
		WithVendorProduct(cfg.VendorID, cfg.ProductID).
		WithDeviceVersion(cfg.FirmwareDateBCD).
		WithStrings(cfg.Manufacturer, cfg.Product, cfg.Serial).
		AddConfiguration(1).
		AddInterface(device.ClassVendor, 0, 0).
		AddEndpoint(0x81, device.EndpointTypeBulk, maxBulkPacket).
		AddEndpoint(0x01, device.EndpointTypeBulk, maxBulkPacket).
		AddInterface(device.ClassVendor, 0, firmwareUpdateInterfaceProtocol)

	built, err := dev.Build(context.Background())
	if err != nil {
		return nil, err
	}

	config := built.GetConfiguration(1)
	iface := config.GetInterface(0)
	if err := iface.SetClassDriver(cd); err != nil {
		return nil, err
	}

	stack := device.NewStack(built, h)
	cd.SetStack(stack)

	return &Adapter{
		Driver:     driver,
		Dispatcher: dispatcher,
		Candle:     cd,
		Stack:      stack,
		Clock:      clk,
	}, nil
}

// Start brings up the USB stack's control-transfer processing loop.
// Bulk pumping and periodic device work are driven separately by Run.
func (a *Adapter) Start(ctx context.Context) error {
	return a.Stack.Start(ctx)
}

// Stop tears down the USB stack.
func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	return a.Stack.Stop()
}

// Run drives the adapter's periodic work until ctx is cancelled: one
// control-layer Process tick (Tx drain, error accounting, busload
// sampling), one bulk-OUT pump, and one bulk-IN pump per iteration,
// mirroring the real firmware's single-threaded main loop (spec §4.3,
// §4.4 "every iteration of the main loop").
func (a *Adapter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		a.Dispatcher.Process()

		if err := a.Candle.PumpOut(ctx); err != nil && ctx.Err() == nil {
			pkg.LogWarn(pkg.ComponentDevice, "bulk OUT pump failed", "error", err)
		}

		for {
			n, err := a.Candle.PumpIn(ctx)
			if err != nil {
				if ctx.Err() == nil {
					pkg.LogWarn(pkg.ComponentDevice, "bulk IN pump failed", "error", err)
				}
				break
			}
			if n == 0 {
				break
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
