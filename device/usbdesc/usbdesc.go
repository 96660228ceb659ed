// Package usbdesc renders the two concrete USB descriptor sets this
// adapter can present (spec §6): the Candlelight-class vendor layout
// (device/class/candle) and the CDC-ACM layout (device/class/cdc).
// Both are assembled from the generic device.DeviceDescriptor /
// device.ConfigurationDescriptor / device.InterfaceDescriptor /
// device.EndpointDescriptor building blocks device/descriptor.go
// already defines, the same way device.DeviceBuilder does internally,
// but returned as flat byte slices for callers that want the raw
// enumeration bytes directly (e.g. a descriptor dump tool) rather than
// a live device.Device.
package usbdesc

import (
	"github.com/canbridge/usbcan/device"
	"github.com/canbridge/usbcan/device/class/cdc"
)

// VID/PID pairs identifying the two wire-compatible personalities this
// adapter can present (spec §6 "Vendor id / product id pairs identify
// variants"). Candle borrows the candleLight/gs_usb identity so
// existing host tooling built against that driver recognizes it
// unmodified; the CDC-ACM personality uses an adjacent product ID
// under the same vendor.
const (
	CandleVendorID  uint16 = 0x1d50
	CandleProductID uint16 = 0x606f

	CDCVendorID  uint16 = 0x1d50
	CDCProductID uint16 = 0x606e
)

// bulkPacketSize mirrors candle.maxBulkPacket; duplicated rather than
// imported to keep this package import-cycle-free of device/class/candle.
const bulkPacketSize = 512

// FirmwareDateBCD packs a build year/month into the bcdDevice
// convention this adapter uses: BCD year-since-2000 in the high byte,
// BCD month in the low byte (spec §6's bcdDevice example illustrates a
// three-byte yyyy-mm-dd date; the standard bcdDevice field is only 16
// bits, so the day is not representable and is dropped here).
func FirmwareDateBCD(year, month int) uint16 {
	y := uint16(year % 100)
	yBCD := (y/10)<<4 | (y % 10)
	mBCD := uint16(month/10)<<4 | uint16(month%10)
	return yBCD<<8 | mBCD
}

// CandleDescriptors renders the Candlelight-class vendor layout (spec
// §6): interface 0 carries the vendor control surface and two bulk
// endpoints; interface 1 is vendor-class with no endpoints, reserved
// for firmware-update signaling.
func CandleDescriptors(firmwareDateBCD uint16) (deviceDesc, configDesc []byte) {
	dd := device.DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       device.ClassVendor,
		MaxPacketSize0:    64,
		VendorID:          CandleVendorID,
		ProductID:         CandleProductID,
		DeviceVersion:     firmwareDateBCD,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	deviceDesc = make([]byte, device.DeviceDescriptorSize)
	dd.MarshalTo(deviceDesc)

	iface0 := device.InterfaceDescriptor{InterfaceNumber: 0, InterfaceClass: device.ClassVendor, NumEndpoints: 2}
	epIn := device.EndpointDescriptor{EndpointAddress: 0x81, Attributes: device.EndpointTypeBulk, MaxPacketSize: bulkPacketSize}
	epOut := device.EndpointDescriptor{EndpointAddress: 0x01, Attributes: device.EndpointTypeBulk, MaxPacketSize: bulkPacketSize}
	iface1 := device.InterfaceDescriptor{InterfaceNumber: 1, InterfaceClass: device.ClassVendor, InterfaceProtocol: 1}

	total := device.ConfigurationDescriptorSize + 2*device.InterfaceDescriptorSize + 2*device.EndpointDescriptorSize
	cfg := device.ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      2,
		ConfigurationValue: 1,
		Attributes:         device.ConfigAttrBusPowered,
		MaxPower:           50,
	}

	configDesc = make([]byte, total)
	off := cfg.MarshalTo(configDesc)
	off += iface0.MarshalTo(configDesc[off:])
	off += epIn.MarshalTo(configDesc[off:])
	off += epOut.MarshalTo(configDesc[off:])
	iface1.MarshalTo(configDesc[off:])
	return deviceDesc, configDesc
}

// CDCDescriptors renders the CDC-ACM layout (spec §6): a control
// interface (Communications Class, one interrupt IN notification
// endpoint) and a data interface (Data Class, bulk IN/OUT), joined by
// the Header/Call-Management/ACM/Union functional descriptors
// package device/class/cdc already defines, exactly as real CDC-ACM hosts
// expect them.
func CDCDescriptors(firmwareDateBCD uint16) (deviceDesc, configDesc []byte) {
	dd := device.DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       cdc.ClassCDC,
		MaxPacketSize0:    64,
		VendorID:          CDCVendorID,
		ProductID:         CDCProductID,
		DeviceVersion:     firmwareDateBCD,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	deviceDesc = make([]byte, device.DeviceDescriptorSize)
	dd.MarshalTo(deviceDesc)

	control := device.InterfaceDescriptor{InterfaceNumber: 0, InterfaceClass: cdc.ClassCDC, InterfaceSubClass: cdc.SubclassACM, InterfaceProtocol: cdc.ProtocolAT, NumEndpoints: 1}
	header := cdc.HeaderDescriptor{CDCVersion: 0x0110}
	callMgmt := cdc.CallManagementDescriptor{DataInterface: 1}
	acm := cdc.ACMDescriptor{Capabilities: cdc.ACMCapLineCoding}
	union := cdc.UnionDescriptor{MasterInterface: 0, SlaveInterface0: 1}
	notifyEP := device.EndpointDescriptor{EndpointAddress: 0x03 | device.EndpointDirectionIn, Attributes: device.EndpointTypeInterrupt, MaxPacketSize: 8, Interval: 10}

	data := device.InterfaceDescriptor{InterfaceNumber: 1, InterfaceClass: cdc.ClassCDCData, NumEndpoints: 2}
	dataIn := device.EndpointDescriptor{EndpointAddress: 0x01 | device.EndpointDirectionIn, Attributes: device.EndpointTypeBulk, MaxPacketSize: bulkPacketSize}
	dataOut := device.EndpointDescriptor{EndpointAddress: 0x02, Attributes: device.EndpointTypeBulk, MaxPacketSize: bulkPacketSize}

	total := device.ConfigurationDescriptorSize +
		device.InterfaceDescriptorSize + cdc.HeaderDescriptorSize + cdc.CallManagementDescriptorSize +
		cdc.ACMDescriptorSize + cdc.UnionDescriptorSize + device.EndpointDescriptorSize +
		device.InterfaceDescriptorSize + 2*device.EndpointDescriptorSize
	cfg := device.ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      2,
		ConfigurationValue: 1,
		Attributes:         device.ConfigAttrBusPowered,
		MaxPower:           50,
	}

	configDesc = make([]byte, total)
	off := cfg.MarshalTo(configDesc)
	off += control.MarshalTo(configDesc[off:])
	off += header.MarshalTo(configDesc[off:])
	off += callMgmt.MarshalTo(configDesc[off:])
	off += acm.MarshalTo(configDesc[off:])
	off += union.MarshalTo(configDesc[off:])
	off += notifyEP.MarshalTo(configDesc[off:])
	off += data.MarshalTo(configDesc[off:])
	off += dataIn.MarshalTo(configDesc[off:])
	dataOut.MarshalTo(configDesc[off:])
	return deviceDesc, configDesc
}
