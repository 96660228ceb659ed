// Package pkg provides shared utilities for the usbcan adapter stack.
//
// This package contains common functionality used across both the device
// simulation and the host driver:
//
//   - Structured logging via logrus, tagged per subsystem component
//   - The shared error-code taxonomy (spec §7) used by both the binary
//     control protocol and the ASCII Slcan command language
//
// # Logging
//
//	pkg.SetLogLevel(logrus.DebugLevel)
//	pkg.LogInfo(pkg.ComponentHost, "device opened", logrus.Fields{"path": path})
//
// # Errors
//
//	if errors.Is(err, pkg.ErrBusIsOff) {
//	    // handle bus-off
//	}
package pkg
