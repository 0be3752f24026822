package heatmap

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDeviceClass reports an unrecognized device label.
var ErrUnknownDeviceClass = errors.New("heatmap: unknown device class")

// DeviceClass labels the viewport family a click was captured on.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceTablet  DeviceClass = "tablet"
	DeviceMobile  DeviceClass = "mobile"

	desktopMaxWidth = 1280
	tabletMaxWidth  = 768
	mobileMaxWidth  = 390

	mobileViewportBreakpoint = 480
	tabletViewportBreakpoint = 1024
)

// ParseDeviceClass normalizes a device label. Empty input means desktop.
func ParseDeviceClass(rawValue string) (DeviceClass, error) {
	normalized := DeviceClass(strings.ToLower(strings.TrimSpace(rawValue)))
	switch normalized {
	case "":
		return DeviceDesktop, nil
	case DeviceDesktop, DeviceTablet, DeviceMobile:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDeviceClass, rawValue)
	}
}

// ClassifyViewport picks a device class from a viewport width in CSS pixels.
func ClassifyViewport(viewportWidth int) DeviceClass {
	switch {
	case viewportWidth > 0 && viewportWidth <= mobileViewportBreakpoint:
		return DeviceMobile
	case viewportWidth > 0 && viewportWidth <= tabletViewportBreakpoint:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// MaxWidth is the widest canvas rendered for the device.
func (device DeviceClass) MaxWidth() int {
	switch device {
	case DeviceMobile:
		return mobileMaxWidth
	case DeviceTablet:
		return tabletMaxWidth
	default:
		return desktopMaxWidth
	}
}

// ClampWidth limits a requested canvas width to the device maximum.
// Non-positive requests get the maximum.
func (device DeviceClass) ClampWidth(requestedWidth int) int {
	maxWidth := device.MaxWidth()
	if requestedWidth <= 0 || requestedWidth > maxWidth {
		return maxWidth
	}
	return requestedWidth
}
