package iqsource

import (
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// DeviceInfo holds audio device information.
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// Stereo reports whether the device can deliver I and Q on two channels.
func (d DeviceInfo) Stereo() bool { return d.MaxInputChannels >= 2 }

// ListDevices returns every device with at least one input channel.
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultName string
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		defaultName = d.Name
	}

	var result []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		result = append(result, DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         d.Name == defaultName,
		})
	}
	return result, nil
}

// PrintDevices writes a device table to w.
func PrintDevices(w io.Writer, devices []DeviceInfo) {
	fmt.Fprintln(w, "Input devices:")
	if len(devices) == 0 {
		fmt.Fprintln(w, "  (no devices found)")
		return
	}
	for i, d := range devices {
		flags := ""
		if d.IsDefault {
			flags += " [DEFAULT]"
		}
		if !d.Stereo() {
			flags += " [MONO, no I/Q]"
		}
		fmt.Fprintf(w, "  %d: %s (in:%d rate:%.0f)%s\n",
			i, d.Name, d.MaxInputChannels, d.DefaultSampleRate, flags)
	}
}
