package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/jeongseonghan/audio-modem/internal/modem"
)

// DeviceInfo holds audio device information.
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefault         bool
	// ProfileCompatible reports whether this device's default sample
	// rate matches the OFDM profile ListDevicesForProfile was called
	// with. Every built-in profile (Standard/Acoustic/Narrowband) runs
	// at 44100Hz, so a device defaulting elsewhere will resample under
	// the hood or, on some portaudio backends, simply fail to open.
	ProfileCompatible bool
}

// ListDevices returns all available audio devices, without checking
// compatibility against any particular OFDM profile.
func ListDevices() ([]DeviceInfo, error) {
	return ListDevicesForProfile(modem.Profile{SampleRate: 0})
}

// ListDevicesForProfile returns all available audio devices, flagging
// which ones default to the sample rate the given OFDM profile was
// built for. A SampleRate of 0 skips the check (every device reports
// compatible).
func ListDevicesForProfile(profile modem.Profile) ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultInName, defaultOutName string
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		defaultInName = d.Name
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil {
		defaultOutName = d.Name
	}

	var result []DeviceInfo
	for _, d := range devices {
		isDefault := (d.Name == defaultInName) || (d.Name == defaultOutName)
		result = append(result, DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         isDefault,
			ProfileCompatible: profile.SampleRate == 0 || int(d.DefaultSampleRate) == profile.SampleRate,
		})
	}
	return result, nil
}

// HasInputDevice returns true if a default input device is available.
func HasInputDevice() bool {
	_, err := portaudio.DefaultInputDevice()
	return err == nil
}

// HasOutputDevice returns true if a default output device is available.
func HasOutputDevice() bool {
	_, err := portaudio.DefaultOutputDevice()
	return err == nil
}

// PrintDevices prints all available audio devices, flagging
// compatibility against profile's sample rate.
func PrintDevices(profile modem.Profile) error {
	devices, err := ListDevicesForProfile(profile)
	if err != nil {
		return err
	}
	fmt.Println("Audio Devices:")
	if len(devices) == 0 {
		fmt.Println("  (no devices found)")
		return nil
	}
	for i, d := range devices {
		defaultStr := ""
		if d.IsDefault {
			defaultStr = " [DEFAULT]"
		}
		compatStr := ""
		if !d.ProfileCompatible {
			compatStr = fmt.Sprintf(" [rate mismatch: profile wants %dHz]", profile.SampleRate)
		}
		fmt.Printf("  %d: %s (in:%d out:%d rate:%.0f)%s%s\n",
			i, d.Name, d.MaxInputChannels, d.MaxOutputChannels,
			d.DefaultSampleRate, defaultStr, compatStr)
	}

	if !HasInputDevice() {
		fmt.Println("\n  WARNING: No default input device. Receive mode unavailable.")
	}
	if !HasOutputDevice() {
		fmt.Println("\n  WARNING: No default output device. Send mode unavailable.")
	}
	return nil
}
