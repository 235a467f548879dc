package gpuload

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// drmCard is one amdgpu sysfs card and its readings.
type drmCard struct {
	name    string
	address string
	sensors []Sensor
}

// mergeAMDSysfsSensors folds amdgpu sysfs readings into the device
// list, pairing each DRM card with the PCI-scanned device at the same
// bus address.
func mergeAMDSysfsSensors(devices []Device) []Device {
	paths, err := filepath.Glob("/sys/class/drm/card[0-9]*/device/gpu_busy_percent")
	if err != nil || len(paths) == 0 {
		return devices
	}

	cards := make([]drmCard, 0, len(paths))
	for _, path := range paths {
		busy, ok := readSysfsFloat(path)
		if !ok {
			continue
		}
		deviceDir := filepath.Dir(path)
		c := drmCard{
			name:    filepath.Base(filepath.Dir(deviceDir)),
			address: pciAddressOf(deviceDir),
			sensors: []Sensor{
				{Name: "GPU Core", Type: SensorLoad, Value: busy},
			},
		}
		if temp, ok := readAMDTemp(deviceDir); ok {
			c.sensors = append(c.sensors, Sensor{Name: "GPU Core", Type: SensorTemperature, Value: temp})
		}
		cards = append(cards, c)
	}
	return attachDRMSensors(devices, cards)
}

// attachDRMSensors matches cards to devices by PCI bus address. sysfs
// card numbering does not follow PCI scan order, so positional pairing
// would attach readings to the wrong device on multi-GPU hosts. Cards
// without an address match get a standalone entry named after the DRM
// card.
func attachDRMSensors(devices []Device, cards []drmCard) []Device {
	for _, c := range cards {
		pos := -1
		if c.address != "" {
			for i := range devices {
				if devices[i].GPU && strings.EqualFold(devices[i].Address, c.address) {
					pos = i
					break
				}
			}
		}
		if pos >= 0 {
			devices[pos].Sensors = append(devices[pos].Sensors, c.sensors...)
			continue
		}
		devices = append(devices, Device{
			Index:   len(devices),
			Name:    c.name,
			Vendor:  "AMD",
			GPU:     true,
			Sensors: c.sensors,
		})
	}
	return devices
}

// pciAddressOf resolves a /sys/class/drm/cardN/device symlink to the
// bus address of the PCI function behind it.
func pciAddressOf(deviceDir string) string {
	target, err := filepath.EvalSymlinks(deviceDir)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func readAMDTemp(deviceDir string) (float64, bool) {
	paths, err := filepath.Glob(filepath.Join(deviceDir, "hwmon", "hwmon*", "temp1_input"))
	if err != nil || len(paths) == 0 {
		return 0, false
	}
	milli, ok := readSysfsFloat(paths[0])
	if !ok {
		return 0, false
	}
	return milli / 1000, true
}

func readSysfsFloat(path string) (float64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
