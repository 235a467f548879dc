package gpuload

import (
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// cpuDevice exposes the best CPU temperature sensor as a non-GPU device
// so it shows up in the diagnostic dump. Sensor keys vary wildly by
// platform and driver; package-level readings score highest.
func cpuDevice() (Device, bool) {
	temps, err := host.SensorsTemperatures()
	if err != nil {
		return Device{}, false
	}

	var best float64
	bestScore := -1
	found := false

	for _, t := range temps {
		temp := t.Temperature
		if temp <= 0 || !isFiniteFloat(temp) {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(t.SensorKey))
		score := 0
		switch {
		case strings.Contains(key, "package"):
			score += 50
		case strings.Contains(key, "tctl") || strings.Contains(key, "tdie"):
			score += 40
		}
		if strings.Contains(key, "coretemp") || strings.Contains(key, "k10temp") {
			score += 20
		}
		if strings.Contains(key, "cpu") {
			score += 10
		}
		if strings.Contains(key, "core") {
			score += 5
		}

		if score > bestScore || (score == bestScore && temp > best) {
			best = temp
			bestScore = score
			found = true
		}
	}

	if !found {
		return Device{}, false
	}
	return Device{
		Name: "CPU",
		Sensors: []Sensor{
			{Name: "CPU Package", Type: SensorTemperature, Value: best},
		},
	}, true
}
