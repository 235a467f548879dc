package gpuload

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type nvidiaMetrics struct {
	Name          string
	UtilPercent   float64
	MemUsedBytes  uint64
	MemTotalBytes uint64
	TempC         float64
	FanPercent    float64
	PowerW        float64
}

// nvidiaSensorMetrics shells out to nvidia-smi. Absence of the tool or
// of any NVIDIA GPU is not an error, just an empty result.
func nvidiaSensorMetrics() []nvidiaMetrics {
	path, err := findNvidiaSMI()
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"--query-gpu=name,utilization.gpu,memory.used,memory.total,temperature.gpu,fan.speed,power.draw",
		"--format=csv,noheader,nounits",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil
	}

	text := strings.TrimSpace(string(out))
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	metrics := make([]nvidiaMetrics, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 7 {
			continue
		}

		m := nvidiaMetrics{Name: strings.TrimSpace(parts[0])}
		m.UtilPercent = smiFloat(parts[1])
		memUsedMiB := smiFloat(parts[2])
		memTotalMiB := smiFloat(parts[3])
		m.MemUsedBytes = uint64(memUsedMiB * 1024 * 1024)
		m.MemTotalBytes = uint64(memTotalMiB * 1024 * 1024)
		m.TempC = smiFloat(parts[4])
		m.FanPercent = smiFloat(parts[5])
		m.PowerW = smiFloat(parts[6])
		metrics = append(metrics, m)
	}
	return metrics
}

// smiFloat parses one nvidia-smi CSV field; "[N/A]" and friends read
// as 0.
func smiFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func nvidiaSensors(m nvidiaMetrics) []Sensor {
	sensors := []Sensor{
		{Name: "GPU Core", Type: SensorLoad, Value: m.UtilPercent},
	}
	if m.MemTotalBytes > 0 {
		sensors = append(sensors, Sensor{
			Name:  "GPU Memory",
			Type:  SensorLoad,
			Value: float64(m.MemUsedBytes) / float64(m.MemTotalBytes) * 100,
		})
	}
	if m.TempC > 0 {
		sensors = append(sensors, Sensor{Name: "GPU Core", Type: SensorTemperature, Value: m.TempC})
	}
	if m.FanPercent > 0 {
		sensors = append(sensors, Sensor{Name: "GPU Fan", Type: SensorFan, Value: m.FanPercent})
	}
	if m.PowerW > 0 {
		sensors = append(sensors, Sensor{Name: "GPU Package", Type: SensorPower, Value: m.PowerW})
	}
	return sensors
}

func mergeNvidiaSensors(devices []Device, metrics []nvidiaMetrics) []Device {
	nvidiaIdx := make([]int, 0, len(devices))
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Vendor), "nvidia") {
			nvidiaIdx = append(nvidiaIdx, i)
		}
	}

	if len(nvidiaIdx) == 0 {
		for i, m := range metrics {
			devices = append(devices, Device{
				Index:   len(devices) + i,
				Name:    m.Name,
				Vendor:  "NVIDIA",
				GPU:     true,
				Sensors: nvidiaSensors(m),
			})
		}
		return devices
	}

	for i, m := range metrics {
		if i >= len(nvidiaIdx) {
			break
		}
		pos := nvidiaIdx[i]
		if strings.TrimSpace(devices[pos].Name) == "" {
			devices[pos].Name = m.Name
		}
		devices[pos].Sensors = append(devices[pos].Sensors, nvidiaSensors(m)...)
	}
	return devices
}

func findNvidiaSMI() (string, error) {
	if p, err := exec.LookPath("nvidia-smi"); err == nil {
		return p, nil
	}

	if runtime.GOOS == "windows" {
		candidates := []string{
			os.ExpandEnv(`%ProgramFiles%\NVIDIA Corporation\NVSMI\nvidia-smi.exe`),
			os.ExpandEnv(`%ProgramFiles(x86)%\NVIDIA Corporation\NVSMI\nvidia-smi.exe`),
		}
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if _, err := os.Stat(c); err == nil {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("nvidia-smi not found")
}
