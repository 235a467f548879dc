package gpuload

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jaypipes/ghw"
)

const sensorSampleTTL = 2 * time.Second

type SensorType int

const (
	SensorLoad SensorType = iota
	SensorTemperature
	SensorClock
	SensorMemory
	SensorFan
	SensorPower
)

func (t SensorType) String() string {
	switch t {
	case SensorLoad:
		return "Load"
	case SensorTemperature:
		return "Temperature"
	case SensorClock:
		return "Clock"
	case SensorMemory:
		return "Memory"
	case SensorFan:
		return "Fan"
	case SensorPower:
		return "Power"
	default:
		return "Unknown"
	}
}

type Sensor struct {
	Name  string
	Type  SensorType
	Value float64
	Min   float64
	Max   float64
}

type Device struct {
	Index   int
	Name    string
	Vendor  string
	Address string // PCI bus address, e.g. "0000:03:00.0", when known
	GPU     bool
	Sensors []Sensor
}

type sensorRange struct {
	min float64
	max float64
}

// HardwareTree is a short-TTL cache over the live hardware probes. It
// tracks per-sensor running min/max across the process lifetime.
type HardwareTree struct {
	mu        sync.Mutex
	devices   []Device
	updatedAt time.Time
	ranges    map[string]*sensorRange

	ttl   time.Duration
	now   func() time.Time
	probe func() []Device
}

func NewHardwareTree() *HardwareTree {
	return &HardwareTree{
		ttl:   sensorSampleTTL,
		now:   time.Now,
		probe: probeDevices,
	}
}

func (t *HardwareTree) Devices() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.updatedAt.IsZero() || t.now().Sub(t.updatedAt) >= t.ttl {
		devices := t.probe()
		if t.ranges == nil {
			t.ranges = make(map[string]*sensorRange)
		}
		for di := range devices {
			for si := range devices[di].Sensors {
				s := &devices[di].Sensors[si]
				if !isFiniteFloat(s.Value) {
					continue
				}
				key := devices[di].Name + "|" + s.Type.String() + "|" + s.Name
				rng := t.ranges[key]
				if rng == nil {
					rng = &sensorRange{min: s.Value, max: s.Value}
					t.ranges[key] = rng
				}
				if s.Value < rng.min {
					rng.min = s.Value
				}
				if s.Value > rng.max {
					rng.max = s.Value
				}
				s.Min = rng.min
				s.Max = rng.max
			}
		}
		t.devices = devices
		t.updatedAt = t.now()
	}
	return cloneDevices(t.devices)
}

func cloneDevices(src []Device) []Device {
	if len(src) == 0 {
		return nil
	}
	out := make([]Device, len(src))
	for i, d := range src {
		out[i] = d
		out[i].Sensors = append([]Sensor(nil), d.Sensors...)
	}
	return out
}

func probeDevices() []Device {
	devices := ghwGPUDevices()
	if metrics := nvidiaSensorMetrics(); len(metrics) > 0 {
		devices = mergeNvidiaSensors(devices, metrics)
	}
	if runtime.GOOS == "linux" {
		devices = mergeAMDSysfsSensors(devices)
	}
	if d, ok := cpuDevice(); ok {
		devices = append(devices, d)
	}
	return devices
}

func ghwGPUDevices() []Device {
	info, err := ghw.GPU()
	if err != nil || info == nil {
		return nil
	}
	devices := make([]Device, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		d := Device{Index: card.Index, GPU: true}
		if card.DeviceInfo != nil {
			d.Address = card.DeviceInfo.Address
			if card.DeviceInfo.Vendor != nil {
				d.Vendor = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
			if card.DeviceInfo.Product != nil {
				d.Name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			}
		}
		if d.Name == "" {
			d.Name = d.Vendor
		}
		if d.Name == "" {
			d.Name = fmt.Sprintf("GPU %d", card.Index)
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices
}

// Preferred load sensor names, in priority order. The fallback when
// none match is the maximum of all load sensors on GPU hardware.
var preferredLoadSensors = []string{
	"gpu core",
	"gpu graphics",
	"gpu total",
	"gpu 3d",
	"gpu utilization",
	"gpu render",
}

// SensorReader picks a GPU load percentage out of the hardware tree.
// It performs no smoothing; that belongs to the resolver.
type SensorReader struct {
	tree *HardwareTree
}

func NewSensorReader(tree *HardwareTree) *SensorReader {
	return &SensorReader{tree: tree}
}

func (r *SensorReader) Read() (float64, bool) {
	devices := r.tree.Devices()

	for _, want := range preferredLoadSensors {
		for _, d := range devices {
			if !d.GPU {
				continue
			}
			for _, s := range d.Sensors {
				if s.Type != SensorLoad {
					continue
				}
				if strings.Contains(strings.ToLower(s.Name), want) {
					return clampPercent(s.Value), true
				}
			}
		}
	}

	var best float64
	found := false
	for _, d := range devices {
		if !d.GPU {
			continue
		}
		for _, s := range d.Sensors {
			if s.Type != SensorLoad {
				continue
			}
			if !found || s.Value > best {
				best = s.Value
				found = true
			}
		}
	}
	if !found {
		return 0, false
	}
	return clampPercent(best), true
}
