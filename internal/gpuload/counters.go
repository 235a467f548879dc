package gpuload

import (
	"strings"
	"sync"
)

const counterNoiseFloor = 0.1

// engineSample is one GPU engine utilization counter reading. Instance
// names embed an engine type tag, e.g. "pid_1234_luid_..._engtype_3D".
type engineSample struct {
	Instance string
	Busy     float64
}

// Samplers keep per-instance delta state and are not safe for
// concurrent use; the aggregator serializes every Sample call.
type engineSampler interface {
	Sample() ([]engineSample, error)
}

// CounterAggregator reduces per-engine-instance utilization counters to
// one percentage: per-type sums, then the busiest type wins. Summing
// across types would double count engines that run in parallel, which
// is also why task monitors report the busiest type.
//
// The instance set is enumerated once; a missing counter category is
// permanent for the run and every later Read short-circuits to absent.
type CounterAggregator struct {
	sampler   engineSampler
	samplerMu sync.Mutex

	initOnce    sync.Once
	failed      bool
	byType      map[string][]string
	aggregates  []string
	aggregate3D string

	mu           sync.Mutex
	smoothed     float64
	haveSmoothed bool
}

func NewCounterAggregator() *CounterAggregator {
	return &CounterAggregator{sampler: newEngineSampler()}
}

func newCounterAggregator(s engineSampler) *CounterAggregator {
	return &CounterAggregator{sampler: s}
}

func (a *CounterAggregator) init() {
	if a.sampler == nil {
		a.failed = true
		return
	}
	// Priming read: utilization counters need a first sample to
	// establish their delta baseline.
	a.samplerMu.Lock()
	samples, err := a.sampler.Sample()
	a.samplerMu.Unlock()
	if err != nil || len(samples) == 0 {
		a.failed = true
		return
	}
	a.byType = make(map[string][]string)
	for _, s := range samples {
		typ := engineType(s.Instance)
		if isAggregateInstance(s.Instance) {
			a.aggregates = append(a.aggregates, s.Instance)
			if typ == "3D" && a.aggregate3D == "" {
				a.aggregate3D = s.Instance
			}
			continue
		}
		a.byType[typ] = append(a.byType[typ], s.Instance)
	}
}

// Read returns the smoothed busiest-engine-type utilization in [0,100],
// or false when the counter category is unusable this call.
func (a *CounterAggregator) Read() (float64, bool) {
	a.initOnce.Do(a.init)
	if a.failed {
		return 0, false
	}
	a.samplerMu.Lock()
	samples, err := a.sampler.Sample()
	a.samplerMu.Unlock()
	if err != nil || len(samples) == 0 {
		return 0, false
	}
	byInstance := make(map[string]float64, len(samples))
	for _, s := range samples {
		byInstance[s.Instance] = s.Busy
	}

	var busiest float64
	for _, instances := range a.byType {
		var sum float64
		for _, name := range instances {
			sum += byInstance[name]
		}
		if sum > busiest {
			busiest = sum
		}
	}

	value := busiest
	usable := value > counterNoiseFloor
	if !usable {
		value = 0
		for _, name := range a.aggregates {
			if v := byInstance[name]; v > value {
				value = v
			}
		}
		usable = value > counterNoiseFloor
	}
	if !usable && a.aggregate3D != "" {
		value = byInstance[a.aggregate3D]
		usable = true
	}
	if !usable {
		return 0, false
	}
	value = clampPercent(value)

	a.mu.Lock()
	if a.haveSmoothed {
		a.smoothed = 0.5*value + 0.5*a.smoothed
	} else {
		a.smoothed = value
		a.haveSmoothed = true
	}
	out := a.smoothed
	a.mu.Unlock()
	return out, true
}

func engineType(instance string) string {
	lower := strings.ToLower(instance)
	idx := strings.Index(lower, "engtype_")
	if idx < 0 {
		return "other"
	}
	tag := lower[idx+len("engtype_"):]
	if end := strings.IndexAny(tag, "_ "); end >= 0 {
		tag = tag[:end]
	}
	switch tag {
	case "3d":
		return "3D"
	case "videodecode":
		return "VideoDecode"
	case "videoencode":
		return "VideoEncode"
	case "compute":
		return "Compute"
	case "copy":
		return "Copy"
	default:
		return "other"
	}
}

func isAggregateInstance(instance string) bool {
	return strings.Contains(strings.ToLower(instance), "_total")
}
