package gpuload

import (
	"math"
	"sync"
	"time"
)

const (
	emaWeight      = 0.3
	lastGoodWindow = 10 * time.Second
)

type sampleSource interface {
	Read() (float64, bool)
}

// Resolver fuses the shared memory, hardware sensor and engine counter
// sources into one stable GPU load number. Fallback order per query:
// fused max of shared memory (if requested) and sensors, smoothed with
// an EMA; then the last known good value for up to 10s; then the
// counter aggregator; then 0. It never returns absent.
//
// All smoothing state lives here so the sources stay stateless apart
// from their own staleness bookkeeping.
type Resolver struct {
	shm      sampleSource
	sensors  sampleSource
	counters sampleSource

	mu         sync.Mutex
	ema        float64
	haveEma    bool
	lastGood   float64
	haveGood   bool
	lastGoodAt time.Time

	now func() time.Time
}

func NewResolver(shm, sensors, counters sampleSource) *Resolver {
	return &Resolver{
		shm:      shm,
		sensors:  sensors,
		counters: counters,
		now:      time.Now,
	}
}

// Resolve returns the current GPU load in [0,100]. The shared memory
// source is consulted only when the caller asks for it; counters are
// consulted only when the fused path yields nothing positive, never as
// a preferred source.
func (r *Resolver) Resolve(preferSharedMemory bool) float64 {
	var a, b float64
	var haveA, haveB bool
	if preferSharedMemory && r.shm != nil {
		a, haveA = r.shm.Read()
	}
	if r.sensors != nil {
		b, haveB = r.sensors.Read()
	}

	var combined float64
	haveCombined := true
	switch {
	case haveA && haveB:
		combined = math.Max(a, b)
	case haveA:
		combined = a
	case haveB:
		combined = b
	default:
		haveCombined = false
	}

	r.mu.Lock()
	now := r.now()
	var value float64
	haveValue := false
	if haveCombined {
		combined = clampPercent(combined)
		if r.haveEma {
			r.ema = emaWeight*combined + (1-emaWeight)*r.ema
		} else {
			r.ema = combined
			r.haveEma = true
		}
		r.lastGood = r.ema
		r.haveGood = true
		r.lastGoodAt = now
		value = r.ema
		haveValue = true
	} else if r.haveGood && now.Sub(r.lastGoodAt) <= lastGoodWindow {
		value = r.lastGood
		haveValue = true
	}
	r.mu.Unlock()

	if (!haveValue || value <= 0) && r.counters != nil {
		if v, ok := r.counters.Read(); ok {
			return clampPercent(v)
		}
	}
	if !haveValue {
		return 0
	}
	return clampPercent(value)
}
