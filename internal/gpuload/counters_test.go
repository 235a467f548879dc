package gpuload

import (
	"errors"
	"sync"
	"testing"
)

type fakeSampler struct {
	mu    sync.Mutex
	calls int
	sets  [][]engineSample
	err   error
}

func (s *fakeSampler) Sample() ([]engineSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.sets) {
		i = len(s.sets) - 1
	}
	return s.sets[i], nil
}

func engines(samples ...engineSample) []engineSample { return samples }

func TestEngineType(t *testing.T) {
	tests := []struct {
		instance string
		want     string
	}{
		{"pid_1234_luid_0x0_0x1_phys_0_engtype_3D", "3D"},
		{"pid_1234_luid_0x0_0x1_phys_0_engtype_VideoDecode", "VideoDecode"},
		{"pid_9_engtype_VideoEncode", "VideoEncode"},
		{"pid_9_engtype_Compute", "Compute"},
		{"pid_9_engtype_Copy", "Copy"},
		{"pid_9_engtype_Security", "other"},
		{"no_type_tag_at_all", "other"},
		{"card0_engtype_3D", "3D"},
	}
	for _, tt := range tests {
		if got := engineType(tt.instance); got != tt.want {
			t.Errorf("engineType(%q) = %q, want %q", tt.instance, got, tt.want)
		}
	}
}

func TestCounterAggregatorMaxAcrossTypes(t *testing.T) {
	samples := engines(
		engineSample{Instance: "pid_1_engtype_3D", Busy: 4},
		engineSample{Instance: "pid_2_engtype_3D", Busy: 6},
		engineSample{Instance: "pid_1_engtype_Compute", Busy: 60},
	)
	a := newCounterAggregator(&fakeSampler{sets: [][]engineSample{samples, samples}})

	got, ok := a.Read()
	if !ok {
		t.Fatal("expected a value")
	}
	// Busiest type wins: Compute 60, not 3D sum 10, and never 70.
	if got != 60 {
		t.Errorf("got %v, want 60", got)
	}
}

func TestCounterAggregatorAggregateFallback(t *testing.T) {
	prime := engines(
		engineSample{Instance: "pid_1_engtype_3D", Busy: 0},
		engineSample{Instance: "luid_0_total_engtype_3D", Busy: 0},
		engineSample{Instance: "luid_0_total_engtype_Copy", Busy: 0},
	)
	read := engines(
		engineSample{Instance: "pid_1_engtype_3D", Busy: 0.05},
		engineSample{Instance: "luid_0_total_engtype_3D", Busy: 12},
		engineSample{Instance: "luid_0_total_engtype_Copy", Busy: 3},
	)
	a := newCounterAggregator(&fakeSampler{sets: [][]engineSample{prime, read}})

	got, ok := a.Read()
	if !ok || got != 12 {
		t.Fatalf("got (%v, %v), want (12, true)", got, ok)
	}
}

func TestCounterAggregatorDedicated3DFallback(t *testing.T) {
	prime := engines(
		engineSample{Instance: "pid_1_engtype_3D", Busy: 0},
		engineSample{Instance: "luid_0_total_engtype_3D", Busy: 0},
	)
	// Everything at or below the noise floor; the 3D aggregate is used
	// as-is even when quiet.
	read := engines(
		engineSample{Instance: "pid_1_engtype_3D", Busy: 0},
		engineSample{Instance: "luid_0_total_engtype_3D", Busy: 0.05},
	)
	a := newCounterAggregator(&fakeSampler{sets: [][]engineSample{prime, read}})

	got, ok := a.Read()
	if !ok || got != 0.05 {
		t.Fatalf("got (%v, %v), want (0.05, true)", got, ok)
	}
}

func TestCounterAggregatorAbsentWhenIdleWithoutAggregates(t *testing.T) {
	prime := engines(engineSample{Instance: "pid_1_engtype_3D", Busy: 0})
	read := engines(engineSample{Instance: "pid_1_engtype_3D", Busy: 0.05})
	a := newCounterAggregator(&fakeSampler{sets: [][]engineSample{prime, read}})

	if got, ok := a.Read(); ok {
		t.Fatalf("got (%v, %v), want absent", got, ok)
	}
}

func TestCounterAggregatorSmoothing(t *testing.T) {
	samples := func(busy float64) []engineSample {
		return engines(engineSample{Instance: "pid_1_engtype_3D", Busy: busy})
	}
	a := newCounterAggregator(&fakeSampler{sets: [][]engineSample{
		samples(0), // prime
		samples(60),
		samples(20),
	}})

	if got, _ := a.Read(); got != 60 {
		t.Fatalf("first read = %v, want 60 (filter starts at first sample)", got)
	}
	if got, _ := a.Read(); got != 40 {
		t.Errorf("second read = %v, want 40 (0.5*20 + 0.5*60)", got)
	}
}

func TestCounterAggregatorInitFailurePermanent(t *testing.T) {
	s := &fakeSampler{err: errors.New("counter category missing")}
	a := newCounterAggregator(s)

	for i := 0; i < 3; i++ {
		if _, ok := a.Read(); ok {
			t.Fatal("expected absent after init failure")
		}
	}
	if s.calls != 1 {
		t.Errorf("sampler called %d times, want 1 (no retries after init failure)", s.calls)
	}
}

func TestCounterAggregatorNilSampler(t *testing.T) {
	a := newCounterAggregator(nil)
	if _, ok := a.Read(); ok {
		t.Fatal("expected absent with no platform sampler")
	}
}

func TestCounterAggregatorIgnoresLateInstances(t *testing.T) {
	prime := engines(engineSample{Instance: "pid_1_engtype_3D", Busy: 0})
	read := engines(
		engineSample{Instance: "pid_1_engtype_3D", Busy: 10},
		// Appeared after enumeration; not part of any group.
		engineSample{Instance: "pid_2_engtype_Compute", Busy: 90},
	)
	a := newCounterAggregator(&fakeSampler{sets: [][]engineSample{prime, read}})

	if got, _ := a.Read(); got != 10 {
		t.Errorf("got %v, want 10 (late instances are not re-enumerated)", got)
	}
}

// deltaSampler mimics the platform samplers: it carries per-instance
// delta state in a plain map and does no locking of its own, so the
// race detector flags any caller that fails to serialize Sample calls.
type deltaSampler struct {
	prev map[string]uint64
}

func (s *deltaSampler) Sample() ([]engineSample, error) {
	const name = "pid_1_engtype_3D"
	s.prev[name]++
	return engines(engineSample{Instance: name, Busy: 50}), nil
}

func TestCounterAggregatorSerializesSamplerAccess(t *testing.T) {
	a := newCounterAggregator(&deltaSampler{prev: make(map[string]uint64)})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if got, ok := a.Read(); !ok || got != 50 {
					t.Errorf("got (%v, %v), want (50, true)", got, ok)
				}
			}
		}()
	}
	wg.Wait()
}

func TestCounterAggregatorConcurrentReads(t *testing.T) {
	samples := engines(engineSample{Instance: "pid_1_engtype_3D", Busy: 50})
	a := newCounterAggregator(&fakeSampler{sets: [][]engineSample{samples}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, ok := a.Read(); !ok || got < 0 || got > 100 {
				t.Errorf("got (%v, %v), want a percentage", got, ok)
			}
		}()
	}
	wg.Wait()
}
