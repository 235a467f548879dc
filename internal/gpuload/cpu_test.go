package gpuload

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

func newTestCPUReader(samples []cpu.TimesStat) *CPUReader {
	i := 0
	return &CPUReader{
		times: func(percpu bool) ([]cpu.TimesStat, error) {
			s := samples[i]
			if i < len(samples)-1 {
				i++
			}
			return []cpu.TimesStat{s}, nil
		},
		percent: func(interval time.Duration, percpu bool) ([]float64, error) {
			return nil, errors.New("unused")
		},
	}
}

func TestCPUReaderDeltaMath(t *testing.T) {
	r := newTestCPUReader([]cpu.TimesStat{
		{User: 100, System: 50, Idle: 850},
		{User: 130, System: 60, Idle: 910}, // 40 busy out of 100 elapsed
	})

	if got := r.Read(); got != 0 {
		t.Fatalf("first read = %v, want 0 (baseline only)", got)
	}
	if got := r.Read(); math.Abs(got-40) > 1e-9 {
		t.Errorf("second read = %v, want 40", got)
	}
}

func TestCPUReaderNoElapsedTime(t *testing.T) {
	same := cpu.TimesStat{User: 100, Idle: 900}
	r := newTestCPUReader([]cpu.TimesStat{same, same})

	r.Read()
	if got := r.Read(); got != 0 {
		t.Errorf("got %v, want 0 with no elapsed time", got)
	}
}

func TestCPUReaderCountsIowaitAsIdle(t *testing.T) {
	r := newTestCPUReader([]cpu.TimesStat{
		{User: 100, Idle: 800, Iowait: 100},
		{User: 120, Idle: 850, Iowait: 130}, // 20 busy out of 100 elapsed
	})

	r.Read()
	if got := r.Read(); math.Abs(got-20) > 1e-9 {
		t.Errorf("got %v, want 20", got)
	}
}

func TestCPUReaderPerCoreFallback(t *testing.T) {
	r := &CPUReader{
		times: func(percpu bool) ([]cpu.TimesStat, error) {
			return nil, errors.New("not supported")
		},
		percent: func(interval time.Duration, percpu bool) ([]float64, error) {
			return []float64{20, 40, 60, 80}, nil
		},
	}

	if got := r.Read(); got != 50 {
		t.Errorf("got %v, want 50 (average of cores)", got)
	}
}

func TestCPUReaderEverythingFails(t *testing.T) {
	r := &CPUReader{
		times: func(percpu bool) ([]cpu.TimesStat, error) {
			return nil, errors.New("no")
		},
		percent: func(interval time.Duration, percpu bool) ([]float64, error) {
			return nil, errors.New("no")
		},
	}

	if got := r.Read(); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}
