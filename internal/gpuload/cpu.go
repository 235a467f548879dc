package gpuload

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUReader derives total CPU usage from deltas between successive
// cumulative time samples. The first call only establishes the baseline
// and reads as 0. No fusion or smoothing here.
type CPUReader struct {
	mu        sync.Mutex
	prevTotal float64
	prevIdle  float64
	havePrev  bool

	times   func(percpu bool) ([]cpu.TimesStat, error)
	percent func(interval time.Duration, percpu bool) ([]float64, error)
}

func NewCPUReader() *CPUReader {
	return &CPUReader{
		times:   cpu.Times,
		percent: cpu.Percent,
	}
}

func (c *CPUReader) Read() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	times, err := c.times(false)
	if err != nil || len(times) == 0 {
		return c.perCoreAverage()
	}

	t := times[0]
	total := cpuTimesTotal(t)
	idle := t.Idle + t.Iowait

	if !c.havePrev {
		c.prevTotal = total
		c.prevIdle = idle
		c.havePrev = true
		return 0
	}

	totalDelta := total - c.prevTotal
	idleDelta := idle - c.prevIdle

	c.prevTotal = total
	c.prevIdle = idle

	if totalDelta <= 0 {
		return 0
	}
	return clampPercent((totalDelta - idleDelta) / totalDelta * 100)
}

func (c *CPUReader) perCoreAverage() float64 {
	percents, err := c.percent(0, true)
	if err != nil || len(percents) == 0 {
		return 0
	}
	var sum float64
	for _, p := range percents {
		sum += p
	}
	return clampPercent(sum / float64(len(percents)))
}

func cpuTimesTotal(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq +
		t.Softirq + t.Steal + t.Guest + t.GuestNice
}
