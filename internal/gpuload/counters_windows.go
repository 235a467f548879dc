//go:build windows

package gpuload

import "github.com/yusufpapurcu/wmi"

const gpuEngineQuery = "SELECT Name, UtilizationPercentage, Timestamp_Sys100NS " +
	"FROM Win32_PerfRawData_GPUPerformanceCounters_GPUEngine"

type win32PerfRawGPUEngine struct {
	Name                  string
	UtilizationPercentage uint64
	Timestamp_Sys100NS    uint64
}

// wmiEngineSampler reads the raw "GPU Engine" performance counter class.
// Utilization is a 100ns-timer counter: percent busy is the running-time
// delta over the timestamp delta, so the first sample of every instance
// only establishes a baseline and reads as 0.
type wmiEngineSampler struct {
	prev map[string]win32PerfRawGPUEngine
}

func newEngineSampler() engineSampler {
	return &wmiEngineSampler{prev: make(map[string]win32PerfRawGPUEngine)}
}

func (s *wmiEngineSampler) Sample() ([]engineSample, error) {
	var rows []win32PerfRawGPUEngine
	if err := wmi.Query(gpuEngineQuery, &rows); err != nil {
		return nil, err
	}
	samples := make([]engineSample, 0, len(rows))
	for _, row := range rows {
		var busy float64
		if prev, ok := s.prev[row.Name]; ok &&
			row.Timestamp_Sys100NS > prev.Timestamp_Sys100NS &&
			row.UtilizationPercentage >= prev.UtilizationPercentage {
			busy = float64(row.UtilizationPercentage-prev.UtilizationPercentage) /
				float64(row.Timestamp_Sys100NS-prev.Timestamp_Sys100NS) * 100
		}
		s.prev[row.Name] = row
		samples = append(samples, engineSample{Instance: row.Name, Busy: clampPercent(busy)})
	}
	return samples, nil
}
