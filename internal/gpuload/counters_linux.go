//go:build linux

package gpuload

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// drmEngineSampler exposes each DRM card's gpu_busy_percent as one 3D
// engine instance, mirroring how amdgpu reports overall graphics load.
type drmEngineSampler struct{}

func newEngineSampler() engineSampler {
	return drmEngineSampler{}
}

func (drmEngineSampler) Sample() ([]engineSample, error) {
	paths, err := filepath.Glob("/sys/class/drm/card[0-9]*/device/gpu_busy_percent")
	if err != nil {
		return nil, err
	}
	samples := make([]engineSample, 0, len(paths))
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
		if err != nil {
			continue
		}
		card := filepath.Base(filepath.Dir(filepath.Dir(path)))
		samples = append(samples, engineSample{
			Instance: card + "_engtype_3D",
			Busy:     clampPercent(v),
		})
	}
	if len(samples) == 0 {
		return nil, errors.New("no drm gpu_busy_percent data")
	}
	return samples, nil
}
