package http

import (
	"net/http"
	"strings"
	"time"
)

type loadResponse struct {
	CPULoad   float64 `json:"cpuLoad"`
	GPULoad   float64 `json:"gpuLoad"`
	Timestamp int64   `json:"timestamp"`
}

func (s *Server) AddLoadRoutes() {
	s.r.Get("/api/load", func(w http.ResponseWriter, r *http.Request) {
		preferShm := parseBoolFlag(r.URL.Query().Get("shm"))
		writeJSON(w, loadResponse{
			CPULoad:   s.svc.ResolveCPU(),
			GPULoad:   s.svc.ResolveGPU(preferShm),
			Timestamp: time.Now().UnixMilli(),
		})
	})

	s.r.Get("/api/sensors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.svc.Dump())
	})
}

func parseBoolFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
