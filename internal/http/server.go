package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tomek7667/gpusense/internal/gpuload"
)

// LoadService is the resolver surface the server serves. One shared
// instance handles all requests.
type LoadService interface {
	ResolveGPU(preferSharedMemory bool) float64
	ResolveCPU() float64
	Dump() []gpuload.DeviceDump
}

type Server struct {
	port int
	svc  LoadService
	r    *chi.Mux
}

func New(port int, svc LoadService) *Server {
	s := &Server{
		r:    chi.NewRouter(),
		port: port,
		svc:  svc,
	}
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	// Widgets poll /api/load every second; keep it out of the log.
	s.r.Use(newRequestLogger("/api/load"))
	s.r.Use(middleware.Recoverer)
	s.r.Use(middleware.Timeout(60 * time.Second))
	s.r.Use(allowAllCORS)
	return s
}

func (s *Server) Serve() error {
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.port)
		fmt.Printf("listening on '%s'\n", addr)
		errCh <- http.ListenAndServe(addr, s.r)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-c:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(v)
}

// allowAllCORS lets browser widgets on other origins poll the API.
func allowAllCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
