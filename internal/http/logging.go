package http

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// newRequestLogger logs requests except for the given paths. The load
// endpoint is polled once a second per dashboard, which would bury
// everything else in the log.
func newRequestLogger(ignoredPaths ...string) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(newSelectiveLogFormatter(ignoredPaths...))
}

func newSelectiveLogFormatter(ignoredPaths ...string) *selectiveLogFormatter {
	ignored := make(map[string]struct{}, len(ignoredPaths))
	for _, p := range ignoredPaths {
		ignored[p] = struct{}{}
	}
	return &selectiveLogFormatter{
		ignoredPaths: ignored,
		base: &middleware.DefaultLogFormatter{
			Logger:  log.New(os.Stdout, "gpusense ", log.LstdFlags),
			NoColor: false,
		},
	}
}

type selectiveLogFormatter struct {
	ignoredPaths map[string]struct{}
	base         middleware.LogFormatter
}

func (f *selectiveLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	if _, ok := f.ignoredPaths[r.URL.Path]; ok {
		return noopLogEntry{}
	}
	return f.base.NewLogEntry(r)
}

type noopLogEntry struct{}

func (noopLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
}

func (noopLogEntry) Panic(v interface{}, stack []byte) {}
