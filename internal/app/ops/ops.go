// Package ops serves the operator endpoints: liveness, readiness, Prometheus
// metrics and a process status summary on an address separate from the
// public API.
package ops

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/httputil"
	"github.com/servimap/servimap/pkg/logger"
)

// Check probes one dependency. A nil error means ready.
type Check func(ctx context.Context) error

// Options configures the ops router.
type Options struct {
	// Checks run on every /readyz call, keyed by dependency name.
	Checks map[string]Check
	// Components lists lifecycle services for /status.
	Components func() []string
	// CheckTimeout bounds each readiness probe. Defaults to 2s.
	CheckTimeout time.Duration
	Version      string
}

type server struct {
	opts    Options
	log     *logger.Logger
	started time.Time
}

// NewRouter builds the ops handler.
func NewRouter(opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("ops")
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}
	s := &server{opts: opts, log: log, started: time.Now()}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *server) readyz(w http.ResponseWriter, r *http.Request) {
	out := readiness{Status: "ready", Checks: make(map[string]string, len(s.opts.Checks))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range s.opts.Checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), s.opts.CheckTimeout)
			defer cancel()
			result := "ok"
			if err := check(ctx); err != nil {
				result = err.Error()
				s.log.WithField("dependency", name).WithError(err).Warn("readiness check failed")
			}
			mu.Lock()
			defer mu.Unlock()
			out.Checks[name] = result
			if result != "ok" {
				out.Status = "unavailable"
			}
		}(name, check)
	}
	wg.Wait()

	code := http.StatusOK
	if out.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, out)
}

type statusReport struct {
	Version       string   `json:"version,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Goroutines    int      `json:"goroutines"`
	Components    []string `json:"components"`
	Process       struct {
		RSSBytes   uint64  `json:"rss_bytes"`
		CPUPercent float64 `json:"cpu_percent"`
	} `json:"process"`
	Host struct {
		TotalBytes  uint64  `json:"total_bytes"`
		UsedPercent float64 `json:"used_percent"`
	} `json:"host_memory"`
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	report := statusReport{
		Version:       s.opts.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Components:    []string{},
	}
	if s.opts.Components != nil {
		report.Components = append(report.Components, s.opts.Components()...)
		sort.Strings(report.Components)
	}

	// Host and process figures are best effort; some sandboxes hide /proc.
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		report.Host.TotalBytes = vm.Total
		report.Host.UsedPercent = vm.UsedPercent
	}
	if proc, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(r.Context()); err == nil {
			report.Process.RSSBytes = info.RSS
		}
		if cpu, err := proc.CPUPercentWithContext(r.Context()); err == nil {
			report.Process.CPUPercent = cpu
		}
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
