package campaign

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/wasmdiff/internal/supervisor"
)

// Metrics are the campaign's Prometheus collectors, on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Steps          prometheus.Counter
	MemorySteps    prometheus.Counter
	Runs           *prometheus.CounterVec
	RunSeconds     *prometheus.HistogramVec
	Comparisons    *prometheus.CounterVec
	DivergentCalls prometheus.Counter
	Desyncs        prometheus.Counter
	Flushes        prometheus.Counter
}

// NewMetrics registers the campaign collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Steps: f.NewCounter(prometheus.CounterOpts{
			Name: "wasmdiff_steps_total",
			Help: "Modules generated.",
		}),
		MemorySteps: f.NewCounter(prometheus.CounterOpts{
			Name: "wasmdiff_memory_steps_total",
			Help: "Inner steps run against both engines.",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wasmdiff_runs_total",
			Help: "Engine runner invocations by engine and outcome.",
		}, []string{"engine", "outcome"}),
		RunSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wasmdiff_run_seconds",
			Help:    "Wall-clock time of engine runner invocations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"engine"}),
		Comparisons: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wasmdiff_comparisons_total",
			Help: "Trace comparisons by terminal state.",
		}, []string{"state"}),
		DivergentCalls: f.NewCounter(prometheus.CounterOpts{
			Name: "wasmdiff_divergent_calls_total",
			Help: "Aligned calls on which the engines disagreed.",
		}),
		Desyncs: f.NewCounter(prometheus.CounterOpts{
			Name: "wasmdiff_desyncs_total",
			Help: "Aligned positions whose records named different functions.",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Name: "wasmdiff_store_flushes_total",
			Help: "Store batch commits.",
		}),
	}
}

// outcomeLabel buckets an outcome into a low-cardinality label.
func outcomeLabel(o supervisor.Outcome) string {
	switch {
	case o.Interrupted:
		return "interrupted"
	case o.Timeout:
		return "timeout"
	case o.Signal != 0:
		return "signal"
	case o.Success:
		return "ok"
	default:
		return "failed"
	}
}

func (m *Metrics) observeRun(engine string, o supervisor.Outcome) {
	m.Runs.WithLabelValues(engine, outcomeLabel(o)).Inc()
	m.RunSeconds.WithLabelValues(engine).Observe(o.Elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ServeMetrics serves /metrics on addr until ctx ends.
func ServeMetrics(ctx context.Context, addr string, m *Metrics, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
