package observer

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromSink exports scoring telemetry as prometheus metrics.
type PromSink struct {
	latency    *prometheus.HistogramVec
	selections *prometheus.CounterVec
	swaps      prometheus.Counter
}

// NewPromSink registers the metric set on reg.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	s := &PromSink{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kuroko",
			Name:      "score_latency_seconds",
			Help:      "Wall time spent scoring one transaction.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"kind"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kuroko",
			Name:      "selections_total",
			Help:      "Scoring transactions served, by kind.",
		}, []string{"kind"}),
		swaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kuroko",
			Name:      "model_swaps_total",
			Help:      "Accepted model replacements since start.",
		}),
	}
	reg.MustRegister(s.latency, s.selections, s.swaps)
	return s
}

// Observe implements Sink.
func (s *PromSink) Observe(ev ScoreEvent) {
	s.latency.WithLabelValues(ev.Kind).Observe(ev.Latency.Seconds())
	s.selections.WithLabelValues(ev.Kind).Inc()
}

// ModelSwapped records one accepted model replacement. Wire it to the
// registry's swap hook.
func (s *PromSink) ModelSwapped(string) {
	s.swaps.Inc()
}

// ServeMetrics exposes the prometheus scrape endpoint on addr until ctx ends.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
