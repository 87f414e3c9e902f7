package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Server serves the observability endpoints. Local-only by default; the
// address comes from METRICS_ADDR.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP surface over the given registry.
func NewServer(addr string, r *Registry) *Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/metrics/summary", r.handleSummary).Methods(http.MethodGet)

	return &Server{srv: &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", s.srv.Addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSummary flattens counter and gauge values into a plain JSON map, a
// cheaper read than the full exposition format.
func (r *Registry) handleSummary(w http.ResponseWriter, _ *http.Request) {
	families, err := r.reg.Gather()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	summary := make(map[string]float64, len(families))
	for _, fam := range families {
		var total float64
		for _, m := range fam.GetMetric() {
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				total += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += m.GetGauge().GetValue()
			default:
			}
		}
		summary[fam.GetName()] = total
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}
