// Package api exposes the read-only HTTP surface: per-domain discovery
// listings, coverage snapshots, health, and Prometheus metrics. Launching
// runs is an external front end's concern and has no endpoint here.
package api

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/muse-engine/internal/registry"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region server

const defaultListLimit = 200

// Server serves the registry read API.
type Server struct {
	store *registry.Store
	addr  string
}

// New creates a server over the given store.
func New(store *registry.Store, addr string) *Server {
	return &Server{store: store, addr: addr}
}

// #endregion

// #region start

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /coverage", s.handleCoverage)
	mux.HandleFunc("GET /registry/{domain}", s.handleRegistry)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[API] listening on %s", s.addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// #endregion

// #region handlers

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCoverage(w http.ResponseWriter, _ *http.Request) {
	snaps, err := s.store.CoverageAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

type discoveryResponse struct {
	Tier           taxonomy.Tier      `json:"tier"`
	Domain         taxonomy.Domain    `json:"domain"`
	Key            string             `json:"key"`
	Name           string             `json:"name"`
	FlaggedName    bool               `json:"flagged_name,omitempty"`
	DepthBreakdown map[string]float64 `json:"depth_breakdown"`
	DepthPct       float64            `json:"depth_pct"`
	Count          int64              `json:"count"`
	Good           bool               `json:"good"`
	FirstSeen      time.Time          `json:"first_seen"`
	LastSeen       time.Time          `json:"last_seen"`
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	domain := taxonomy.Domain(r.PathValue("domain"))
	if _, ok := taxonomy.TierOf(domain); !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown domain"))
		return
	}

	ds, err := s.store.List(domain, defaultListLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]discoveryResponse, len(ds))
	for i, d := range ds {
		out[i] = discoveryResponse{
			Tier:           d.Tier,
			Domain:         d.Domain,
			Key:            d.Key,
			Name:           d.Name,
			FlaggedName:    d.FlaggedName,
			DepthBreakdown: d.DepthBreakdown,
			DepthPct:       d.DepthPct,
			Count:          d.Count,
			Good:           d.Good,
			FirstSeen:      d.FirstSeen,
			LastSeen:       d.LastSeen,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// #endregion

// #region helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// #endregion
