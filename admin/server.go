// Package admin exposes the process status surface: health, the registered
// subscriptions, and Prometheus metrics.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/contentwire/contentwire/cfg"
	"github.com/contentwire/contentwire/emitter"
	"github.com/contentwire/contentwire/telemetry"
)

// Handlers serves the admin API.
type Handlers struct {
	coordinator *emitter.Coordinator
	started     time.Time
}

// NewHandlers creates admin handlers over the running coordinator.
func NewHandlers(coordinator *emitter.Coordinator) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		started:     time.Now(),
	}
}

// Router builds the admin route tree.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.handleHealth)
	r.Get("/subscriptions", h.handleSubscriptions)

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"node_id":        cfg.Config.NodeID,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

func (h *Handlers) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	type subscriptionView struct {
		Model    string   `json:"model"`
		Singular string   `json:"singular"`
		Actions  []string `json:"actions"`
		Populate bool     `json:"populate"`
	}

	subs := h.coordinator.Subscriptions()
	out := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		actions := make([]string, 0, len(sub.Actions))
		for a := range sub.Actions {
			actions = append(actions, string(a))
		}
		out = append(out, subscriptionView{
			Model:    sub.Model.UID,
			Singular: sub.Model.Singular,
			Actions:  actions,
			Populate: !sub.Populate.IsNone(),
		})
	}

	writeJSON(w, map[string]any{"subscriptions": out})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode admin response")
	}
}

// Serve starts the admin HTTP listener in a background goroutine.
func Serve(handlers *Handlers) {
	addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)

	go func() {
		log.Info().Str("address", addr).Msg("Admin API listening")
		if err := http.ListenAndServe(addr, handlers.Router()); err != nil {
			log.Error().Err(err).Msg("Admin API server stopped")
		}
	}()
}
