package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// RegisterHTTP mounts the status routes on r:
//
//	GET  /health   liveness and run status
//	GET  /status   full Status snapshot
//	POST /stop     request a stop (202)
//	GET  /alerts   recent emergency alerts (journal required)
//	GET  /events   recent monitor events, ?kind=&limit= (journal required)
func (m *Monitor) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		st := m.Status()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "monitor": st.Status, "running": st.Running})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Status())
	})

	r.Post("/stop", func(w http.ResponseWriter, _ *http.Request) {
		if !m.Running() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "not running"})
			return
		}
		m.Stop()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	})

	r.Get("/alerts", func(w http.ResponseWriter, r *http.Request) {
		if m.journal == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
			return
		}
		alerts, err := m.journal.RecentAlerts(r.Context(), queryInt(r, "limit", 20))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		if m.journal == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
			return
		}
		events, err := m.journal.RecentEvents(r.Context(), r.URL.Query().Get("kind"), queryInt(r, "limit", 50))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, events)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
