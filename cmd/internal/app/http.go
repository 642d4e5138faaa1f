package app

import (
	"encoding/json"
	"net/http"
	"time"

	"slate/cmd/internal/bridge"
	"slate/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	ws *realtime.WSGateway,
	br *bridge.Bridge,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.HandleFunc("/statusz", func(w http.ResponseWriter, _ *http.Request) {
		resp := struct {
			Bridge string `json:"bridge"`
			Detail any    `json:"detail,omitempty"`
		}{Bridge: "off"}

		if br != nil {
			st := br.Health()
			resp.Bridge = st.State.String()
			resp.Detail = struct {
				Attempt int    `json:"attempt,omitempty"`
				Since   string `json:"since,omitempty"`
				Reason  string `json:"reason,omitempty"`
			}{
				Attempt: st.Attempt,
				Since:   formatSince(st.Since),
				Reason:  st.Reason,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/ws", ws.HandleWS)
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
