// Package websocket serves the HTTP status surface: lobby directory, live lobby feed,
// recent match results, worker table, metrics and health.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"arcade/server/internal/db"
	"arcade/server/internal/logger"
	"arcade/server/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

type Routes struct {
	Hub      *Hub
	Results  db.ResultReader
	Launcher worker.Launcher
}

func RegisterRoutes(mux *http.ServeMux, rt Routes) {
	mux.HandleFunc("/ws/lobbies", rt.Hub.ServeWS)
	mux.HandleFunc("/api/lobbies", rt.lobbies)
	mux.HandleFunc("/api/matches", rt.matches)
	mux.HandleFunc("/api/workers", rt.workers)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// Serve runs the status server on addr until ctx is done.
func Serve(ctx context.Context, addr string, rt Routes) error {
	mux := http.NewServeMux()
	RegisterRoutes(mux, rt)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.L.Info("status server running", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Debug("write json", zap.Error(err))
	}
}

func (rt Routes) lobbies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, rt.Hub.Latest())
}

func (rt Routes) matches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.Results == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no match store configured"})
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxRecentLimit)
	}

	results, err := rt.Results.Recent(r.Context(), limit)
	if err != nil {
		logger.L.Error("recent matches", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (rt Routes) workers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.Launcher == nil {
		writeJSON(w, http.StatusOK, []worker.ChildInfo{})
		return
	}
	writeJSON(w, http.StatusOK, rt.Launcher.Active())
}
