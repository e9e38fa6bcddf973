package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/metrics"
	"github.com/parapetdev/parapet/internal/readapi"
)

var opsShutdownTimeout = 5 * time.Second

// startOpsServer serves the operational surface: prometheus metrics, a
// liveness probe and a JSON status summary off the read adapter.
func startOpsServer(ctx context.Context, addr string, api *readapi.API) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		queue, err := api.ScanQueue(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Status scan queue query failed")
		}
		status := map[string]any{
			"version":   Version,
			"scheduler": api.SchedulerSnapshot(),
			"scanQueue": len(queue),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Warn().Err(err).Msg("Status encoding failed")
		}
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Failed to shut down ops server cleanly")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Ops endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Ops server stopped unexpectedly")
		}
	}()
}
