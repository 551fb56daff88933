// The sample application the deployer ships: a small HTTP service with the
// health endpoint the deployment manifests probe.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sainathislavath/flask-eks-cicd/pkg/config"
	"github.com/sainathislavath/flask-eks-cicd/pkg/logger"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "app_http_requests_total",
	Help: "HTTP requests served, labelled by path.",
}, []string{"path"})

func main() {
	log := logger.New("app", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))
	addr := ":" + config.GetString("PORT", "8080")
	greeting := config.GetString("APP_GREETING", "Hello from EKS!")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		requestsTotal.WithLabelValues("/").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"message": greeting})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		requestsTotal.WithLabelValues("/healthz").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("app server starting", "addr", addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("app server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
