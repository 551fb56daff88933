package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/rest"

	"github.com/sainathislavath/flask-eks-cicd/internal/cluster"
	"github.com/sainathislavath/flask-eks-cicd/internal/command"
	"github.com/sainathislavath/flask-eks-cicd/internal/deploy"
	"github.com/sainathislavath/flask-eks-cicd/internal/docker"
	"github.com/sainathislavath/flask-eks-cicd/internal/git"
	"github.com/sainathislavath/flask-eks-cicd/internal/kube"
	"github.com/sainathislavath/flask-eks-cicd/internal/pipeline"
	"github.com/sainathislavath/flask-eks-cicd/internal/registry"
	"github.com/sainathislavath/flask-eks-cicd/internal/workspace"
	"github.com/sainathislavath/flask-eks-cicd/pkg/config"
	"github.com/sainathislavath/flask-eks-cicd/pkg/logger"
)

func main() {
	cfg := config.LoadDeployerConfig()
	log := logger.New("deployer", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()

	ecrClient, err := registry.New(ctx, cfg.Region, log)
	if err != nil {
		log.Error("failed to create registry client", "error", err)
		os.Exit(1)
	}

	eksProvider, err := cluster.New(ctx, cfg.Region, log)
	if err != nil {
		log.Error("failed to create cluster provider", "error", err)
		os.Exit(1)
	}

	workspaceManager, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		log.Error("workspace init failed", "error", err, "root", cfg.WorkspaceRoot)
		os.Exit(1)
	}

	metrics := pipeline.NewMetrics(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go serveMetrics(log, cfg.MetricsAddr)
	}

	svc := deploy.New(cfg, log, deploy.Collaborators{
		Source:   git.Checkout,
		Commands: command.NewRunner(log),
		Images:   dockerClient,
		Registry: ecrClient,
		Clusters: eksProvider,
		Workloads: func(restCfg *rest.Config) (deploy.Workloads, error) {
			return kube.NewManager(restCfg, log)
		},
		Workspace: workspaceManager,
		Metrics:   metrics,
	})

	result := svc.Run(ctx)
	if result.Err != nil {
		log.Error("deployment failed",
			"stage", result.Stage, "kind", string(result.Kind), "error", result.Err)
		os.Exit(1)
	}
	log.Info("deployment succeeded",
		"image", result.Image,
		"ready_replicas", result.ReadyReplicas,
		"service_address", result.ServiceAddress)
}

// serveMetrics exposes the Prometheus endpoint for scrape-during-run setups.
// The deployer exits when the run finishes, so no graceful shutdown is wired.
func serveMetrics(log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server error", "error", err)
	}
}
