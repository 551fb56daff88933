// Package deploy binds the pipeline's ten stages to their external
// collaborators: version control, the container build tool, the registry,
// and the cluster control-plane. Stage ordering, retries and finalization
// are owned by the pipeline runner; this package owns what each stage does.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"k8s.io/client-go/rest"

	"github.com/sainathislavath/flask-eks-cicd/internal/docker"
	"github.com/sainathislavath/flask-eks-cicd/internal/kube"
	"github.com/sainathislavath/flask-eks-cicd/internal/pipeline"
	"github.com/sainathislavath/flask-eks-cicd/internal/registry"
	"github.com/sainathislavath/flask-eks-cicd/pkg/config"
)

const (
	authRetryDelay = 5 * time.Second
	pushRetryDelay = 10 * time.Second
)

// CheckoutFunc materializes a working copy of repoURL at ref into dest.
type CheckoutFunc func(ctx context.Context, repoURL, ref, dest string) error

// Commands runs external tools inside the working copy.
type Commands interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// Images is the container build tool.
type Images interface {
	Ping(ctx context.Context) error
	BuildImage(ctx context.Context, dir, tag string, onOutput docker.OutputCallback) error
	PushImage(ctx context.Context, ref, encodedAuth string, onOutput docker.OutputCallback) error
}

// Registry issues short-lived credentials and answers tag existence probes.
type Registry interface {
	Authenticate(ctx context.Context) (registry.Credentials, error)
	ImageExists(ctx context.Context, repository, tag string) (bool, error)
}

// Clusters resolves access configuration for a named cluster.
type Clusters interface {
	RESTConfig(ctx context.Context, clusterName string) (*rest.Config, error)
}

// Workloads reconciles declarative resources and reads back status.
type Workloads interface {
	EnsureNamespace(ctx context.Context, name string) error
	ApplyDeployment(ctx context.Context, w kube.Workload) error
	ApplyService(ctx context.Context, w kube.Workload) error
	WaitForRollout(ctx context.Context, w kube.Workload, timeout time.Duration) (int32, error)
	ServiceAddress(ctx context.Context, namespace, name string) (string, error)
	Snapshot(ctx context.Context, namespace string) (kube.Snapshot, error)
}

// WorkloadFactory builds a Workloads client once cluster access is resolved.
type WorkloadFactory func(cfg *rest.Config) (Workloads, error)

// Workspaces owns the run's working directory.
type Workspaces interface {
	Prepare(runID int) (string, error)
	Cleanup(path string) error
}

// Collaborators are the external systems one run talks to.
type Collaborators struct {
	Source    CheckoutFunc
	Commands  Commands
	Images    Images
	Registry  Registry
	Clusters  Clusters
	Workloads WorkloadFactory
	Workspace Workspaces
	Metrics   *pipeline.Metrics
}

// Service executes deployment pipeline runs.
type Service struct {
	cfg    config.DeployerConfig
	logger *slog.Logger
	deps   Collaborators

	authDelay time.Duration
	pushDelay time.Duration
}

// New creates a deployment service for one configuration.
func New(cfg config.DeployerConfig, logger *slog.Logger, deps Collaborators) *Service {
	return &Service{
		cfg:       cfg,
		logger:    logger,
		deps:      deps,
		authDelay: authRetryDelay,
		pushDelay: pushRetryDelay,
	}
}

// Result summarizes one run for operators and callers.
type Result struct {
	RunID          int
	CorrelationID  string
	Stage          string
	Status         pipeline.Status
	Kind           pipeline.Kind
	Image          string
	ServiceAddress string
	ReadyReplicas  int32
	Err            error
}

// runState carries artifacts between stages. The image reference is written
// once at build time and read by push and apply, which keeps the pushed tag
// and the applied tag identical by construction.
type runState struct {
	workdir   string
	toolchain Toolchain
	image     string
	pushAuth  string
	workloads Workloads
	replicas  int32
	address   string
}

// Run drives one pipeline run to a terminal state. Configuration problems
// fail the run before any stage starts.
func (s *Service) Run(ctx context.Context) Result {
	correlationID := uuid.NewString()
	logger := s.logger.With("run_id", s.cfg.RunID, "correlation_id", correlationID)

	if err := s.cfg.Validate(); err != nil {
		stageErr := &pipeline.StageError{Stage: "configuration", Kind: pipeline.KindConfiguration, Err: err}
		logger.Error("configuration rejected", "error", err)
		return Result{
			RunID:         s.cfg.RunID,
			CorrelationID: correlationID,
			Stage:         "configuration",
			Status:        pipeline.StatusFailed,
			Kind:          pipeline.KindConfiguration,
			Err:           stageErr,
		}
	}

	state := &runState{image: s.cfg.Image()}
	logger.Info("pipeline run starting", "image", state.image,
		"cluster", s.cfg.ClusterName, "namespace", s.cfg.Namespace)

	runner := pipeline.NewRunner(s.stages(state, logger), logger, s.cfg.RunTimeout).
		WithFinalizer(s.finalizer(state, logger)).
		WithMetrics(s.deps.Metrics)
	outcome := runner.Run(ctx)

	result := Result{
		RunID:          s.cfg.RunID,
		CorrelationID:  correlationID,
		Stage:          outcome.Stage,
		Status:         outcome.Status,
		Kind:           pipeline.KindOf(outcome.Err),
		Image:          state.image,
		ServiceAddress: state.address,
		ReadyReplicas:  state.replicas,
		Err:            outcome.Err,
	}
	logger.Info("pipeline run finished", "stage", result.Stage, "status", string(result.Status),
		"ready_replicas", result.ReadyReplicas, "service_address", result.ServiceAddress)
	return result
}

func (s *Service) workload(state *runState) kube.Workload {
	return kube.Workload{
		Namespace:     s.cfg.Namespace,
		Name:          s.cfg.Repository,
		Image:         state.image,
		Replicas:      int32(s.cfg.Replicas),
		ContainerPort: int32(s.cfg.ContainerPort),
		ServicePort:   int32(s.cfg.ServicePort),
		HealthPath:    s.cfg.HealthPath,
	}
}

func (s *Service) stages(state *runState, logger *slog.Logger) []pipeline.Stage {
	return []pipeline.Stage{
		{
			Name: "checkout",
			Kind: pipeline.KindSourceUnavailable,
			Run: func(ctx context.Context) error {
				dir, err := s.deps.Workspace.Prepare(s.cfg.RunID)
				if err != nil {
					return fmt.Errorf("prepare workspace: %w", err)
				}
				state.workdir = dir
				return s.deps.Source(ctx, s.cfg.RepoURL, s.cfg.Ref, dir)
			},
		},
		{
			Name: "dependency-setup",
			Kind: pipeline.KindDependencyResolution,
			Run: func(ctx context.Context) error {
				state.toolchain = detectToolchain(state.workdir)
				logger.Info("toolchain detected", "toolchain", state.toolchain.Name)
				if len(state.toolchain.Install) == 0 {
					logger.Info("no host-side dependency install for toolchain", "toolchain", state.toolchain.Name)
					return nil
				}
				_, err := s.deps.Commands.Run(ctx, state.workdir,
					state.toolchain.Install[0], state.toolchain.Install[1:]...)
				return err
			},
		},
		{
			Name: "validate",
			Kind: pipeline.KindValidation,
			Run: func(ctx context.Context) error {
				if len(state.toolchain.Check) == 0 {
					logger.Info("no static check for toolchain", "toolchain", state.toolchain.Name)
					return nil
				}
				_, err := s.deps.Commands.Run(ctx, state.workdir,
					state.toolchain.Check[0], state.toolchain.Check[1:]...)
				return err
			},
		},
		{
			Name: "build-image",
			Kind: pipeline.KindBuild,
			Run: func(ctx context.Context) error {
				if err := s.deps.Images.Ping(ctx); err != nil {
					return err
				}
				return s.deps.Images.BuildImage(ctx, state.workdir, state.image, func(line string) {
					logger.Debug("build output", "line", line)
				})
			},
		},
		{
			Name:       "registry-auth",
			Kind:       pipeline.KindAuthentication,
			Retries:    1,
			RetryDelay: s.authDelay,
			Run: func(ctx context.Context) error {
				creds, err := s.deps.Registry.Authenticate(ctx)
				if err != nil {
					return err
				}
				auth, err := docker.EncodeAuth(creds.Username, creds.Password, creds.Endpoint)
				if err != nil {
					return err
				}
				state.pushAuth = auth
				return nil
			},
		},
		{
			Name:       "push",
			Kind:       pipeline.KindPush,
			Retries:    2,
			RetryDelay: s.pushDelay,
			Run: func(ctx context.Context) error {
				err := s.deps.Images.PushImage(ctx, state.image, state.pushAuth, func(line string) {
					logger.Debug("push output", "line", line)
				})
				if err != nil {
					return err
				}
				exists, err := s.deps.Registry.ImageExists(ctx, s.cfg.Repository, strconv.Itoa(s.cfg.RunID))
				if err != nil {
					return fmt.Errorf("confirm pushed tag: %w", err)
				}
				if !exists {
					return fmt.Errorf("pushed tag %d not visible in repository %s", s.cfg.RunID, s.cfg.Repository)
				}
				return nil
			},
		},
		{
			Name: "cluster-configure",
			Kind: pipeline.KindClusterUnreachable,
			Run: func(ctx context.Context) error {
				restCfg, err := s.deps.Clusters.RESTConfig(ctx, s.cfg.ClusterName)
				if err != nil {
					return err
				}
				workloads, err := s.deps.Workloads(restCfg)
				if err != nil {
					return err
				}
				state.workloads = workloads
				return nil
			},
		},
		{
			Name: "apply",
			Kind: pipeline.KindApply,
			Run: func(ctx context.Context) error {
				w := s.workload(state)
				if err := state.workloads.EnsureNamespace(ctx, w.Namespace); err != nil {
					return err
				}
				if err := state.workloads.ApplyDeployment(ctx, w); err != nil {
					return err
				}
				return state.workloads.ApplyService(ctx, w)
			},
		},
		{
			Name: "rollout-wait",
			Kind: pipeline.KindRolloutTimeout,
			Run: func(ctx context.Context) error {
				replicas, err := state.workloads.WaitForRollout(ctx, s.workload(state), s.cfg.RolloutTimeout)
				state.replicas = replicas
				return err
			},
		},
		{
			Name:       "verify",
			Kind:       pipeline.KindApply,
			BestEffort: true,
			Run: func(ctx context.Context) error {
				address, err := state.workloads.ServiceAddress(ctx, s.cfg.Namespace, s.cfg.Repository)
				if err != nil {
					return err
				}
				state.address = address
				return nil
			},
		},
	}
}

// finalizer collects namespace diagnostics and releases the workspace. Both
// halves are best-effort and run on every outcome.
func (s *Service) finalizer(state *runState, logger *slog.Logger) pipeline.Finalizer {
	return func(ctx context.Context, outcome pipeline.Outcome) {
		if state.workloads != nil {
			snap, err := state.workloads.Snapshot(ctx, s.cfg.Namespace)
			if err != nil {
				logger.Warn("diagnostics collection failed", "error", err)
			} else {
				logger.Info("namespace diagnostics",
					"deployments", snap.Deployments, "services", snap.Services, "pods", len(snap.Pods))
				for pod, excerpt := range snap.Logs {
					logger.Debug("pod log excerpt", "pod", pod, "logs", excerpt)
				}
			}
		}
		if state.workdir != "" {
			if err := s.deps.Workspace.Cleanup(state.workdir); err != nil {
				logger.Warn("workspace cleanup failed", "workdir", state.workdir, "error", err)
			}
		}
	}
}
