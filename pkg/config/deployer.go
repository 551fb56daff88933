package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DeployerConfig holds one pipeline run's configuration. All identifying
// fields are required; the orchestrator refuses to start with partial input.
type DeployerConfig struct {
	RepoURL        string
	Ref            string
	ClusterName    string
	Region         string
	RegistryURI    string
	Repository     string
	Namespace      string
	RunID          int
	Replicas       int
	ContainerPort  int
	ServicePort    int
	HealthPath     string
	WorkspaceRoot  string
	DockerHost     string
	RolloutTimeout time.Duration
	RunTimeout     time.Duration
	MetricsAddr    string
}

// LoadDeployerConfig constructs a DeployerConfig from environment variables.
func LoadDeployerConfig() DeployerConfig {
	return DeployerConfig{
		RepoURL:        GetString("REPO_URL", ""),
		Ref:            GetString("GIT_REF", ""),
		ClusterName:    GetString("EKS_CLUSTER_NAME", ""),
		Region:         GetString("AWS_REGION", ""),
		RegistryURI:    GetString("ECR_REGISTRY_URI", ""),
		Repository:     GetString("ECR_REPOSITORY", ""),
		Namespace:      GetString("K8S_NAMESPACE", ""),
		RunID:          GetInt("BUILD_NUMBER", 0),
		Replicas:       GetInt("APP_REPLICAS", 2),
		ContainerPort:  GetInt("APP_PORT", 8080),
		ServicePort:    GetInt("SERVICE_PORT", 80),
		HealthPath:     GetString("HEALTH_PATH", "/healthz"),
		WorkspaceRoot:  GetString("DEPLOYER_WORKDIR", "/tmp/deployer"),
		DockerHost:     GetString("DOCKER_HOST", ""),
		RolloutTimeout: GetDuration("ROLLOUT_TIMEOUT_SECONDS", 5*time.Minute),
		RunTimeout:     GetDuration("RUN_TIMEOUT_SECONDS", 30*time.Minute),
		MetricsAddr:    GetString("METRICS_ADDR", ""),
	}
}

// identifierPattern covers names that are safe to hand to AWS, Kubernetes
// and image references without quoting.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// registryPattern additionally allows the host[:port] shape of a registry URI.
var registryPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*(:[0-9]+)?$`)

// Validate reports the first problem that would make the run ambiguous or
// unsafe. Empty required fields and shell-hostile characters are rejected
// before any stage starts.
func (c DeployerConfig) Validate() error {
	if strings.TrimSpace(c.RepoURL) == "" {
		return fmt.Errorf("repository url required")
	}
	if strings.ContainsAny(c.RepoURL, " \t\n'\"`$\\") {
		return fmt.Errorf("repository url contains unsafe characters")
	}
	required := []struct {
		name  string
		value string
	}{
		{"cluster name", c.ClusterName},
		{"region", c.Region},
		{"repository", c.Repository},
		{"namespace", c.Namespace},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s required", field.name)
		}
		if !identifierPattern.MatchString(field.value) {
			return fmt.Errorf("%s %q contains unsafe characters", field.name, field.value)
		}
	}
	if strings.TrimSpace(c.RegistryURI) == "" {
		return fmt.Errorf("registry uri required")
	}
	if !registryPattern.MatchString(c.RegistryURI) {
		return fmt.Errorf("registry uri %q contains unsafe characters", c.RegistryURI)
	}
	if c.RunID <= 0 {
		return fmt.Errorf("run id must be a positive build number")
	}
	if c.Replicas <= 0 {
		return fmt.Errorf("replicas must be positive")
	}
	if c.ContainerPort <= 0 || c.ContainerPort > 65535 {
		return fmt.Errorf("container port out of range")
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return fmt.Errorf("service port out of range")
	}
	return nil
}

// Image returns the fully qualified image reference for this run. The same
// reference is pushed to the registry and substituted into the workload, which
// is the binding contract between the build and deploy halves of the pipeline.
func (c DeployerConfig) Image() string {
	return fmt.Sprintf("%s/%s:%d", c.RegistryURI, c.Repository, c.RunID)
}
