package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() DeployerConfig {
	return DeployerConfig{
		RepoURL:        "https://github.com/example/flask-app.git",
		Ref:            "main",
		ClusterName:    "flask-eks-cluster",
		Region:         "us-east-1",
		RegistryURI:    "123456789012.dkr.ecr.us-east-1.amazonaws.com",
		Repository:     "flask-app",
		Namespace:      "flask-eks",
		RunID:          42,
		Replicas:       2,
		ContainerPort:  8080,
		ServicePort:    80,
		HealthPath:     "/healthz",
		WorkspaceRoot:  "/tmp/deployer",
		RolloutTimeout: 5 * time.Minute,
		RunTimeout:     30 * time.Minute,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := map[string]func(*DeployerConfig){
		"repo url":   func(c *DeployerConfig) { c.RepoURL = "" },
		"cluster":    func(c *DeployerConfig) { c.ClusterName = "" },
		"region":     func(c *DeployerConfig) { c.Region = "  " },
		"registry":   func(c *DeployerConfig) { c.RegistryURI = "" },
		"repository": func(c *DeployerConfig) { c.Repository = "" },
		"namespace":  func(c *DeployerConfig) { c.Namespace = "" },
		"run id":     func(c *DeployerConfig) { c.RunID = 0 },
		"replicas":   func(c *DeployerConfig) { c.Replicas = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for missing %s", name)
			}
		})
	}
}

func TestValidateRejectsUnsafeCharacters(t *testing.T) {
	cases := map[string]func(*DeployerConfig){
		"namespace semicolon": func(c *DeployerConfig) { c.Namespace = "ns;rm -rf /" },
		"cluster space":       func(c *DeployerConfig) { c.ClusterName = "my cluster" },
		"repo url backtick":   func(c *DeployerConfig) { c.RepoURL = "https://x/`id`.git" },
		"registry dollar":     func(c *DeployerConfig) { c.RegistryURI = "$REG" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestImageReference(t *testing.T) {
	cfg := validConfig()
	image := cfg.Image()
	if image != "123456789012.dkr.ecr.us-east-1.amazonaws.com/flask-app:42" {
		t.Fatalf("unexpected image reference %q", image)
	}
	if !strings.HasSuffix(image, ":42") {
		t.Fatalf("image tag must be derived from the run id, got %q", image)
	}
}

func TestLoadDeployerConfigDefaults(t *testing.T) {
	t.Setenv("REPO_URL", "https://github.com/example/flask-app.git")
	t.Setenv("ROLLOUT_TIMEOUT_SECONDS", "120")

	cfg := LoadDeployerConfig()
	if cfg.RepoURL != "https://github.com/example/flask-app.git" {
		t.Fatalf("unexpected repo url %q", cfg.RepoURL)
	}
	if cfg.RolloutTimeout != 2*time.Minute {
		t.Fatalf("unexpected rollout timeout %v", cfg.RolloutTimeout)
	}
	if cfg.RunTimeout != 30*time.Minute {
		t.Fatalf("unexpected run timeout default %v", cfg.RunTimeout)
	}
	if cfg.ContainerPort != 8080 || cfg.ServicePort != 80 {
		t.Fatalf("unexpected port defaults %d/%d", cfg.ContainerPort, cfg.ServicePort)
	}
	if cfg.HealthPath != "/healthz" {
		t.Fatalf("unexpected health path %q", cfg.HealthPath)
	}
}
