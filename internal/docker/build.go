package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
)

// OutputCallback is invoked with incremental daemon messages.
type OutputCallback func(string)

// BuildImage creates an image from the directory's Dockerfile and applies the
// given tag. Daemon progress lines are forwarded to onOutput.
func (c *Client) BuildImage(ctx context.Context, dir, tag string, onOutput OutputCallback) error {
	if c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if dir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	if err := decodeStream(resp.Body, onOutput); err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	return nil
}
