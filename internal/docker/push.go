package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
)

// EncodeAuth builds the X-Registry-Auth header value for a push against the
// given registry endpoint.
func EncodeAuth(username, password, serverAddress string) (string, error) {
	payload, err := json.Marshal(registry.AuthConfig{
		Username:      username,
		Password:      password,
		ServerAddress: serverAddress,
	})
	if err != nil {
		return "", fmt.Errorf("encode registry auth: %w", err)
	}
	return base64.URLEncoding.EncodeToString(payload), nil
}

// PushImage uploads the tagged image to its registry. Pushing a tag whose
// layers already exist is a no-op on the registry side; the daemon reports
// "Layer already exists" and the push still succeeds.
func (c *Client) PushImage(ctx context.Context, ref, encodedAuth string, onOutput OutputCallback) error {
	if c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if ref == "" {
		return fmt.Errorf("image reference cannot be empty")
	}
	resp, err := c.inner.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encodedAuth})
	if err != nil {
		return fmt.Errorf("docker image push: %w", err)
	}
	defer resp.Close()

	if err := decodeStream(resp, onOutput); err != nil {
		return fmt.Errorf("docker image push: %w", err)
	}
	return nil
}
