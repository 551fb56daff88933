// Package registry obtains short-lived ECR credentials and answers image
// existence probes. Tokens expire after twelve hours, so every pipeline run
// authenticates afresh.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

// ECRAPI is the subset of the ECR client the pipeline uses.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
}

// Credentials is a decoded short-lived registry login.
type Credentials struct {
	Username string
	Password string
	Endpoint string
}

// Client wraps ECR operations with structured logging.
type Client struct {
	api    ECRAPI
	logger *slog.Logger
}

// New creates an ECR client for the given region using the default AWS
// credential chain.
func New(ctx context.Context, region string, logger *slog.Logger) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{api: ecr.NewFromConfig(cfg), logger: logger}, nil
}

// NewWithAPI creates a client over a pre-built API, used by tests.
func NewWithAPI(api ECRAPI, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// Authenticate obtains and decodes a registry authorization token.
func (c *Client) Authenticate(ctx context.Context) (Credentials, error) {
	out, err := c.api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credentials{}, fmt.Errorf("get authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Credentials{}, fmt.Errorf("authorization response contained no data")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return Credentials{}, fmt.Errorf("decode authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, fmt.Errorf("authorization token is not a user:password pair")
	}

	endpoint := strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://")
	c.logger.Info("registry authentication obtained", "endpoint", endpoint,
		"expires_at", aws.ToTime(data.ExpiresAt))

	return Credentials{Username: username, Password: password, Endpoint: endpoint}, nil
}

// ImageExists reports whether the repository holds an image with the tag.
func (c *Client) ImageExists(ctx context.Context, repository, tag string) (bool, error) {
	_, err := c.api.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repository),
		ImageIds:       []types.ImageIdentifier{{ImageTag: aws.String(tag)}},
	})
	if err != nil {
		var notFound *types.ImageNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("describe images: %w", err)
	}
	return true, nil
}
