// Package cluster resolves access configuration for the target EKS cluster:
// endpoint and certificate authority from DescribeCluster, plus a presigned
// STS bearer token in the k8s-aws-v1 scheme expected by the aws-iam
// authenticator running in the cluster.
package cluster

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"k8s.io/client-go/rest"
)

const (
	tokenPrefix     = "k8s-aws-v1."
	clusterIDHeader = "x-k8s-aws-id"
)

// EKSAPI is the subset of the EKS client the pipeline uses.
type EKSAPI interface {
	DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
}

// Presigner produces presigned STS GetCallerIdentity requests.
type Presigner interface {
	PresignGetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Provider builds client-go REST configurations for named EKS clusters.
type Provider struct {
	eks       EKSAPI
	presigner Presigner
	logger    *slog.Logger
}

// New creates a Provider for the given region using the default AWS
// credential chain.
func New(ctx context.Context, region string, logger *slog.Logger) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Provider{
		eks:       eks.NewFromConfig(cfg),
		presigner: sts.NewPresignClient(sts.NewFromConfig(cfg)),
		logger:    logger,
	}, nil
}

// NewWithAPIs creates a Provider over pre-built APIs, used by tests.
func NewWithAPIs(eksAPI EKSAPI, presigner Presigner, logger *slog.Logger) *Provider {
	return &Provider{eks: eksAPI, presigner: presigner, logger: logger}
}

// RESTConfig resolves the named cluster's endpoint, certificate authority and
// a short-lived bearer token into a client-go configuration.
func (p *Provider) RESTConfig(ctx context.Context, clusterName string) (*rest.Config, error) {
	out, err := p.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(clusterName)})
	if err != nil {
		return nil, fmt.Errorf("describe cluster %s: %w", clusterName, err)
	}
	clusterInfo := out.Cluster
	if clusterInfo == nil {
		return nil, fmt.Errorf("describe cluster %s returned no cluster", clusterName)
	}
	if clusterInfo.Status != ekstypes.ClusterStatusActive {
		return nil, fmt.Errorf("cluster %s is %s, not active", clusterName, clusterInfo.Status)
	}
	if clusterInfo.Endpoint == nil || clusterInfo.CertificateAuthority == nil || clusterInfo.CertificateAuthority.Data == nil {
		return nil, fmt.Errorf("cluster %s is missing endpoint or certificate authority", clusterName)
	}

	caData, err := base64.StdEncoding.DecodeString(aws.ToString(clusterInfo.CertificateAuthority.Data))
	if err != nil {
		return nil, fmt.Errorf("decode certificate authority: %w", err)
	}

	token, err := p.bearerToken(ctx, clusterName)
	if err != nil {
		return nil, fmt.Errorf("obtain bearer token: %w", err)
	}

	p.logger.Info("cluster access configured",
		"cluster", clusterName, "endpoint", aws.ToString(clusterInfo.Endpoint))

	return &rest.Config{
		Host:            aws.ToString(clusterInfo.Endpoint),
		BearerToken:     token,
		TLSClientConfig: rest.TLSClientConfig{CAData: caData},
	}, nil
}

// bearerToken presigns an STS GetCallerIdentity request carrying the cluster
// id header and wraps the URL in the k8s-aws-v1 token scheme.
func (p *Provider) bearerToken(ctx context.Context, clusterName string) (string, error) {
	presigned, err := p.presigner.PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{},
		func(opts *sts.PresignOptions) {
			opts.ClientOptions = append(opts.ClientOptions, func(o *sts.Options) {
				o.APIOptions = append(o.APIOptions,
					smithyhttp.SetHeaderValue(clusterIDHeader, clusterName))
			})
		})
	if err != nil {
		return "", fmt.Errorf("presign caller identity: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(presigned.URL)), nil
}
