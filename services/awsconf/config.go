// Package awsconf loads the AWS SDK configuration shared by the AWS backed services.
package awsconf

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

// Load loads the default AWS config (env, shared files, instance role) for the configured region.
// A custom endpoint, LocalStack for instance, overrides the endpoint of every client.
func Load(ctx context.Context, conf core.AWSConfig) (aws.Config, error) {
	opts := make([]func(*config.LoadOptions) error, 0, 1)
	if conf.Region != "" {
		opts = append(opts, config.WithRegion(conf.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "loading aws config")
	}
	if conf.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(conf.Endpoint)
	}
	return cfg, nil
}
