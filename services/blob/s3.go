// Package blobsvc stores course materials in S3.
package blobsvc

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/course"
)

// S3Presigner hands out presigned upload URLs, so that clients upload materials straight to the bucket.
type S3Presigner struct {
	presigner *s3.PresignClient
	bucket    string
}

var _ course.Presigner = (*S3Presigner)(nil)

func NewS3Presigner(cfg aws.Config, bucket string) *S3Presigner {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// custom endpoints (LocalStack, MinIO) do not support virtual hosted buckets
		o.UsePathStyle = cfg.BaseEndpoint != nil
	})
	return &S3Presigner{presigner: s3.NewPresignClient(client), bucket: bucket}
}

func (p *S3Presigner) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := p.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.Wrap(err, "presigning s3 put")
	}
	return req.URL, nil
}
