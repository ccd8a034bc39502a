package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"legisrag/config"
	"legisrag/internal/port"
)

// s3API is the subset of *s3.Client the cache uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Cache stores artifacts as objects in one S3 bucket. A cache bucket
// becomes a key prefix: <prefix>/<bucket>/<key>.
type S3Cache struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Cache builds a client from the default AWS credential chain.
func NewS3Cache(ctx context.Context, cfg config.S3Config) (*S3Cache, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("cache.s3.bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Cache(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Cache(client s3API, bucket, prefix string) *S3Cache {
	return &S3Cache{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (c *S3Cache) objectKey(bucket, key string) string {
	return strings.TrimPrefix(path.Join(c.prefix, bucket, key), "/")
}

func (c *S3Cache) Get(ctx context.Context, bucket, key string) (port.CacheResult, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(bucket, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return port.Miss(), nil
		}
		return port.Miss(), fmt.Errorf("s3 get %s: %w", c.URI(bucket, key), err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return port.Miss(), fmt.Errorf("s3 read %s: %w", c.URI(bucket, key), err)
	}
	return port.Hit(payload), nil
}

func (c *S3Cache) Put(ctx context.Context, bucket, key string, payload []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.objectKey(bucket, key)),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", c.URI(bucket, key), err)
	}
	return nil
}

func (c *S3Cache) Has(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(bucket, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head %s: %w", c.URI(bucket, key), err)
	}
	return true, nil
}

func (c *S3Cache) URI(bucket, key string) string {
	return "s3://" + c.bucket + "/" + c.objectKey(bucket, key)
}

func (c *S3Cache) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
