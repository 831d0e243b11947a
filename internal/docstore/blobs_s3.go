package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Bucket    string `mapstructure:"bucket" json:"bucket"`
	Region    string `mapstructure:"region" json:"region,omitempty"`
	AccessKey string `mapstructure:"access_key" json:"-"`
	SecretKey string `mapstructure:"secret_key" json:"-"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Prefix    string `mapstructure:"prefix" json:"prefix,omitempty"`
}

// S3API is the subset of the S3 client used for blobs.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Blobs keeps content in a bucket under "<prefix>blobs/<hash>".
type S3Blobs struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Blobs(client S3API, bucket, prefix string) *S3Blobs {
	return &S3Blobs{client: client, bucket: bucket, prefix: prefix}
}

// NewS3BlobsFromConfig builds an S3 client with static credentials. A custom
// endpoint switches to path style addressing for MinIO and friends.
func NewS3BlobsFromConfig(ctx context.Context, cfg *S3Config) (*S3Blobs, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 60 * time.Second,
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Blobs(client, cfg.Bucket, cfg.Prefix), nil
}

func (b *S3Blobs) key(hash string) string {
	return b.prefix + "blobs/" + hash
}

func (b *S3Blobs) Put(ctx context.Context, hash string, size int64, r io.Reader) error {
	exists, err := b.Has(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(hash)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", hash, err)
	}
	return nil
}

func (b *S3Blobs) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(hash)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("get blob %s: %w", hash, err)
	}
	return resp.Body, nil
}

func (b *S3Blobs) Has(ctx context.Context, hash string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(hash)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("head blob %s: %w", hash, err)
}
