package fetchers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// S3 authentication modes.
const (
	S3AuthDefault = "default" // environment, shared config or instance role
	S3AuthStatic  = "static"  // access key and secret
	S3AuthRole    = "role"    // STS assume role on top of the default chain
)

// S3Config contains configuration for S3 fetcher.
type S3Config struct {
	// Bucket, when set, is the only bucket Fetch reads from.
	Bucket     string
	Region     string
	Endpoint   string // Custom endpoint for S3-compatible services
	AuthType   string
	AccessKey  string
	SecretKey  string
	RoleARN    string
	ExternalID string
}

// S3Fetcher reads batch documents from S3 or an S3-compatible store.
type S3Fetcher struct {
	client *s3.Client
	bucket string
}

// NewS3Fetcher creates a new S3 fetcher.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	var awsOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		awsOpts = append(awsOpts, config.WithRegion(cfg.Region))
	}

	switch cfg.AuthType {
	case S3AuthStatic:
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("s3 static auth requires access key and secret key")
		}
		awsOpts = append(awsOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	case S3AuthRole:
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("s3 role auth requires a role ARN")
		}
		baseCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		stsClient := sts.NewFromConfig(baseCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsOpts = append(awsOpts, config.WithCredentialsProvider(aws.NewCredentialsCache(creds)))
	case S3AuthDefault, "":
	default:
		return nil, fmt.Errorf("unknown s3 auth type: %s", cfg.AuthType)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return &S3Fetcher{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Fetch downloads the object at "bucket/key".
func (f *S3Fetcher) Fetch(ctx context.Context, location string, maxBytes int64) ([]byte, error) {
	bucket, key, err := splitS3Location(location)
	if err != nil {
		return nil, err
	}
	if f.bucket != "" && bucket != f.bucket {
		return nil, fmt.Errorf("%w: bucket %s is not allowed", ErrBlockedURL, bucket)
	}

	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, notFound("s3://"+location, err)
		}
		return nil, fmt.Errorf("failed to download s3://%s: %w", location, err)
	}
	defer resp.Body.Close()

	if maxBytes > 0 && aws.ToInt64(resp.ContentLength) > maxBytes {
		return nil, fmt.Errorf("%w: s3://%s is %d bytes", ErrTooLarge, location, aws.ToInt64(resp.ContentLength))
	}

	data, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s: %w", location, err)
	}
	return data, nil
}

func splitS3Location(location string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(location, "/"), "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: s3 location must be bucket/key, got %q", ErrUnsupportedSource, location)
	}
	return bucket, key, nil
}
