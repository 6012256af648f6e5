package reader

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/time/rate"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/apperr"
	"github.com/kanekoshoyu/anysignal/logger"
)

// ObjectGetter is the subset of the S3 client the fetcher needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ArchiveFetcher downloads compressed archive objects from S3. It does not
// retry; retry policy belongs to the caller.
type ArchiveFetcher struct {
	client       ObjectGetter
	bucket       string
	requestPayer bool
	limiter      *rate.Limiter
	log          *logger.Log
}

// NewS3Client builds an S3 client from the archive configuration. Static
// credentials are used when configured, otherwise the default AWS chain.
func NewS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperr.Configurationf(err, "failed to load AWS configuration")
	}

	// Validate credentials
	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, apperr.Configurationf(err, "aws credentials not found")
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// NewArchiveFetcher connects to the archive bucket described by cfg.
func NewArchiveFetcher(ctx context.Context, cfg config.ArchiveConfig) (*ArchiveFetcher, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	f := NewArchiveFetcherWithClient(client, cfg)

	f.log.WithComponent("archive_fetcher").WithFields(logger.Fields{
		"bucket":        cfg.Bucket,
		"region":        cfg.Region,
		"endpoint":      cfg.Endpoint,
		"request_payer": cfg.RequestPayer,
	}).Info("archive fetcher initialized")

	return f, nil
}

// NewArchiveFetcherWithClient wraps an existing client, mainly for tests and
// S3 compatible mirrors.
func NewArchiveFetcherWithClient(client ObjectGetter, cfg config.ArchiveConfig) *ArchiveFetcher {
	f := &ArchiveFetcher{
		client:       client,
		bucket:       cfg.Bucket,
		requestPayer: cfg.RequestPayer,
		log:          logger.GetLogger(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return f
}

// Fetch downloads the object stored under key.
func (f *ArchiveFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, apperr.Fetchf(err, "rate limiter aborted fetch of s3://%s/%s", f.bucket, key)
		}
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	}
	if f.requestPayer {
		input.RequestPayer = s3types.RequestPayerRequester
	}

	start := time.Now()
	out, err := f.client.GetObject(ctx, input)
	if err != nil {
		return nil, apperr.Fetchf(err, "failed to fetch s3://%s/%s", f.bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Fetchf(err, "failed to read s3://%s/%s", f.bucket, key)
	}

	logger.LogPerformanceEntry(
		f.log.WithFields(logger.Fields{"key": key, "bytes": len(data)}),
		"archive_fetcher", "get_object", time.Since(start), nil,
	)
	return data, nil
}

func (f *ArchiveFetcher) String() string {
	return fmt.Sprintf("s3://%s", f.bucket)
}
