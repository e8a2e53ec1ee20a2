package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/FrancoCalan/simulink-models/internal/logging"
)

// S3Config selects where packed runs are published.
type S3Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string // "" for AWS
	AccessKey      string // "" for the default credential chain
	SecretKey      string
	ForcePathStyle bool
}

// PutObjectAPI is the part of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader copies packed runs to a bucket.
type S3Uploader struct {
	cli    PutObjectAPI
	bucket string
	prefix string
	logger logging.Logger
}

// NewS3Client builds an S3 client from cfg, with static keys when given.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var loaders []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loaders = append(loaders, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewS3Uploader(cli PutObjectAPI, bucket, prefix string, logger logging.Logger) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Uploader{cli: cli, bucket: bucket, prefix: prefix, logger: logger.With(logging.F("subsystem", "s3"))}, nil
}

// Upload puts the file under prefix/<base name> and returns the key.
func (u *S3Uploader) Upload(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := path.Join(u.prefix, filepath.Base(file))
	put := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ContentType:   aws.String("application/gzip"),
	}
	if _, err := u.cli.PutObject(ctx, put); err != nil {
		return "", fmt.Errorf("upload %s to s3://%s/%s: %w", file, u.bucket, key, err)
	}
	u.logger.Info("run uploaded", logging.F("bucket", u.bucket), logging.F("key", key), logging.F("bytes", fi.Size()))
	return key, nil
}
