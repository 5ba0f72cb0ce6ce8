package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver keeps raw provider webhook payloads for audit and replay.
type Archiver interface {
	Archive(ctx context.Context, eventID, eventType string, receivedAt time.Time, payload []byte) error
}

type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket}, nil
}

// Key lays events out by receive date: events/2026/03/01/<type>/<id>.json.
func Key(eventID, eventType string, receivedAt time.Time) string {
	return path.Join("events", receivedAt.UTC().Format("2006/01/02"), eventType, eventID+".json")
}

func (a *S3Archiver) Archive(ctx context.Context, eventID, eventType string, receivedAt time.Time, payload []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(eventID, eventType, receivedAt)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("could not upload to S3: %w", err)
	}
	return nil
}

// Discard drops payloads. Used when no bucket is configured.
type Discard struct{}

func (Discard) Archive(context.Context, string, string, time.Time, []byte) error { return nil }
