package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

var ErrDisabled = errors.New("webhook archive is disabled")

// objectAPI is the part of the S3 client the archive uses.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client writes verified webhook payloads to an S3 compatible bucket.
type Client struct {
	s3     objectAPI
	bucket string
}

// NewClient creates an archive client and checks the bucket. In non-prod
// environments a missing bucket is created.
func NewClient(ctx context.Context, cfg config.ArchiveConfig, appEnv string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	c := &Client{s3: s3Client, bucket: cfg.Bucket}
	if err := c.ensureBucket(ctx, appEnv != "prod", cfg); err != nil {
		return nil, err
	}

	log.Infof("[Archive] Writing webhook payloads to bucket %s", cfg.Bucket)
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context, create bool, cfg config.ArchiveConfig) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	if !create {
		return fmt.Errorf("bucket %s not accessible: %w", c.bucket, err)
	}

	log.Warnf("[Archive] Bucket %s not found, attempting to create it", c.bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}
	// us-east-1 and custom endpoints reject a location constraint
	if cfg.EndpointURL == "" && cfg.Region != "" && cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(cfg.Region),
		}
	}
	if _, err := c.s3.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// ObjectKey returns webhooks/YYYY/MM/DD/<event-key>.json for the UTC day of receipt.
func ObjectKey(eventKey string, receivedAt time.Time) string {
	t := receivedAt.UTC()
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, eventKey)
	return fmt.Sprintf("webhooks/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), safe)
}

// ArchiveWebhook uploads one raw payload. Redeliveries overwrite the same object.
func (c *Client) ArchiveWebhook(ctx context.Context, eventKey string, receivedAt time.Time, payload []byte) error {
	key := ObjectKey(eventKey, receivedAt)
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata: map[string]string{
			"event-key":     eventKey,
			"upload-source": "payfox-webhook",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// Fetch reads an archived payload back.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("s3://%s/%s: not found", c.bucket, key)
		}
		return nil, err
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
