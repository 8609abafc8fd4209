// Package media stores files uploaded from the dashboard so they can be sent
// over WhatsApp as links.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-assistant/pkg/logging"
)

var ErrDisabled = errors.New("media: uploads are not configured")

// S3API is the slice of the S3 client the store needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	client        S3API
	bucket        string
	region        string
	publicBaseURL string
	logger        *logging.Logger
}

type StoreConfig struct {
	Bucket        string
	Region        string
	PublicBaseURL string
}

func NewStore(client S3API, cfg StoreConfig, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}
}

// Enabled reports whether uploads can be stored.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil && s.bucket != ""
}

// Upload stores body under a fresh key and returns its public URL.
func (s *Store) Upload(ctx context.Context, filename, contentType string, body io.Reader) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}

	ext := strings.ToLower(path.Ext(filename))
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := "uploads/" + uuid.NewString() + ext

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	s.logger.Info("media uploaded", "key", key, "content_type", contentType)
	return s.URL(key), nil
}

// URL builds the public link for an object key.
func (s *Store) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// ClientConfig carries what is needed to reach S3 or a compatible endpoint.
type ClientConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// NewS3Client loads the default AWS chain, pinning static keys and a custom
// endpoint when given.
func NewS3Client(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if strings.TrimSpace(cfg.AccessKeyID) != "" && strings.TrimSpace(cfg.SecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
