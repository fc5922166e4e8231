// Package objectstore uploads images to S3-compatible storage and hands back
// their public URLs.
package objectstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"joy-journal/internal/apperrors"
	"joy-journal/internal/config"
	"joy-journal/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const (
	cacheControl = "max-age=3600"
	defaultExt   = "png"
)

// API is the subset of the S3 client the store needs
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// IdentitySource reports the signed-in identity, if any
type IdentitySource interface {
	Current() *models.Identity
}

// Store uploads and deletes image objects namespaced by identity
type Store struct {
	api          API
	identity     IdentitySource
	imageBucket  string
	avatarBucket string
	publicBase   string
	now          func() time.Time
}

// NewClient builds an S3 client for the configured endpoint. Custom endpoints
// are addressed path-style.
func NewClient(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New creates a store writing to the buckets named in cfg
func New(api API, identity IdentitySource, cfg config.StorageConfig) *Store {
	return &Store{
		api:          api,
		identity:     identity,
		imageBucket:  cfg.ImageBucket,
		avatarBucket: cfg.AvatarBucket,
		publicBase:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:          time.Now,
	}
}

// Upload stores data for the signed-in identity and returns its public URL
func (s *Store) Upload(ctx context.Context, kind models.ImageKind, data []byte, contentType string) (string, error) {
	user := s.identity.Current()
	if user == nil {
		return "", fmt.Errorf("failed to upload %s: %w", kind, apperrors.ErrUnauthorized)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("failed to upload %s: %w", kind, apperrors.ErrInvalidImage)
	}

	bucket, key := s.destination(kind, user.ID, extension(contentType))

	input := &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		CacheControl: aws.String(cacheControl),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", kind, err)
	}

	publicURL := s.PublicURL(bucket, key)
	log.Debug().
		Str("user_id", user.ID).
		Str("bucket", bucket).
		Str("key", key).
		Msg("Image uploaded")

	return publicURL, nil
}

// UploadDataURI decodes a base64 data URI and uploads it
func (s *Store) UploadDataURI(ctx context.Context, kind models.ImageKind, uri string) (string, error) {
	if s.identity.Current() == nil {
		return "", fmt.Errorf("failed to upload %s: %w", kind, apperrors.ErrUnauthorized)
	}
	data, contentType, err := ParseDataURI(uri)
	if err != nil {
		return "", err
	}
	return s.Upload(ctx, kind, data, contentType)
}

// Delete removes the object behind publicURL. Failures are logged, not returned.
func (s *Store) Delete(ctx context.Context, publicURL string) {
	bucket, key, ok := s.objectFor(publicURL)
	if !ok {
		return
	}

	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("Failed to delete image")
	}
}

// PublicURL returns the fetchable URL of an object
func (s *Store) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBase, bucket, key)
}

// destination picks the bucket and a collision-free key for an upload
func (s *Store) destination(kind models.ImageKind, userID, ext string) (string, string) {
	millis := s.now().UnixMilli()
	if kind == models.ImageKindAvatar {
		return s.avatarBucket, fmt.Sprintf("%s/avatar_%d.%s", userID, millis, ext)
	}
	return s.imageBucket, fmt.Sprintf("%s/%d.%s", userID, millis, ext)
}

// objectFor reverses PublicURL
func (s *Store) objectFor(publicURL string) (string, string, bool) {
	u, err := url.Parse(publicURL)
	if err != nil || u.Scheme == "data" {
		return "", "", false
	}

	for _, bucket := range []string{s.imageBucket, s.avatarBucket} {
		if bucket == "" {
			continue
		}
		parts := strings.SplitN(u.Path, "/"+bucket+"/", 2)
		if len(parts) == 2 && parts[1] != "" {
			return bucket, parts[1], true
		}
	}
	return "", "", false
}

// ParseDataURI decodes a data URI into its bytes and media type
func ParseDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", fmt.Errorf("not a data URI: %w", apperrors.ErrInvalidImage)
	}

	meta, payload, found := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !found {
		return nil, "", fmt.Errorf("data URI has no payload: %w", apperrors.ErrInvalidImage)
	}

	isBase64 := strings.HasSuffix(meta, ";base64")
	meta = strings.TrimSuffix(meta, ";base64")
	contentType, _, _ := strings.Cut(meta, ";")

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode data URI: %v: %w", err, apperrors.ErrInvalidImage)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode data URI: %v: %w", err, apperrors.ErrInvalidImage)
		}
		data = []byte(unescaped)
	}

	return data, contentType, nil
}

func extension(contentType string) string {
	_, sub, found := strings.Cut(contentType, "/")
	if !found || sub == "" {
		return defaultExt
	}
	return sub
}
