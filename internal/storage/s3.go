package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vidgen/backend/internal/config"
	"github.com/vidgen/backend/internal/logging"
	"github.com/vidgen/backend/internal/models"
)

const defaultContentType = "application/octet-stream"

// uploader is the subset of manager.Uploader used by S3Storage.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Storage persists generation assets in an S3-compatible bucket.
type S3Storage struct {
	uploader  uploader
	bucket    string
	baseURL   string
	publicACL bool
}

// NewS3Storage configures an uploader targeting the provided object store.
func NewS3Storage(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return newS3Storage(up, cfg), nil
}

func newS3Storage(up uploader, cfg config.ObjectStoreConfig) *S3Storage {
	return &S3Storage{
		uploader:  up,
		bucket:    cfg.Bucket,
		baseURL:   strings.TrimSuffix(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		publicACL: cfg.PublicACL,
	}
}

// Store uploads data under folder/filename and returns where it can be read.
func (s *S3Storage) Store(ctx context.Context, data []byte, filename, contentType, folder string) (models.StoredAsset, error) {
	key := objectKey(folder, filename)
	if key == "" {
		return models.StoredAsset{}, fmt.Errorf("s3 storage: empty key")
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = defaultContentType
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if s.publicACL {
		input.ACL = s3types.ObjectCannedACLPublicRead
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return models.StoredAsset{}, fmt.Errorf("s3 storage upload %s: %w", key, err)
	}

	location := s.publicURL(key)
	if location == "" && out != nil {
		location = out.Location
	}
	if location == "" {
		return models.StoredAsset{}, fmt.Errorf("s3 storage upload %s: no public location", key)
	}

	logging.FromContext(ctx).Info().
		Str("key", key).
		Int("bytes", len(data)).
		Str("url", location).
		Msg("asset stored")

	return models.StoredAsset{
		Key:         key,
		URL:         location,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

func (s *S3Storage) publicURL(key string) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", s.baseURL, (&url.URL{Path: key}).EscapedPath())
}

func objectKey(folder, filename string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	filename = strings.TrimLeft(filename, "/")
	if filename == "" {
		return ""
	}
	if folder == "" {
		return filename
	}
	return path.Join(folder, filename)
}
