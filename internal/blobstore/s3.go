package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultPresignTTL = 15 * time.Minute

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs temporary download links for private objects.
type Presigner interface {
	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	PresignTTL    time.Duration
}

// S3Store keeps artifacts in one bucket under public/ and private/ prefixes.
type S3Store struct {
	client        S3API
	presigner     Presigner
	bucket        string
	publicBaseURL string
	presignTTL    time.Duration
}

// NewS3Store loads AWS credentials from the environment and builds a store.
func NewS3Store(ctx context.Context, config S3Config) (*S3Store, error) {
	options := []func(*awsconfig.LoadOptions) error{}
	if region := strings.TrimSpace(config.Region); region != "" {
		options = append(options, awsconfig.WithRegion(region))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(config.Endpoint)
	client := s3.NewFromConfig(awsConfig, func(clientOptions *s3.Options) {
		if endpoint != "" {
			clientOptions.BaseEndpoint = aws.String(endpoint)
			clientOptions.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, s3.NewPresignClient(client), config)
}

// NewS3StoreWithClient wires a store over explicit clients.
func NewS3StoreWithClient(client S3API, presigner Presigner, config S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(config.Bucket)
	if client == nil || bucket == "" {
		return nil, fmt.Errorf("%w: s3 store needs a client and a bucket", ErrInvalidUpload)
	}
	publicBaseURL := strings.TrimRight(strings.TrimSpace(config.PublicBaseURL), "/")
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	presignTTL := config.PresignTTL
	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}
	return &S3Store{
		client:        client,
		presigner:     presigner,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		presignTTL:    presignTTL,
	}, nil
}

func (store *S3Store) Upload(ctx context.Context, data []byte, options UploadOptions) (Asset, error) {
	if len(data) == 0 {
		return Asset{}, fmt.Errorf("%w: empty payload", ErrInvalidUpload)
	}
	id, err := newObjectID(options)
	if err != nil {
		return Asset{}, err
	}
	key := objectKey(options.Visibility, id)
	input := &s3.PutObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType := strings.TrimSpace(options.ContentType); contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := store.client.PutObject(ctx, input); err != nil {
		return Asset{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return Asset{ID: id, URL: store.urlFor(options.Visibility, key)}, nil
}

func (store *S3Store) Destroy(ctx context.Context, id string, visibility Visibility) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := ParseVisibility(string(visibility)); err != nil {
		return err
	}
	key := objectKey(visibility, id)
	_, err := store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (store *S3Store) IdentifierFromURL(rawURL string) (string, bool) {
	return identifierFromURL(rawURL)
}

// SignedURL presigns private objects; public URLs are returned unchanged.
func (store *S3Store) SignedURL(ctx context.Context, rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "s3://") {
		return rawURL, nil
	}
	id, ok := identifierFromURL(rawURL)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if store.presigner == nil {
		return "", fmt.Errorf("%w: presigner not configured", ErrInvalidUpload)
	}
	signed, err := store.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(objectKey(VisibilityPrivate, id)),
	}, s3.WithPresignExpires(store.presignTTL))
	if err != nil {
		return "", fmt.Errorf("s3 presign: %w", err)
	}
	return signed.URL, nil
}

func (store *S3Store) urlFor(visibility Visibility, key string) string {
	if visibility == VisibilityPrivate {
		return "s3://" + store.bucket + "/" + key
	}
	return store.publicBaseURL + "/" + key
}
