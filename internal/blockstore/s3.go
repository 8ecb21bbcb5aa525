package blockstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"depot-go/internal/config"
	"depot-go/internal/depot"
)

// S3Store is an S3-backed implementation of the BlockStore interface.
// Blocks live under <prefix>blocks/<hash>, hashmaps under <prefix>maps/<hash>.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3 block store from configuration. Credentials fall
// back to the ambient AWS credential chain when no static keys are set; a
// custom endpoint supports S3-compatible stores.
func NewS3Store(cfg config.BlockStoreConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 block store requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := cfg.S3Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   prefix,
	}, nil
}

func (s *S3Store) blockKey(hash string) string { return s.prefix + "blocks/" + hash }
func (s *S3Store) mapKey(hash string) string   { return s.prefix + "maps/" + hash }

// PutBlock stores data under its content hash. Uploads are idempotent:
// rewriting an existing key with identical content is harmless, so no
// existence check is made first.
func (s *S3Store) PutBlock(data []byte) (string, error) {
	hash := depot.HashBlock(data)
	_, err := s.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.blockKey(hash)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("uploading block %s: %w", hash, err)
	}
	return hash, nil
}

// GetBlock retrieves a block by hash.
func (s *S3Store) GetBlock(hash string) ([]byte, error) {
	return s.getObject(s.blockKey(hash), fmt.Sprintf("block %s", hash))
}

// HasBlock reports whether the block object exists.
func (s *S3Store) HasBlock(hash string) (bool, error) {
	_, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.blockKey(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking block %s: %w", hash, err)
	}
	return true, nil
}

// MissingBlocks returns the subset of hashes not present, preserving order.
func (s *S3Store) MissingBlocks(hashes []string) ([]string, error) {
	var missing []string
	for _, h := range hashes {
		ok, err := s.HasBlock(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// UpdateBlock patches part of a block and stores the result as a new block.
func (s *S3Store) UpdateBlock(hash string, offset int64, data []byte) (string, error) {
	old, err := s.GetBlock(hash)
	if err != nil {
		return "", err
	}
	patched, err := patchBlock(old, offset, data)
	if err != nil {
		return "", err
	}
	return s.PutBlock(patched)
}

// MapGet returns the ordered block hashes of an object hash.
func (s *S3Store) MapGet(objectHash string) ([]string, error) {
	data, err := s.getObject(s.mapKey(objectHash), fmt.Sprintf("hashmap %s", objectHash))
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// MapPut associates an object hash with its ordered block hashes.
func (s *S3Store) MapPut(objectHash string, blockHashes []string) error {
	payload := strings.Join(blockHashes, "\n")
	if payload != "" {
		payload += "\n"
	}
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.mapKey(objectHash)),
		Body:   strings.NewReader(payload),
	})
	if err != nil {
		return fmt.Errorf("storing hashmap %s: %w", objectHash, err)
	}
	return nil
}

// MapDelete removes the hashmap object.
func (s *S3Store) MapDelete(objectHash string) error {
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.mapKey(objectHash)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("removing hashmap %s: %w", objectHash, err)
	}
	return nil
}

// ValidateSetup verifies the bucket is reachable.
func (s *S3Store) ValidateSetup() error {
	_, err := s.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) getObject(key, what string) ([]byte, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", what, depot.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching %s: %w", what, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", what, err)
	}
	return data, nil
}

// isNotFound recognizes both the typed GetObject error and the untyped 404
// that HeadObject returns.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

// Compile-time check that S3Store implements depot.BlockStore
var _ depot.BlockStore = (*S3Store)(nil)
