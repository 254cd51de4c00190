package feature

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxArtifactBytes bounds the size of an encoding artifact read from storage.
const maxArtifactBytes = 8 << 20

// ObjectGetter is the subset of the S3 client used to fetch artifacts.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source locates an encoding artifact. Path takes precedence over Bucket/Key.
type Source struct {
	Path   string
	Bucket string
	Key    string
	Client ObjectGetter
}

// ObjectStoreConfig holds credentials for an S3-compatible object store.
type ObjectStoreConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
}

// NewObjectStoreClient creates an S3 client for an S3-compatible endpoint
// such as R2. Path-style addressing is always used.
func NewObjectStoreClient(cfg ObjectStoreConfig) (*s3.Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("object store credentials are required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	return s3.New(s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	}), nil
}

// LoadEncoding reads and decodes a category encoding artifact from src.
func LoadEncoding(ctx context.Context, src Source) (*CategoryEncoding, error) {
	data, err := readArtifact(ctx, src)
	if err != nil {
		return nil, err
	}
	return DecodeEncoding(data)
}

func readArtifact(ctx context.Context, src Source) ([]byte, error) {
	if src.Path != "" {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read encoding file: %w", err)
		}
		return data, nil
	}

	if src.Bucket == "" || src.Key == "" {
		return nil, errors.New("encoding source needs a path or bucket and key")
	}
	if src.Client == nil {
		return nil, errors.New("encoding source has no object store client")
	}

	out, err := src.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(src.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch encoding object s3://%s/%s: %w", src.Bucket, src.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read encoding object: %w", err)
	}
	if len(data) > maxArtifactBytes {
		return nil, fmt.Errorf("%w: artifact exceeds %d bytes", ErrInvalidEncoding, maxArtifactBytes)
	}
	return data, nil
}
