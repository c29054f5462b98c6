package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// Destination stores an exported file and returns where it ended up
type Destination interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
}

// FileDestination writes exports into a local directory
type FileDestination struct {
	dir string
}

// NewFileDestination creates dir if needed
func NewFileDestination(dir string) (*FileDestination, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &FileDestination{dir: dir}, nil
}

// Put writes r to dir/name
func (d *FileDestination) Put(_ context.Context, name string, r io.Reader) (string, error) {
	filePath := filepath.Join(d.dir, name)

	f, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return filePath, nil
}

// S3Config holds the bucket an export is uploaded to. Endpoint is set for S3 compatible stores.
type S3Config struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Endpoint  string
}

// S3Destination uploads exports to an S3 bucket
type S3Destination struct {
	bucket   string
	prefix   string
	uploader s3manageriface.UploaderAPI
}

// NewS3Destination creates an uploader for cfg.Bucket
func NewS3Destination(cfg S3Config) (*S3Destination, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Destination{
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// Put uploads r under prefix/name
func (d *S3Destination) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	key := path.Join(d.prefix, name)

	_, err := d.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload export to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", d.bucket, key), nil
}
