package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kenmoh/servipalbackend/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ErrObjectNotFound is returned when the requested key does not exist in the
// bucket.
var ErrObjectNotFound = errors.New("object not found")

type S3Service struct {
	session    *session.Session
	client     *s3.S3
	bucket     string
	endpoint   string
	downloader *s3manager.Downloader
	uploader   *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Service{
		session:    sess,
		client:     s3.New(sess),
		bucket:     cfg.S3Bucket,
		endpoint:   cfg.S3Endpoint,
		downloader: s3manager.NewDownloader(sess),
		uploader:   s3manager.NewUploader(sess),
	}
}

// Download fetches an object into /tmp/conversions and returns the local
// path. A missing key yields ErrObjectNotFound.
func (s *S3Service) Download(ctx context.Context, key string) (string, error) {
	tempDir := "/tmp/conversions"
	os.MkdirAll(tempDir, 0755)

	localPath := filepath.Join(tempDir, filepath.Base(key))

	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	_, err = s.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		os.Remove(localPath)
		if isNotFound(err) {
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("failed to download from S3: %w", err)
	}

	return localPath, nil
}

// Upload stores a local file under the given key, overwriting any existing
// object.
func (s *S3Service) Upload(ctx context.Context, localPath string, key string, contentType string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

// UploadBytes stores an in-memory payload under the given key.
func (s *S3Service) UploadBytes(ctx context.Context, key string, contentType string, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (s *S3Service) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Exists reports whether an object is present under the given key.
func (s *S3Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head S3 object: %w", err)
	}
	return true, nil
}

// URL returns the public URL for a key: virtual-host style on AWS, path
// style when a custom endpoint is configured.
func (s *S3Service) URL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.endpoint, "/"), s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

func (s *S3Service) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	var rf awserr.RequestFailure
	return errors.As(err, &rf) && rf.StatusCode() == http.StatusNotFound
}
