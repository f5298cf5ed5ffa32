package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rotblauer/trackd/params"
)

// S3 stores raw files in an S3 bucket. The AWS library configures
// credentials from the environment and shared config files.
type S3 struct {
	config   params.S3Config
	svc      *s3.S3
	uploader *s3manager.Uploader
	logger   *slog.Logger
}

// NewS3 creates the client. Extra aws.Config values override the defaults,
// e.g. a custom endpoint.
func NewS3(config params.S3Config, awsConfigs ...*aws.Config) (*S3, error) {
	if !config.Enabled() {
		return nil, errors.New("s3: bucket is required")
	}
	base := aws.NewConfig()
	if config.Region != "" {
		base = base.WithRegion(config.Region)
	}
	sess, err := session.NewSession(append([]*aws.Config{base}, awsConfigs...)...)
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	svc := s3.New(sess)
	return &S3{
		config:   config,
		svc:      svc,
		uploader: s3manager.NewUploaderWithClient(svc),
		logger:   slog.With("blob", "s3", "bucket", config.Bucket),
	}, nil
}

func (s *S3) objectKey(key string) string {
	return path.Join(s.config.Prefix, key)
}

func (s *S3) Put(ctx context.Context, key string, b []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/gpx+xml"),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == request.CanceledErrorCode {
			s.logger.Error("S3 upload canceled", "key", key, "error", err)
		}
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return b, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
