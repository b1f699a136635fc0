package storage

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
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var s3Tracer = otel.Tracer("shelf/storage/s3")

// S3Options configures the S3 backend
type S3Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool

	// Prefix scopes all keys, so multiple repos can share a bucket
	Prefix string
}

// S3Backend stores repo files as objects in an S3-compatible bucket.
// Directories are emulated with zero-byte marker objects ending in "/".
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend creates an S3 backend for the given bucket and key prefix
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	var awsCfg aws.Config
	var err error

	if opts.AccessKey != "" && opts.SecretKey != "" {
		// Static credentials (MinIO or AWS with explicit keys)
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(opts.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				opts.AccessKey,
				opts.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(opts.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Backend{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

// Kind implements Backend.Kind
func (b *S3Backend) Kind() string { return "s3" }

func (b *S3Backend) key(filePath string) (string, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", err
	}
	if b.prefix == "" {
		return cleaned, nil
	}
	if cleaned == "" {
		return b.prefix, nil
	}
	return b.prefix + "/" + cleaned, nil
}

// Touch implements Backend.Touch
func (b *S3Backend) Touch(ctx context.Context, filePath string) error {
	key, err := b.key(filePath)
	if err != nil {
		return err
	}

	// A touch must not clobber existing content
	_, err = b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}

	return b.Write(ctx, filePath, bytes.NewReader(nil))
}

// Write implements Backend.Write
func (b *S3Backend) Write(ctx context.Context, filePath string, content io.Reader) error {
	key, err := b.key(filePath)
	if err != nil {
		return err
	}

	ctx, span := s3Tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", b.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	data, err := io.ReadAll(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read content")
		return fmt.Errorf("failed to read content: %w", err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	return nil
}

// Read implements Backend.Read
func (b *S3Backend) Read(ctx context.Context, filePath string) ([]byte, error) {
	body, err := b.Open(ctx, filePath)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// Open implements Backend.Open
func (b *S3Backend) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	key, err := b.key(filePath)
	if err != nil {
		return nil, err
	}

	ctx, span := s3Tracer.Start(ctx, "S3.GetObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", b.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object from s3")
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}
	return result.Body, nil
}

// List implements Backend.List
func (b *S3Backend) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	key, err := b.key(prefix)
	if err != nil {
		return nil, err
	}
	if key != "" {
		key += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(key),
		Delimiter: aws.String("/"),
	})

	strip := len(b.prefix)
	if strip > 0 {
		strip++ // trailing slash
	}

	var infos []FileInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, cp := range page.CommonPrefixes {
			dir := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			infos = append(infos, FileInfo{Path: dir[strip:], IsDir: true})
		}
		for _, obj := range page.Contents {
			objKey := aws.ToString(obj.Key)
			if strings.HasSuffix(objKey, "/") {
				continue // directory marker
			}
			info := FileInfo{
				Path: objKey[strip:],
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Delete implements Backend.Delete
func (b *S3Backend) Delete(ctx context.Context, filePath string) error {
	key, err := b.key(filePath)
	if err != nil {
		return err
	}

	_, err = b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to check object: %w", err)
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Move implements Backend.Move
func (b *S3Backend) Move(ctx context.Context, src, dst string) error {
	srcKey, err := b.key(src)
	if err != nil {
		return err
	}
	dstKey, err := b.key(dst)
	if err != nil {
		return err
	}

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		if isNotFoundError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to copy object: %w", err)
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete source object: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var notFound interface{ ErrorCode() string }
	if errors.As(err, &notFound) {
		code := notFound.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}
