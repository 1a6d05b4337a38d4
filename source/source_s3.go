package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const s3Scheme = "s3://"

// S3Config AWS settings used when the input path is an s3:// URL.
// Empty values fall back to the default AWS configuration chain (environment, shared config).
type S3Config struct {
	Region    string
	AccessKey string
	SecretKey string
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source downloads the selected objects of an S3 bucket into a temporary folder.
// The object key (or the prefix ending with "/") selects one file or a whole "folder".
type S3Source struct {
	client S3API
	bucket string
	key    string
	// tempDir receives the downloaded objects, removed by Close
	tempDir string
}

// NewS3Source creates an S3Source for an s3://bucket/key URL using the AWS SDK default configuration.
func NewS3Source(ctx context.Context, url string, conf S3Config) (*S3Source, error) {
	var opts []func(*config.LoadOptions) error
	if conf.Region != "" {
		opts = append(opts, config.WithRegion(conf.Region))
	}
	if conf.AccessKey != "" && conf.SecretKey != "" {
		// Last parameter is session token, usually empty
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKey, conf.SecretKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return NewS3SourceWithClient(s3.NewFromConfig(awsConfig), url)
}

// NewS3SourceWithClient creates an S3Source on top of an existing client.
func NewS3SourceWithClient(client S3API, url string) (*S3Source, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return nil, err
	}
	tempDir, err := os.MkdirTemp("", "bqupload-s3-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create a temporary folder: %w", err)
	}
	return &S3Source{client: client, bucket: bucket, key: key, tempDir: tempDir}, nil
}

// ParseS3URL splits s3://bucket/key into the bucket and the key.
func ParseS3URL(url string) (bucket string, key string, err error) {
	if !strings.HasPrefix(url, s3Scheme) {
		return "", "", fmt.Errorf("not an S3 URL: %s", url)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(url, s3Scheme), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("the S3 URL %s has no bucket", url)
	}
	return bucket, key, nil
}

func (l *S3Source) IsDirectory() bool {
	return l.key == "" || strings.HasSuffix(l.key, "/")
}

func (l *S3Source) ListFiles(ctx context.Context) ([]FileInfo, error) {
	keys := []string{l.key}
	if l.IsDirectory() {
		var err error
		if keys, err = l.listKeys(ctx); err != nil {
			return nil, err
		}
	}

	files := make([]FileInfo, 0, len(keys))
	for _, key := range keys {
		file, err := l.download(ctx, key)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

// listKeys returns the object keys directly under the prefix, sorted.
func (l *S3Source) listKeys(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(l.bucket),
		Prefix:    aws.String(l.key),
		Delimiter: aws.String("/"),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", l.bucket, l.key, err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// download copies one object into the temporary folder, keeping its base name.
func (l *S3Source) download(ctx context.Context, key string) (FileInfo, error) {
	output, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to download s3://%s/%s: %w", l.bucket, key, err)
	}
	defer func() {
		if err := output.Body.Close(); err != nil {
			log.Warn("Failed to close the S3 object body", zap.String("key", key), zap.Error(err))
		}
	}()

	localPath := filepath.Join(l.tempDir, path.Base(key))
	file, err := os.Create(localPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	size, err := io.Copy(file, output.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	log.Info("Downloaded S3 object", zap.String("bucket", l.bucket), zap.String("key", key),
		zap.Int64("size", size))
	return FileInfo{RelativePath: key, LocalPath: localPath, Size: size, Temp: true}, nil
}

func (l *S3Source) Dispose(file FileInfo) {
	if file.Temp {
		err := os.Remove(file.LocalPath) // Delete the file
		if err != nil && !os.IsNotExist(err) {
			log.Error("Failed to delete file", zap.String("file", file.LocalPath), zap.Error(err))
		}
	}
}

// Close removes the temporary folder together with any derived file created next to the downloads.
func (l *S3Source) Close() error {
	return os.RemoveAll(l.tempDir)
}
