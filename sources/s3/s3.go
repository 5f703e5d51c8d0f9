package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/convoy-dl/convoy/utils"
)

// ErrIsFolder marks s3:// URLs that point at a prefix rather than a single
// object. Callers expand those with ListFolder before downloading.
var ErrIsFolder = errors.New("key is a folder, not an object")

type Object struct {
	Bucket string
	Key    string
	Size   int64
}

func NewClient(ctx context.Context) (*s3.Client, error) {
	profile := os.Getenv("AWS_PROFILE")
	if profile == "" {
		profile = "default"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile), config.WithRetryMode("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	s3Options := func(o *s3.Options) {
		// Disable checksum validation warning
		o.DisableLogOutputChecksumValidationSkipped = true
	}
	return s3.NewFromConfig(cfg, s3Options), nil
}

func ParseURL(rawURL string) (string, string, error) {
	trimmed, ok := strings.CutPrefix(rawURL, "s3://")
	if !ok || trimmed == "" {
		return "", "", fmt.Errorf("not an s3:// URL: %s", rawURL)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// ObjectSize resolves the declared size of a single object, or ErrIsFolder
// when the key only exists as a prefix.
func ObjectSize(ctx context.Context, client *s3.Client, rawURL string) (int64, error) {
	bucket, key, err := ParseURL(rawURL)
	if err != nil {
		return 0, err
	}
	if key == "" {
		return 0, ErrIsFolder
	}
	headObj, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		result, lerr := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:    aws.String(bucket),
			Prefix:    aws.String(key),
			MaxKeys:   aws.Int32(1),
			Delimiter: aws.String("/"),
		})
		if lerr == nil && (len(result.Contents) > 0 || len(result.CommonPrefixes) > 0) {
			return 0, ErrIsFolder
		}
		return 0, fmt.Errorf("error getting S3 object info: %w", err)
	}
	if headObj.ContentLength == nil {
		return 0, errors.New("object size is nil")
	}
	return *headObj.ContentLength, nil
}

type progressWriter struct {
	writer  io.WriterAt
	onBytes func(int64)
}

func (pw *progressWriter) WriteAt(p []byte, off int64) (int, error) {
	n, err := pw.writer.WriteAt(p, off)
	if n > 0 && pw.onBytes != nil {
		pw.onBytes(int64(n))
	}
	return n, err
}

// Download streams one object to destPath using ranged parts. onBytes is
// called from multiple goroutines as parts land.
func Download(ctx context.Context, client *s3.Client, rawURL string, destPath string, onBytes func(int64)) error {
	bucket, key, err := ParseURL(rawURL)
	if err != nil {
		return err
	}
	if key == "" {
		return ErrIsFolder
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer file.Close()

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 2 * utils.DefaultBufferSize
		d.Concurrency = 4
		d.BufferProvider = manager.NewPooledBufferedWriterReadFromProvider(utils.DefaultBufferSize)
	})
	_, err = downloader.Download(ctx, &progressWriter{writer: file, onBytes: onBytes}, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error downloading S3 object: %w", err)
	}
	return nil
}

// ListFolder enumerates every object under a prefix so folder URLs can be
// expanded into per-object tasks.
func ListFolder(ctx context.Context, client *s3.Client, rawURL string) ([]Object, error) {
	bucket, prefix, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Size == nil || obj.Key == nil {
				continue
			}
			if strings.HasSuffix(*obj.Key, "/") {
				continue // placeholder keys for the folder itself
			}
			objects = append(objects, Object{
				Bucket: bucket,
				Key:    *obj.Key,
				Size:   *obj.Size,
			})
		}
	}
	return objects, nil
}
