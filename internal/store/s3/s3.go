// Package s3 adapts an S3-compatible bucket to the store.FileStore
// interface. The folder hierarchy is the key prefix hierarchy: a folder ID
// is a key prefix without trailing slash, the root folder is the empty
// prefix, and pagination maps to ListObjectsV2 continuation tokens.
package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/store"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// endpointURL returns the endpoint as a full URL. A bare host:port gets
// its scheme from UseSSL; an endpoint that already carries a scheme wins.
func (c Config) endpointURL() string {
	if strings.Contains(c.Endpoint, "://") {
		return c.Endpoint
	}
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.Endpoint
}

// FileStore implements store.FileStore over an S3-compatible bucket.
type FileStore struct {
	client *s3.Client
	bucket string
}

// New creates a new S3-backed file store.
func New(ctx context.Context, cfg Config) (*FileStore, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.endpointURL(),
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	fs := &FileStore{client: client, bucket: cfg.Bucket}

	start := time.Now()
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		metrics.RecordStoreOperation("head_bucket", time.Since(start), false)
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	} else {
		metrics.RecordStoreOperation("head_bucket", time.Since(start), true)
	}

	return fs, nil
}

// ListChildren returns one page of the direct children of a folder prefix.
func (fs *FileStore) ListChildren(ctx context.Context, folderID, pageToken string) (*store.ChildPage, error) {
	start := time.Now()

	prefix := folderID
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(fs.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}

	out, err := fs.client.ListObjectsV2(ctx, input)
	if err != nil {
		metrics.RecordStoreOperation("list_children", time.Since(start), false)
		return nil, fmt.Errorf("list %q: %w", folderID, err)
	}
	metrics.RecordStoreOperation("list_children", time.Since(start), true)

	page := &store.ChildPage{}
	for _, cp := range out.CommonPrefixes {
		id := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
		page.Items = append(page.Items, store.Item{
			ID:   id,
			Name: path.Base(id),
			Type: store.TypeFolder,
		})
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		// Skip the zero-byte placeholder some clients create for the
		// folder prefix itself.
		if key == prefix {
			continue
		}
		item := store.Item{
			ID:       key,
			Name:     path.Base(key),
			Type:     store.TypeFile,
			MimeType: mime.TypeByExtension(path.Ext(key)),
		}
		if obj.Size != nil {
			item.SizeBytes = *obj.Size
		}
		if obj.LastModified != nil {
			item.ModifiedTime = *obj.LastModified
		}
		page.Items = append(page.Items, item)
	}
	if out.NextContinuationToken != nil {
		page.NextPageToken = *out.NextContinuationToken
	}
	return page, nil
}

// GetModifiedSince pages the full bucket listing and reports objects whose
// LastModified is strictly after since. S3 has no native changes feed, so
// this is a filtered scan; callers short-circuit on the first relevant hit.
func (fs *FileStore) GetModifiedSince(ctx context.Context, since time.Time, pageToken string) (*store.ChangePage, error) {
	start := time.Now()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(fs.bucket),
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}

	out, err := fs.client.ListObjectsV2(ctx, input)
	if err != nil {
		metrics.RecordStoreOperation("modified_since", time.Since(start), false)
		return nil, fmt.Errorf("list modified since %s: %w", since.Format(time.RFC3339), err)
	}
	metrics.RecordStoreOperation("modified_since", time.Since(start), true)

	page := &store.ChangePage{}
	for _, obj := range out.Contents {
		if obj.LastModified == nil || !obj.LastModified.After(since) {
			continue
		}
		key := aws.ToString(obj.Key)
		page.Changes = append(page.Changes, store.Change{
			ID:           key,
			ParentIDs:    parentChain(key),
			ModifiedTime: *obj.LastModified,
		})
	}
	if out.NextContinuationToken != nil {
		page.NextPageToken = *out.NextContinuationToken
	}
	return page, nil
}

// FetchContent returns the object body for a file key.
func (fs *FileStore) FetchContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	start := time.Now()

	out, err := fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		metrics.RecordStoreOperation("fetch_content", time.Since(start), false)
		return nil, fmt.Errorf("get object %s: %w", fileID, err)
	}
	metrics.RecordStoreOperation("fetch_content", time.Since(start), true)
	if out.ContentLength != nil {
		metrics.RecordContentFetched(*out.ContentLength)
	}
	return out.Body, nil
}

// parentChain returns the folder IDs above a key, outermost first.
// The root folder is represented by the empty ID and is always included.
func parentChain(key string) []string {
	parents := []string{""}
	parts := strings.Split(key, "/")
	for i := 1; i < len(parts); i++ {
		parents = append(parents, strings.Join(parts[:i], "/"))
	}
	return parents
}
