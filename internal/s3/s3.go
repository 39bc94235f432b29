// Package s3 stores blobs in an S3 compatible object store.
package s3

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zhernovs/ort/internal/filestorage"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every key.
	Prefix string
	UseSSL bool
}

// bucketAPI is the part of *minio.Client used to prepare the bucket.
type bucketAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// Client implements filestorage.FileStorage and filestorage.Lister.
type Client struct {
	mc      *minio.Client
	buckets bucketAPI
	bucket  string
	region  string
	prefix  string

	// ready is set once the bucket is known to exist. Failed checks are
	// retried by the next call.
	mu    sync.Mutex
	ready bool
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Client{
		mc:      mc,
		buckets: mc,
		bucket:  bucket,
		region:  region,
		prefix:  strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

// Location returns the bucket and key prefix as "s3://bucket/prefix".
func (c *Client) Location() string {
	return "s3://" + path.Join(c.bucket, c.prefix)
}

func (c *Client) ensureBucket(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	exists, err := c.buckets.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if !exists {
		err := c.buckets.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return err
		}
	}
	c.ready = true
	return nil
}

func (c *Client) objectKey(key string) (string, error) {
	key, err := filestorage.CleanKey(key)
	if err != nil {
		return "", err
	}
	if c.prefix == "" {
		return key, nil
	}
	return path.Join(c.prefix, key), nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (c *Client) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	objKey, err := c.objectKey(key)
	if err != nil {
		return nil, err
	}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := c.mc.GetObject(ctx, c.bucket, objKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("read %s: %w", key, filestorage.ErrNotFound)
		}
		return nil, err
	}
	return obj, nil
}

func (c *Client) Write(ctx context.Context, key string, r io.Reader) error {
	objKey, err := c.objectKey(key)
	if err != nil {
		return err
	}
	if err := c.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err = c.mc.PutObject(ctx, c.bucket, objKey, r, -1, minio.PutObjectOptions{
		ContentType: "application/x-yaml",
	})
	return err
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	objKey, err := c.objectKey(key)
	if err != nil {
		return false, err
	}
	if err := c.ensureBucket(ctx); err != nil {
		return false, fmt.Errorf("ensure bucket: %w", err)
	}
	if _, err := c.mc.StatObject(ctx, c.bucket, objKey, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) List(ctx context.Context, prefix string) ([]filestorage.Entry, error) {
	if err := c.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	listPrefix := strings.Trim(prefix, "/")
	if c.prefix != "" {
		listPrefix = path.Join(c.prefix, listPrefix)
	}
	if listPrefix != "" {
		listPrefix += "/"
	}
	// Cancelling stops the listing goroutine when we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := make([]filestorage.Entry, 0, 32)
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		key := obj.Key
		if c.prefix != "" {
			key = strings.TrimPrefix(key, c.prefix+"/")
		}
		if key == "" {
			continue
		}
		out = append(out, filestorage.Entry{Key: key, Size: obj.Size})
	}
	return out, nil
}
