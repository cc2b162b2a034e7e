package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"poster/internal/config"
)

// Client 封装 MinIO 客户端，提供简化的上传接口。
// 参考图等对象以公开可读的方式存放，返回可直接访问的公网 URL。
type Client struct {
	internalClient *minio.Client
	publicBaseURL  string
	bucketName     string
}

// NewClient 根据配置初始化 MinIO 客户端，并确保目标 Bucket 存在。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	bucketLookup := minio.BucketLookupAuto
	switch strings.ToLower(strings.TrimSpace(cfg.BucketLookup)) {
	case "", "auto":
		bucketLookup = minio.BucketLookupAuto
	case "dns":
		bucketLookup = minio.BucketLookupDNS
	case "path":
		bucketLookup = minio.BucketLookupPath
	default:
		return nil, fmt.Errorf("invalid minio bucket lookup %q", cfg.BucketLookup)
	}

	internalClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	parsedPublicEndpoint, err := url.Parse(cfg.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	if parsedPublicEndpoint.Host == "" {
		return nil, fmt.Errorf("invalid minio public endpoint, host missing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := internalClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist (auto create disabled)", cfg.Bucket)
		}
		if err := internalClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Client{
		internalClient: internalClient,
		publicBaseURL:  strings.TrimRight(cfg.PublicEndpoint, "/"),
		bucketName:     cfg.Bucket,
	}, nil
}

// UploadFile 将对象上传到 Bucket，并返回上传结果。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := c.internalClient.PutObject(ctx, c.bucketName, objectName, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("put object %q: %w", objectName, err)
	}
	return &info, nil
}

// UploadPublicFile 上传对象并返回其公开访问 URL。
// Bucket 需配置为公开可读，这里不做权限校验。
func (c *Client) UploadPublicFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if _, err := c.UploadFile(ctx, objectName, reader, size, contentType); err != nil {
		return "", err
	}
	return c.PublicObjectURL(objectName), nil
}

// PublicObjectURL 拼出对象的公开访问 URL。
func (c *Client) PublicObjectURL(objectKey string) string {
	return fmt.Sprintf("%s/%s/%s", c.publicBaseURL, c.bucketName, strings.TrimPrefix(objectKey, "/"))
}

// ObjectKeyFromURL 从公开 URL 反推对象 Key。
// 非本 Bucket 的 URL 返回 false。
func (c *Client) ObjectKeyFromURL(publicURL string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(publicURL))
	if err != nil {
		return "", false
	}
	path := strings.TrimPrefix(parsed.Path, "/")
	prefix := c.bucketName + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(path, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

// DeleteObject 删除指定对象。
// 若对象不存在会被视为成功（幂等）。
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil
	}
	if err := c.internalClient.RemoveObject(ctx, c.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if IsNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("remove object %q: %w", objectKey, err)
	}
	return nil
}

