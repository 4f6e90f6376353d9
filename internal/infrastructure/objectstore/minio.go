// Package objectstore mirrors harvested item directories into MinIO.
package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"PageHarvester/internal/ports"
)

// MinioMirror uploads local files to a bucket.
type MinioMirror struct {
	Client *minio.Client
	Bucket string
}

var _ ports.Mirror = (*MinioMirror)(nil)

// NewMinioMirror connects and creates the bucket when missing.
func NewMinioMirror(ctx context.Context, endpoint, accessKey, secretKey string, secure bool, bucket string) (*MinioMirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}

	return &MinioMirror{Client: client, Bucket: bucket}, nil
}

// MirrorDir uploads every regular file below dir as prefix/<relative path>.
func (m *MinioMirror) MirrorDir(ctx context.Context, dir, prefix string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return m.putFile(ctx, p, ObjectKey(prefix, rel))
	})
}

func (m *MinioMirror) putFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = m.Client.PutObject(ctx, m.Bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: GuessContentType(key, ""),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ObjectKey joins prefix and a local relative path into a slash-separated key.
func ObjectKey(prefix, rel string) string {
	return strings.TrimPrefix(path.Join(filepath.ToSlash(prefix), filepath.ToSlash(rel)), "/")
}

// GuessContentType maps a filename extension to a MIME type.
func GuessContentType(filename string, fallback string) string {
	if ext := path.Ext(filename); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return "application/octet-stream"
}
