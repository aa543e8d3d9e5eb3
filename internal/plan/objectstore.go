package plan

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig points at an S3 compatible endpoint holding plans.
type ObjectStoreConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ObjectStoreSource reads plan files from a bucket prefix.
type ObjectStoreSource struct {
	client *minio.Client
}

func NewObjectStoreSource(cfg ObjectStoreConfig) (*ObjectStoreSource, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return &ObjectStoreSource{client: client}, nil
}

// ParseObjectURL splits s3://bucket/prefix.
func ParseObjectURL(location string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, prefix, true
}

// Files downloads every .json object under prefix.
func (s *ObjectStoreSource) Files(ctx context.Context, bucket, prefix string) ([]File, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") && path.Ext(prefix) == "" {
		prefix += "/"
	}
	var files []File
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list plan objects: %w", obj.Err)
		}
		if obj.Key == "" || !isPlanFile(obj.Key) {
			continue
		}
		data, err := s.get(ctx, bucket, obj.Key)
		if err != nil {
			return nil, &LoadError{File: obj.Key, Err: err}
		}
		files = append(files, File{Name: obj.Key, Data: data})
	}
	return files, nil
}

func (s *ObjectStoreSource) get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
