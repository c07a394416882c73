// Package objectstore uploads doubt attachments to S3-compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"log"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the externally reachable base for object URLs. Defaults to the endpoint.
	PublicURL string
}

// objectAPI is the subset of *minio.Client used here.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Store struct {
	client  objectAPI
	bucket  string
	baseURL string

	bucketMu sync.Mutex
	bucketOK bool
}

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newStore(client, cfg), nil
}

func newStore(client objectAPI, cfg Config) *Store {
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &Store{client: client, bucket: cfg.Bucket, baseURL: base}
}

// EnsureBucket creates the bucket with a public-read policy if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketOK {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := s.client.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
			log.Printf("objectstore: set public policy on %s: %v", s.bucket, err)
		}
		log.Printf("objectstore: created bucket %s", s.bucket)
	}
	s.bucketOK = true
	return nil
}

// Upload stores the file under objectName and returns its public URL.
func (s *Store) Upload(ctx context.Context, filePath, objectName string) (string, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}

	contentType := mime.TypeByExtension(path.Ext(objectName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.FPutObject(ctx, s.bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put object %s: %w", objectName, err)
	}
	return s.URL(objectName), nil
}

func (s *Store) URL(objectName string) string {
	return s.baseURL + "/" + s.bucket + "/" + strings.TrimLeft(objectName, "/")
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}
