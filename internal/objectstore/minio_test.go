package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeObjects struct {
	exists    bool
	made      int
	policy    string
	putErr    error
	puts      []string
	putOpts   minio.PutObjectOptions
	existsErr error
}

func (f *fakeObjects) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeObjects) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func (f *fakeObjects) SetBucketPolicy(ctx context.Context, bucket, policy string) error {
	f.policy = policy
	return nil
}

func (f *fakeObjects) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	f.puts = append(f.puts, bucket+"/"+object+"<"+filePath)
	f.putOpts = opts
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func TestUploadCreatesBucketOnceAndReturnsURL(t *testing.T) {
	fake := &fakeObjects{}
	s := newStore(fake, Config{Endpoint: "minio:9000", Bucket: "doubts", PublicURL: "https://cdn.example.com/"})

	url, err := s.Upload(context.Background(), "/tmp/doubt-1.jpg", "doubts/42/a.jpg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.example.com/doubts/doubts/42/a.jpg" {
		t.Errorf("url = %q", url)
	}
	if _, err := s.Upload(context.Background(), "/tmp/doubt-2.jpg", "doubts/42/b.jpg"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if fake.made != 1 {
		t.Errorf("bucket created %d times, want 1", fake.made)
	}
	if !strings.Contains(fake.policy, "arn:aws:s3:::doubts/*") {
		t.Errorf("unexpected policy %q", fake.policy)
	}
	if len(fake.puts) != 2 || fake.puts[0] != "doubts/doubts/42/a.jpg</tmp/doubt-1.jpg" {
		t.Errorf("unexpected puts %v", fake.puts)
	}
	if fake.putOpts.ContentType != "image/jpeg" {
		t.Errorf("content type = %q", fake.putOpts.ContentType)
	}
}

func TestURLDefaultsToEndpoint(t *testing.T) {
	s := newStore(&fakeObjects{}, Config{Endpoint: "s3.local:9000", Bucket: "b", UseSSL: true})
	if got := s.URL("/x/y.jpg"); got != "https://s3.local:9000/b/x/y.jpg" {
		t.Errorf("URL = %q", got)
	}
}

func TestUploadErrors(t *testing.T) {
	fake := &fakeObjects{existsErr: errors.New("dial tcp: refused")}
	s := newStore(fake, Config{Endpoint: "minio:9000", Bucket: "doubts"})
	if _, err := s.Upload(context.Background(), "/tmp/x.jpg", "x.jpg"); err == nil {
		t.Fatal("expected bucket check error")
	}

	fake.existsErr = nil
	fake.exists = true
	fake.putErr = errors.New("access denied")
	if _, err := s.Upload(context.Background(), "/tmp/x.jpg", "x.jpg"); err == nil {
		t.Fatal("expected put error")
	}
}
