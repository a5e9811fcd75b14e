package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/metrics"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store writes each document as a JSON object under documents/<id>.json.
type S3Store struct {
	client   *minio.Client
	bucket   string
	region   string
	logger   *zap.Logger
	initOnce sync.Once
	initErr  error
}

func NewS3Store(cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
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
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: bucket, region: region, logger: logger}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Store) Create(ctx context.Context, title, content string) (Document, error) {
	doc, err := newDocument(title, content)
	if err != nil {
		return Document{}, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Document{}, fmt.Errorf("ensure bucket: %w", err)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return Document{}, err
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectKey(doc.ID), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"title": doc.Title,
			"kind":  doc.Kind,
		},
	})
	if err != nil {
		metrics.DocumentsStored.WithLabelValues("s3", "error").Inc()
		return Document{}, fmt.Errorf("put document: %w", err)
	}
	metrics.DocumentsStored.WithLabelValues("s3", "success").Inc()
	s.logger.Debug("Stored document", zap.String("id", doc.ID), zap.String("bucket", s.bucket))
	return doc, nil
}

func (s *S3Store) Get(ctx context.Context, id string) (Document, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return Document{}, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return Document{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func objectKey(id string) string {
	return "documents/" + strings.TrimSpace(id) + ".json"
}
