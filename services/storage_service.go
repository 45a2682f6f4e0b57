package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"societyapp/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StoredObject результат загрузки документа
type StoredObject struct {
	URL      string
	ObjectID string
}

// Storage сохраняет сгенерированные документы (квитанции, отчеты)
type Storage interface {
	Upload(ctx context.Context, folder, name, contentType string, data []byte) (*StoredObject, error)
}

// s3API подмножество клиента S3, которое используется сервисом
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage хранит документы в S3-совместимом бакете
type S3Storage struct {
	client        s3API
	bucket        string
	publicBaseURL string
}

// NewS3Storage создает клиент S3 из конфигурации
func NewS3Storage(ctx context.Context, cfg *config.Config) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.Region),
	}
	if cfg.Storage.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			"",
		)))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Storage(client, cfg), nil
}

func newS3Storage(client s3API, cfg *config.Config) *S3Storage {
	base := strings.TrimRight(cfg.Storage.PublicBaseURL, "/")
	if base == "" {
		if cfg.Storage.Endpoint != "" {
			base = strings.TrimRight(cfg.Storage.Endpoint, "/") + "/" + cfg.Storage.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Storage.Bucket, cfg.Storage.Region)
		}
	}
	return &S3Storage{
		client:        client,
		bucket:        cfg.Storage.Bucket,
		publicBaseURL: base,
	}
}

// Upload кладет документ в папку бакета и возвращает публичную ссылку
func (s *S3Storage) Upload(ctx context.Context, folder, name, contentType string, data []byte) (*StoredObject, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("пустой документ %s", name)
	}
	key := path.Join(folder, name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to bucket %s: %w", key, s.bucket, err)
	}

	return &StoredObject{
		URL:      s.publicBaseURL + "/" + key,
		ObjectID: key,
	}, nil
}
