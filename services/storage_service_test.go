package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"societyapp/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	err   error
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func storageConfig(endpoint, publicURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Bucket = "society"
	cfg.Storage.Region = "ap-south-1"
	cfg.Storage.Endpoint = endpoint
	cfg.Storage.PublicBaseURL = publicURL
	return cfg
}

func TestS3Upload(t *testing.T) {
	client := &fakeS3{}
	storage := newS3Storage(client, storageConfig("", ""))

	obj, err := storage.Upload(context.Background(), "receipts", "r-1.xhtml", documentType, []byte("<html/>"))
	require.NoError(t, err)

	assert.Equal(t, "receipts/r-1.xhtml", obj.ObjectID)
	assert.Equal(t, "https://society.s3.ap-south-1.amazonaws.com/receipts/r-1.xhtml", obj.URL)
	assert.Equal(t, "society", aws.ToString(client.input.Bucket))
	assert.Equal(t, documentType, aws.ToString(client.input.ContentType))
	assert.Equal(t, []byte("<html/>"), client.body)
}

func TestS3PublicURL(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		publicURL string
		want      string
	}{
		{"custom endpoint", "http://minio:9000/", "", "http://minio:9000/society/reports/x.xhtml"},
		{"public base", "http://minio:9000", "https://cdn.society.test/", "https://cdn.society.test/reports/x.xhtml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := newS3Storage(&fakeS3{}, storageConfig(tt.endpoint, tt.publicURL))
			obj, err := storage.Upload(context.Background(), "reports", "x.xhtml", documentType, []byte("x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, obj.URL)
		})
	}
}

func TestS3UploadErrors(t *testing.T) {
	storage := newS3Storage(&fakeS3{err: errors.New("access denied")}, storageConfig("", ""))

	_, err := storage.Upload(context.Background(), "receipts", "r.xhtml", documentType, []byte("x"))
	assert.ErrorContains(t, err, "access denied")

	_, err = storage.Upload(context.Background(), "receipts", "r.xhtml", documentType, nil)
	assert.Error(t, err)
}
