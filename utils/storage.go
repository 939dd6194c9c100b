// utils/storage.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	appcfg "lexicard-progression/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var storageClient *s3.Client
var storageBucket string
var cdnBaseURL string

// InitStorage configures the S3-compatible client used for certificate PDFs.
func InitStorage(cfg appcfg.AppConfig) error {
	storageBucket = cfg.StorageBucket
	cdnBaseURL = cfg.CDNBaseURL
	if cdnBaseURL == "" {
		cdnBaseURL = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.StorageAccountID)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.StorageAccountID)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey, cfg.StorageAccessSecret, "",
		)),
	)
	if err != nil {
		return fmt.Errorf("failed to load storage config: %w", err)
	}

	storageClient = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return nil
}

// UploadBytes uploads a document to object storage and returns the public URL.
// key is the object key (e.g. "certificates/<tree>/<user>.pdf")
func UploadBytes(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if storageClient == nil {
		return "", fmt.Errorf("storage client not initialized")
	}

	_, err := storageClient.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(storageBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return fmt.Sprintf("%s/%s", cdnBaseURL, key), nil
}

// CertificateKey is the deterministic object key for a completion certificate,
// so the reference can be handed out before the upload has happened.
func CertificateKey(treeID, userID string) string {
	return fmt.Sprintf("certificates/%s/%s.pdf", treeID, userID)
}

// CertificateURL returns the public URL for a certificate object key.
func CertificateURL(treeID, userID string) string {
	return fmt.Sprintf("%s/%s", cdnBaseURL, CertificateKey(treeID, userID))
}
