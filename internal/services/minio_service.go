package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ReportArchive stores generated reports and invoices in object storage.
type ReportArchive interface {
	ArchiveJSON(ctx context.Context, objectName string, v any) error
	ArchiveBytes(ctx context.Context, objectName string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	EnsureBucketExists(ctx context.Context) error
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

type minioArchive struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func NewMinioArchive(cfg MinioConfig, logger *slog.Logger) (ReportArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &minioArchive{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (m *minioArchive) ArchiveJSON(ctx context.Context, objectName string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", objectName, err)
	}
	return m.ArchiveBytes(ctx, objectName, data, "application/json")
}

func (m *minioArchive) ArchiveBytes(ctx context.Context, objectName string, data []byte, contentType string) error {
	info, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectName, err)
	}
	m.logger.Debug("archived object", "bucket", m.bucket, "object", objectName, "size", info.Size)
	return nil
}

func (m *minioArchive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (m *minioArchive) EnsureBucketExists(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !found {
		return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Object paths.

func UsageReportObject(tenantID string, periodEnd time.Time) string {
	return fmt.Sprintf("reports/usage/%s/%s.json", tenantID, periodEnd.UTC().Format("2006-01-02"))
}

func QuarterlyReportObject(year, quarter int) string {
	return fmt.Sprintf("reports/quarterly/%d-Q%d.json", year, quarter)
}

func InvoiceObject(tenantID, invoiceNumber, ext string) string {
	return fmt.Sprintf("invoices/%s/%s.%s", tenantID, invoiceNumber, ext)
}
