// Package backup mirrors a day's finalized snapshot partitions into an
// object-storage bucket. It is a thin collaborator: the pipeline core
// never performs backup I/O itself.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/staywise/dwh-pipeline/pkg/storage"
)

// Config holds the object-storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Uploader copies snapshot partitions into the configured bucket as
// JSON objects, one object per partition.
type Uploader struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

func NewUploader(cfg Config, log *zap.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket, log: log}, nil
}

// BackupDay uploads every snapshot partition of the given day. Partition
// keys double as object keys, so restores are a straight copy back.
func (u *Uploader) BackupDay(ctx context.Context, store storage.Store, day time.Time) (int, error) {
	keys, err := store.List(ctx, storage.SnapshotDayPrefix(day))
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	uploaded := 0
	for _, key := range keys {
		records, err := store.Read(ctx, key)
		if err != nil {
			return uploaded, fmt.Errorf("read %s: %w", key, err)
		}
		payload, err := json.Marshal(records)
		if err != nil {
			return uploaded, fmt.Errorf("encode %s: %w", key, err)
		}
		_, err = u.client.PutObject(ctx, u.bucket, key+".json",
			bytes.NewReader(payload), int64(len(payload)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded++
		u.log.Info("snapshot partition backed up",
			zap.String("partition", key), zap.Int("records", len(records)))
	}
	return uploaded, nil
}
