package engagement

import (
	"context"
	"fmt"
	"time"

	"sitevisit_backend/internal/adapters/storage"

	"github.com/google/uuid"
)

// Archiver keeps a copy of raw webhook bodies for audit.
type Archiver interface {
	Archive(ctx context.Context, body []byte, receivedAt time.Time) (string, error)
}

// NoopArchiver discards payloads.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, []byte, time.Time) (string, error) { return "", nil }

// ObjectArchiver writes payloads to object storage under
// webhook-payloads/<yyyy-mm-dd>/<uuid>.json.
type ObjectArchiver struct {
	store  storage.StorageService
	bucket string
}

func NewObjectArchiver(store storage.StorageService, bucket string) *ObjectArchiver {
	return &ObjectArchiver{store: store, bucket: bucket}
}

func (a *ObjectArchiver) Archive(ctx context.Context, body []byte, receivedAt time.Time) (string, error) {
	key := fmt.Sprintf("webhook-payloads/%s/%s.json", receivedAt.UTC().Format("2006-01-02"), uuid.New())
	if err := a.store.PutObject(ctx, a.bucket, key, "application/json", body); err != nil {
		return "", err
	}
	return key, nil
}
