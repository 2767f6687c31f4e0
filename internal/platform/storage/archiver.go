package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// WebhookArchiver persists raw gateway payloads to a Cloud Storage bucket so
// disputed or misapplied events can be audited and replayed.
type WebhookArchiver struct {
	client *gcs.Client
	bucket string
	prefix string
	clock  func() time.Time
}

// WebhookArchiverOption configures optional archiver behaviour.
type WebhookArchiverOption func(*WebhookArchiver)

// WithArchivePrefix overrides the object key prefix.
func WithArchivePrefix(prefix string) WebhookArchiverOption {
	return func(a *WebhookArchiver) {
		a.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	}
}

// WithArchiveClock overrides the clock used to partition object keys.
func WithArchiveClock(clock func() time.Time) WebhookArchiverOption {
	return func(a *WebhookArchiver) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewWebhookArchiver constructs an archiver writing to the given bucket.
func NewWebhookArchiver(client *gcs.Client, bucket string, opts ...WebhookArchiverOption) (*WebhookArchiver, error) {
	if client == nil {
		return nil, errors.New("webhook archiver: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("webhook archiver: bucket is required")
	}

	archiver := &WebhookArchiver{
		client: client,
		bucket: bucket,
		prefix: "webhooks",
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(archiver)
	}
	return archiver, nil
}

// ArchivePayload writes the payload under a date-partitioned key. Objects are
// keyed by provider and event id, so redelivered events overwrite their own
// copy instead of accumulating.
func (a *WebhookArchiver) ArchivePayload(ctx context.Context, provider, eventID string, payload []byte) error {
	if a == nil || a.client == nil {
		return errors.New("webhook archiver: not initialised")
	}
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		return errors.New("webhook archiver: provider is required")
	}
	if len(payload) == 0 {
		return errors.New("webhook archiver: payload is empty")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		eventID = fmt.Sprintf("unkeyed-%d", a.clock().UTC().UnixNano())
	}

	now := a.clock().UTC()
	object := fmt.Sprintf("%s/%s/%s/%s.json", a.prefix, provider, now.Format("2006/01/02"), sanitizeObjectComponent(eventID))

	writer := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return fmt.Errorf("webhook archiver: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("webhook archiver: close %s: %w", object, err)
	}
	return nil
}

func sanitizeObjectComponent(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
