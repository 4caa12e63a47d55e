package reportstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/infrastructure/kvstore"
	"go.uber.org/zap"
)

// KeyValueBackend stores each report under <prefix><id> in a quota-bounded key-value store
type KeyValueBackend struct {
	store  *kvstore.QuotaStore
	logger *zap.Logger
}

// NewKeyValueBackend creates a backend on top of store, using the store's evictable prefix
func NewKeyValueBackend(store *kvstore.QuotaStore, logger *zap.Logger) *KeyValueBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyValueBackend{store: store, logger: logger}
}

// Name identifies the backend in logs and metrics
func (b *KeyValueBackend) Name() string { return "keyvalue" }

// Probe always succeeds; the key-value store is the last-resort backend
func (b *KeyValueBackend) Probe(ctx context.Context) error { return nil }

func (b *KeyValueBackend) key(id string) string {
	return b.store.Prefix() + id
}

// Read returns the record for id
func (b *KeyValueBackend) Read(ctx context.Context, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	value, ok, err := b.store.Get(ctx, b.key(id))
	if err != nil {
		return "", fmt.Errorf("read report %s: %w", id, err)
	}
	if !ok {
		return "", domain.ErrReportNotFound
	}
	return value, nil
}

// Write stores the record, evicting old reports when over quota
func (b *KeyValueBackend) Write(ctx context.Context, id, record string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return b.store.Set(ctx, b.key(id), record)
}

// Delete removes the record for id
func (b *KeyValueBackend) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return b.store.Remove(ctx, b.key(id))
}

// List returns every report record. Entries that vanish or fail to read are skipped.
func (b *KeyValueBackend) List(ctx context.Context) ([]domain.RawRecord, error) {
	keys, err := b.store.ListKeys(ctx, b.store.Prefix())
	if err != nil {
		return nil, fmt.Errorf("list report keys: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(keys))
	for _, key := range keys {
		value, ok, err := b.store.Get(ctx, key)
		if err != nil {
			b.logger.Warn("error reading report record", zap.String("key", key), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		records = append(records, domain.RawRecord{ID: strings.TrimPrefix(key, b.store.Prefix()), Value: value})
	}
	return records, nil
}

// DeleteAll removes every report record, continuing past individual failures
func (b *KeyValueBackend) DeleteAll(ctx context.Context) error {
	keys, err := b.store.ListKeys(ctx, b.store.Prefix())
	if err != nil {
		return fmt.Errorf("list report keys: %w", err)
	}

	var errs []error
	for _, key := range keys {
		if err := b.store.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
