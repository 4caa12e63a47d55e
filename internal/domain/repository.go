package domain

import (
	"context"
)

// KeyValueMedium is a size-limited persistent key/value store.
// SetItem returns ErrQuotaExceeded when the medium has no room for the write.
type KeyValueMedium interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// IngredientHealthFetcher retrieves health information for an ingredient from the analysis endpoint
type IngredientHealthFetcher interface {
	FetchIngredientHealth(ctx context.Context, ingredient string) (*IngredientHealthInfo, error)
}

// RawRecord is one serialized report record as held by a backend
type RawRecord struct {
	ID    string
	Value string
}

// ReportBackend persists serialized report records under a key derived from the report id.
// Read returns ErrReportNotFound for a missing record; Delete of a missing record is not an error.
type ReportBackend interface {
	Name() string
	Probe(ctx context.Context) error
	Read(ctx context.Context, id string) (string, error)
	Write(ctx context.Context, id, record string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]RawRecord, error)
	DeleteAll(ctx context.Context) error
}
