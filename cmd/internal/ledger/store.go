package ledger

import (
	"context"
	"time"
)

// Store is the credential surface used by order admission.
// Implementations run on the caller's transaction when one is in progress.
type Store interface {
	GetByCode(ctx context.Context, code string) (Credential, error)
	// ConsumeOrderSlot increments used orders iff used < max and returns the updated credential.
	// It returns ErrQuotaExceeded when no slot is left and ErrNotFound for unknown ids.
	// The stored status is left untouched.
	ConsumeOrderSlot(ctx context.Context, credentialID string) (Credential, error)
}

// AdminStore adds the administration operations.
type AdminStore interface {
	Store
	GetByID(ctx context.Context, id string) (Credential, error)
	CreateBatch(ctx context.Context, b Batch) (Batch, error)
	GetBatch(ctx context.Context, id string) (Batch, error)
	// CreateCredentials inserts every credential or none of them.
	CreateCredentials(ctx context.Context, creds []Credential) error
	CancelByCode(ctx context.Context, code string) (Credential, error)
	RefreshStatuses(ctx context.Context, now time.Time) (RefreshResult, error)
}
