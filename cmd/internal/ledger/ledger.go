// Package ledger owns invitation credentials and the collection batches they belong to.
//
// A credential grants a bounded number of orders (and items per order) against an allow-list of
// catalog variants until its batch deadline. The admission path only reads credentials and
// consumes order slots through Store; administration (batches, issuance, cancellation and the
// status refresh) goes through Service.
package ledger

import (
	"slices"
	"time"
)

// CredentialStatus is the stored status of a credential.
// It is a cached projection; admission re-checks the deadline and quota itself.
type CredentialStatus string

const (
	CredentialActive    CredentialStatus = "active"
	CredentialExpired   CredentialStatus = "expired"
	CredentialUsedUp    CredentialStatus = "used_up"
	CredentialCancelled CredentialStatus = "cancelled"
)

// BatchStatus is the status of a collection batch.
type BatchStatus string

const (
	BatchActive    BatchStatus = "active"
	BatchExpired   BatchStatus = "expired"
	BatchCompleted BatchStatus = "completed"
)

// Batch is a time-boxed collection window.
type Batch struct {
	ID        string
	Name      string
	Deadline  time.Time
	Status    BatchStatus
	CreatedAt time.Time
}

// Credential is an invitation credential joined with its batch deadline.
type Credential struct {
	ID                string
	Code              string
	BatchID           string
	MaxOrders         int
	MaxItemsPerOrder  int
	AllowedVariantIDs []string
	Status            CredentialStatus
	UsedOrders        int
	CreatedAt         time.Time

	BatchDeadline time.Time
}

// Allows reports whether variantID is on the credential's allow-list.
func (c Credential) Allows(variantID string) bool {
	return slices.Contains(c.AllowedVariantIDs, variantID)
}

// Expired reports whether the batch deadline has passed at now.
func (c Credential) Expired(now time.Time) bool {
	return c.BatchDeadline.Before(now)
}

// Exhausted reports whether every order slot has been consumed.
func (c Credential) Exhausted() bool {
	return c.UsedOrders >= c.MaxOrders
}

// Remaining returns the number of unconsumed order slots.
func (c Credential) Remaining() int {
	if n := c.MaxOrders - c.UsedOrders; n > 0 {
		return n
	}
	return 0
}

// RefreshResult counts rows touched by a status refresh.
type RefreshResult struct {
	ExpiredCredentials int
	UsedUpCredentials  int
	ExpiredBatches     int
}
