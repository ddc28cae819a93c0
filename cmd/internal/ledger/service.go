package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/ids"
)

const (
	maxBatchNameLen  = 128
	maxIssuePerCall  = 1000
	maxCodeGenerated = 64
)

// CreateBatchInput describes batch creation.
type CreateBatchInput struct {
	Name     string
	Deadline time.Time
	Now      time.Time
}

// IssueInput describes credential issuance for one batch.
type IssueInput struct {
	BatchID           string
	Count             int
	MaxOrders         int
	MaxItemsPerOrder  int
	AllowedVariantIDs []string
	Now               time.Time
}

// Service administers batches and credentials.
type Service struct {
	store   AdminStore
	newCode CodeGenerator
}

// Option configures the Service.
type Option func(*Service) error

// WithCodeGenerator overrides the invitation code supplier.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *Service) error {
		if gen == nil {
			return ErrInvalidInput
		}
		s.newCode = gen
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store AdminStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, newCode: RandomCode}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateBatch opens a new collection window.
func (s *Service) CreateBatch(ctx context.Context, in CreateBatchInput) (Batch, error) {
	if s == nil || s.store == nil {
		return Batch{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxBatchNameLen {
		return Batch{}, apperr.New("ledger.CreateBatch", apperr.ErrValidation, "name is required (max 128 chars)")
	}
	if in.Deadline.IsZero() || !in.Deadline.After(now) {
		return Batch{}, apperr.New("ledger.CreateBatch", apperr.ErrValidation, "deadline must be in the future")
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Batch{}, err
	}
	return s.store.CreateBatch(ctx, Batch{
		ID:        id,
		Name:      name,
		Deadline:  in.Deadline.UTC(),
		Status:    BatchActive,
		CreatedAt: now,
	})
}

// IssueCredentials mints Count credentials for a batch and returns them with their codes.
// Generated codes that repeat within the call are redrawn; a clash with an existing code
// fails the whole call with a conflict.
func (s *Service) IssueCredentials(ctx context.Context, in IssueInput) ([]Credential, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	const op = "ledger.IssueCredentials"
	if in.Count <= 0 || in.Count > maxIssuePerCall {
		return nil, apperr.New(op, apperr.ErrValidation, "count must be between 1 and 1000")
	}
	if in.MaxOrders <= 0 || in.MaxItemsPerOrder <= 0 {
		return nil, apperr.New(op, apperr.ErrValidation, "maxOrders and maxItemsPerOrder must be positive")
	}
	allowed, err := normalizeVariantIDs(in.AllowedVariantIDs)
	if err != nil {
		return nil, apperr.New(op, apperr.ErrValidation, err.Error())
	}

	batch, err := s.store.GetBatch(ctx, in.BatchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != BatchActive || batch.Deadline.Before(now) {
		return nil, apperr.New(op, apperr.ErrValidation, "batch is no longer accepting credentials")
	}

	seen := make(map[string]struct{}, in.Count)
	out := make([]Credential, 0, in.Count)
	for len(out) < in.Count {
		code, err := s.uniqueCode(seen)
		if err != nil {
			return nil, err
		}
		id, err := ids.NewULID(now)
		if err != nil {
			return nil, err
		}
		out = append(out, Credential{
			ID:                id,
			Code:              code,
			BatchID:           batch.ID,
			MaxOrders:         in.MaxOrders,
			MaxItemsPerOrder:  in.MaxItemsPerOrder,
			AllowedVariantIDs: allowed,
			Status:            CredentialActive,
			UsedOrders:        0,
			CreatedAt:         now,
			BatchDeadline:     batch.Deadline,
		})
	}

	if err := s.store.CreateCredentials(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) uniqueCode(seen map[string]struct{}) (string, error) {
	for i := 0; i < maxCodeGenerated; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return "", errors.New("ledger: code generator returned an empty code")
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		return code, nil
	}
	return "", apperr.New("ledger.IssueCredentials", apperr.ErrConflict, "code generator keeps repeating codes")
}

// Lookup returns the credential for code.
func (s *Service) Lookup(ctx context.Context, code string) (Credential, error) {
	if s == nil || s.store == nil {
		return Credential{}, ErrInvalidInput
	}
	return s.store.GetByCode(ctx, code)
}

// Cancel withdraws a credential; later admissions with its code fail as invalid.
func (s *Service) Cancel(ctx context.Context, code string) (Credential, error) {
	if s == nil || s.store == nil {
		return Credential{}, ErrInvalidInput
	}
	if strings.TrimSpace(code) == "" {
		return Credential{}, ErrInvalidInput
	}
	return s.store.CancelByCode(ctx, code)
}

// RefreshStatuses recomputes the cached statuses at now.
func (s *Service) RefreshStatuses(ctx context.Context, now time.Time) (RefreshResult, error) {
	if s == nil || s.store == nil {
		return RefreshResult{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.RefreshStatuses(ctx, now)
}

func normalizeVariantIDs(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("allowed variant ids must be non-empty")
		}
		if strings.ContainsAny(id, ",{}\"") {
			return nil, errors.New("allowed variant ids contain reserved characters")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one allowed variant id is required")
	}
	return out, nil
}
