package memstore

import (
	"context"
	"slices"
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/ledger"
)

type ledgerStore struct{ s *Store }

// ledgerView implements ledger.Store over one state (live or transactional).
type ledgerView struct{ st *state }

func (v ledgerView) withDeadline(c ledger.Credential) ledger.Credential {
	c.BatchDeadline = v.st.batches[c.BatchID].Deadline
	c.AllowedVariantIDs = slices.Clone(c.AllowedVariantIDs)
	return c
}

func (v ledgerView) GetByCode(ctx context.Context, code string) (ledger.Credential, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Credential{}, err
	}
	id, ok := v.st.codes[strings.TrimSpace(code)]
	if !ok {
		return ledger.Credential{}, ledger.ErrNotFound
	}
	return v.withDeadline(v.st.creds[id]), nil
}

func (v ledgerView) getByID(id string) (ledger.Credential, error) {
	c, ok := v.st.creds[strings.TrimSpace(id)]
	if !ok {
		return ledger.Credential{}, ledger.ErrNotFound
	}
	return v.withDeadline(c), nil
}

func (v ledgerView) ConsumeOrderSlot(ctx context.Context, credentialID string) (ledger.Credential, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Credential{}, err
	}
	c, ok := v.st.creds[credentialID]
	if !ok {
		return ledger.Credential{}, ledger.ErrNotFound
	}
	if c.UsedOrders >= c.MaxOrders {
		return ledger.Credential{}, ledger.ErrQuotaExceeded
	}
	c.UsedOrders++
	v.st.creds[c.ID] = c
	return v.withDeadline(c), nil
}

func (l *ledgerStore) GetByCode(ctx context.Context, code string) (out ledger.Credential, err error) {
	err = l.s.locked(func(st *state) error {
		out, err = ledgerView{st}.GetByCode(ctx, code)
		return err
	})
	return out, err
}

func (l *ledgerStore) GetByID(ctx context.Context, id string) (out ledger.Credential, err error) {
	err = l.s.locked(func(st *state) error {
		out, err = ledgerView{st}.getByID(id)
		return err
	})
	return out, err
}

func (l *ledgerStore) ConsumeOrderSlot(ctx context.Context, credentialID string) (out ledger.Credential, err error) {
	err = l.s.inTx(func(st *state) error {
		out, err = ledgerView{st}.ConsumeOrderSlot(ctx, credentialID)
		return err
	})
	return out, err
}

func (l *ledgerStore) CreateBatch(ctx context.Context, b ledger.Batch) (ledger.Batch, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Batch{}, err
	}
	if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Name) == "" || b.Deadline.IsZero() {
		return ledger.Batch{}, ledger.ErrInvalidInput
	}
	if b.Status == "" {
		b.Status = ledger.BatchActive
	}
	err := l.s.inTx(func(st *state) error {
		if _, dup := st.batches[b.ID]; dup {
			return apperr.New("ledger.CreateBatch", apperr.ErrConflict, "resource already exists")
		}
		st.batches[b.ID] = b
		return nil
	})
	if err != nil {
		return ledger.Batch{}, err
	}
	return b, nil
}

func (l *ledgerStore) GetBatch(ctx context.Context, id string) (out ledger.Batch, err error) {
	err = l.s.locked(func(st *state) error {
		b, ok := st.batches[strings.TrimSpace(id)]
		if !ok {
			return ledger.ErrBatchNotFound
		}
		out = b
		return nil
	})
	return out, err
}

func (l *ledgerStore) CreateCredentials(ctx context.Context, creds []ledger.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(creds) == 0 {
		return ledger.ErrInvalidInput
	}
	return l.s.inTx(func(st *state) error {
		for _, c := range creds {
			if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Code) == "" || c.MaxOrders <= 0 || c.MaxItemsPerOrder <= 0 {
				return ledger.ErrInvalidInput
			}
			if _, ok := st.batches[c.BatchID]; !ok {
				return apperr.New("ledger.CreateCredentials", apperr.ErrNotFound, "referenced resource does not exist")
			}
			if _, dup := st.codes[c.Code]; dup {
				return apperr.New("ledger.CreateCredentials", apperr.ErrConflict, "resource already exists: uq_invitation_credentials_code")
			}
			if _, dup := st.creds[c.ID]; dup {
				return apperr.New("ledger.CreateCredentials", apperr.ErrConflict, "resource already exists")
			}
			c.Status = ledger.CredentialActive
			c.UsedOrders = 0
			c.AllowedVariantIDs = slices.Clone(c.AllowedVariantIDs)
			c.BatchDeadline = time.Time{}
			st.creds[c.ID] = c
			st.codes[c.Code] = c.ID
		}
		return nil
	})
}

func (l *ledgerStore) CancelByCode(ctx context.Context, code string) (out ledger.Credential, err error) {
	if err := ctx.Err(); err != nil {
		return ledger.Credential{}, err
	}
	err = l.s.inTx(func(st *state) error {
		id, ok := st.codes[strings.TrimSpace(code)]
		if !ok {
			return ledger.ErrNotFound
		}
		c := st.creds[id]
		if c.Status == ledger.CredentialCancelled {
			return ledger.ErrNotCancellable
		}
		c.Status = ledger.CredentialCancelled
		st.creds[id] = c
		out = ledgerView{st}.withDeadline(c)
		return nil
	})
	return out, err
}

func (l *ledgerStore) RefreshStatuses(ctx context.Context, now time.Time) (res ledger.RefreshResult, err error) {
	if err := ctx.Err(); err != nil {
		return ledger.RefreshResult{}, err
	}
	err = l.s.inTx(func(st *state) error {
		for id, c := range st.creds {
			if c.Status != ledger.CredentialActive && c.Status != ledger.CredentialUsedUp {
				continue
			}
			if st.batches[c.BatchID].Deadline.Before(now) {
				c.Status = ledger.CredentialExpired
				st.creds[id] = c
				res.ExpiredCredentials++
			}
		}
		for id, c := range st.creds {
			if c.Status == ledger.CredentialActive && c.UsedOrders >= c.MaxOrders {
				c.Status = ledger.CredentialUsedUp
				st.creds[id] = c
				res.UsedUpCredentials++
			}
		}
		for id, b := range st.batches {
			if b.Status == ledger.BatchActive && b.Deadline.Before(now) {
				b.Status = ledger.BatchExpired
				st.batches[id] = b
				res.ExpiredBatches++
			}
		}
		return nil
	})
	return res, err
}
