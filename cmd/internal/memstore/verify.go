package memstore

import (
	"context"
	"time"

	"kiln/cmd/internal/verify"
)

type verifyStore struct{ s *Store }

func (v *verifyStore) Put(ctx context.Context, r verify.Record) error {
	if r.Email == "" || r.CodeHash == "" {
		return verify.ErrInvalidInput
	}
	return v.s.inTx(func(st *state) error {
		r.Attempts = 0
		r.ConsumedAt = nil
		st.verify[r.Email] = r
		return nil
	})
}

func (v *verifyStore) Get(ctx context.Context, email string) (out verify.Record, err error) {
	err = v.s.locked(func(st *state) error {
		r, ok := st.verify[email]
		if !ok {
			return verify.ErrNotFound
		}
		out = r
		return nil
	})
	return out, err
}

func (v *verifyStore) RecordFailure(ctx context.Context, email string) (out verify.Record, err error) {
	err = v.s.inTx(func(st *state) error {
		r, ok := st.verify[email]
		if !ok {
			return verify.ErrNotFound
		}
		r.Attempts++
		st.verify[email] = r
		out = r
		return nil
	})
	return out, err
}

func (v *verifyStore) Consume(ctx context.Context, email, codeHash string, at time.Time) error {
	return v.s.inTx(func(st *state) error {
		r, ok := st.verify[email]
		if !ok || r.ConsumedAt != nil || r.CodeHash != codeHash {
			return verify.ErrNotFound
		}
		consumed := at
		r.ConsumedAt = &consumed
		st.verify[email] = r
		return nil
	})
}
