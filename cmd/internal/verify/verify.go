// Package verify issues and checks short-lived email verification codes.
//
// A code is six digits, valid for ten minutes, stored only as an Argon2id hash, and consumed on
// first successful use. Issuing a new code for an email replaces the previous one.
package verify

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/security/secret"
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 5
	codeDigits         = 6
)

// Record is a stored verification code.
type Record struct {
	Email      string
	CodeHash   string
	Attempts   int
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Store persists one live code per email.
type Store interface {
	// Put replaces any code stored for r.Email.
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, email string) (Record, error)
	// RecordFailure increments attempts and returns the updated record.
	RecordFailure(ctx context.Context, email string) (Record, error)
	// Consume marks the code consumed iff it is unconsumed and still hashes to codeHash.
	Consume(ctx context.Context, email, codeHash string, at time.Time) error
}

// CodeSender delivers a plain code to its recipient.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string, expiresAt time.Time)
}

var (
	ErrInvalidInput error = apperr.Error{Op: "verify", Kind: apperr.ErrValidation, Msg: "invalid input"}
	ErrNotFound     error = apperr.Error{Op: "verify", Kind: apperr.ErrNotFound, Msg: "verification code not found"}
	ErrInvalidCode  error = apperr.Error{Op: "verify", Kind: apperr.ErrValidation, Msg: "invalid or expired verification code"}
	ErrTooManyTries error = apperr.Error{Op: "verify", Kind: apperr.ErrValidation, Msg: "too many verification attempts"}
)

// Service issues and verifies codes.
type Service struct {
	store       Store
	sender      CodeSender
	hasher      secret.Hasher
	log         *slog.Logger
	now         func() time.Time
	ttl         time.Duration
	maxAttempts int
	newCode     func() (string, error)
}

// Option configures the Service.
type Option func(*Service) error

// WithTTL sets the code lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.ttl = d
		return nil
	}
}

// WithMaxAttempts sets how many wrong codes are tolerated.
func WithMaxAttempts(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		s.maxAttempts = n
		return nil
	}
}

// WithHasher overrides the Argon2id parameters.
func WithHasher(h secret.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithCodeGenerator overrides the six-digit generator (tests).
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) error {
		if gen == nil {
			return ErrInvalidInput
		}
		s.newCode = gen
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return ErrInvalidInput
		}
		s.log = log
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, sender CodeSender, opts ...Option) (*Service, error) {
	if store == nil || sender == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:       store,
		sender:      sender,
		hasher:      secret.NewHasher(),
		log:         slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		newCode:     randomDigits,
	}
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

// Issue creates a fresh code for email, replacing any previous one, and hands it to the sender.
func (s *Service) Issue(ctx context.Context, email string) (time.Time, error) {
	if s == nil || s.store == nil {
		return time.Time{}, ErrInvalidInput
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return time.Time{}, err
	}

	code, err := s.newCode()
	if err != nil {
		return time.Time{}, err
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return time.Time{}, err
	}

	now := s.now()
	rec := Record{
		Email:     email,
		CodeHash:  hash,
		Attempts:  0,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return time.Time{}, err
	}

	s.sender.SendCode(context.WithoutCancel(ctx), email, code, rec.ExpiresAt)
	s.log.Info("verify.code.issued", "expires_at", rec.ExpiresAt)
	return rec.ExpiresAt, nil
}

// Verify consumes the code for email. Wrong codes count against the attempt limit.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if len(code) != codeDigits {
		return ErrInvalidCode
	}

	rec, err := s.store.Get(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return ErrInvalidCode
		}
		return err
	}
	now := s.now()
	if rec.ConsumedAt != nil || !now.Before(rec.ExpiresAt) {
		return ErrInvalidCode
	}
	if rec.Attempts >= s.maxAttempts {
		return ErrTooManyTries
	}

	ok, err := s.hasher.Verify(rec.CodeHash, code)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.store.RecordFailure(ctx, email); err != nil {
			return err
		}
		s.log.Info("verify.code.mismatch", "attempts", rec.Attempts+1)
		return ErrInvalidCode
	}

	if err := s.store.Consume(ctx, email, rec.CodeHash, now); err != nil {
		if apperr.IsNotFound(err) {
			return ErrInvalidCode
		}
		return err
	}
	s.log.Info("verify.code.consumed")
	return nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 254 {
		return "", apperr.New("verify", apperr.ErrValidation, "a valid email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", apperr.New("verify", apperr.ErrValidation, "a valid email is required")
	}
	return strings.ToLower(addr.Address), nil
}

func randomDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
