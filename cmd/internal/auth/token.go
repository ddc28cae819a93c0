package auth

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is what a verified access token asserts.
type Claims struct {
	Principal
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Tokens verifies PASETO v4.public access tokens and, with a secret key, issues them.
type Tokens struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	public paseto.V4AsymmetricPublicKey
	secret *paseto.V4AsymmetricSecretKey
}

// NewTokens builds a verifier from cfg. A configured secret key enables Issue.
func NewTokens(cfg Config) (*Tokens, error) {
	t := &Tokens{
		issuer:    cfg.Issuer,
		ttl:       cfg.TokenTTL,
		clockSkew: cfg.ClockSkew,
	}
	if t.ttl <= 0 {
		t.ttl = DefaultConfig().TokenTTL
	}

	if cfg.SecretKeyHex != "" {
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		t.secret = &secret
		t.public = secret.Public()
	}

	if cfg.PublicKeyHex != "" {
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PublicKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		// A mismatched pair would issue tokens this process rejects.
		if t.secret != nil && public.ExportHex() != t.public.ExportHex() {
			return nil, ErrConfig
		}
		t.public = public
	}

	if t.secret == nil && cfg.PublicKeyHex == "" {
		return nil, ErrConfig
	}
	return t, nil
}

// PublicKeyHex returns the verification key.
func (t *Tokens) PublicKeyHex() string { return t.public.ExportHex() }

// CanIssue reports whether a secret key is loaded.
func (t *Tokens) CanIssue() bool { return t.secret != nil }

// Issue signs a token for p valid from now.
func (t *Tokens) Issue(p Principal, now time.Time) (string, time.Time, error) {
	if t.secret == nil {
		return "", time.Time{}, ErrNoIssuer
	}
	if strings.TrimSpace(p.UserID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	role, ok := ParseRole(string(p.Role))
	if !ok {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(t.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(t.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("uid", p.UserID)
	_ = tok.Set("role", string(role))

	return tok.V4Sign(*t.secret, nil), exp, nil
}

// Verify checks signature, issuer and validity window, then the uid and role claims.
func (t *Tokens) Verify(token string, now time.Time) (Claims, error) {
	// Validating slightly in the future tolerates a peer whose clock runs ahead.
	validNow := now.Add(t.clockSkew)

	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(t.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(t.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, ErrInvalidToken
	}
	rawRole, err := parsed.GetString("role")
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	role, ok := ParseRole(rawRole)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		Principal: Principal{UserID: uid, Role: role},
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
