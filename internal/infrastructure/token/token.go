// Package token mints and verifies the participant tokens carried on DSP requests.
//
// A token is base64url(claims JSON) "." base64url(ed25519 signature of the first segment).
package token

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/dsp-connector/internal/domain/identity"
)

type Claims struct {
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	ID        string `json:"jti"`
	Scope     string `json:"scope,omitempty"`
}

// Issuer signs tokens for the local participant.
type Issuer struct {
	participantID string
	key           ed25519.PrivateKey
	ttl           time.Duration
	scope         string
	now           func() time.Time
}

type IssuerOption func(*Issuer)

func WithScope(scope string) IssuerOption {
	return func(i *Issuer) { i.scope = scope }
}

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(participantID string, key ed25519.PrivateKey, ttl time.Duration, opts ...IssuerOption) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	i := &Issuer{participantID: participantID, key: key, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) Issue(ctx context.Context, audience string) (string, error) {
	_ = ctx
	if len(i.key) != ed25519.PrivateKeySize {
		return "", errors.New("signing key not configured")
	}
	now := i.now().UTC()
	claims := Claims{
		Issuer:    i.participantID,
		Audience:  audience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
		ID:        uuid.NewString(),
		Scope:     i.scope,
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	sig := ed25519.Sign(i.key, []byte(payload))
	return payload + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// KeyResolver returns the public key registered for a participant.
type KeyResolver interface {
	PublicKey(ctx context.Context, participantID string) (ed25519.PublicKey, error)
}

// Verifier checks tokens presented by counterparties.
type Verifier struct {
	keys   KeyResolver
	leeway time.Duration
	now    func() time.Time
}

func NewVerifier(keys KeyResolver, leeway time.Duration) *Verifier {
	return &Verifier{keys: keys, leeway: leeway, now: time.Now}
}

// WithClock returns a copy of the verifier reading time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	c := *v
	c.now = now
	return &c
}

func (v *Verifier) Verify(ctx context.Context, token string, vc identity.VerificationContext) (*identity.ParticipantIdentity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	payload, sigPart, ok := strings.Cut(token, ".")
	if !ok || payload == "" || sigPart == "" {
		return nil, identity.ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding", identity.ErrInvalidToken)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", identity.ErrInvalidToken)
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims", identity.ErrInvalidToken)
	}
	if claims.Issuer == "" {
		return nil, fmt.Errorf("%w: missing issuer", identity.ErrInvalidToken)
	}

	key, err := v.keys.PublicKey(ctx, claims.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", identity.ErrUnknownIssuer, claims.Issuer)
	}
	if !ed25519.Verify(key, []byte(payload), sig) {
		return nil, fmt.Errorf("%w: signature", identity.ErrInvalidToken)
	}

	now := v.now().UTC()
	if now.After(time.Unix(claims.ExpiresAt, 0).Add(v.leeway)) {
		return nil, identity.ErrTokenExpired
	}
	if vc.Audience != "" && claims.Audience != vc.Audience {
		return nil, fmt.Errorf("%w: audience %q", identity.ErrInvalidToken, claims.Audience)
	}
	if vc.Scope != "" && claims.Scope != "" && !hasScope(claims.Scope, vc.Scope) {
		return nil, fmt.Errorf("%w: scope %q not granted", identity.ErrInvalidToken, vc.Scope)
	}

	return &identity.ParticipantIdentity{
		ID: claims.Issuer,
		Claims: map[string]string{
			"jti":   claims.ID,
			"aud":   claims.Audience,
			"scope": claims.Scope,
		},
	}, nil
}

// hasScope reports whether want is one of the space separated scopes; a trailing
// "*" grants every scope with that prefix.
func hasScope(granted, want string) bool {
	for _, s := range strings.Fields(granted) {
		if s == want {
			return true
		}
		if prefix, ok := strings.CutSuffix(s, "*"); ok && strings.HasPrefix(want, prefix) {
			return true
		}
	}
	return false
}
