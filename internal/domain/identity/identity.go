package identity

import (
	"context"
	"errors"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrUnknownIssuer = errors.New("unknown token issuer")
	ErrTokenExpired  = errors.New("token expired")
)

// ParticipantIdentity is the verified identity of a calling participant.
type ParticipantIdentity struct {
	ID     string
	Claims map[string]string
}

// VerificationContext constrains what a presented token must carry.
type VerificationContext struct {
	Audience string
	Scope    string
}

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_identity.go -package=mocks . TokenVerifier,TokenIssuer
type TokenVerifier interface {
	Verify(ctx context.Context, token string, vc VerificationContext) (*ParticipantIdentity, error)
}

// TokenIssuer mints the token attached to outbound protocol messages.
type TokenIssuer interface {
	Issue(ctx context.Context, audience string) (string, error)
}
