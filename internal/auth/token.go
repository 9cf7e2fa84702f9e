// Package auth issues and verifies bearer session tokens, hashes passwords,
// and carries the authenticated identity through a request context.
//
// Tokens are HS256 JWTs with claims {userId, username, iat, exp, jti}. They
// are stateless: verification is a MAC check plus a clock comparison and
// never touches the credential store.
package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the token payload.
type Claims struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the verified subject of a token.
type Identity struct {
	UserID    uint
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

// TokenVerifier is the read side of TokenService, used by the HTTP guard.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// TokenService signs and verifies session tokens with a process-wide secret
// that is fixed at construction.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a TokenService.
type Option func(*TokenService)

// WithClock overrides the time source used for iat/exp and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService copies secret; later changes to the caller's slice have no
// effect.
func NewTokenService(secret []byte, ttl time.Duration, opts ...Option) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: token ttl must be > 0, got %s", ttl)
	}
	s := &TokenService{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// TTL returns the fixed token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for the given subject. expiresAt has second precision,
// matching the exp claim.
func (s *TokenService) Issue(userID uint, username string) (string, time.Time, error) {
	now := s.now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

var strictSegment = base64.RawURLEncoding.Strict()

// Verify checks the signature, then structure and claims, then expiry,
// stopping at the first failure.
//
// The MAC covers everything before the last '.', whatever it contains. Any
// edit to an issued token (including one that turns a character into '.')
// is therefore InvalidSignature. Malformed is left for input with fewer than
// two dots, which no edit of an issued token can produce, and for correctly
// signed tokens whose segments or claims are unusable.
func (s *TokenService) Verify(token string) (Identity, error) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 || strings.IndexByte(token[:i], '.') < 0 {
		return Identity{}, &TokenError{Kind: KindMalformed, Err: errors.New("token must have three segments")}
	}
	signingInput := token[:i]

	sig, err := strictSegment.DecodeString(token[i+1:])
	if err != nil {
		return Identity{}, &TokenError{Kind: KindInvalidSignature, Err: err}
	}
	if err := jwt.SigningMethodHS256.Verify(signingInput, sig, s.secret); err != nil {
		return Identity{}, &TokenError{Kind: KindInvalidSignature, Err: err}
	}

	if head, payload, ok := strings.Cut(signingInput, "."); !ok || head == "" || payload == "" || strings.Contains(payload, ".") {
		return Identity{}, &TokenError{Kind: KindMalformed, Err: errors.New("token must have three segments")}
	}

	var claims Claims
	_, err = jwt.ParseWithClaims(token, &claims, s.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, classify(err)
	}
	if claims.UserID == 0 {
		return Identity{}, &TokenError{Kind: KindMalformed, Err: errors.New("missing userId claim")}
	}

	return Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) key(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return s.secret, nil
}

func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: KindExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return &TokenError{Kind: KindInvalidSignature, Err: err}
	default:
		// malformed segments, bad JSON, missing exp, nbf/iat checks
		return &TokenError{Kind: KindMalformed, Err: err}
	}
}
