package auth

import "errors"

// Kind classifies why a token failed verification. Kinds are internal: they
// feed logs and metrics, while clients always see one response.
type Kind int

const (
	KindMalformed Kind = iota + 1
	KindInvalidSignature
	KindExpired
)

// String returns a stable label usable in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TokenError is returned by TokenService.Verify.
type TokenError struct {
	Kind Kind
	Err  error // underlying parser error, if any
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "token " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "token " + e.Kind.String()
}

func (e *TokenError) Unwrap() error { return e.Err }

// Is matches any *TokenError of the same Kind, so the sentinels below work
// with errors.Is.
func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrMalformed        error = &TokenError{Kind: KindMalformed}
	ErrInvalidSignature error = &TokenError{Kind: KindInvalidSignature}
	ErrExpired          error = &TokenError{Kind: KindExpired}
)

// ErrNoSecret is returned when a TokenService is built without a key.
var ErrNoSecret = errors.New("auth: signing secret is empty")

// KindOf extracts the Kind of a verification error, or 0 if err is not a
// *TokenError.
func KindOf(err error) Kind {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}
