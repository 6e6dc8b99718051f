package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	errNoSubject   = errors.New("auth: token has no subject")
	errUnknownRole = errors.New("auth: token carries an unknown role")
)

// TokenValidator checks the registered claims of a parsed token plus the
// role claim this service relies on for authorization.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	// Roles lists accepted role claim values. Empty accepts any role.
	Roles []string
}

func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	switch {
	case algorithm == "":
		return errors.New("auth: token missing algorithm")
	case v.Algorithm != "" && algorithm != v.Algorithm:
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(max(v.ClockSkew, 0)),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithValidator(jwt.ValidatorFunc(v.subjectAndRole)),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	return jwt.Validate(tok, opts...)
}

func (v TokenValidator) subjectAndRole(_ context.Context, tok jwt.Token) jwt.ValidationError {
	if tok.Subject() == "" {
		return jwt.NewValidationError(errNoSubject)
	}
	if len(v.Roles) == 0 {
		return nil
	}
	role := roleOf(tok)
	if role != "" && !slices.Contains(v.Roles, role) {
		return jwt.NewValidationError(fmt.Errorf("%w: %q", errUnknownRole, role))
	}
	return nil
}

// roleOf returns the role claim or "" when absent or not a string.
func roleOf(tok jwt.Token) string {
	raw, ok := tok.Get(roleClaim)
	if !ok {
		return ""
	}
	role, _ := raw.(string)
	return role
}
