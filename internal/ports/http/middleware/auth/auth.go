// Package auth guards the mutating endpoints with a bearer token. With a
// signing key configured the token signature is verified here, otherwise it
// is left to the gateway in front of the service and only the claims are
// validated.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/square/go-jose.v2/jwt"
)

type contextKey string

const subjectKey contextKey = "subject"

type JwtTokenParams struct {
	// Issuer and Audience are only checked when set.
	Issuer   string
	Audience string
	// SigningKey is the HMAC secret tokens are signed with.
	SigningKey []byte
}

type TokenValidator struct {
	JwtTokenParams
	logger *zap.Logger
}

func NewTokenValidator(logger *zap.Logger, params JwtTokenParams) TokenValidator {
	return TokenValidator{logger: logger, JwtTokenParams: params}
}

func (t TokenValidator) Validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			t.authError(w, errors.New("missing bearer token"))
			return
		}

		claims, err := parseToken(strings.TrimPrefix(header, "Bearer "), t.SigningKey)
		if err != nil {
			t.authError(w, errors.New("failed to parse the auth token: "+err.Error()))
			return
		}

		if err := t.validateClaims(claims); err != nil {
			t.authError(w, errors.New("auth token validation: "+err.Error()))
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject returns the token subject stored by Validate.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

func (t TokenValidator) authError(w http.ResponseWriter, err error) {
	t.logger.Warn(err.Error())
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(err.Error()))
}

func (t TokenValidator) validateClaims(claims jwt.Claims) error {
	expected := jwt.Expected{Issuer: t.Issuer, Time: time.Now()}
	if t.Audience != "" {
		expected.Audience = jwt.Audience{t.Audience}
	}
	return claims.ValidateWithLeeway(expected, jwt.DefaultLeeway)
}

func parseToken(tokenString string, key []byte) (jwt.Claims, error) {
	var claims jwt.Claims

	token, err := jwt.ParseSigned(tokenString)
	if err != nil {
		return claims, err
	}

	if len(key) == 0 {
		err = token.UnsafeClaimsWithoutVerification(&claims)
	} else {
		err = token.Claims(key, &claims)
	}
	if err != nil {
		return claims, err
	}

	return claims, nil
}
