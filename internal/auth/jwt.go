// Package auth verifies storefront session tokens and exposes the caller to handlers.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
)

const userKey = "auth.user"

// User is the authenticated caller.
type User struct {
	ID    string
	Email string
}

var (
	// ErrTokenMissing is returned when no bearer token is present.
	ErrTokenMissing = errors.New("auth: bearer token missing")
	// ErrTokenInvalid is returned for tokens that fail verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Verifier checks HS256 session tokens issued by the storefront.
type Verifier struct {
	secret  []byte
	issuer  string
	nowFunc func() time.Time
}

// NewVerifier returns a Verifier. An empty issuer skips the iss check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), nowFunc: time.Now}
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses token and returns its subject as the user.
func (v *Verifier) Verify(token string) (User, error) {
	if strings.TrimSpace(token) == "" {
		return User{}, ErrTokenMissing
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	var c claims
	_, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return v.secret, nil })
	if err != nil {
		return User{}, errors.Join(ErrTokenInvalid, err)
	}
	if v.issuer != "" && !c.VerifyIssuer(v.issuer, true) {
		return User{}, errors.Join(ErrTokenInvalid, errors.New("issuer mismatch"))
	}
	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return User{}, errors.Join(ErrTokenInvalid, errors.New("subject missing"))
	}
	return User{ID: sub, Email: c.Email}, nil
}

// Issue signs a token for userID. Used by tooling and tests; the storefront issues real
// sessions.
func (v *Verifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := v.nowFunc()
	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token. onError writes the response.
func (v *Verifier) Middleware(onError func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			onError(c, apperr.Wrap(apperr.KindAuth, apperr.CodeUnauthenticated, "sign in required", ErrTokenMissing))
			c.Abort()
			return
		}
		user, err := v.Verify(token)
		if err != nil {
			onError(c, apperr.Wrap(apperr.KindAuth, apperr.CodeUnauthenticated, "session is invalid or expired", err))
			c.Abort()
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by Middleware.
func CurrentUser(c *gin.Context) (User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}

func bearer(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
