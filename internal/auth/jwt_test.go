package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "storefront")
	token, err := v.Issue("u1", "a@example.com", time.Hour)
	require.NoError(t, err)

	user, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, User{ID: "u1", Email: "a@example.com"}, user)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", "storefront")

	expired, err := v.Issue("u1", "", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.ErrorIs(t, err, ErrTokenInvalid)

	other, err := NewVerifier("other", "storefront").Issue("u1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	require.ErrorIs(t, err, ErrTokenInvalid)

	wrongIssuer, err := NewVerifier("secret", "elsewhere").Issue("u1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	require.ErrorIs(t, err, ErrTokenInvalid)

	noSubject, err := v.Issue("", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(noSubject)
	require.ErrorIs(t, err, ErrTokenInvalid)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(none)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = v.Verify("")
	require.ErrorIs(t, err, ErrTokenMissing)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier("secret", "")

	var gotErr error
	r := gin.New()
	r.GET("/me", v.Middleware(func(c *gin.Context, err error) {
		gotErr = err
		c.JSON(apperr.KindOf(err).HTTPStatus(), gin.H{"error": apperr.CodeOf(err)})
	}), func(c *gin.Context) {
		u, ok := CurrentUser(c)
		require.True(t, ok)
		c.String(http.StatusOK, u.ID)
	})

	token, err := v.Issue("u42", "", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u42", w.Body.String())

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer not.a.jwt"} {
		gotErr = nil
		w = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code, header)
		require.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(gotErr))
	}
}
