package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:  http.StatusBadRequest,
		KindAuth:        http.StatusUnauthorized,
		KindForbidden:   http.StatusForbidden,
		KindNotFound:    http.StatusNotFound,
		KindConflict:    http.StatusConflict,
		KindUpstream:    http.StatusBadGateway,
		KindPersistence: http.StatusInternalServerError,
		KindInternal:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), kind.String())
	}
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("dynamodb unavailable")
	err := fmt.Errorf("place order: %w", Persistence(CodeOrderPersistFailed, "could not save order", cause))

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, New(KindPersistence, CodeOrderPersistFailed, ""))
	require.NotErrorIs(t, err, New(KindPersistence, CodeItemsPersistFailed, ""))
	require.Equal(t, KindPersistence, KindOf(err))
	require.Equal(t, CodeOrderPersistFailed, CodeOf(err))
	require.Equal(t, KindInternal, KindOf(cause))
}

func TestWithDetailCopies(t *testing.T) {
	base := Validation(CodeDiscountRejected, "discount rejected")
	withReason := base.WithDetail("reason", "EXPIRED")

	require.Nil(t, base.Details)
	require.Equal(t, "EXPIRED", withReason.Details["reason"])
}
