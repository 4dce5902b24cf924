package validation

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// Failures come back as *apperr.Error with a per-field "fields" detail for the caller to render.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, "request body is not valid JSON", err)
	}

	if err := v.Struct(out); err != nil {
		return apperr.Wrap(apperr.KindValidation, classify(err), "request validation failed", err).
			WithDetail("fields", validationErrorsToMap(err))
	}
	return nil
}

// classify picks the most specific error code for the first failing field.
func classify(err error) string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperr.CodeInvalidPayload
	}
	fe := ve[0]
	ns := fe.StructNamespace()
	switch {
	case strings.Contains(ns, ".ShippingAddress."):
		return apperr.CodeInvalidAddress
	case strings.HasSuffix(ns, ".Items") && fe.Tag() == "min":
		return apperr.CodeEmptyCart
	case strings.HasSuffix(ns, ".Items") && fe.Tag() == "max":
		return apperr.CodeTooManyItems
	case strings.Contains(ns, ".Items["), strings.HasSuffix(ns, ".Items"):
		return apperr.CodeInvalidItem
	case strings.HasPrefix(ns, "Item."):
		return apperr.CodeInvalidItem
	case strings.HasSuffix(ns, ".OrderCode"):
		return apperr.CodeInvalidOrderCode
	}
	return apperr.CodeInvalidPayload
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Namespace()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
