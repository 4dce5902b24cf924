package discount

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reason explains why a code was rejected.
type Reason string

const (
	ReasonNotFound      Reason = "NOT_FOUND"
	ReasonDisabled      Reason = "DISABLED"
	ReasonNotYetActive  Reason = "NOT_YET_ACTIVE"
	ReasonExpired       Reason = "EXPIRED"
	ReasonBelowMinOrder Reason = "BELOW_MIN_ORDER"
	ReasonExhausted     Reason = "EXHAUSTED"
	ReasonPerUserLimit  Reason = "PER_USER_LIMIT"
	ReasonMisconfigured Reason = "MISCONFIGURED"
)

// Rejection is returned by Validate when a code cannot be applied.
type Rejection struct {
	Reason Reason
	Code   string
}

func (r *Rejection) Error() string {
	if r.Code == "" {
		return fmt.Sprintf("discount rejected: %s", r.Reason)
	}
	return fmt.Sprintf("discount %s rejected: %s", r.Code, r.Reason)
}

// Input is the order context a code is evaluated against.
type Input struct {
	Subtotal    int64
	ShippingFee int64
	Now         time.Time
	// UserPaidUses is the number of the user's PAID orders already referencing the code.
	// Nil means the count was not available.
	UserPaidUses *int64
}

// Result is a successful evaluation.
type Result struct {
	CodeID string
	Code   string
	Amount int64
	// PerUserLimitUnchecked is set when the code has a per-user limit but the caller could
	// not supply the user's usage count.
	PerUserLimitUnchecked bool
}

// Validate evaluates code against in. A nil code is reported as not found.
func Validate(code *Code, in Input) (Result, error) {
	if code == nil {
		return Result{}, &Rejection{Reason: ReasonNotFound}
	}
	if !code.Enabled {
		return Result{}, &Rejection{Reason: ReasonDisabled, Code: code.Code}
	}
	if err := code.CheckShape(); err != nil {
		return Result{}, &Rejection{Reason: ReasonMisconfigured, Code: code.Code}
	}
	if in.Now.Before(code.StartAt) {
		return Result{}, &Rejection{Reason: ReasonNotYetActive, Code: code.Code}
	}
	if code.EndAt != nil && in.Now.After(*code.EndAt) {
		return Result{}, &Rejection{Reason: ReasonExpired, Code: code.Code}
	}
	if in.Subtotal < code.MinOrderAmount {
		return Result{}, &Rejection{Reason: ReasonBelowMinOrder, Code: code.Code}
	}
	if code.MaxUses != nil && code.UsesCount >= *code.MaxUses {
		return Result{}, &Rejection{Reason: ReasonExhausted, Code: code.Code}
	}

	res := Result{CodeID: code.ID, Code: code.Code}
	if code.PerUserLimit > 0 {
		if in.UserPaidUses == nil {
			res.PerUserLimitUnchecked = true
		} else if *in.UserPaidUses >= code.PerUserLimit {
			return Result{}, &Rejection{Reason: ReasonPerUserLimit, Code: code.Code}
		}
	}

	res.Amount = Amount(code, in.Subtotal, in.ShippingFee)
	return res, nil
}

// Amount computes the discount for a code of valid shape, clamped to
// [0, subtotal+shippingFee].
func Amount(code *Code, subtotal, shippingFee int64) int64 {
	var amount int64
	switch code.Kind {
	case KindPercent:
		if code.PercentOff != nil {
			amount = decimal.NewFromInt(subtotal).
				Mul(decimal.NewFromInt(*code.PercentOff)).
				Div(decimal.NewFromInt(100)).
				Round(0).
				IntPart()
		}
	case KindFixed:
		if code.AmountOff != nil {
			amount = *code.AmountOff
		}
	}

	ceiling := subtotal + shippingFee
	if ceiling < 0 {
		ceiling = 0
	}
	if amount < 0 {
		return 0
	}
	if amount > ceiling {
		return ceiling
	}
	return amount
}
