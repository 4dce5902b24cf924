package discount

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind of a discount code.
type Kind string

const (
	KindPercent Kind = "PERCENT"
	KindFixed   Kind = "FIXED"
)

// Code is a redeemable discount. Exactly one of PercentOff/AmountOff is set, matching Kind.
type Code struct {
	ID             string     `json:"id" dynamodbav:"id"`
	Code           string     `json:"code" dynamodbav:"code"`
	Kind           Kind       `json:"kind" dynamodbav:"kind"`
	PercentOff     *int64     `json:"percentOff,omitempty" dynamodbav:"percent_off,omitempty"`
	AmountOff      *int64     `json:"amountOff,omitempty" dynamodbav:"amount_off,omitempty"`
	StartAt        time.Time  `json:"startAt" dynamodbav:"start_at"`
	EndAt          *time.Time `json:"endAt,omitempty" dynamodbav:"end_at,omitempty"`
	Enabled        bool       `json:"enabled" dynamodbav:"enabled"`
	MaxUses        *int64     `json:"maxUses,omitempty" dynamodbav:"max_uses,omitempty"`
	UsesCount      int64      `json:"usesCount" dynamodbav:"uses_count"`
	PerUserLimit   int64      `json:"perUserLimit" dynamodbav:"per_user_limit"`
	MinOrderAmount int64      `json:"minOrderAmount" dynamodbav:"min_order_amount"`
}

// ErrNotFound is returned by repositories when no code matches.
var ErrNotFound = errors.New("discount code not found")

// Repository is the persistence contract for discount codes.
type Repository interface {
	// FindByCode looks up a code case-insensitively. Returns ErrNotFound when absent.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// IncrementUsage atomically adds one to the code's usage counter.
	IncrementUsage(ctx context.Context, id string) error
}

// Normalize canonicalises a user-entered code for lookups.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckShape verifies the kind/amount invariant.
func (c *Code) CheckShape() error {
	switch c.Kind {
	case KindPercent:
		if c.PercentOff == nil || c.AmountOff != nil {
			return errors.New("percent discount must set only percentOff")
		}
		if *c.PercentOff < 0 || *c.PercentOff > 100 {
			return errors.New("percentOff must be within [0, 100]")
		}
	case KindFixed:
		if c.AmountOff == nil || c.PercentOff != nil {
			return errors.New("fixed discount must set only amountOff")
		}
		if *c.AmountOff < 0 {
			return errors.New("amountOff must not be negative")
		}
	default:
		return errors.New("unknown discount kind " + string(c.Kind))
	}
	return nil
}
