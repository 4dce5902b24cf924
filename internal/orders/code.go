package orders

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CodePrefix is prepended to generated order codes to make them recognisable to support.
const CodePrefix = "ORD"

// MaxSafeInteger is the largest integer the gateway accepts as an order id (2^53-1).
const MaxSafeInteger int64 = 1<<53 - 1

// ErrInvalidOrderCode is returned when a code has no numeric part or overflows.
var ErrInvalidOrderCode = errors.New("invalid order code")

const randomSuffixSpace = 1000

// CodeGenerator produces order codes of the form ORD<millis><3 random digits>. The
// millisecond part never repeats or goes backwards within a process.
type CodeGenerator struct {
	mu      sync.Mutex
	last    int64
	nowFunc func() time.Time
}

// NewCodeGenerator returns a generator using the wall clock.
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{nowFunc: time.Now}
}

// Next returns a fresh order code.
func (g *CodeGenerator) Next() (string, error) {
	g.mu.Lock()
	ms := g.nowFunc().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	n, err := rand.Int(rand.Reader, big.NewInt(randomSuffixSpace))
	if err != nil {
		return "", fmt.Errorf("order code randomness: %w", err)
	}
	value := ms*randomSuffixSpace + n.Int64()
	if value > MaxSafeInteger {
		return "", fmt.Errorf("%w: clock value out of range", ErrInvalidOrderCode)
	}
	return CodePrefix + strconv.FormatInt(value, 10), nil
}

// NumericCode strips any non-numeric prefix from code and parses the remainder as the
// gateway order id.
func NumericCode(code string) (int64, error) {
	trimmed := strings.TrimSpace(code)
	digits := strings.TrimLeftFunc(trimmed, func(r rune) bool { return r < '0' || r > '9' })
	if digits == "" {
		return 0, fmt.Errorf("%w: %q has no numeric part", ErrInvalidOrderCode, code)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidOrderCode, code, err)
	}
	if n <= 0 || n > MaxSafeInteger {
		return 0, fmt.Errorf("%w: %q outside safe integer range", ErrInvalidOrderCode, code)
	}
	return n, nil
}

// CanonicalCode maps any accepted spelling of an order code (with or without prefix) to
// the stored form.
func CanonicalCode(code string) (string, error) {
	n, err := NumericCode(code)
	if err != nil {
		return "", err
	}
	return CodePrefix + strconv.FormatInt(n, 10), nil
}
