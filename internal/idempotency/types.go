// Package idempotency records Idempotency-Key reservations so a retried order placement
// replays the first response instead of creating a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted per key.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Fingerprint    string    `dynamodbav:"fingerprint"`
	Status         string    `dynamodbav:"status"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Repository is implemented by the DynamoDB, MySQL and memory stores.
type Repository interface {
	// CreateIfNotExists reserves key. created is false when a live record already exists.
	CreateIfNotExists(ctx context.Context, key, fingerprint string) (created bool, err error)
	// Get returns nil when no record exists.
	Get(ctx context.Context, key string) (*Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// ScopedKey binds a client key to the caller so two users cannot collide.
func ScopedKey(userID, key string) string {
	return userID + ":" + key
}

// Fingerprint hashes a request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
