package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"

	// maxBodyBytes caps bodies that handlers read in full.
	maxBodyBytes = 64 << 10
)

// errorBody is the JSON envelope for every failed request.
type errorBody struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// requestLogger assigns a request id and stores a request-scoped logger on the context.
func requestLogger(base *zap.Logger) gin.HandlerFunc {
	base = logging.OrNop(base)
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		log := base.With(
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), log))

		start := time.Now()
		c.Next()
		log.Info("request completed",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// writeError renders err as the error envelope.
func writeError(c *gin.Context, err error) {
	status, body := renderError(c, err)
	c.AbortWithStatusJSON(status, body)
}

// renderError maps err onto a status and envelope. Upstream and internal failures only
// expose their code; the cause is logged.
func renderError(c *gin.Context, err error) (int, errorBody) {
	log := logging.FromContext(c.Request.Context(), nil)

	e, ok := apperr.As(err)
	if !ok {
		log.Error("unhandled error", zap.Error(err))
		return http.StatusInternalServerError, errorBody{
			Error:     "INTERNAL",
			Message:   "internal server error",
			RequestID: requestID(c),
		}
	}

	body := errorBody{Error: e.Code, Message: e.Message, RequestID: requestID(c)}
	switch e.Kind {
	case apperr.KindUpstream:
		log.Error("upstream failure", zap.String("code", e.Code), zap.Error(e), zap.Any("details", e.Details))
		body.Message = "payment provider is unavailable, please try again"
	case apperr.KindPersistence, apperr.KindInternal:
		log.Error("request failed", zap.String("code", e.Code), zap.Error(e))
	default:
		body.Details = e.Details
	}
	return e.Kind.HTTPStatus(), body
}

// writeStatus renders a failure that has no apperr kind, such as idempotency replays.
func writeStatus(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: code, Message: message, RequestID: requestID(c)})
}

// readBody reads the whole request body up to maxBodyBytes. On failure it has already
// written the response and ok is false.
func readBody(c *gin.Context) (raw []byte, ok bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeStatus(c, http.StatusRequestEntityTooLarge, apperr.CodeInvalidPayload, "request body is too large")
		return nil, false
	case err != nil:
		writeError(c, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, "request body could not be read", err))
		return nil, false
	}
	return raw, true
}
