package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

// createPayment handles POST /payments/create for one of the caller's pending orders.
func (s *server) createPayment(c *gin.Context) {
	var req validation.CreatePaymentRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		writeError(c, err)
		return
	}
	link, err := s.Payments.CreateForOrder(c.Request.Context(), currentUser(c).ID, req.OrderCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

// paymentWebhook handles gateway deliveries. A 2xx tells the gateway to stop retrying, so
// only persistence failures answer 5xx.
func (s *server) paymentWebhook(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	res, err := s.Reconciler.Handle(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
