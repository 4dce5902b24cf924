package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

type cartResponse struct {
	Items []cart.Item `json:"items"`
}

func toCartItem(it validation.Item) cart.Item {
	return cart.Item{
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice,
		Variant:   it.Variant,
	}
}

func (s *server) getCart(c *gin.Context) {
	items, err := s.Carts.Get(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse{Items: items})
}

func (s *server) addCartItem(c *gin.Context) {
	var req validation.Item
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		writeError(c, err)
		return
	}
	stored, err := s.Carts.AddItem(c.Request.Context(), currentUser(c).ID, toCartItem(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

// setCartQuantity overwrites a line's quantity. Zero removes the line.
func (s *server) setCartQuantity(c *gin.Context) {
	var req validation.SetQuantityRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := currentUser(c).ID
	if err := s.Carts.SetQuantity(ctx, userID, c.Param("productId"), req.Quantity); err != nil {
		writeError(c, err)
		return
	}
	s.getCart(c)
}

func (s *server) removeCartItem(c *gin.Context) {
	if err := s.Carts.RemoveItem(c.Request.Context(), currentUser(c).ID, c.Param("productId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// mergeCart folds the guest cart into the server cart at sign-in and returns the result.
func (s *server) mergeCart(c *gin.Context) {
	var req validation.MergeCartRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		writeError(c, err)
		return
	}
	items := make([]cart.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, toCartItem(it))
	}
	merged, err := s.Carts.Merge(c.Request.Context(), currentUser(c).ID, items)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse{Items: merged})
}

func (s *server) clearCart(c *gin.Context) {
	if err := s.Carts.Clear(c.Request.Context(), currentUser(c).ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
