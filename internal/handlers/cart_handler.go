package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/cart"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

func registerCartRoutes(r *gin.RouterGroup, a *api) {
	r.GET("/cart", a.getCart)
	r.POST("/cart/items", a.addCartItem)
	r.PUT("/cart/items/:productID", a.setCartQuantity)
	r.DELETE("/cart/items/:productID", a.removeCartItem)
}

func (a *api) getCart(c *gin.Context) {
	snap, err := a.Cart.Snapshot(c.Request.Context(), currentIdentity(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *api) addCartItem(c *gin.Context) {
	var req validation.AddItemRequest
	if !a.bindQuantity(c, &req) {
		return
	}
	line, err := a.Cart.AddItem(c.Request.Context(), currentIdentity(c), req.ProductID, req.Delta())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (a *api) setCartQuantity(c *gin.Context) {
	var req validation.SetQuantityRequest
	if !a.bindQuantity(c, &req) {
		return
	}
	if err := a.Cart.SetQuantity(c.Request.Context(), currentIdentity(c), c.Param("productID"), *req.Quantity); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) removeCartItem(c *gin.Context) {
	if err := a.Cart.RemoveItem(c.Request.Context(), currentIdentity(c), c.Param("productID")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindQuantity binds a cart request; bad quantities answer invalid_quantity.
func (a *api) bindQuantity(c *gin.Context, out any) bool {
	err := validation.Bind(c, out, a.v)
	switch {
	case err == nil:
		return true
	case validation.FieldFailed(err, "quantity"):
		a.writeError(c, cart.ErrInvalidQuantity)
	default:
		validation.WriteError(c, err)
	}
	return false
}
