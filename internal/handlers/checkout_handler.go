package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

func registerCheckoutRoutes(r *gin.RouterGroup, a *api) {
	r.POST("/checkout/review", a.startReview)
	r.POST("/checkout/review/:reviewID/confirm", a.confirmReview)
	r.DELETE("/checkout/review/:reviewID", a.cancelReview)
}

func (a *api) startReview(c *gin.Context) {
	review, err := a.Checkout.StartReview(c.Request.Context(), currentIdentity(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (a *api) confirmReview(c *gin.Context) {
	var req validation.ConfirmRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	receipt, err := a.Checkout.ConfirmReview(c.Request.Context(), currentIdentity(c), c.Param("reviewID"), req.PaymentMethod)
	if err != nil && !(receipt != nil && errors.Is(err, checkout.ErrCartNotCleared)) {
		a.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	body := gin.H{"receipt": receipt}
	if err != nil {
		a.log.Warn("confirmed with cart left behind", zap.String("order_id", receipt.OrderID), zap.Error(err))
		body["warning"] = "cart_not_cleared"
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", receipt.OrderID))
	c.JSON(status, body)
}

func (a *api) cancelReview(c *gin.Context) {
	if err := a.Checkout.CancelReview(c.Request.Context(), currentIdentity(c), c.Param("reviewID")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
