package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// orderView is an order with its lines.
type orderView struct {
	Order orders.Order  `json:"order"`
	Lines []orders.Line `json:"lines"`
}

func registerOrdersRoutes(r *gin.RouterGroup, a *api) {
	r.GET("/orders", a.listOrders)
	r.GET("/orders/:id", a.getOwnOrder)
}

func (a *api) listOrders(c *gin.Context) {
	id := currentIdentity(c)
	if err := identity.RequireCustomer(id); err != nil {
		a.writeError(c, err)
		return
	}
	list, err := a.Orders.ListByCustomer(c.Request.Context(), id.UID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

const defaultRecentOrders = 10

// listRecentOrders serves the admin dashboard, newest orders first.
func (a *api) listRecentOrders(c *gin.Context) {
	limit := defaultRecentOrders
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = n
	}
	list, err := a.Orders.ListRecent(c.Request.Context(), limit)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// getOwnOrder answers 404 for orders of other customers.
func (a *api) getOwnOrder(c *gin.Context) {
	owner := currentIdentity(c).UID
	a.writeOrder(c, func(o *orders.Order) bool { return o.CustomerID == owner })
}

func (a *api) getAnyOrder(c *gin.Context) {
	a.writeOrder(c, func(*orders.Order) bool { return true })
}

func (a *api) writeOrder(c *gin.Context, visible func(*orders.Order) bool) {
	ctx := c.Request.Context()
	o, err := a.Orders.Get(ctx, c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if o == nil || !visible(o) {
		a.writeError(c, orders.ErrOrderNotFound)
		return
	}
	lines, err := a.Orders.Lines(ctx, o.OrderID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView{Order: *o, Lines: lines})
}
