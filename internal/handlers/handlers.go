package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/cart"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/logging"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payments"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

// Authenticator resolves the Authorization header into an identity.
type Authenticator interface {
	Resolve(ctx context.Context, authorization string) (identity.Identity, error)
}

type CartService interface {
	AddItem(ctx context.Context, id identity.Identity, productID string, delta int) (*cart.Line, error)
	SetQuantity(ctx context.Context, id identity.Identity, productID string, quantity int) error
	RemoveItem(ctx context.Context, id identity.Identity, productID string) error
	Snapshot(ctx context.Context, id identity.Identity) (*cart.Snapshot, error)
}

type CheckoutService interface {
	StartReview(ctx context.Context, id identity.Identity) (*checkout.Review, error)
	ConfirmReview(ctx context.Context, id identity.Identity, reviewID, paymentMethod string) (*checkout.Receipt, error)
	CancelReview(ctx context.Context, id identity.Identity, reviewID string) error
}

type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Lines(ctx context.Context, orderID string) ([]orders.Line, error)
	ListByCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
	ListRecent(ctx context.Context, limit int) ([]orders.Order, error)
}

type ProfileService interface {
	Get(ctx context.Context, uid string) (*identity.Profile, error)
	UpdateOwn(ctx context.Context, id identity.Identity, u identity.ProfileUpdate) (*identity.Profile, error)
	Update(ctx context.Context, uid string, u identity.ProfileUpdate) (*identity.Profile, error)
	Delete(ctx context.Context, uid string) error
	List(ctx context.Context) ([]identity.Profile, error)
}

// HandlerConfig groups dependencies for the HTTP surface.
type HandlerConfig struct {
	Auth     Authenticator
	Catalog  catalog.Source
	Cart     CartService
	Checkout CheckoutService
	Orders   OrderReader
	Profiles ProfileService
	Log      *zap.Logger
}

type api struct {
	HandlerConfig
	v   *validatorv10.Validate
	log *zap.Logger
}

// RegisterRoutes registers every storefront route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	a := &api{HandlerConfig: cfg, v: validation.New(), log: logging.OrNop(cfg.Log)}

	r.GET("/products", a.listProducts)
	r.GET("/products/:id", a.getProduct)

	authed := r.Group("/", a.authenticate)
	registerCartRoutes(authed, a)
	registerCheckoutRoutes(authed, a)
	registerOrdersRoutes(authed, a)
	registerProfileRoutes(authed, a)

	admin := r.Group("/admin", a.authenticate, a.requireAdmin)
	admin.PUT("/products/:id", a.putProduct)
	admin.DELETE("/products/:id", a.deleteProduct)
	admin.GET("/orders", a.listRecentOrders)
	admin.GET("/orders/:id", a.getAnyOrder)
	registerAdminUserRoutes(admin, a)
}

const identityKey = "identity"

// authenticate resolves the caller and stores the identity on the context.
func (a *api) authenticate(c *gin.Context) {
	id, err := a.Auth.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		a.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func (a *api) requireAdmin(c *gin.Context) {
	if err := identity.RequireAdmin(currentIdentity(c)); err != nil {
		a.writeError(c, err)
		c.Abort()
		return
	}
	c.Next()
}

func currentIdentity(c *gin.Context) identity.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(identity.Identity); ok {
			return id
		}
	}
	return identity.Identity{}
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{identity.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{identity.ErrForbidden, http.StatusForbidden, "forbidden"},
	{catalog.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{cart.ErrLineNotFound, http.StatusNotFound, "cart_line_not_found"},
	{checkout.ErrReviewNotFound, http.StatusNotFound, "review_not_found"},
	{orders.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{identity.ErrProfileNotFound, http.StatusNotFound, "user_not_found"},
	{cart.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{money.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{payments.ErrUnknownMethod, http.StatusBadRequest, "invalid_payment_method"},
	{checkout.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{checkout.ErrCartTooLarge, http.StatusBadRequest, "cart_too_large"},
	{cart.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{checkout.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{cart.ErrPersistence, http.StatusInternalServerError, "persistence_failure"},
}

// writeError maps domain errors to a status and a stable error code.
func (a *api) writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status >= http.StatusInternalServerError {
				a.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
			}
			c.JSON(m.status, gin.H{"error": m.code})
			return
		}
	}
	a.log.Error("unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
