package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/storefront-orderflow/internal/cart"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

type tokens map[string]string

func (v tokens) VerifyIDToken(_ context.Context, token string) (string, error) {
	uid, ok := v[token]
	if !ok {
		return "", errors.New("bad token")
	}
	return uid, nil
}

type server struct {
	t      *testing.T
	router *gin.Engine
	dynamo *awstest.Dynamo
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d := awstest.NewDynamo()
	d.CreateTable("users", "uid", "")
	d.CreateTable("products", "product_id", "")
	d.CreateTable("cart_items", "customer_id", "product_id")
	d.CreateTable("orders", "order_id", "")
	d.AddIndex("orders", orders.CustomerIndex, "customer_id")
	d.CreateTable("order_lines", "order_id", "line_no")
	d.CreateTable("idempotency", "idempotency_key", "")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	profiles := identity.NewProfileStore(d, "users")
	require.NoError(t, profiles.Put(context.Background(), identity.Profile{UID: "u-admin", Role: identity.RoleAdmin}))
	resolver := identity.NewResolver(tokens{"alice": "u-alice", "bob": "u-bob", "admin": "u-admin"}, profiles)

	products := catalog.NewCached(catalog.NewStore(d, "products"), rdb, time.Minute, nil)
	carts := cart.NewService(cart.NewStore(d, "cart_items"), products, nil)
	orderStore := orders.NewStore(d, "orders", "order_lines")
	committer := checkout.NewCommitter(checkout.Deps{
		Client:      d,
		Cart:        carts,
		Orders:      orderStore,
		Idempotency: idempotency.NewStore(d, "idempotency", time.Hour),
		Sessions:    checkout.NewSessionStore(rdb, time.Minute),
	})

	r := gin.New()
	RegisterRoutes(r, HandlerConfig{
		Auth:     resolver,
		Catalog:  products,
		Cart:     carts,
		Checkout: committer,
		Orders:   orderStore,
		Profiles: profiles,
	})
	return &server{t: t, router: r, dynamo: d}
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[map[string]any](t, w)["error"].(string)
}

func (s *server) seedProduct(id, price string, stock int) {
	w := s.do(http.MethodPut, "/admin/products/"+id, "admin", gin.H{"name": "Perfume " + id, "price": price, "stock": stock})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

func TestProducts(t *testing.T) {
	s := newServer(t)
	s.seedProduct("p1", "45.50", 3)

	w := s.do(http.MethodGet, "/products/p1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[catalog.Product](t, w)
	assert.Equal(t, "Perfume p1", p.Name)

	w = s.do(http.MethodGet, "/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "product_not_found", errorCode(t, w))

	w = s.do(http.MethodPut, "/admin/products/p2", "alice", gin.H{"name": "x", "price": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPut, "/admin/products/p2", "", gin.H{"name": "x", "price": "1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPut, "/admin/products/p2", "admin", gin.H{"name": "x", "price": "ten"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", errorCode(t, w))
}

func TestCartRoutes(t *testing.T) {
	s := newServer(t)
	s.seedProduct("a", "30", 10)
	s.seedProduct("b", "45.50", 10)

	w := s.do(http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, w))

	w = s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "b", "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/cart", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[cart.Snapshot](t, w)
	assert.Len(t, snap.Lines, 2)
	assert.Equal(t, "121.00", snap.Total.Display)

	// below 1 is ignored
	w = s.do(http.MethodPut, "/cart/items/b", "alice", gin.H{"quantity": 0})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodPut, "/cart/items/b", "alice", gin.H{"quantity": 3})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodPut, "/cart/items/zzz", "alice", gin.H{"quantity": 3})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "a", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_quantity", errorCode(t, w))
	w = s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "a", "quantity": "two"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_quantity", errorCode(t, w))
	w = s.do(http.MethodPut, "/cart/items/a", "alice", gin.H{"quantity": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_quantity", errorCode(t, w))
	w = s.do(http.MethodPost, "/cart/items", "alice", gin.H{"quantity": 1})
	assert.Equal(t, "validation_failed", errorCode(t, w))
	w = s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "a", "quantity": 50})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "insufficient_stock", errorCode(t, w))
	w = s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodPost, "/cart/items", "admin", gin.H{"product_id": "a"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/cart/items/a", "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/cart/items/a", "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code, "remove is idempotent")

	snap = decode[cart.Snapshot](t, s.do(http.MethodGet, "/cart", "alice", nil))
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 3, snap.Lines[0].Quantity)
	assert.Equal(t, "136.50", snap.Total.Display)

	bobs := decode[cart.Snapshot](t, s.do(http.MethodGet, "/cart", "bob", nil))
	assert.Empty(t, bobs.Lines)
	assert.Equal(t, "0.00", bobs.Total.Display)
}

type receiptBody struct {
	Receipt checkout.Receipt `json:"receipt"`
	Warning string           `json:"warning"`
}

func TestCheckoutFlow(t *testing.T) {
	s := newServer(t)
	s.seedProduct("p", "50.00", 10)

	w := s.do(http.MethodPost, "/checkout/review", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_cart", errorCode(t, w))

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "p"}).Code)
	}

	w = s.do(http.MethodPost, "/checkout/review", "alice", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	review := decode[checkout.Review](t, w)
	assert.Equal(t, "100.00", review.Total.Display)
	confirm := "/checkout/review/" + review.ReviewID + "/confirm"

	w = s.do(http.MethodPost, confirm, "alice", gin.H{"payment_method": "bitcoin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, confirm, "bob", gin.H{"payment_method": "card"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, confirm, "alice", gin.H{"payment_method": "card"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode[receiptBody](t, w)
	assert.Equal(t, "100.00", body.Receipt.Total)
	assert.Empty(t, body.Warning)
	require.Len(t, body.Receipt.Lines, 1)
	assert.Equal(t, 2, body.Receipt.Lines[0].Quantity)
	assert.Equal(t, "/orders/"+body.Receipt.OrderID, w.Header().Get("Location"))

	w = s.do(http.MethodPost, confirm, "alice", gin.H{"payment_method": "card"})
	require.Equal(t, http.StatusOK, w.Code)
	replay := decode[receiptBody](t, w)
	assert.True(t, replay.Receipt.Replayed)
	assert.Equal(t, body.Receipt.OrderID, replay.Receipt.OrderID)

	snap := decode[cart.Snapshot](t, s.do(http.MethodGet, "/cart", "alice", nil))
	assert.Empty(t, snap.Lines)

	// order views
	w = s.do(http.MethodGet, "/orders/"+body.Receipt.OrderID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[orderView](t, w)
	assert.Equal(t, "100.00", view.Order.TotalPrice)
	assert.Equal(t, orders.StatusPending, view.Order.Status)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "50.00", view.Lines[0].Price)

	w = s.do(http.MethodGet, "/orders/"+body.Receipt.OrderID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "order_not_found", errorCode(t, w))

	w = s.do(http.MethodGet, "/admin/orders/"+body.Receipt.OrderID, "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/admin/orders/"+body.Receipt.OrderID, "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	list := decode[map[string][]orders.Order](t, s.do(http.MethodGet, "/orders", "alice", nil))
	assert.Len(t, list["orders"], 1)
	list = decode[map[string][]orders.Order](t, s.do(http.MethodGet, "/orders", "bob", nil))
	assert.Empty(t, list["orders"])
}

func TestCheckoutCancel(t *testing.T) {
	s := newServer(t)
	s.seedProduct("p", "5", 10)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "p"}).Code)

	review := decode[checkout.Review](t, s.do(http.MethodPost, "/checkout/review", "alice", nil))

	w := s.do(http.MethodDelete, "/checkout/review/"+review.ReviewID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/checkout/review/"+review.ReviewID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/checkout/review/"+review.ReviewID+"/confirm", "alice", gin.H{"payment_method": "cod"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.dynamo.Items("orders"))

	snap := decode[cart.Snapshot](t, s.do(http.MethodGet, "/cart", "alice", nil))
	assert.Len(t, snap.Lines, 1)
}

func TestCheckoutPersistenceFailure(t *testing.T) {
	s := newServer(t)
	s.seedProduct("p", "5", 10)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "p"}).Code)
	review := decode[checkout.Review](t, s.do(http.MethodPost, "/checkout/review", "alice", nil))

	s.dynamo.FailOn = awstest.FailOp("TransactWriteItems")
	w := s.do(http.MethodPost, "/checkout/review/"+review.ReviewID+"/confirm", "alice", gin.H{"payment_method": "card"})
	s.dynamo.FailOn = nil

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "persistence_failure", errorCode(t, w))
	snap := decode[cart.Snapshot](t, s.do(http.MethodGet, "/cart", "alice", nil))
	assert.Len(t, snap.Lines, 1)
}

func TestCheckoutCartNotCleared(t *testing.T) {
	s := newServer(t)
	s.seedProduct("p", "5", 10)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/cart/items", "alice", gin.H{"product_id": "p"}).Code)
	review := decode[checkout.Review](t, s.do(http.MethodPost, "/checkout/review", "alice", nil))

	s.dynamo.FailOn = awstest.FailOp("BatchWriteItem")
	w := s.do(http.MethodPost, "/checkout/review/"+review.ReviewID+"/confirm", "alice", gin.H{"payment_method": "card"})
	s.dynamo.FailOn = nil

	require.Equal(t, http.StatusCreated, w.Code)
	body := decode[receiptBody](t, w)
	assert.Equal(t, "cart_not_cleared", body.Warning)
	assert.NotEmpty(t, body.Receipt.OrderID)
}

func TestProductListingAndDelisting(t *testing.T) {
	s := newServer(t)
	s.seedProduct("p2", "20", 1)
	s.seedProduct("p1", "10", 1)

	list := decode[map[string][]catalog.Product](t, s.do(http.MethodGet, "/products", "", nil))
	require.Len(t, list["products"], 2)
	assert.Equal(t, "p1", list["products"][0].ID)

	// warm the cache before removing
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/products/p1", "", nil).Code)

	w := s.do(http.MethodDelete, "/admin/products/p1", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodDelete, "/admin/products/p1", "admin", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/admin/products/p1", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "product_not_found", errorCode(t, w))

	w = s.do(http.MethodGet, "/products/p1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	list = decode[map[string][]catalog.Product](t, s.do(http.MethodGet, "/products", "", nil))
	assert.Len(t, list["products"], 1)
}

func TestProfileRoutes(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/me", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[identity.Profile](t, w)
	assert.Equal(t, "u-alice", me.UID)
	assert.Equal(t, identity.RoleCustomer, me.Role)

	w = s.do(http.MethodPut, "/me", "alice", gin.H{"name": "Alice", "phone": "555-0100", "role": "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	me = decode[identity.Profile](t, w)
	assert.Equal(t, "Alice", me.Name)
	assert.Equal(t, "555-0100", me.Phone)
	assert.Equal(t, identity.RoleCustomer, me.Role, "role is not self-service")

	w = s.do(http.MethodPut, "/me", "alice", gin.H{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", errorCode(t, w))

	w = s.do(http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminUserRoutes(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/me", "bob", gin.H{"name": "Bob"}).Code)

	w := s.do(http.MethodGet, "/admin/users", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	users := decode[map[string][]identity.Profile](t, s.do(http.MethodGet, "/admin/users", "admin", nil))
	assert.Len(t, users["users"], 2)

	w = s.do(http.MethodPut, "/admin/users/u-bob", "admin", gin.H{"role": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPut, "/admin/users/u-ghost", "admin", gin.H{"name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "user_not_found", errorCode(t, w))

	w = s.do(http.MethodPut, "/admin/users/u-bob", "admin", gin.H{"role": "admin", "address": "1 Main St"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bob := decode[identity.Profile](t, w)
	assert.Equal(t, identity.RoleAdmin, bob.Role)
	assert.Equal(t, "Bob", bob.Name)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/admin/users", "bob", nil).Code, "promotion takes effect")

	w = s.do(http.MethodDelete, "/admin/users/u-bob", "admin", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/admin/users/u-bob", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRecentOrders(t *testing.T) {
	s := newServer(t)
	s.seedProduct("p", "5", 10)
	for _, who := range []string{"alice", "bob"} {
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/cart/items", who, gin.H{"product_id": "p"}).Code)
		review := decode[checkout.Review](t, s.do(http.MethodPost, "/checkout/review", who, nil))
		w := s.do(http.MethodPost, "/checkout/review/"+review.ReviewID+"/confirm", who, gin.H{"payment_method": "cod"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := s.do(http.MethodGet, "/admin/orders", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	list := decode[map[string][]orders.Order](t, s.do(http.MethodGet, "/admin/orders", "admin", nil))
	assert.Len(t, list["orders"], 2)
	list = decode[map[string][]orders.Order](t, s.do(http.MethodGet, "/admin/orders?limit=1", "admin", nil))
	assert.Len(t, list["orders"], 1)

	w = s.do(http.MethodGet, "/admin/orders?limit=zero", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_limit", errorCode(t, w))
}

func TestWriteError_Unknown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	a := &api{log: zap.NewNop()}
	a.writeError(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", errorCode(t, w))
}
