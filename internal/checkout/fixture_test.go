package checkout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/storefront-orderflow/internal/cart"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/metrics"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

var (
	alice = identity.Identity{UID: "alice", Role: identity.RoleCustomer}
	bob   = identity.Identity{UID: "bob", Role: identity.RoleCustomer}
	admin = identity.Identity{UID: "root", Role: identity.RoleAdmin}
)

type fixture struct {
	dynamo    *awstest.Dynamo
	sqs       *awstest.SQS
	cw        *awstest.CloudWatch
	redis     *miniredis.Miniredis
	products  *catalog.Store
	carts     *cart.Service
	orders    *orders.Store
	committer *Committer
}

// newFixture needs no *testing.T so godog scenarios can build one per scenario.
func newFixture() (*fixture, error) {
	d := awstest.NewDynamo()
	d.CreateTable("cart_items", "customer_id", "product_id")
	d.CreateTable("products", "product_id", "")
	d.CreateTable("orders", "order_id", "")
	d.AddIndex("orders", orders.CustomerIndex, "customer_id")
	d.CreateTable("order_lines", "order_id", "line_no")
	d.CreateTable("idempotency", "idempotency_key", "")

	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &fixture{
		dynamo:   d,
		sqs:      &awstest.SQS{},
		cw:       &awstest.CloudWatch{},
		redis:    mr,
		products: catalog.NewStore(d, "products"),
		orders:   orders.NewStore(d, "orders", "order_lines"),
	}
	f.carts = cart.NewService(cart.NewStore(d, "cart_items"), f.products, nil)
	f.committer = NewCommitter(Deps{
		Client:      d,
		Cart:        f.carts,
		Orders:      f.orders,
		Idempotency: idempotency.NewStore(d, "idempotency", 48*time.Hour),
		Sessions:    NewSessionStore(rdb, 15*time.Minute),
		Publisher:   aws.NewPublisher(f.sqs, "https://sqs.local/orders"),
		Metrics:     metrics.NewRecorder(f.cw, "Storefront", nil),
	})
	return f, nil
}

func mustFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := newFixture()
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	t.Cleanup(f.redis.Close)
	return f
}

func (f *fixture) product(id, price string, stock int) error {
	return f.products.Put(context.Background(), catalog.Product{
		ID: id, Name: "Perfume " + id, Price: money.RawPrice(price), Stock: stock,
	})
}

func (f *fixture) add(id identity.Identity, productID string, delta int) error {
	_, err := f.carts.AddItem(context.Background(), id, productID, delta)
	return err
}

func (f *fixture) storedOrders() ([]orders.Order, error) {
	var out []orders.Order
	err := attributevalue.UnmarshalListOfMaps(f.dynamo.Items("orders"), &out)
	return out, err
}

func (f *fixture) storedLines() ([]orders.Line, error) {
	var out []orders.Line
	err := attributevalue.UnmarshalListOfMaps(f.dynamo.Items("order_lines"), &out)
	return out, err
}

func (f *fixture) cartLines(id identity.Identity) ([]cart.Line, error) {
	snap, err := f.carts.Snapshot(context.Background(), id)
	if err != nil {
		return nil, err
	}
	return snap.Lines, nil
}

func (f *fixture) fillCart(id identity.Identity, n int) error {
	for i := 0; i < n; i++ {
		pid := fmt.Sprintf("p%03d", i)
		if err := f.product(pid, "1.00", 10); err != nil {
			return err
		}
		if err := f.add(id, pid, 1); err != nil {
			return err
		}
	}
	return nil
}
