package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

var ErrProductNotFound = errors.New("product not found")

// Product is the item stored in the products table.
type Product struct {
	ID        string         `dynamodbav:"product_id" json:"id"` // PK
	Name      string         `dynamodbav:"name" json:"name"`
	Price     money.RawPrice `dynamodbav:"price" json:"price"` // number or text, see money.RawPrice
	ImageURL  string         `dynamodbav:"image_url,omitempty" json:"image_url,omitempty"`
	Stock     int            `dynamodbav:"stock" json:"stock"`
	UpdatedAt time.Time      `dynamodbav:"updated_at" json:"updated_at"`
}

// Reader resolves catalog entries. Get returns ErrProductNotFound for unknown ids.
type Reader interface {
	Get(ctx context.Context, productID string) (*Product, error)
}

// Writer creates, replaces and deletes catalog entries. Delete returns
// ErrProductNotFound for unknown ids.
type Writer interface {
	Put(ctx context.Context, p Product) error
	Delete(ctx context.Context, productID string) error
}

// Lister lists the whole catalog.
type Lister interface {
	List(ctx context.Context) ([]Product, error)
}
