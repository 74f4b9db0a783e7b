package cart

import (
	"errors"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

var (
	ErrUnauthenticated   = identity.ErrUnauthenticated
	ErrInvalidPrice      = money.ErrInvalidPrice
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrPersistence       = errors.New("persistence failure")
	ErrLineNotFound      = errors.New("cart line not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Line is one aggregated cart entry. The table key (customer_id, product_id)
// allows at most one line per product per customer.
type Line struct {
	CustomerID  string       `dynamodbav:"customer_id" json:"customer_id"` // PK
	ProductID   string       `dynamodbav:"product_id" json:"product_id"`   // SK
	UnitPrice   money.Amount `dynamodbav:"unit_price" json:"unit_price"`   // snapshot at last add
	Quantity    int          `dynamodbav:"quantity" json:"quantity"`
	DisplayName string       `dynamodbav:"display_name,omitempty" json:"display_name,omitempty"`
	ImageRef    string       `dynamodbav:"image_ref,omitempty" json:"image_ref,omitempty"`
	CreatedAt   time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

func (l Line) Subtotal() money.Amount {
	return l.UnitPrice.Times(l.Quantity)
}

// Total carries the exact sum and its two-decimal rendering.
type Total struct {
	Value   money.Amount `json:"value"`
	Display string       `json:"display"`
}

// Snapshot is a customer's cart as read in one query, with the total
// computed from exactly those lines.
type Snapshot struct {
	CustomerID string `json:"customer_id"`
	Lines      []Line `json:"lines"`
	Total      Total  `json:"total"`
}

// Summarize totals lines. Products are summed unrounded and rounded once.
func Summarize(customerID string, lines []Line) Snapshot {
	sum := money.Zero
	for _, l := range lines {
		sum = sum.Plus(l.Subtotal())
	}
	if lines == nil {
		lines = []Line{}
	}
	return Snapshot{
		CustomerID: customerID,
		Lines:      lines,
		Total:      Total{Value: sum, Display: sum.Fixed()},
	}
}

func (s Snapshot) Empty() bool { return len(s.Lines) == 0 }
