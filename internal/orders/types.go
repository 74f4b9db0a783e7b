package orders

import (
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Order statuses. Status only moves forward: pending -> confirmed | error.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusError     = "error"
)

// CustomerIndex is the GSI on customer_id.
const CustomerIndex = "customer_id-index"

// Order represents the item stored in the orders table.
type Order struct {
	OrderID         string       `dynamodbav:"order_id" json:"order_id"`       // PK
	CustomerID      string       `dynamodbav:"customer_id" json:"customer_id"` // GSI
	Status          string       `dynamodbav:"status" json:"status"`
	TotalPrice      string       `dynamodbav:"total_price" json:"total_price"` // reviewed total, two decimals
	TotalPriceValue money.Amount `dynamodbav:"total_price_value" json:"total_price_value"`
	LineCount       int          `dynamodbav:"line_count" json:"line_count"`
	PaymentMethod   string       `dynamodbav:"payment_method,omitempty" json:"payment_method,omitempty"`
	ReviewID        string       `dynamodbav:"review_id" json:"review_id"`
	CreatedAt       time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `dynamodbav:"updated_at" json:"updated_at"`
	Attempts        int          `dynamodbav:"attempts,omitempty" json:"-"`
}

// Line is an immutable order line, stored in the order_lines table.
type Line struct {
	OrderID     string       `dynamodbav:"order_id" json:"order_id"` // PK
	LineNo      int          `dynamodbav:"line_no" json:"line_no"`   // SK
	ProductID   string       `dynamodbav:"product_id" json:"product_id"`
	UnitPrice   money.Amount `dynamodbav:"unit_price" json:"unit_price"` // exact snapshot
	Price       string       `dynamodbav:"price" json:"price"`           // unit price, two decimals
	Quantity    int          `dynamodbav:"quantity" json:"quantity"`
	DisplayName string       `dynamodbav:"display_name,omitempty" json:"display_name,omitempty"`
	CreatedAt   time.Time    `dynamodbav:"created_at" json:"created_at"`
}

func (l Line) Subtotal() money.Amount {
	return l.UnitPrice.Times(l.Quantity)
}

// Total sums unrounded line subtotals.
func Total(lines []Line) money.Amount {
	sum := money.Zero
	for _, l := range lines {
		sum = sum.Plus(l.Subtotal())
	}
	return sum
}

// CanTransition reports whether status may move from -> to.
func CanTransition(from, to string) bool {
	return from == StatusPending && (to == StatusConfirmed || to == StatusError)
}
