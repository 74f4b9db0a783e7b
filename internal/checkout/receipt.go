package checkout

import (
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// Receipt is what a customer sees after confirming. It is built from the
// committed lines, not from the cart.
type Receipt struct {
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	ReviewID      string        `json:"review_id"`
	Status        string        `json:"status"`
	PaymentMethod string        `json:"payment_method"`
	Lines         []orders.Line `json:"lines"`
	Total         string        `json:"total"`
	CreatedAt     time.Time     `json:"created_at"`
	// Replayed is set when the review had already been committed.
	Replayed bool `json:"replayed"`
}

func newReceipt(o orders.Order, lines []orders.Line, replayed bool) *Receipt {
	return &Receipt{
		OrderID:       o.OrderID,
		CustomerID:    o.CustomerID,
		ReviewID:      o.ReviewID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		Lines:         lines,
		Total:         o.TotalPrice,
		CreatedAt:     o.CreatedAt,
		Replayed:      replayed,
	}
}

// buildOrder turns a review into an order and its lines. Lines keep the
// exact unit price and carry a two-decimal price; the order total is the
// reviewed total copied as is.
func buildOrder(r Review, orderID, method string, now time.Time) (orders.Order, []orders.Line) {
	now = now.UTC()
	lines := make([]orders.Line, 0, len(r.Lines))
	for i, l := range r.Lines {
		lines = append(lines, orders.Line{
			OrderID:     orderID,
			LineNo:      i + 1,
			ProductID:   l.ProductID,
			UnitPrice:   l.UnitPrice,
			Price:       l.UnitPrice.Fixed(),
			Quantity:    l.Quantity,
			DisplayName: l.DisplayName,
			CreatedAt:   now,
		})
	}
	order := orders.Order{
		OrderID:         orderID,
		CustomerID:      r.CustomerID,
		Status:          orders.StatusPending,
		TotalPrice:      r.Total.Display,
		TotalPriceValue: r.Total.Value,
		LineCount:       len(lines),
		PaymentMethod:   method,
		ReviewID:        r.ReviewID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return order, lines
}
