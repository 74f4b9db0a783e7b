// Package checkout turns a reviewed cart into a durable order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/cart"
	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/logging"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payments"
)

// MaxLines is the largest cart one transaction can commit: the order and
// the idempotency record take two of DynamoDB's 100 items.
const MaxLines = 98

var (
	ErrEmptyCart         = errors.New("cannot commit an empty cart")
	ErrCartTooLarge      = fmt.Errorf("cart has more than %d lines", MaxLines)
	ErrInvalidTransition = errors.New("invalid checkout transition")
	ErrReviewNotFound    = errors.New("review not found")
	ErrCartNotCleared    = errors.New("order committed but cart not cleared")
	ErrNoSessions        = errors.New("review sessions not configured")
)

// Cart is the part of the cart service checkout needs.
type Cart interface {
	Snapshot(ctx context.Context, id identity.Identity) (*cart.Snapshot, error)
	Clear(ctx context.Context, id identity.Identity) error
}

// EventPublisher announces committed orders.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, msg aws.OrderPlacedMessage) error
}

// Recorder receives commit outcomes.
type Recorder interface {
	CommitSucceeded(ctx context.Context, total money.Amount)
	CommitFailed(ctx context.Context)
}

// Deps wires a Committer. Publisher and Metrics are optional. Without
// Sessions only Begin/Confirm/Commit work; the *Review methods return
// ErrNoSessions.
type Deps struct {
	Client      aws.DynamoDBAPI
	Cart        Cart
	Orders      *orders.Store
	Idempotency *idempotency.Store
	Sessions    *SessionStore
	Publisher   EventPublisher
	Metrics     Recorder
	Log         *zap.Logger
}

// Committer runs the review/confirm flow.
type Committer struct {
	client    aws.DynamoDBAPI
	cart      Cart
	orders    *orders.Store
	idem      *idempotency.Store
	sessions  *SessionStore
	publisher EventPublisher
	metrics   Recorder
	log       *zap.Logger
	nowFunc   func() time.Time
	newID     func() string
}

func NewCommitter(d Deps) *Committer {
	return &Committer{
		client:    d.Client,
		cart:      d.Cart,
		orders:    d.Orders,
		idem:      d.Idempotency,
		sessions:  d.Sessions,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		log:       logging.OrNop(d.Log),
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Begin snapshots the customer's cart into a Reviewing attempt.
func (c *Committer) Begin(ctx context.Context, id identity.Identity) (*Attempt, error) {
	if err := identity.RequireCustomer(id); err != nil {
		return nil, err
	}
	snap, err := c.cart.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkSize(len(snap.Lines)); err != nil {
		return nil, err
	}
	return NewAttempt(Review{
		ReviewID:   c.newID(),
		CustomerID: id.UID,
		Lines:      snap.Lines,
		Total:      snap.Total,
		CreatedAt:  c.nowFunc().UTC(),
	}), nil
}

// Confirm commits the attempt's review: one transaction writes the
// idempotency record, the order and every line, or nothing. The cart is
// cleared only afterwards. A review that was already committed yields the
// existing order with Replayed set.
//
// If clearing fails the receipt is still returned, with ErrCartNotCleared.
func (c *Committer) Confirm(ctx context.Context, id identity.Identity, a *Attempt, paymentMethod string) (*Receipt, error) {
	if err := identity.RequireCustomer(id); err != nil {
		return nil, err
	}
	r := a.Review()
	if r.CustomerID != id.UID {
		return nil, ErrReviewNotFound
	}
	method, err := payments.ParseMethod(paymentMethod)
	if err != nil {
		return nil, err
	}
	if err := checkSize(len(r.Lines)); err != nil {
		return nil, err
	}
	if err := a.advance(StateReviewing, StateCommitting); err != nil {
		return nil, err
	}

	log := c.log.With(zap.String("customer_id", id.UID), zap.String("review_id", r.ReviewID))
	order, lines := buildOrder(r, c.newID(), string(method), c.nowFunc())

	items, err := c.transactItems(order, lines)
	if err != nil {
		a.fail()
		return nil, err
	}
	_, err = c.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if idempotency.ConflictAt(err, 0) {
			receipt, rerr := c.replay(ctx, id, r.ReviewID)
			if rerr != nil {
				a.fail()
				return nil, rerr
			}
			log.Info("review already committed", zap.String("order_id", receipt.OrderID))
			a.confirm(receipt)
			return receipt, nil
		}
		a.fail()
		if c.metrics != nil {
			c.metrics.CommitFailed(ctx)
		}
		log.Error("order commit failed", zap.Int("lines", len(lines)), zap.Error(err))
		return nil, fmt.Errorf("commit order: %w: %w", cart.ErrPersistence, err)
	}

	receipt := newReceipt(order, lines, false)
	a.confirm(receipt)
	log.Info("order committed", zap.String("order_id", order.OrderID), zap.String("total", order.TotalPrice))
	if c.metrics != nil {
		c.metrics.CommitSucceeded(ctx, order.TotalPriceValue)
	}
	c.announce(ctx, log, order)

	if err := c.cart.Clear(ctx, id); err != nil {
		log.Warn("cart not cleared after commit", zap.String("order_id", order.OrderID), zap.Error(err))
		return receipt, fmt.Errorf("%w: %w", ErrCartNotCleared, err)
	}
	return receipt, nil
}

// Commit runs Begin and Confirm back to back.
func (c *Committer) Commit(ctx context.Context, id identity.Identity, paymentMethod string) (*Receipt, error) {
	a, err := c.Begin(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Confirm(ctx, id, a, paymentMethod)
}

// StartReview begins an attempt and keeps its review for a later ConfirmReview.
func (c *Committer) StartReview(ctx context.Context, id identity.Identity) (*Review, error) {
	if c.sessions == nil {
		return nil, ErrNoSessions
	}
	a, err := c.Begin(ctx, id)
	if err != nil {
		return nil, err
	}
	r := a.Review()
	if err := c.sessions.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("%w: %w", cart.ErrPersistence, err)
	}
	return &r, nil
}

// ConfirmReview confirms a stored review. A review that is gone because it
// was already confirmed replays its receipt.
func (c *Committer) ConfirmReview(ctx context.Context, id identity.Identity, reviewID, paymentMethod string) (*Receipt, error) {
	if err := identity.RequireCustomer(id); err != nil {
		return nil, err
	}
	if c.sessions == nil {
		return nil, ErrNoSessions
	}
	r, err := c.sessions.Load(ctx, id.UID, reviewID)
	if errors.Is(err, ErrReviewNotFound) {
		return c.replay(ctx, id, reviewID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cart.ErrPersistence, err)
	}

	receipt, err := c.Confirm(ctx, id, NewAttempt(*r), paymentMethod)
	if receipt != nil {
		if derr := c.sessions.Delete(ctx, id.UID, reviewID); derr != nil {
			c.log.Warn("review session not deleted", zap.String("review_id", reviewID), zap.Error(derr))
		}
	}
	return receipt, err
}

// CancelReview aborts a stored review.
func (c *Committer) CancelReview(ctx context.Context, id identity.Identity, reviewID string) error {
	if err := identity.RequireCustomer(id); err != nil {
		return err
	}
	if c.sessions == nil {
		return ErrNoSessions
	}
	r, err := c.sessions.Load(ctx, id.UID, reviewID)
	if err != nil {
		if errors.Is(err, ErrReviewNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", cart.ErrPersistence, err)
	}
	if err := NewAttempt(*r).Cancel(); err != nil {
		return err
	}
	if err := c.sessions.Delete(ctx, id.UID, reviewID); err != nil {
		return fmt.Errorf("%w: %w", cart.ErrPersistence, err)
	}
	return nil
}

func (c *Committer) transactItems(order orders.Order, lines []orders.Line) ([]types.TransactWriteItem, error) {
	// the idempotency put must stay at index 0 for ConflictAt
	rec, err := c.idem.TransactPut(order.ReviewID, order.OrderID, order.CustomerID)
	if err != nil {
		return nil, err
	}
	rest, err := c.orders.TransactItems(order, lines)
	if err != nil {
		return nil, err
	}
	return append([]types.TransactWriteItem{rec}, rest...), nil
}

// replay rebuilds the receipt of an already committed review.
func (c *Committer) replay(ctx context.Context, id identity.Identity, reviewID string) (*Receipt, error) {
	rec, err := c.idem.Get(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cart.ErrPersistence, err)
	}
	if rec == nil || rec.CustomerID != id.UID {
		return nil, ErrReviewNotFound
	}
	order, err := c.orders.Get(ctx, rec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cart.ErrPersistence, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, rec.OrderID)
	}
	lines, err := c.orders.Lines(ctx, order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cart.ErrPersistence, err)
	}
	return newReceipt(*order, lines, true), nil
}

func (c *Committer) announce(ctx context.Context, log *zap.Logger, o orders.Order) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.PublishOrderPlaced(ctx, aws.OrderPlacedMessage{
		OrderID:       o.OrderID,
		CustomerID:    o.CustomerID,
		ReviewID:      o.ReviewID,
		PaymentMethod: o.PaymentMethod,
		TotalPrice:    o.TotalPriceValue.String(),
	})
	if err != nil {
		log.Warn("order_placed not published", zap.String("order_id", o.OrderID), zap.Error(err))
	}
}

func checkSize(n int) error {
	switch {
	case n == 0:
		return ErrEmptyCart
	case n > MaxLines:
		return ErrCartTooLarge
	}
	return nil
}
