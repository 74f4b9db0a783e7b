package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/logging"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payments"
)

// Recorder receives payment outcomes.
type Recorder interface {
	PaymentSettled(ctx context.Context, ok bool)
}

// Processor settles committed orders: it records a simulated payment and
// moves the order out of pending.
type Processor struct {
	dynamo     aws.DynamoDBAPI
	idempStore *idempotency.Store
	orderStore *orders.Store
	payStore   *payments.Store
	metrics    Recorder
	log        *zap.Logger
	nowFunc    func() time.Time
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, cfg config.Config, metrics Recorder, log *zap.Logger) *Processor {
	return &Processor{
		dynamo:     clients.DynamoDB,
		idempStore: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		orderStore: orders.NewStore(clients.DynamoDB, cfg.Tables.Orders, cfg.Tables.OrderLines),
		payStore:   payments.NewStore(clients.DynamoDB, cfg.Tables.Payments),
		metrics:    metrics,
		log:        logging.OrNop(log),
		nowFunc:    time.Now,
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	p.log.Info("received SQS messages", zap.Int("count", len(ev.Records)))
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.log.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.OrderPlacedMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return errors.New("invalid message body: missing order_id")
	}
	log := p.log.With(zap.String("order_id", msg.OrderID), zap.String("review_id", msg.ReviewID))
	log.Info("received order_placed")

	// Step 1: claim the payment key; a DONE record means a duplicate delivery
	key := idempotency.PaymentKey(msg.OrderID)
	created, err := p.idempStore.CreateIfNotExists(ctx, key, msg.OrderID)
	if err != nil {
		return fmt.Errorf("claim payment key: %w", err)
	}
	if !created {
		existing, err := p.idempStore.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read payment key: %w", err)
		}
		if existing != nil && existing.Status == idempotency.StatusDone {
			log.Info("duplicate delivery, already settled")
			return nil
		}
		// IN_PROGRESS from a crashed try, or FAILED: retry guarded by the order status
	}

	if err := p.orderStore.IncrementAttempts(ctx, msg.OrderID); err != nil {
		return p.fail(ctx, key, fmt.Errorf("failed to count attempt: %w", err))
	}

	// Step 2: read the current order
	order, err := p.orderStore.Get(ctx, msg.OrderID)
	if err != nil {
		return p.fail(ctx, key, fmt.Errorf("failed to fetch order: %w", err))
	}
	if order == nil {
		return p.fail(ctx, key, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, msg.OrderID))
	}
	if order.Status != orders.StatusPending {
		log.Info("order already settled", zap.String("status", order.Status))
		return p.done(ctx, key, outcome{OrderID: order.OrderID, Status: order.Status})
	}

	// Step 3: simulate the payment; an unpayable order is settled as error
	payment, err := payments.Simulate(order.OrderID, order.TotalPriceValue, order.PaymentMethod, p.nowFunc())
	if err != nil {
		log.Warn("order cannot be paid", zap.Error(err))
		uerr := p.orderStore.UpdateStatus(ctx, order.OrderID, orders.StatusPending, orders.StatusError)
		if uerr != nil && !errors.Is(uerr, orders.ErrStatusMismatch) {
			return p.fail(ctx, key, fmt.Errorf("failed to update status to error: %w", uerr))
		}
		p.record(ctx, false)
		return p.done(ctx, key, outcome{OrderID: order.OrderID, Status: orders.StatusError, Reason: err.Error()})
	}

	// Step 4: payment record and pending -> confirmed commit together
	if err := p.settle(ctx, payment); err != nil {
		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return p.fail(ctx, key, err)
		}
		current, gerr := p.orderStore.Get(ctx, order.OrderID)
		if gerr != nil || current == nil || current.Status == orders.StatusPending {
			return p.fail(ctx, key, fmt.Errorf("settle order: %w", err))
		}
		log.Info("order settled concurrently", zap.String("status", current.Status))
		return p.done(ctx, key, outcome{OrderID: order.OrderID, Status: current.Status})
	}

	p.record(ctx, true)
	log.Info("order confirmed", zap.String("payment_id", payment.PaymentID), zap.String("payment_status", payment.Status))
	return p.done(ctx, key, outcome{OrderID: order.OrderID, Status: orders.StatusConfirmed, PaymentID: payment.PaymentID})
}

func (p *Processor) settle(ctx context.Context, payment payments.Payment) error {
	put, err := p.payStore.TransactPut(payment)
	if err != nil {
		return err
	}
	update, err := p.orderStore.StatusUpdateItem(payment.OrderID, orders.StatusPending, orders.StatusConfirmed)
	if err != nil {
		return err
	}
	_, err = p.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{put, update},
	})
	if err != nil {
		return fmt.Errorf("settle order: %w", err)
	}
	return nil
}

func (p *Processor) done(ctx context.Context, key string, o outcome) error {
	if err := p.idempStore.MarkDone(ctx, key, o.String(), http.StatusOK); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	return nil
}

// fail records the failure on the payment key and returns err for a retry.
func (p *Processor) fail(ctx context.Context, key string, err error) error {
	if merr := p.idempStore.MarkFailed(ctx, key, err.Error()); merr != nil {
		p.log.Warn("failed to mark payment key failed", zap.String("key", key), zap.Error(merr))
	}
	return err
}

func (p *Processor) record(ctx context.Context, ok bool) {
	if p.metrics != nil {
		p.metrics.PaymentSettled(ctx, ok)
	}
}
