// Package payments simulates settlement of committed orders.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Method is how the customer pays.
type Method string

const (
	MethodCard Method = "card"
	MethodCOD  Method = "cod"
)

// Payment statuses.
const (
	StatusAuthorized = "authorized" // card charged
	StatusDue        = "due"        // cash collected on delivery
)

var (
	ErrUnknownMethod = errors.New("unknown payment method")
	ErrDeclined      = errors.New("payment declined")
)

// ParseMethod validates a payment method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCard, MethodCOD:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Payment is stored in the payments table, one per order.
type Payment struct {
	PaymentID string       `dynamodbav:"payment_id" json:"payment_id"` // PK
	OrderID   string       `dynamodbav:"order_id" json:"order_id"`
	Amount    money.Amount `dynamodbav:"amount" json:"amount"`
	Method    Method       `dynamodbav:"method" json:"method"`
	Status    string       `dynamodbav:"status" json:"status"`
	CreatedAt time.Time    `dynamodbav:"created_at" json:"created_at"`
}

// IDFor derives the payment id of an order.
func IDFor(orderID string) string {
	return "pay-" + orderID
}

// Simulate settles amount for orderID without an external gateway.
func Simulate(orderID string, amount money.Amount, method string, now time.Time) (Payment, error) {
	m, err := ParseMethod(method)
	if err != nil {
		return Payment{}, err
	}
	if !amount.IsPositive() {
		return Payment{}, fmt.Errorf("%w: non-positive amount %s", ErrDeclined, amount.Fixed())
	}
	status := StatusAuthorized
	if m == MethodCOD {
		status = StatusDue
	}
	return Payment{
		PaymentID: IDFor(orderID),
		OrderID:   orderID,
		Amount:    amount,
		Method:    m,
		Status:    status,
		CreatedAt: now.UTC(),
	}, nil
}

// Store persists payments.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// TransactPut writes p once; a second payment for the same order fails its condition.
func (s *Store) TransactPut(p Payment) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal payment: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: sdkaws.String("attribute_not_exists(payment_id)"),
		},
	}, nil
}

// Get returns the payment of orderID, or (nil, nil).
func (s *Store) Get(ctx context.Context, orderID string) (*Payment, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"payment_id": &types.AttributeValueMemberS{Value: IDFor(orderID)},
		},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Payment
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	return &p, nil
}
