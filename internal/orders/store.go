package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

var (
	// ErrStatusMismatch is returned when the current status is not the expected one.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrOrderNotFound is returned by callers that require the order to exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned for backward or unknown status moves.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store encapsulates operations on the orders and order_lines tables.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	linesTable string
	nowFunc    func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName, linesTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		linesTable: linesTable,
		nowFunc:    time.Now,
	}
}

// TransactItems returns the puts creating order and its lines, for use in
// a single TransactWriteItems call. The order put fails if the id exists.
func (s *Store) TransactItems(order Order, lines []Line) ([]types.TransactWriteItem, error) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.LineCount = len(lines)

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}

	items := make([]types.TransactWriteItem, 0, len(lines)+1)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                orderMap,
			ConditionExpression: sdkaws.String("attribute_not_exists(order_id)"),
		},
	})
	for _, l := range lines {
		l.OrderID = order.OrderID
		if l.CreatedAt.IsZero() {
			l.CreatedAt = order.CreatedAt
		}
		lineMap, err := attributevalue.MarshalMap(l)
		if err != nil {
			return nil, fmt.Errorf("marshal order line: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: &s.linesTable, Item: lineMap},
		})
	}
	return items, nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Lines returns the lines of an order in line number order.
func (s *Store) Lines(ctx context.Context, orderID string) ([]Line, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.linesTable,
		KeyConditionExpression: sdkaws.String("order_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: sdkaws.Bool(true),
	})
	lines := []Line{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query order lines: %w", err)
		}
		var batch []Line
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal order lines: %w", err)
		}
		lines = append(lines, batch...)
	}
	return lines, nil
}

// ListByCustomer returns a customer's orders, newest first by key order of the index.
func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              sdkaws.String(CustomerIndex),
		KeyConditionExpression: sdkaws.String("customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		},
		ScanIndexForward: sdkaws.Bool(false),
	})
	list := []Order{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query customer orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		list = append(list, batch...)
	}
	return list, nil
}

// ListRecent returns orders of all customers, newest first. A positive
// limit truncates the result.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Order, error) {
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{TableName: &s.tableName})
	list := []Order{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		list = append(list, batch...)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// StatusUpdateItem builds the conditional status update expected -> newStatus
// for inclusion in a transaction.
func (s *Store) StatusUpdateItem(orderID, expectedStatus, newStatus string) (types.TransactWriteItem, error) {
	u, err := s.statusUpdate(orderID, expectedStatus, newStatus)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 u.TableName,
			Key:                       u.Key,
			UpdateExpression:          u.UpdateExpression,
			ConditionExpression:       u.ConditionExpression,
			ExpressionAttributeNames:  u.ExpressionAttributeNames,
			ExpressionAttributeValues: u.ExpressionAttributeValues,
		},
	}, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	input, err := s.statusUpdate(orderID, expectedStatus, newStatus)
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *Store) statusUpdate(orderID, expectedStatus, newStatus string) (*dyn.UpdateItemInput, error) {
	if !CanTransition(expectedStatus, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expectedStatus, newStatus)
	}
	now := s.nowFunc().UTC()
	return &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         sdkaws.String("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      sdkaws.String("#s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}, nil
}

// IncrementAttempts increases the attempts counter by 1 (used by worker retries).
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    sdkaws.String("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ConditionExpression: sdkaws.String("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}
