package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

// batchWriteLimit is the DynamoDB BatchWriteItem request limit.
const batchWriteLimit = 25

const maxBatchAttempts = 3

// Store encapsulates operations on the cart_items table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func lineKey(customerID, productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"customer_id": &types.AttributeValueMemberS{Value: customerID},
		"product_id":  &types.AttributeValueMemberS{Value: productID},
	}
}

// Increment adds delta to the line's quantity in one atomic update, creating
// the line when absent, and refreshes the price and display snapshot.
// With maxQuantity >= 0 the update is rejected (ErrInsufficientStock) when
// the result would exceed it.
func (s *Store) Increment(ctx context.Context, l Line, delta, maxQuantity int) (*Line, error) {
	now, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}
	price, err := l.UnitPrice.MarshalDynamoDBAttributeValue()
	if err != nil {
		return nil, err
	}

	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              lineKey(l.CustomerID, l.ProductID),
		UpdateExpression: sdkaws.String("SET unit_price = :p, display_name = :n, image_ref = :i, updated_at = :ua, created_at = if_not_exists(created_at, :ua) ADD quantity :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":  price,
			":n":  &types.AttributeValueMemberS{Value: l.DisplayName},
			":i":  &types.AttributeValueMemberS{Value: l.ImageRef},
			":ua": now,
			":d":  &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
	if maxQuantity >= 0 {
		input.ConditionExpression = sdkaws.String("attribute_not_exists(quantity) OR quantity <= :cap")
		input.ExpressionAttributeValues[":cap"] = &types.AttributeValueMemberN{Value: strconv.Itoa(maxQuantity - delta)}
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrInsufficientStock
		}
		return nil, persistence("increment line", err)
	}
	var updated Line
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return nil, fmt.Errorf("unmarshal line: %w", err)
	}
	return &updated, nil
}

// SetQuantity overwrites the quantity of an existing line.
func (s *Store) SetQuantity(ctx context.Context, customerID, productID string, quantity int) error {
	now, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 lineKey(customerID, productID),
		UpdateExpression:    sdkaws.String("SET quantity = :q, updated_at = :ua"),
		ConditionExpression: sdkaws.String("attribute_exists(product_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(quantity)},
			":ua": now,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLineNotFound
		}
		return persistence("set quantity", err)
	}
	return nil
}

// Delete removes one line. Deleting an absent line is not an error.
func (s *Store) Delete(ctx context.Context, customerID, productID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       lineKey(customerID, productID),
	})
	if err != nil {
		return persistence("delete line", err)
	}
	return nil
}

// List returns every line of a customer, ordered by product id, from a
// strongly consistent query.
func (s *Store) List(ctx context.Context, customerID string) ([]Line, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: sdkaws.String("customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		},
		ConsistentRead: sdkaws.Bool(true),
	})

	lines := []Line{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, persistence("query lines", err)
		}
		var batch []Line
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal lines: %w", err)
		}
		lines = append(lines, batch...)
	}
	return lines, nil
}

// DeleteAll removes the given lines in batches of 25, retrying unprocessed
// requests a bounded number of times.
func (s *Store) DeleteAll(ctx context.Context, lines []Line) error {
	for start := 0; start < len(lines); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(lines))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, l := range lines[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: lineKey(l.CustomerID, l.ProductID)},
			})
		}
		if err := s.batchWrite(ctx, reqs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: reqs}
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dyn.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return persistence("batch delete lines", err)
		}
		if len(out.UnprocessedItems[s.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return persistence("batch delete lines", fmt.Errorf("%d requests left unprocessed", len(pending[s.tableName])))
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
