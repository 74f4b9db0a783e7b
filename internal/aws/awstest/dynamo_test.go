package awstest

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestUpdateItem_SetAddAndCondition(t *testing.T) {
	d := NewDynamo()
	d.CreateTable("lines", "customer_id", "product_id")
	ctx := context.Background()

	key := map[string]types.AttributeValue{"customer_id": s("c1"), "product_id": s("p1")}
	in := &dyn.UpdateItemInput{
		TableName:           sdkaws.String("lines"),
		Key:                 key,
		UpdateExpression:    sdkaws.String("SET unit_price = :p, created_at = if_not_exists(created_at, :now) ADD quantity :d"),
		ConditionExpression: sdkaws.String("attribute_not_exists(quantity) OR quantity <= :cap"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": n("50"), ":now": s("t1"), ":d": n("2"), ":cap": n("3"),
		},
		ReturnValues: types.ReturnValueAllNew,
	}

	out, err := d.UpdateItem(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, n("2"), out.Attributes["quantity"])

	_, err = d.UpdateItem(ctx, in)
	require.NoError(t, err)

	// quantity is now 4 > cap
	_, err = d.UpdateItem(ctx, in)
	var ccf *types.ConditionalCheckFailedException
	require.True(t, errors.As(err, &ccf))

	items := d.Items("lines")
	require.Len(t, items, 1)
	assert.Equal(t, n("4"), items[0]["quantity"])
	assert.Equal(t, s("t1"), items[0]["created_at"])
}

func TestUpdateItem_IfNotExistsArithmetic(t *testing.T) {
	d := NewDynamo()
	d.CreateTable("orders", "order_id", "")
	d.Seed("orders", map[string]types.AttributeValue{"order_id": s("o1")})

	in := &dyn.UpdateItemInput{
		TableName:        sdkaws.String("orders"),
		Key:              map[string]types.AttributeValue{"order_id": s("o1")},
		UpdateExpression: sdkaws.String("SET attempts = if_not_exists(attempts, :zero) + :inc"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": n("0"), ":inc": n("1"),
		},
	}
	for i := 0; i < 3; i++ {
		_, err := d.UpdateItem(context.Background(), in)
		require.NoError(t, err)
	}
	assert.Equal(t, n("3"), d.Items("orders")[0]["attempts"])
}

func TestTransactWriteItems_AllOrNothing(t *testing.T) {
	d := NewDynamo()
	d.CreateTable("orders", "order_id", "")
	d.CreateTable("idem", "idempotency_key", "")
	d.Seed("idem", map[string]types.AttributeValue{"idempotency_key": s("k1")})

	_, err := d.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: sdkaws.String("orders"), Item: map[string]types.AttributeValue{"order_id": s("o1")}}},
			{Put: &types.Put{
				TableName:           sdkaws.String("idem"),
				Item:                map[string]types.AttributeValue{"idempotency_key": s("k1")},
				ConditionExpression: sdkaws.String("attribute_not_exists(idempotency_key)"),
			}},
		},
	})
	var tce *types.TransactionCanceledException
	require.True(t, errors.As(err, &tce))
	require.Len(t, tce.CancellationReasons, 2)
	assert.Equal(t, "ConditionalCheckFailed", *tce.CancellationReasons[1].Code)
	assert.Empty(t, d.Items("orders"))
}

func TestQuery_ByPartitionAndIndex(t *testing.T) {
	d := NewDynamo()
	d.CreateTable("lines", "order_id", "line_no")
	d.AddIndex("lines", "by-product", "product_id")
	for _, it := range []map[string]types.AttributeValue{
		{"order_id": s("o1"), "line_no": n("10"), "product_id": s("a")},
		{"order_id": s("o1"), "line_no": n("2"), "product_id": s("b")},
		{"order_id": s("o2"), "line_no": n("1"), "product_id": s("a")},
	} {
		d.Seed("lines", it)
	}

	out, err := d.Query(context.Background(), &dyn.QueryInput{
		TableName:                 sdkaws.String("lines"),
		KeyConditionExpression:    sdkaws.String("#o = :o"),
		ExpressionAttributeNames:  map[string]string{"#o": "order_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":o": s("o1")},
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	// numeric sort key order
	assert.Equal(t, n("2"), out.Items[0]["line_no"])

	out, err = d.Query(context.Background(), &dyn.QueryInput{
		TableName:                 sdkaws.String("lines"),
		IndexName:                 sdkaws.String("by-product"),
		KeyConditionExpression:    sdkaws.String("product_id = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":p": s("a")},
	})
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
}

func TestFailOn(t *testing.T) {
	d := NewDynamo()
	d.CreateTable("orders", "order_id", "")
	d.FailOn = FailOp("PutItem")

	_, err := d.PutItem(context.Background(), &dyn.PutItemInput{
		TableName: sdkaws.String("orders"),
		Item:      map[string]types.AttributeValue{"order_id": s("o1")},
	})
	require.ErrorIs(t, err, ErrInjected)
	assert.Empty(t, d.Items("orders"))
	assert.Equal(t, 1, d.Calls("PutItem"))
}

func TestScan_PagesAndFilters(t *testing.T) {
	d := NewDynamo()
	d.CreateTable("products", "product_id", "")
	for _, id := range []string{"c", "a", "b", "d"} {
		stock := "1"
		if id == "b" {
			stock = "0"
		}
		d.Seed("products", map[string]types.AttributeValue{"product_id": s(id), "stock": n(stock)})
	}
	ctx := context.Background()

	out, err := d.Scan(ctx, &dyn.ScanInput{TableName: sdkaws.String("products"), Limit: sdkaws.Int32(3)})
	require.NoError(t, err)
	require.Len(t, out.Items, 3)
	assert.Equal(t, s("a"), out.Items[0]["product_id"])
	require.NotNil(t, out.LastEvaluatedKey)

	out, err = d.Scan(ctx, &dyn.ScanInput{TableName: sdkaws.String("products"), ExclusiveStartKey: out.LastEvaluatedKey})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, s("d"), out.Items[0]["product_id"])
	assert.Nil(t, out.LastEvaluatedKey)

	p := dyn.NewScanPaginator(d, &dyn.ScanInput{
		TableName:                 sdkaws.String("products"),
		Limit:                     sdkaws.Int32(2),
		FilterExpression:          sdkaws.String("stock > :z"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":z": n("0")},
	})
	var ids []types.AttributeValue
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		require.NoError(t, err)
		for _, it := range page.Items {
			ids = append(ids, it["product_id"])
		}
	}
	assert.Equal(t, []types.AttributeValue{s("a"), s("c"), s("d")}, ids)
}
