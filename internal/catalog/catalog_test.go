package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

func newStore(t *testing.T) (*Store, *awstest.Dynamo) {
	t.Helper()
	d := awstest.NewDynamo()
	d.CreateTable("products", "product_id", "")
	return NewStore(d, "products"), d
}

func TestStore_PutGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Product{ID: "p1", Name: "Oud Noir", Price: "50", Stock: 3}))

	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Oud Noir", p.Name)
	assert.Equal(t, 3, p.Stock)
	a, err := p.Price.Amount()
	require.NoError(t, err)
	assert.Equal(t, "50.00", a.Fixed())
	assert.False(t, p.UpdatedAt.IsZero())

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestStore_TextualPrice(t *testing.T) {
	s, d := newStore(t)
	d.Seed("products", map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: "p2"},
		"name":       &types.AttributeValueMemberS{Value: "Amber"},
		"price":      &types.AttributeValueMemberS{Value: "45.50"},
		"stock":      &types.AttributeValueMemberN{Value: "1"},
	})

	p, err := s.Get(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, money.RawPrice("45.50"), p.Price)
}

func TestCached_ReadThroughAndInvalidate(t *testing.T) {
	s, d := newStore(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewCached(s, client, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, Product{ID: "p1", Name: "Oud", Price: "50", Stock: 3}))

	p, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Oud", p.Name)
	assert.True(t, mr.Exists(cacheKey("p1")))
	gets := d.Calls("GetItem")

	_, err = c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, gets, d.Calls("GetItem"), "second read served from cache")

	require.NoError(t, c.Put(ctx, Product{ID: "p1", Name: "Oud Intense", Price: "60", Stock: 3}))
	assert.False(t, mr.Exists(cacheKey("p1")))

	p, err = c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Oud Intense", p.Name)
}

func TestCached_RedisDownFallsBack(t *testing.T) {
	s, _ := newStore(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewCached(s, client, time.Minute, nil)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Product{ID: "p1", Name: "Oud", Price: "50"}))

	mr.Close()

	p, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Oud", p.Name)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, id := range []string{"p2", "p1", "p3"} {
		require.NoError(t, s.Put(ctx, Product{ID: id, Name: "Perfume " + id, Price: "10"}))
	}
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "p1", list[0].ID)
	assert.Equal(t, "p3", list[2].ID)

	require.NoError(t, s.Delete(ctx, "p2"))
	assert.ErrorIs(t, s.Delete(ctx, "p2"), ErrProductNotFound)
	_, err = s.Get(ctx, "p2")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCached_DeleteInvalidates(t *testing.T) {
	s, _ := newStore(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewCached(s, client, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, Product{ID: "p1", Name: "Oud", Price: "50"}))
	_, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, mr.Exists(cacheKey("p1")))

	require.NoError(t, c.Delete(ctx, "p1"))
	assert.False(t, mr.Exists(cacheKey("p1")))
	_, err = c.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrProductNotFound)

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
