package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/imrishuroy/storefront-orderflow/internal/logging"
)

// Source is what Cached reads through to and writes through to.
type Source interface {
	Reader
	Writer
	Lister
}

// Cached is a Redis read-through cache in front of a Source. Cache errors
// are logged and fall back to the source.
type Cached struct {
	next    Source
	client  *redis.Client
	baseTTL time.Duration
	sfg     singleflight.Group // one source read per product on concurrent misses
	log     *zap.Logger
}

func NewCached(next Source, client *redis.Client, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{
		next:    next,
		client:  client,
		baseTTL: ttl,
		log:     logging.OrNop(log),
	}
}

func (c *Cached) Get(ctx context.Context, productID string) (*Product, error) {
	key := cacheKey(productID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Product
		if uerr := json.Unmarshal(data, &p); uerr == nil {
			return &p, nil
		}
		c.log.Warn("discarding undecodable cached product", zap.String("product_id", productID))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("catalog cache get failed", zap.String("product_id", productID), zap.Error(err))
	}

	v, err, _ := c.sfg.Do(productID, func() (interface{}, error) {
		p, err := c.next.Get(ctx, productID)
		if err != nil {
			return nil, err
		}
		c.set(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*Product)
	return &p, nil
}

func (c *Cached) Put(ctx context.Context, p Product) error {
	if err := c.next.Put(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

func (c *Cached) Delete(ctx context.Context, productID string) error {
	if err := c.next.Delete(ctx, productID); err != nil {
		return err
	}
	c.invalidate(ctx, productID)
	return nil
}

// List reads through to the source; listings are not cached.
func (c *Cached) List(ctx context.Context) ([]Product, error) {
	return c.next.List(ctx)
}

func (c *Cached) invalidate(ctx context.Context, productID string) {
	if err := c.client.Del(ctx, cacheKey(productID)).Err(); err != nil {
		c.log.Warn("catalog cache invalidate failed", zap.String("product_id", productID), zap.Error(err))
	}
}

func (c *Cached) set(ctx context.Context, p *Product) {
	data, err := json.Marshal(p)
	if err != nil {
		c.log.Warn("marshal product for cache", zap.String("product_id", p.ID), zap.Error(err))
		return
	}
	jitter := time.Duration(rand.Int63n(int64(c.baseTTL)/5 + 1))
	if err := c.client.Set(ctx, cacheKey(p.ID), data, c.baseTTL+jitter).Err(); err != nil {
		c.log.Warn("catalog cache set failed", zap.String("product_id", p.ID), zap.Error(err))
	}
}

func cacheKey(productID string) string {
	return fmt.Sprintf("catalog:product:%s", productID)
}
