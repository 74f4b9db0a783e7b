package cart

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/logging"
)

// Service keeps a customer's cart deduplicated by product and totals it.
type Service struct {
	store   *Store
	catalog catalog.Reader
	log     *zap.Logger
}

func NewService(store *Store, products catalog.Reader, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		catalog: products,
		log:     logging.OrNop(log),
	}
}

// AddItem increments the customer's line for productID by delta, creating
// it priced from the catalog when absent.
func (s *Service) AddItem(ctx context.Context, id identity.Identity, productID string, delta int) (*Line, error) {
	if err := identity.RequireCustomer(id); err != nil {
		return nil, err
	}
	if delta < 1 {
		return nil, fmt.Errorf("%w: delta %d", ErrInvalidQuantity, delta)
	}

	p, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	price, err := p.Price.Amount()
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	if delta > p.Stock {
		return nil, ErrInsufficientStock
	}

	line, err := s.store.Increment(ctx, Line{
		CustomerID:  id.UID,
		ProductID:   p.ID,
		UnitPrice:   price,
		DisplayName: p.Name,
		ImageRef:    p.ImageURL,
	}, delta, p.Stock)
	if err != nil {
		return nil, err
	}
	s.log.Info("cart item added",
		zap.String("customer_id", id.UID),
		zap.String("product_id", p.ID),
		zap.Int("delta", delta),
		zap.Int("quantity", line.Quantity))
	return line, nil
}

// SetQuantity overwrites a line's quantity. Quantities below 1 are ignored
// so that a stray decrement never deletes a line; RemoveItem deletes.
func (s *Service) SetQuantity(ctx context.Context, id identity.Identity, productID string, quantity int) error {
	if err := identity.RequireCustomer(id); err != nil {
		return err
	}
	if quantity < 1 {
		s.log.Debug("ignoring quantity below 1",
			zap.String("customer_id", id.UID),
			zap.String("product_id", productID),
			zap.Int("quantity", quantity))
		return nil
	}

	// a product removed from the catalog has no stock to cap against
	p, err := s.product(ctx, productID)
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		s.log.Info("setting quantity of a delisted product",
			zap.String("customer_id", id.UID),
			zap.String("product_id", productID))
	case err != nil:
		return err
	case quantity > p.Stock:
		return ErrInsufficientStock
	}
	return s.store.SetQuantity(ctx, id.UID, productID, quantity)
}

// RemoveItem deletes a line; removing an absent line succeeds.
func (s *Service) RemoveItem(ctx context.Context, id identity.Identity, productID string) error {
	if err := identity.RequireCustomer(id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id.UID, productID)
}

// Snapshot reads the customer's lines once and totals exactly those lines.
func (s *Service) Snapshot(ctx context.Context, id identity.Identity) (*Snapshot, error) {
	if err := identity.RequireCustomer(id); err != nil {
		return nil, err
	}
	lines, err := s.store.List(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	snap := Summarize(id.UID, lines)
	return &snap, nil
}

func (s *Service) ComputeTotal(ctx context.Context, id identity.Identity) (Total, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return Total{}, err
	}
	return snap.Total, nil
}

// Clear deletes every line of the customer.
func (s *Service) Clear(ctx context.Context, id identity.Identity) error {
	if err := identity.RequireCustomer(id); err != nil {
		return err
	}
	lines, err := s.store.List(ctx, id.UID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAll(ctx, lines); err != nil {
		return err
	}
	s.log.Info("cart cleared", zap.String("customer_id", id.UID), zap.Int("lines", len(lines)))
	return nil
}

func (s *Service) product(ctx context.Context, productID string) (*catalog.Product, error) {
	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, err
		}
		return nil, persistence("get product", err)
	}
	return p, nil
}
