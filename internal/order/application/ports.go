package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderflow/order-service/internal/order/domain"
)

type OrderRepository interface {
	// InsertWithOutbox persists the order, its items and the given outbox
	// event in one transaction, so the reservation request can only ever be
	// published for an order that durably exists.
	InsertWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte, headers map[string]string, traceparent string) error
	Get(ctx context.Context, id uuid.UUID) (domain.Order, error)
	// UpdateStatusIf performs the compare-and-swap transition: one conditional
	// UPDATE matching both id and expected status, returning affected rows
	// (0 or 1). Status is never read first and written after.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, target domain.OrderStatus) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	ItemsByOrderIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error)
	HasUserPurchasedProduct(ctx context.Context, userID uuid.UUID, productID int64) (bool, error)
}

// ItemRequest is a requested (product, quantity) pair; no price yet, prices
// are authoritative only in the stock check response.
type ItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// StockResult reports which of the requested items the stock service
// confirmed, with their current unit prices. OK is false when nothing is
// available.
type StockResult struct {
	OK          bool
	TotalAmount decimal.Decimal
	Items       []domain.OrderItem
}

type StockClient interface {
	CheckStock(ctx context.Context, items []ItemRequest) (StockResult, error)
}
