package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderflow/order-service/internal/order/domain"
	"github.com/orderflow/order-service/pkg/metrics"
)

// Saga owns the order state machine. It is the only component that mutates
// order status, and every mutation goes through the repository's
// compare-and-swap update, so concurrent or redelivered operations against
// the same order serialize on the storage layer.
type Saga struct {
	log     *slog.Logger
	repo    OrderRepository
	stock   StockClient
	metrics *metrics.SagaMetrics
}

func NewSaga(log *slog.Logger, repo OrderRepository, stock StockClient, m *metrics.SagaMetrics) *Saga {
	return &Saga{log: log, repo: repo, stock: stock, metrics: m}
}

type CreateResult struct {
	OrderID     uuid.UUID          `json:"order_id"`
	Status      string             `json:"status"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Items       []domain.OrderItem `json:"items"`
}

// CreateOrder runs the creation workflow: synchronous stock check, atomic
// persist of the pending order together with its reservation-request outbox
// event, and an immediate "processing" answer. The outbox relay publishes the
// request after the commit, and keeps retrying it if the process dies first.
func (s *Saga) CreateOrder(ctx context.Context, userID uuid.UUID, items []ItemRequest, headers map[string]string, traceparent string) (CreateResult, error) {
	if userID == uuid.Nil {
		return CreateResult{}, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if len(items) == 0 {
		return CreateResult{}, fmt.Errorf("%w: order has no items", ErrInvalidRequest)
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return CreateResult{}, fmt.Errorf("%w: quantity must be positive for product %d", ErrInvalidRequest, it.ProductID)
		}
	}

	stock, err := s.stock.CheckStock(ctx, items)
	if err != nil {
		return CreateResult{}, err
	}
	// Proceed only with items the stock service actually confirmed.
	if !stock.OK || len(stock.Items) == 0 {
		return CreateResult{}, ErrStockUnavailable
	}

	o := domain.NewOrder(userID, stock.Items)

	env, err := domain.NewReserveProductsEnvelope(o)
	if err != nil {
		return CreateResult{}, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.repo.InsertWithOutbox(ctx, o, domain.TypeReserveProducts, payload, headers, traceparent); err != nil {
		return CreateResult{}, err
	}

	s.metrics.Created.Inc()
	s.log.Info("order created", "order_id", o.ID, "user_id", userID, "total_amount", o.TotalAmount, "items", len(o.Items))

	return CreateResult{
		OrderID:     o.ID,
		Status:      "processing",
		TotalAmount: o.TotalAmount,
		Items:       o.Items,
	}, nil
}

// HandleReservationResult applies the asynchronous reservation outcome.
// Delivery is at-least-once and unordered, so a failed compare-and-swap is
// classified against the state graph: a status already downstream of the
// edge's target means a duplicate (no-op), anything else is a conflict that
// retrying cannot fix.
func (s *Saga) HandleReservationResult(ctx context.Context, res domain.ReservationResult) error {
	target := domain.StatusReserved
	if res.Status == domain.OutcomeFailed {
		target = domain.StatusReservationFailed
	}

	applied, err := s.transition(ctx, res.OrderID, domain.StatusPending, target)
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("reservation result applied", "order_id", res.OrderID, "status", target, "reason", res.Reason)
		return nil
	}

	o, err := s.repo.Get(ctx, res.OrderID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("reservation result for unknown order %s: %w", res.OrderID, ErrConflict)
	}
	if err != nil {
		return err
	}
	if o.Status.ReachableFrom(target) {
		// Redelivery after the order already advanced; the first delivery won.
		s.log.Info("duplicate reservation result ignored", "order_id", res.OrderID, "status", o.Status)
		return nil
	}
	return fmt.Errorf("order %s is %q, cannot apply reservation outcome %q: %w", res.OrderID, o.Status, res.Status, ErrConflict)
}

// Confirm moves a reserved order to paid once payment is believed final.
// Already-paid orders are treated as satisfied; any other status is reported
// back by name.
func (s *Saga) Confirm(ctx context.Context, id uuid.UUID) error {
	applied, err := s.transition(ctx, id, domain.StatusReserved, domain.StatusPaid)
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("order confirmed", "order_id", id)
		return nil
	}

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == domain.StatusPaid {
		return nil
	}
	return &InvalidStateError{OrderID: id, Current: o.Status}
}

// Cancel unwinds an order that has not shipped yet. The cancellable statuses
// are tried in lifecycle order; the compare-and-swap decides which one, if
// any, the order is actually in.
func (s *Saga) Cancel(ctx context.Context, id uuid.UUID) error {
	for _, from := range []domain.OrderStatus{domain.StatusPending, domain.StatusReserved, domain.StatusPaid} {
		applied, err := s.transition(ctx, id, from, domain.StatusCancelled)
		if err != nil {
			return err
		}
		if applied {
			s.log.Info("order cancelled", "order_id", id, "from", from)
			return nil
		}
	}

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == domain.StatusCancelled {
		return nil
	}
	return &InvalidStateError{OrderID: id, Current: o.Status}
}

func (s *Saga) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Saga) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	orders, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := s.repo.ItemsByOrderIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// HasUserPurchasedProduct currently counts any order regardless of status,
// cancelled ones included.
func (s *Saga) HasUserPurchasedProduct(ctx context.Context, userID uuid.UUID, productID int64) (bool, error) {
	return s.repo.HasUserPurchasedProduct(ctx, userID, productID)
}

func (s *Saga) transition(ctx context.Context, id uuid.UUID, expected, target domain.OrderStatus) (bool, error) {
	if !expected.CanTransitionTo(target) {
		return false, fmt.Errorf("no edge %s -> %s in order lifecycle: %w", expected, target, ErrConflict)
	}
	n, err := s.repo.UpdateStatusIf(ctx, id, expected, target)
	if err != nil {
		return false, err
	}
	result := "conflict"
	if n == 1 {
		result = "applied"
	}
	s.metrics.Transitions.WithLabelValues(string(expected), string(target), result).Inc()
	return n == 1, nil
}
