package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending           OrderStatus = "pending"
	StatusReserved          OrderStatus = "reserved"
	StatusReservationFailed OrderStatus = "reservation_failed"
	StatusPaid              OrderStatus = "paid"
	StatusPaymentFailed     OrderStatus = "payment_failed"
	StatusPreparing         OrderStatus = "preparing"
	StatusShipping          OrderStatus = "shipping"
	StatusDelivered         OrderStatus = "delivered"
	StatusCompleted         OrderStatus = "completed"
	StatusCancelled         OrderStatus = "cancelled"
	StatusRefunded          OrderStatus = "refunded"
)

// transitions is the full edge set of the order lifecycle. Every status move
// goes through the repository's conditional update, so an edge missing here
// can never be applied.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusReserved, StatusReservationFailed, StatusCancelled},
	StatusReserved:  {StatusPaid, StatusReservationFailed, StatusCancelled},
	StatusPaid:      {StatusPaymentFailed, StatusPreparing, StatusCancelled, StatusRefunded},
	StatusPreparing: {StatusShipping, StatusRefunded},
	StatusShipping:  {StatusDelivered, StatusRefunded},
	StatusDelivered: {StatusCompleted, StatusRefunded},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReserved, StatusReservationFailed, StatusPaid,
		StatusPaymentFailed, StatusPreparing, StatusShipping, StatusDelivered,
		StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// ReachableFrom reports whether some path in the lifecycle graph leads from
// start to s. The zero-length path counts, so s.ReachableFrom(s) is true.
// Used to tell a redelivered message (order already moved past the edge's
// target) apart from a genuine state divergence.
func (s OrderStatus) ReachableFrom(start OrderStatus) bool {
	if s == start {
		return true
	}
	seen := map[OrderStatus]bool{start: true}
	queue := []OrderStatus{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if next == s {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

type Order struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderItem snapshots the unit price at creation time; later catalog price
// changes never touch an existing order.
type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewOrder builds a pending order from stock-confirmed items. The total is
// computed here, once, from the snapshotted prices.
func NewOrder(userID uuid.UUID, items []OrderItem) Order {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	now := time.Now().UTC()
	return Order{
		ID:          uuid.New(),
		UserID:      userID,
		Items:       items,
		TotalAmount: total,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
