package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const SenderOrderService = "order-service"

// Message types carried in the envelope's type field.
const (
	TypeReserveProducts   = "reserve_products"
	TypeReservationResult = "reservation_result"
	TypePaymentCompleted  = "payment_completed"
)

var ErrInvalidMessage = errors.New("invalid message")

// Envelope is the wire shape shared by every saga message. The correlation id
// always equals the order id so asynchronous outcomes can be matched back to
// the order they belong to.
type Envelope struct {
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Type          string          `json:"type"`
	Sender        string          `json:"sender"`
	Payload       json.RawMessage `json:"payload"`
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	if env.CorrelationID == uuid.Nil {
		return Envelope{}, fmt.Errorf("%w: missing correlation_id", ErrInvalidMessage)
	}
	return env, nil
}

// ReserveProducts asks the inventory service to reserve the confirmed items.
type ReserveProducts struct {
	OrderID uuid.UUID   `json:"order_id"`
	Items   []OrderItem `json:"items"`
}

type ReservationOutcome string

const (
	OutcomeReserved ReservationOutcome = "reserved"
	OutcomeFailed   ReservationOutcome = "failed"
)

// ReservationResult is the inventory service's answer to a ReserveProducts
// request. Items, when present, is the list actually reserved.
type ReservationResult struct {
	OrderID uuid.UUID          `json:"order_id"`
	Status  ReservationOutcome `json:"status"`
	Reason  string             `json:"reason,omitempty"`
	Items   []OrderItem        `json:"items,omitempty"`
}

// PaymentCompleted signals that the order's payment is final.
type PaymentCompleted struct {
	OrderID uuid.UUID `json:"order_id"`
}

// NewReserveProductsEnvelope wraps the reservation request for an order,
// correlating it by the order id.
func NewReserveProductsEnvelope(o Order) (Envelope, error) {
	payload, err := json.Marshal(ReserveProducts{OrderID: o.ID, Items: o.Items})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		CorrelationID: o.ID,
		Type:          TypeReserveProducts,
		Sender:        SenderOrderService,
		Payload:       payload,
	}, nil
}

// DecodeReservationResult validates the envelope against the
// reservation_result schema before anything downstream sees it.
func (e Envelope) DecodeReservationResult() (ReservationResult, error) {
	if e.Type != TypeReservationResult {
		return ReservationResult{}, fmt.Errorf("%w: type %q is not %s", ErrInvalidMessage, e.Type, TypeReservationResult)
	}
	var res ReservationResult
	if err := json.Unmarshal(e.Payload, &res); err != nil {
		return ReservationResult{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if res.OrderID == uuid.Nil {
		res.OrderID = e.CorrelationID
	}
	if res.Status != OutcomeReserved && res.Status != OutcomeFailed {
		return ReservationResult{}, fmt.Errorf("%w: unknown reservation outcome %q", ErrInvalidMessage, res.Status)
	}
	return res, nil
}

func (e Envelope) DecodePaymentCompleted() (PaymentCompleted, error) {
	if e.Type != TypePaymentCompleted {
		return PaymentCompleted{}, fmt.Errorf("%w: type %q is not %s", ErrInvalidMessage, e.Type, TypePaymentCompleted)
	}
	var pc PaymentCompleted
	if err := json.Unmarshal(e.Payload, &pc); err != nil {
		return PaymentCompleted{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if pc.OrderID == uuid.Nil {
		pc.OrderID = e.CorrelationID
	}
	return pc, nil
}
