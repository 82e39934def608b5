package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/order-service/internal/order/application"
	"github.com/orderflow/order-service/internal/order/domain"
)

type fakeSaga struct {
	reservations []domain.ReservationResult
	confirms     []uuid.UUID
	err          error
}

func (f *fakeSaga) HandleReservationResult(_ context.Context, res domain.ReservationResult) error {
	f.reservations = append(f.reservations, res)
	return f.err
}

func (f *fakeSaga) Confirm(_ context.Context, id uuid.UUID) error {
	f.confirms = append(f.confirms, id)
	return f.err
}

func envelope(t *testing.T, typ string, payload any) domain.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.Envelope{
		CorrelationID: uuid.New(),
		Type:          typ,
		Sender:        "inventory-service",
		Payload:       raw,
	}
}

func TestHandleDispatchesReservationResult(t *testing.T) {
	saga := &fakeSaga{}
	c := &Consumer{saga: saga}
	env := envelope(t, domain.TypeReservationResult, domain.ReservationResult{Status: domain.OutcomeReserved})

	require.NoError(t, c.handle(context.Background(), env))

	require.Len(t, saga.reservations, 1)
	assert.Equal(t, env.CorrelationID, saga.reservations[0].OrderID)
}

func TestHandleDispatchesPaymentCompleted(t *testing.T) {
	saga := &fakeSaga{}
	c := &Consumer{saga: saga}
	env := envelope(t, domain.TypePaymentCompleted, domain.PaymentCompleted{})

	require.NoError(t, c.handle(context.Background(), env))

	require.Len(t, saga.confirms, 1)
	assert.Equal(t, env.CorrelationID, saga.confirms[0])
}

func TestHandleRejectsUnknownType(t *testing.T) {
	c := &Consumer{saga: &fakeSaga{}}
	env := envelope(t, "reserve_products", domain.ReserveProducts{})

	err := c.handle(context.Background(), env)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func TestHandleRejectsMalformedPayloadWithoutCallingSaga(t *testing.T) {
	saga := &fakeSaga{}
	c := &Consumer{saga: saga}
	env := domain.Envelope{
		CorrelationID: uuid.New(),
		Type:          domain.TypeReservationResult,
		Payload:       json.RawMessage(`{"status":"nonsense"}`),
	}

	err := c.handle(context.Background(), env)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
	assert.Empty(t, saga.reservations)
}

func TestTerminalOutcome(t *testing.T) {
	terminal := []error{
		fmt.Errorf("wrapped: %w", application.ErrConflict),
		application.ErrNotFound,
		&application.InvalidStateError{OrderID: uuid.New(), Current: domain.StatusCancelled},
		&application.InvalidStateError{OrderID: uuid.New(), Current: domain.StatusShipping},
		fmt.Errorf("%w: bad payload", domain.ErrInvalidMessage),
	}
	for _, err := range terminal {
		assert.True(t, terminalOutcome(err), "%v should be acknowledged", err)
	}

	retryable := []error{
		errors.New("connection refused"),
		context.DeadlineExceeded,
		// A payment confirmation that raced ahead of the reservation result:
		// the order is still pending, redelivery can succeed later.
		&application.InvalidStateError{OrderID: uuid.New(), Current: domain.StatusPending},
	}
	for _, err := range retryable {
		assert.False(t, terminalOutcome(err), "%v should be redelivered", err)
	}
}
