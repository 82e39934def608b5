package application

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/orderflow/order-service/internal/order/domain"
)

// Expected business outcomes are modeled as values the caller can inspect
// with errors.Is / errors.As, not as panics.
var (
	ErrNotFound              = errors.New("order not found")
	ErrConflict              = errors.New("order status conflict")
	ErrStockUnavailable      = errors.New("stock unavailable")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInvalidRequest        = errors.New("invalid order request")
)

// InvalidStateError names the status that blocked an operation so callers can
// tell "too early" from "already happened" from "diverged".
type InvalidStateError struct {
	OrderID uuid.UUID
	Current domain.OrderStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s: operation not allowed in status %q", e.OrderID, e.Current)
}

type DependencyKind string

const (
	DependencyTimeout    DependencyKind = "timeout"
	DependencyRemote     DependencyKind = "remote"
	DependencyUnexpected DependencyKind = "unexpected"
)

// DependencyError classifies a failed call to an external collaborator.
// It matches ErrDependencyUnavailable under errors.Is.
type DependencyError struct {
	Op   string
	Kind DependencyKind
	Err  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func (e *DependencyError) Is(target error) bool { return target == ErrDependencyUnavailable }
