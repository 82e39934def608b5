package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/order-service/internal/order/application"
)

type Handler struct {
	log    *slog.Logger
	saga   *application.Saga
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, saga *application.Saga) *Handler {
	return &Handler{
		log:    log,
		saga:   saga,
		tracer: otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/confirm", h.confirmOrder)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	r.Get("/orders/users/{userID}/purchased-products/{productID}", h.hasPurchased)
	r.Get("/users/{userID}/orders", h.listOrders)
	return r
}

type createOrderRequest struct {
	UserID uuid.UUID                 `json:"user_id"`
	Items  []application.ItemRequest `json:"order_items"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}

	traceparent := r.Header.Get("traceparent")
	if traceparent == "" {
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		traceparent = carrier["traceparent"]
	}

	res, err := h.saga.CreateOrder(ctx, req.UserID, req.Items, map[string]string{"sender": "order-service"}, traceparent)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid order id"})
		return
	}
	o, err := h.saga.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid order id"})
		return
	}
	if err := h.saga.Confirm(ctx, id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid", "order_id": id.String()})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid order id"})
		return
	}
	if err := h.saga.Cancel(ctx, id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "order_id": id.String()})
}

func (h *Handler) hasPurchased(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HasUserPurchasedProduct")
	defer span.End()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid user id"})
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid product id"})
		return
	}
	purchased, err := h.saga.HasUserPurchasedProduct(ctx, userID, productID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_purchased": purchased})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid user id"})
		return
	}
	orders, err := h.saga.ListOrders(ctx, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// writeError maps the application's error taxonomy onto HTTP statuses:
// not-found 404, conflict 409, business rejection 400, dependency trouble
// 503 (timeout 504).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var invalidState *application.InvalidStateError
	var dep *application.DependencyError

	switch {
	case errors.Is(err, application.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "order not found"})
	case errors.As(err, &invalidState):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": invalidState.Error()})
	case errors.Is(err, application.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": err.Error()})
	case errors.Is(err, application.ErrStockUnavailable):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "all products are unavailable"})
	case errors.Is(err, application.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
	case errors.As(err, &dep) && dep.Kind == application.DependencyTimeout:
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"detail": "stock service timeout"})
	case errors.Is(err, application.ErrDependencyUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "stock service unavailable"})
	default:
		h.log.Error("unhandled error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
