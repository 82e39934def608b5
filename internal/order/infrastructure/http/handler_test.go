package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/order-service/internal/order/application"
	"github.com/orderflow/order-service/internal/order/domain"
	"github.com/orderflow/order-service/pkg/metrics"
)

type memRepo struct {
	orders map[uuid.UUID]domain.Order
}

func (r *memRepo) InsertWithOutbox(_ context.Context, o domain.Order, _ string, _ []byte, _ map[string]string, _ string) error {
	r.orders[o.ID] = o
	return nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, application.ErrNotFound
	}
	return o, nil
}

func (r *memRepo) UpdateStatusIf(_ context.Context, id uuid.UUID, expected, target domain.OrderStatus) (int64, error) {
	o, ok := r.orders[id]
	if !ok || o.Status != expected {
		return 0, nil
	}
	o.Status = target
	r.orders[id] = o
	return 1, nil
}

func (r *memRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memRepo) ItemsByOrderIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error) {
	items := make(map[uuid.UUID][]domain.OrderItem)
	for _, id := range ids {
		if o, ok := r.orders[id]; ok {
			items[id] = o.Items
		}
	}
	return items, nil
}

func (r *memRepo) HasUserPurchasedProduct(_ context.Context, userID uuid.UUID, productID int64) (bool, error) {
	for _, o := range r.orders {
		if o.UserID != userID {
			continue
		}
		for _, it := range o.Items {
			if it.ProductID == productID {
				return true, nil
			}
		}
	}
	return false, nil
}

type memStock struct {
	res application.StockResult
	err error
}

func (s memStock) CheckStock(context.Context, []application.ItemRequest) (application.StockResult, error) {
	return s.res, s.err
}

func newServer(repo *memRepo, stock application.StockClient) *httptest.Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	saga := application.NewSaga(log, repo, stock, metrics.NewSagaMetrics(prometheus.NewRegistry()))
	return httptest.NewServer(NewHandler(log, saga).Routes())
}

func TestCreateOrderEndpoint(t *testing.T) {
	repo := &memRepo{orders: make(map[uuid.UUID]domain.Order)}
	srv := newServer(repo, memStock{res: application.StockResult{
		OK:    true,
		Items: []domain.OrderItem{{ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("10.00")}},
	}})
	defer srv.Close()

	body := `{"user_id":"` + uuid.NewString() + `","order_items":[{"product_id":1,"quantity":2}]}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		OrderID uuid.UUID `json:"order_id"`
		Status  string    `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "processing", out.Status)
	assert.Contains(t, repo.orders, out.OrderID)
}

func TestCreateOrderStockUnavailableIsBadRequest(t *testing.T) {
	repo := &memRepo{orders: make(map[uuid.UUID]domain.Order)}
	srv := newServer(repo, memStock{res: application.StockResult{OK: false}})
	defer srv.Close()

	body := `{"user_id":"` + uuid.NewString() + `","order_items":[{"product_id":1,"quantity":1}]}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.orders)
}

func TestCreateOrderStockTimeoutIsGatewayTimeout(t *testing.T) {
	repo := &memRepo{orders: make(map[uuid.UUID]domain.Order)}
	srv := newServer(repo, memStock{err: &application.DependencyError{
		Op:   "stock.CheckStock",
		Kind: application.DependencyTimeout,
		Err:  context.DeadlineExceeded,
	}})
	defer srv.Close()

	body := `{"user_id":"` + uuid.NewString() + `","order_items":[{"product_id":1,"quantity":1}]}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestGetOrderNotFound(t *testing.T) {
	repo := &memRepo{orders: make(map[uuid.UUID]domain.Order)}
	srv := newServer(repo, memStock{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfirmEndpointRejectsPendingOrder(t *testing.T) {
	repo := &memRepo{orders: make(map[uuid.UUID]domain.Order)}
	o := domain.NewOrder(uuid.New(), []domain.OrderItem{{ProductID: 1, Quantity: 1, Price: decimal.NewFromInt(1)}})
	repo.orders[o.ID] = o
	srv := newServer(repo, memStock{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders/"+o.ID.String()+"/confirm", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "pending")
}

func TestConfirmEndpointMovesReservedToPaid(t *testing.T) {
	repo := &memRepo{orders: make(map[uuid.UUID]domain.Order)}
	o := domain.NewOrder(uuid.New(), []domain.OrderItem{{ProductID: 1, Quantity: 1, Price: decimal.NewFromInt(1)}})
	o.Status = domain.StatusReserved
	repo.orders[o.ID] = o
	srv := newServer(repo, memStock{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders/"+o.ID.String()+"/confirm", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StatusPaid, repo.orders[o.ID].Status)
}

func TestHasPurchasedEndpoint(t *testing.T) {
	repo := &memRepo{orders: make(map[uuid.UUID]domain.Order)}
	o := domain.NewOrder(uuid.New(), []domain.OrderItem{{ProductID: 42, Quantity: 1, Price: decimal.NewFromInt(5)}})
	repo.orders[o.ID] = o
	srv := newServer(repo, memStock{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/users/" + o.UserID.String() + "/purchased-products/42")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out["has_purchased"])
}
