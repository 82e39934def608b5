// Package stock implements the synchronous stock-check client against the
// product service's HTTP API.
package stock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderflow/order-service/internal/order/application"
	"github.com/orderflow/order-service/internal/order/domain"
)

type Client struct {
	log  *slog.Logger
	base string
	http *http.Client
}

func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		log:  log,
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}
}

type checkStockRequest struct {
	Items []application.ItemRequest `json:"items"`
}

type checkStockResponse struct {
	OK          bool               `json:"ok"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Products    []domain.OrderItem `json:"products"`
}

// CheckStock asks the product service whether the requested items are
// available and at what price. Failures are classified so the saga can map
// them: timeout, remote error, or unexpected.
func (c *Client) CheckStock(ctx context.Context, items []application.ItemRequest) (application.StockResult, error) {
	body, err := json.Marshal(checkStockRequest{Items: items})
	if err != nil {
		return application.StockResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/products/stock", bytes.NewReader(body))
	if err != nil {
		return application.StockResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := application.DependencyUnexpected
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = application.DependencyTimeout
		}
		c.log.Error("stock check failed", "kind", kind, "err", err)
		return application.StockResult{}, &application.DependencyError{Op: "stock.CheckStock", Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("stock service returned %d", resp.StatusCode)
		c.log.Error("stock check failed", "kind", application.DependencyRemote, "status", resp.StatusCode)
		return application.StockResult{}, &application.DependencyError{Op: "stock.CheckStock", Kind: application.DependencyRemote, Err: err}
	}

	var out checkStockResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.log.Error("stock check failed", "kind", application.DependencyUnexpected, "err", err)
		return application.StockResult{}, &application.DependencyError{Op: "stock.CheckStock", Kind: application.DependencyUnexpected, Err: err}
	}

	return application.StockResult{OK: out.OK, TotalAmount: out.TotalAmount, Items: out.Products}, nil
}
