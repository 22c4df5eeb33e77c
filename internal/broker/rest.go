package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RESTConfig configures the HTTP broker client.
type RESTConfig struct {
	BaseURL      string
	Token        string // bearer token, supplied by configuration
	RateLimitRPS float64
	Timeout      time.Duration
}

// REST is the HTTP implementation of Client. Every call passes the rate
// limiter first. Placement is never retried: a transport-ambiguous
// response is the caller's to reconcile by status lookup.
type REST struct {
	cfg        RESTConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewREST creates a broker REST client.
func NewREST(cfg RESTConfig) *REST {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &REST{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
	}
}

// placeAck is the broker-native placement response.
type placeAck struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// PlaceOrder submits an order. A non-2xx answer yields a StatusError; the
// order was definitively not accepted. No retries.
func (r *REST) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("broker: marshal place request: %w", err)
	}

	data, err := r.do(ctx, http.MethodPost, "/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var ack placeAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("broker: parse place response: %w", err)
	}

	resp := &PlaceResponse{
		Accepted:      ack.Status == StatusAccepted,
		BrokerOrderID: ack.OrderID,
		Reason:        ack.Reason,
	}
	log.Debug().
		Str("client_order_id", req.ClientOrderID).
		Str("broker_order_id", ack.OrderID).
		Bool("accepted", resp.Accepted).
		Msg("broker: order placed")
	return resp, nil
}

// GetOrderStatus looks an order up by broker or client order id.
func (r *REST) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	data, err := r.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}

	var st OrderStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("broker: parse order status: %w", err)
	}
	return &st, nil
}

// CancelOrder requests cancellation of an order.
func (r *REST) CancelOrder(ctx context.Context, orderID string) error {
	_, err := r.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil)
	return err
}

// do runs one rate-limited, bearer-authenticated request and returns the
// response body. Status >= 400 maps to StatusError.
func (r *REST) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("broker: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("broker: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Code: resp.StatusCode, Message: string(data)}
	}
	return data, nil
}
