package orderplatform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shipsync/backend/internal/infrastructure/carrier"
)

// maxResponseSize is the maximum allowed response size from the order platform (10MB)
const maxResponseSize = 10 * 1024 * 1024

type ordersResponse struct {
	Orders []json.RawMessage `json:"orders"`
}

type remoteOrder struct {
	OrderNumber string `json:"orderNumber"`
	OrderStatus string `json:"orderStatus"`
	Items       []struct {
		SKU      string `json:"sku"`
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
}

// Adapter implements shipping.OrderPlatform over the order platform's REST API
type Adapter struct {
	config     *Config
	httpClient *http.Client
}

// NewAdapter creates a new order platform adapter
func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}, nil
}

// FetchOrder retrieves the order with exactly the given number
func (a *Adapter) FetchOrder(ctx context.Context, orderNumber string) (*shipping.OrderFetch, error) {
	fetch := &shipping.OrderFetch{}

	params := url.Values{}
	params.Set("orderNumber", orderNumber)
	endpoint := strings.TrimRight(a.config.BaseURL, "/") + "/orders?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fetch, fmt.Errorf("orderplatform: failed to create request: %w", err)
	}
	req.SetBasicAuth(a.config.APIKey, a.config.APISecret)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fetch, fmt.Errorf("%w: %v", shipping.ErrOrderPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	fetch.RateLimit = carrier.ParseRateLimit(resp.Header)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fetch, fmt.Errorf("%w: failed to read response: %v", shipping.ErrOrderPlatformUnavailable, err)
	}
	if json.Valid(body) {
		fetch.Raw = json.RawMessage(body)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		fetch.RateLimit = carrier.ExhaustedWindow(resp.Header)
		return fetch, fmt.Errorf("%w: HTTP %d", shipping.ErrOrderPlatformRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fetch, fmt.Errorf("%w: %s", shipping.ErrRemoteOrderNotFound, orderNumber)
	case resp.StatusCode >= 500:
		return fetch, fmt.Errorf("%w: HTTP %d", shipping.ErrOrderPlatformUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fetch, fmt.Errorf("%w: HTTP %d", shipping.ErrOrderPlatformFailed, resp.StatusCode)
	}

	order, err := findOrder(body, orderNumber)
	if err != nil {
		return fetch, err
	}
	fetch.Order = order
	return fetch, nil
}

// findOrder picks the exact match; the platform's filter is a prefix search
func findOrder(body []byte, orderNumber string) (*shipping.RemoteOrder, error) {
	var resp ordersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", shipping.ErrOrderPlatformFailed, err)
	}

	for _, raw := range resp.Orders {
		var ro remoteOrder
		if err := json.Unmarshal(raw, &ro); err != nil {
			return nil, fmt.Errorf("%w: invalid order entry: %v", shipping.ErrOrderPlatformFailed, err)
		}
		if !strings.EqualFold(strings.TrimSpace(ro.OrderNumber), strings.TrimSpace(orderNumber)) {
			continue
		}
		order := &shipping.RemoteOrder{
			OrderNumber: strings.TrimSpace(ro.OrderNumber),
			Status:      ro.OrderStatus,
			Raw:         raw,
		}
		for _, item := range ro.Items {
			order.Items = append(order.Items, shipping.RemoteOrderItem{
				SKU:      item.SKU,
				Name:     item.Name,
				Quantity: item.Quantity,
			})
		}
		return order, nil
	}
	return nil, fmt.Errorf("%w: %s", shipping.ErrRemoteOrderNotFound, orderNumber)
}

var _ shipping.OrderPlatform = (*Adapter)(nil)
