package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shipsync/backend/internal/domain/shipping"
)

// maxResponseSize is the maximum allowed response size from the carrier API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// Adapter implements shipping.CarrierPlatform over the carrier platform's REST API
type Adapter struct {
	config     *Config
	httpClient *http.Client
}

// NewAdapter creates a new carrier adapter with the given configuration
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

// ShipmentsByTracking looks up every shipment carrying the tracking number
func (a *Adapter) ShipmentsByTracking(ctx context.Context, trackingNumber string) (*shipping.ShipmentLookup, error) {
	params := url.Values{}
	params.Set("trackingNumber", trackingNumber)
	params.Set("includeShipmentItems", "false")
	return a.listShipments(ctx, params)
}

// ShipmentsByOrder lists every shipment of the order
func (a *Adapter) ShipmentsByOrder(ctx context.Context, orderNumber string) (*shipping.ShipmentLookup, error) {
	params := url.Values{}
	params.Set("orderNumber", orderNumber)
	params.Set("includeShipmentItems", "false")
	params.Set("pageSize", strconv.Itoa(a.config.PageSize))
	return a.listShipments(ctx, params)
}

func (a *Adapter) listShipments(ctx context.Context, params url.Values) (*shipping.ShipmentLookup, error) {
	lookup := &shipping.ShipmentLookup{}

	body, header, err := a.doRequest(ctx, "/shipments", params)
	lookup.Raw = rawJSON(body)
	if header != nil {
		lookup.RateLimit = ParseRateLimit(header)
	}
	if err != nil {
		if header != nil && isRateLimited(err) {
			lookup.RateLimit = ExhaustedWindow(header)
		}
		return lookup, err
	}

	var resp shipmentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return lookup, fmt.Errorf("%w: %v", shipping.ErrCarrierInvalidResponse, err)
	}

	lookup.Shipments = make([]shipping.Shipment, 0, len(resp.Shipments))
	for _, raw := range resp.Shipments {
		var rs remoteShipment
		if err := json.Unmarshal(raw, &rs); err != nil {
			return lookup, fmt.Errorf("%w: shipment entry: %v", shipping.ErrCarrierInvalidResponse, err)
		}
		lookup.Shipments = append(lookup.Shipments, rs.toShipment(raw))
	}
	return lookup, nil
}

// doRequest performs a GET against the carrier API. The response header is
// returned whenever a response was received, even with an error.
func (a *Adapter) doRequest(ctx context.Context, path string, params url.Values) ([]byte, http.Header, error) {
	endpoint := strings.TrimRight(a.config.BaseURL, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("carrier: failed to create request: %w", err)
	}
	req.SetBasicAuth(a.config.APIKey, a.config.APISecret)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", shipping.ErrCarrierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.Header, fmt.Errorf("%w: failed to read response: %v", shipping.ErrCarrierUnavailable, err)
	}

	return body, resp.Header, classifyStatus(resp.StatusCode)
}

// classifyStatus maps an HTTP status onto the carrier error taxonomy
func classifyStatus(code int) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", shipping.ErrCarrierRateLimited, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", shipping.ErrCarrierAuthFailed, code)
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", shipping.ErrCarrierUnavailable, code)
	default:
		return fmt.Errorf("%w: HTTP %d", shipping.ErrCarrierRequestFailed, code)
	}
}

func isRateLimited(err error) bool {
	return errors.Is(err, shipping.ErrCarrierRateLimited)
}

// rawJSON keeps the body for snapshots; a non-JSON body is kept as a JSON string
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

var _ shipping.CarrierPlatform = (*Adapter)(nil)
