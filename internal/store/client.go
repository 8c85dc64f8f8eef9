// Package store provides a client for the tire store / ERP backend.
// All order and fitting side effects flow through here; the tool
// handlers own no HTTP. Retry policy for transient connection errors
// lives in this client (via httpkit), not in the tool dispatcher.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hlibko/vika-voice-agent/internal/httpkit"
)

// Client is a tire store / ERP REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new store client. Retries cover dial/connect
// failures only, which are safe to repeat for mutating calls.
func NewClient(baseURL, apiKey string, timeout time.Duration, retries int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(retries, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// TireQuery describes a catalog search.
type TireQuery struct {
	Width    int    // e.g. 205
	Profile  int    // e.g. 55
	Diameter int    // rim inches, e.g. 16
	Season   string // "summer", "winter", "all_season" or empty
	Brand    string // optional brand filter
	Limit    int    // max results (default applied server-side)
}

// Tire is one catalog entry.
type Tire struct {
	SKU      string  `json:"sku"`
	Brand    string  `json:"brand"`
	Model    string  `json:"model"`
	Size     string  `json:"size"` // "205/55 R16"
	Season   string  `json:"season"`
	PriceUAH float64 `json:"price_uah"`
	InStock  int     `json:"in_stock"`
}

// OrderDraft is the store's record of an unconfirmed order.
type OrderDraft struct {
	OrderID  string  `json:"order_id"`
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	TotalUAH float64 `json:"total_uah"`
}

// Delivery captures delivery details on a draft.
type Delivery struct {
	OrderID string `json:"order_id"`
	Method  string `json:"method"` // "pickup", "courier", "nova_poshta"
	Address string `json:"address,omitempty"`
}

// Confirmation is the store's acknowledgment of a confirmed order.
type Confirmation struct {
	OrderID      string  `json:"order_id"`
	Number       string  `json:"number"` // human-readable confirmation number
	TotalUAH     float64 `json:"total_uah"`
	EtaBusinessD int     `json:"eta_business_days"`
}

// FittingSlot is one bookable fitting appointment.
type FittingSlot struct {
	SlotID   string    `json:"slot_id"`
	At       time.Time `json:"at"`
	Location string    `json:"location"`
}

// Booking acknowledges a booked fitting slot.
type Booking struct {
	BookingID string    `json:"booking_id"`
	SlotID    string    `json:"slot_id"`
	At        time.Time `json:"at"`
	Location  string    `json:"location"`
}

// Ping checks if the store API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/api/v1/health", nil)
}

// SearchTires queries the catalog.
func (c *Client) SearchTires(ctx context.Context, q TireQuery) ([]Tire, error) {
	params := url.Values{}
	if q.Width > 0 {
		params.Set("width", strconv.Itoa(q.Width))
	}
	if q.Profile > 0 {
		params.Set("profile", strconv.Itoa(q.Profile))
	}
	if q.Diameter > 0 {
		params.Set("diameter", strconv.Itoa(q.Diameter))
	}
	if q.Season != "" {
		params.Set("season", q.Season)
	}
	if q.Brand != "" {
		params.Set("brand", q.Brand)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var tires []Tire
	if err := c.get(ctx, "/api/v1/tires?"+params.Encode(), &tires); err != nil {
		return nil, err
	}
	return tires, nil
}

// TireDetails retrieves one catalog entry by SKU.
func (c *Client) TireDetails(ctx context.Context, sku string) (*Tire, error) {
	var tire Tire
	if err := c.get(ctx, "/api/v1/tires/"+url.PathEscape(sku), &tire); err != nil {
		return nil, err
	}
	return &tire, nil
}

// CreateOrderDraft opens a draft order for one SKU.
func (c *Client) CreateOrderDraft(ctx context.Context, sku string, quantity int, phone string) (*OrderDraft, error) {
	var draft OrderDraft
	body := map[string]any{"sku": sku, "quantity": quantity, "phone": phone}
	if err := c.post(ctx, "/api/v1/orders", body, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// SetDelivery records delivery details on a draft order.
func (c *Client) SetDelivery(ctx context.Context, d Delivery) error {
	path := "/api/v1/orders/" + url.PathEscape(d.OrderID) + "/delivery"
	return c.post(ctx, path, d, nil)
}

// ConfirmOrder finalizes a draft order.
func (c *Client) ConfirmOrder(ctx context.Context, orderID string) (*Confirmation, error) {
	var conf Confirmation
	path := "/api/v1/orders/" + url.PathEscape(orderID) + "/confirm"
	if err := c.post(ctx, path, nil, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// FittingSlots lists available fitting appointments.
func (c *Client) FittingSlots(ctx context.Context, date, location string) ([]FittingSlot, error) {
	params := url.Values{}
	if date != "" {
		params.Set("date", date)
	}
	if location != "" {
		params.Set("location", location)
	}

	var slots []FittingSlot
	if err := c.get(ctx, "/api/v1/fitting/slots?"+params.Encode(), &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// BookFitting reserves a fitting slot, optionally tied to an order.
func (c *Client) BookFitting(ctx context.Context, slotID, orderID string) (*Booking, error) {
	var booking Booking
	body := map[string]any{"slot_id": slotID}
	if orderID != "" {
		body["order_id"] = orderID
	}
	if err := c.post(ctx, "/api/v1/fitting/bookings", body, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// NotifyOperator queues a human-operator callback for the call.
func (c *Client) NotifyOperator(ctx context.Context, callID, reason string) error {
	body := map[string]any{"call_id": callID, "reason": reason}
	return c.post(ctx, "/api/v1/operator/handoff", body, nil)
}

// PriceListVersion returns the server's price list timestamp, used by
// the cache staleness check.
func (c *Client) PriceListVersion(ctx context.Context) (time.Time, error) {
	var resp struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := c.get(ctx, "/api/v1/pricelist/version", &resp); err != nil {
		return time.Time{}, err
	}
	return resp.UpdatedAt, nil
}

// PriceList fetches the full price list snapshot.
func (c *Client) PriceList(ctx context.Context) (map[string]float64, error) {
	var resp struct {
		Prices map[string]float64 `json:"prices"`
	}
	if err := c.get(ctx, "/api/v1/pricelist", &resp); err != nil {
		return nil, err
	}
	return resp.Prices, nil
}

// get performs a GET request against the store API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("store API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post performs a POST request against the store API.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var reqBody []byte
	if data != nil {
		var err error
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("store API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
