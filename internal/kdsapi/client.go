package kdsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kdsboard/internal/models"
)

// DefaultTimeout bounds every request
const DefaultTimeout = 10 * time.Second

// ErrUnauthorized is returned for every 401 response
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response other than 401
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status code: %d", e.Code)
	}
	return fmt.Sprintf("request failed with status code %d: %s", e.Code, e.Body)
}

// Client talks to the KDS panel endpoints of the restaurant backend
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	onUnauthorized func()
	log            *logrus.Entry
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUnauthorizedHandler registers the callback fired on every 401
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithLogger sets the log entry
func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for baseURL, the panel prefix included
// (for example http://localhost:8000/api/v1/panel)
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PendingOrders returns the center's active orders
func (c *Client) PendingOrders(ctx context.Context, centerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/kds/%d/pending-orders", centerID), nil, &orders)
	return orders, err
}

// CompletedOrders returns the center's orders completed today
func (c *Client) CompletedOrders(ctx context.Context, centerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/kds/%d/completed-orders", centerID), nil, &orders)
	return orders, err
}

type updateStateRequest struct {
	NewState models.Status `json:"new_state"`
}

// UpdateState moves an order to a new backend status
func (c *Client) UpdateState(ctx context.Context, orderID int64, status models.Status) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/update-state", orderID), updateStateRequest{NewState: status}, nil)
}

// MarkPaid confirms payment for a PAYMENT_DUE order
func (c *Client) MarkPaid(ctx context.Context, orderID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/mark-paid", orderID), nil, nil)
}

// WaitingOrders returns the tables that have waited longest
func (c *Client) WaitingOrders(ctx context.Context) ([]models.WaitingTable, error) {
	var tables []models.WaitingTable
	err := c.do(ctx, http.MethodGet, "/waiting-orders", nil, &tables)
	return tables, err
}

// NewOrder is the body for CreateOrder
type NewOrder struct {
	TableID  int64             `json:"table_id"`
	CenterID int64             `json:"center_id"`
	Items    []models.LineItem `json:"items"`
	Total    float64           `json:"total"`
	// PaymentFirst sends the order to the cashier before the kitchen
	PaymentFirst bool `json:"payment_first,omitempty"`
}

// CreateOrder submits an order to the backend
func (c *Client) CreateOrder(ctx context.Context, order NewOrder) (*models.Order, error) {
	var created models.Order
	if err := c.do(ctx, http.MethodPost, "/orders", order, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.log.WithField("path", path).Warn("backend rejected credentials")
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
