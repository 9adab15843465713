package kdsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdsboard/internal/logging"
	"kdsboard/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewClient(srv.URL+"/api/v1/panel", "secret", opts...)
}

func TestPendingOrders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/panel/kds/2/pending-orders", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"order_id": 42, "table_id": 5, "created_at": "2024-01-01T10:00:00", "total": 25.0,
			"items": [{"cantidad": 2, "nombre": "Pizza"}], "state": "PENDING"}]`))
	})

	orders, err := client.PendingOrders(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(42), orders[0].ID)
	assert.Equal(t, models.StatusPending, orders[0].Status)
	assert.Equal(t, "Pizza", orders[0].Items[0].Name)
}

func TestCompletedOrders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/panel/kds/2/completed-orders", r.URL.Path)
		w.Write([]byte(`[]`))
	})

	orders, err := client.CompletedOrders(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestUpdateState(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/panel/orders/42/update-state", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "READY_FOR_PICKUP", body["new_state"])
		w.Write([]byte(`{"order_id": 42, "state": "READY_FOR_PICKUP"}`))
	})

	require.NoError(t, client.UpdateState(context.Background(), 42, models.StatusReadyForPickup))
}

func TestMarkPaid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/panel/orders/9/mark-paid", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.MarkPaid(context.Background(), 9))
}

func TestWaitingOrders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/panel/waiting-orders", r.URL.Path)
		w.Write([]byte(`[{"zone_name": "Terrace", "table_name": "T4", "wait_minutes": 18, "sample_item": "Ceviche"}]`))
	})

	tables, err := client.WaitingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.WaitingTable{{ZoneName: "Terrace", TableName: "T4", WaitMinutes: 18, SampleItem: "Ceviche"}}, tables)
}

func TestUnauthorizedFiresHandlerEveryTime(t *testing.T) {
	var fired atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, WithUnauthorizedHandler(func() { fired.Add(1) }))

	ctx := context.Background()
	_, err := client.PendingOrders(ctx, 1)
	assert.Equal(t, ErrUnauthorized, err)
	assert.Equal(t, int32(1), fired.Load())

	assert.Equal(t, ErrUnauthorized, client.MarkPaid(ctx, 1))
	_, err = client.WaitingOrders(ctx)
	assert.Equal(t, ErrUnauthorized, err)
	assert.Equal(t, int32(3), fired.Load())
}

func TestStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"order is not awaiting payment"}`, http.StatusBadRequest)
	})

	err := client.MarkPaid(context.Background(), 3)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Contains(t, statusErr.Body, "not awaiting payment")
}

func TestMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := client.PendingOrders(context.Background(), 1)
	assert.Error(t, err)
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in NewOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, int64(5), in.TableID)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"order_id": 77, "table_id": 5}`))
	})

	created, err := client.CreateOrder(context.Background(), NewOrder{TableID: 5, CenterID: 1, Items: []models.LineItem{{Quantity: 1, Name: "Soup"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(77), created.ID)
}
