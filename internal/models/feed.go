package models

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// AlertType discriminates feed messages that are not plain new orders
type AlertType string

const (
	// AlertPaymentDue asks the cashier to collect payment for an order
	AlertPaymentDue AlertType = "PAYMENT_DUE"
	// AlertCashPaymentDue is raised when a customer announces a cash payment
	AlertCashPaymentDue AlertType = "PAYMENT_DUE_CASH"
)

// ErrMalformedEvent is returned for feed payloads that cannot drive the board
var ErrMalformedEvent = errors.New("malformed feed event")

// FeedEvent is one message from the kitchen center's order stream
type FeedEvent struct {
	Order
	AlertType AlertType `json:"alert_type,omitempty"`
}

// IsPaymentAlert reports whether the event belongs on the payment-due path
func (e FeedEvent) IsPaymentAlert() bool {
	return e.AlertType == AlertPaymentDue || e.AlertType == AlertCashPaymentDue
}

// DecodeFeedEvent parses a raw feed frame
func DecodeFeedEvent(data []byte) (FeedEvent, error) {
	var evt FeedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return FeedEvent{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if evt.ID <= 0 {
		return FeedEvent{}, errors.Wrap(ErrMalformedEvent, "missing order_id")
	}
	if evt.Items == nil {
		evt.Items = []LineItem{}
	}
	return evt, nil
}

// WaitingTable is one entry of the "orders waiting" panel
type WaitingTable struct {
	ZoneName    string `json:"zone_name"`
	TableName   string `json:"table_name"`
	WaitMinutes int    `json:"wait_minutes"`
	SampleItem  string `json:"sample_item,omitempty"`
}
