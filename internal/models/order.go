package models

// Order represents a kitchen order (comanda) as the board sees it.
// Snapshots and feed events share this shape.
type Order struct {
	ID            int64      `json:"order_id"`
	TableID       int64      `json:"table_id"`
	CreatedAt     Timestamp  `json:"created_at"`
	Total         float64    `json:"total"`
	Items         []LineItem `json:"items"`
	Status        Status     `json:"state,omitempty"`
	AmountDue     float64    `json:"amount_due,omitempty"`
	CustomerAlias string     `json:"customer_alias,omitempty"`
}

// LineItem represents one ordered dish. Items are immutable once rendered.
type LineItem struct {
	Quantity int    `json:"cantidad"`
	Name     string `json:"nombre"`
	Note     string `json:"nota,omitempty"`
}

// Status is the backend lifecycle of an order
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusInPreparation  Status = "IN_PREPARATION"
	StatusPaymentDue     Status = "PAYMENT_DUE"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// Valid reports whether s is a status the backend knows about
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInPreparation, StatusPaymentDue,
		StatusReadyForPickup, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether an order in this status still needs kitchen work
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInPreparation
}

// State is the coarse lifecycle observed on the board
type State string

const (
	StatePending    State = "PENDING"
	StateReady      State = "READY"
	StatePaymentDue State = "PAYMENT_DUE"
	StatePaid       State = "PAID"
)

// Terminal reports whether the state is a display-only end state.
// Terminal cards are removed after a fixed delay.
func (s State) Terminal() bool {
	return s == StateReady || s == StatePaid
}

// BoardState maps a backend status onto the board lifecycle
func BoardState(s Status) State {
	switch s {
	case StatusPaymentDue:
		return StatePaymentDue
	case StatusReadyForPickup, StatusCompleted:
		return StateReady
	default:
		return StatePending
	}
}

// AmountToCollect returns what the cashier should charge for a payment alert.
// Alerts without an explicit amount fall back to the order total.
func (o Order) AmountToCollect() float64 {
	if o.AmountDue > 0 {
		return o.AmountDue
	}
	if o.Total > 0 {
		return o.Total
	}
	return 0
}
