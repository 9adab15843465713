package render

import (
	"fmt"
	"strings"
	"sync"

	"kdsboard/internal/board"
	"kdsboard/internal/models"
)

// Placeholder is shown when the active view has no cards
const Placeholder = "No orders in this view."

// Footers
const (
	FooterCompleted  = "Completed"
	paymentDueFormat = "PAYMENT DUE - Order #%d"
)

// CueKind identifies an audio cue
type CueKind int

const (
	CueNewOrder CueKind = iota
	CuePaymentDue
)

// Cue plays the audible alert for a newly presented live card
type Cue interface {
	Play(kind CueKind, orderID int64)
}

// CueFunc adapts a function to Cue
type CueFunc func(kind CueKind, orderID int64)

// Play calls f
func (f CueFunc) Play(kind CueKind, orderID int64) { f(kind, orderID) }

// Status is the non-board input of a frame
type Status struct {
	Connected bool
	Waiting   []models.WaitingTable
}

// CardView is the rendered form of one card
type CardView struct {
	ID       int64
	Kind     board.View
	Title    string
	Items    []string
	Elapsed  string
	Amount   string
	Footer   string
	Button   string
	Disabled bool
	// Entering marks the first presentation of a live card
	Entering bool
}

// Frame is one full projection of the board
type Frame struct {
	Active      board.View
	Connected   bool
	Notice      string
	PaymentDue  []CardView
	Cards       []CardView
	Placeholder string
	Waiting     []string
}

// Renderer projects board snapshots into frames. It remembers which orders it
// has already presented so entry effects fire once per card.
type Renderer struct {
	currency string
	cue      Cue

	mu        sync.Mutex
	presented map[int64]board.View
}

// Option configures a Renderer
type Option func(*Renderer)

// WithCue sets the audio cue player
func WithCue(c Cue) Option {
	return func(r *Renderer) { r.cue = c }
}

// WithCurrency sets the symbol printed before amounts
func WithCurrency(symbol string) Option {
	return func(r *Renderer) { r.currency = symbol }
}

// New creates a renderer
func New(opts ...Option) *Renderer {
	r := &Renderer{
		currency:  "S/",
		presented: make(map[int64]board.View),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render builds the frame for snap. Calling it again with unchanged state
// yields the same frame without entry effects.
func (r *Renderer) Render(snap board.Snapshot, status Status) Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame := Frame{
		Active:    snap.Active,
		Connected: status.Connected,
		Notice:    snap.Notice,
	}

	seen := make(map[int64]board.View)
	frame.PaymentDue = r.project(snap.PaymentDue, seen)
	if snap.Active != board.ViewPaymentDue {
		frame.Cards = r.project(snap.Lane(snap.Active), seen)
	}
	if len(frame.Cards) == 0 {
		frame.Placeholder = Placeholder
	}
	if snap.Active != board.ViewPending {
		// New orders still sound while the pending lane is off screen
		r.announce(snap.Pending, seen)
	}

	// Forget cards that left the board so a later re-insert is new again
	r.presented = seen

	for _, w := range status.Waiting {
		frame.Waiting = append(frame.Waiting, WaitingLine(w))
	}
	return frame
}

// Reset forgets every presented card
func (r *Renderer) Reset() {
	r.mu.Lock()
	r.presented = make(map[int64]board.View)
	r.mu.Unlock()
}

func (r *Renderer) project(cards []board.Card, seen map[int64]board.View) []CardView {
	views := make([]CardView, 0, len(cards))
	for _, c := range cards {
		view, known := r.presented[c.Order.ID]
		fresh := !known || view != c.View
		seen[c.Order.ID] = c.View

		cv := r.cardView(c)
		if fresh && c.Live {
			cv.Entering = true
			r.playCue(c)
		}
		views = append(views, cv)
	}
	return views
}

// announce plays cues for live cards that are not displayed
func (r *Renderer) announce(cards []board.Card, seen map[int64]board.View) {
	for _, c := range cards {
		view, known := r.presented[c.Order.ID]
		seen[c.Order.ID] = c.View
		if c.Live && (!known || view != c.View) {
			r.playCue(c)
		}
	}
}

func (r *Renderer) cardView(c board.Card) CardView {
	cv := CardView{
		ID:       c.Order.ID,
		Kind:     c.View,
		Title:    fmt.Sprintf("Table %d", c.Order.TableID),
		Items:    itemLines(c.Order.Items),
		Elapsed:  c.Elapsed,
		Button:   c.Control.Label,
		Disabled: c.Control.Disabled,
	}

	switch c.View {
	case board.ViewCompleted:
		cv.Footer = FooterCompleted
	case board.ViewPaymentDue:
		cv.Footer = fmt.Sprintf(paymentDueFormat, c.Order.ID)
		cv.Amount = r.money(c.Order.AmountToCollect())
		if c.Order.CustomerAlias != "" {
			cv.Title += " - " + c.Order.CustomerAlias
		}
	}
	return cv
}

func (r *Renderer) playCue(c board.Card) {
	if r.cue == nil {
		return
	}
	kind := CueNewOrder
	if c.View == board.ViewPaymentDue {
		kind = CuePaymentDue
	}
	r.cue.Play(kind, c.Order.ID)
}

func (r *Renderer) money(v float64) string {
	return fmt.Sprintf("%s %.2f", r.currency, v)
}

func itemLines(items []models.LineItem) []string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		line := fmt.Sprintf("%dx %s", it.Quantity, it.Name)
		if note := strings.TrimSpace(it.Note); note != "" {
			line += " (" + note + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

// WaitingLine formats one entry of the waiting tables panel
func WaitingLine(w models.WaitingTable) string {
	line := fmt.Sprintf("%s / %s: %d min", w.ZoneName, w.TableName, w.WaitMinutes)
	if w.SampleItem != "" {
		line += " (" + w.SampleItem + ")"
	}
	return line
}
