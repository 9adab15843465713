package board

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kdsboard/internal/models"
	"kdsboard/internal/monitoring"
)

// View is one of the board's lanes
type View string

const (
	ViewPending    View = "pending"
	ViewCompleted  View = "completed"
	ViewPaymentDue View = "payment_due"
)

// Views lists the lanes in display order
var Views = []View{ViewPaymentDue, ViewPending, ViewCompleted}

// Action is what a card's control does when triggered
type Action string

const (
	ActionNone      Action = ""
	ActionMarkReady Action = "mark_ready"
	ActionMarkPaid  Action = "mark_paid"
)

// Control labels
const (
	LabelMarkReady  = "Mark ready"
	LabelMarking    = "Marking..."
	LabelReady      = "READY"
	LabelMarkPaid   = "Mark as paid"
	LabelProcessing = "Processing..."
	LabelPaid       = "PAID"

	ElapsedStart  = "00:00"
	ElapsedClosed = "Closed"
)

// Default removal delays after a terminal transition
const (
	DefaultReadyRemovalDelay = 3 * time.Second
	DefaultPaidRemovalDelay  = 2 * time.Second
)

var (
	ErrDuplicateOrder    = errors.New("order already on the board")
	ErrUnknownOrder      = errors.New("order not on the board")
	ErrNotTerminal       = errors.New("transition target is not a terminal state")
	ErrInvalidTransition = errors.New("order cannot reach that state")
	ErrActionInFlight    = errors.New("action already in progress")
	ErrNoAction          = errors.New("card does not offer that action")
)

// Control is the state of a card's action button
type Control struct {
	Action   Action
	Label    string
	Disabled bool
}

// Card is the render state of one order on the board
type Card struct {
	Order   models.Order
	View    View
	State   models.State
	Elapsed string
	// Live is set for cards that arrived through the feed rather than a snapshot
	Live    bool
	Control Control
}

// Snapshot is an immutable copy of the board for rendering
type Snapshot struct {
	Active     View
	Pending    []Card
	Completed  []Card
	PaymentDue []Card
	Notice     string
}

// Lane returns the cards of v in display order
func (s Snapshot) Lane(v View) []Card {
	switch v {
	case ViewPending:
		return s.Pending
	case ViewCompleted:
		return s.Completed
	case ViewPaymentDue:
		return s.PaymentDue
	}
	return nil
}

// Options configures a Board
type Options struct {
	Clock             clockwork.Clock
	ReadyRemovalDelay time.Duration
	PaidRemovalDelay  time.Duration
	Logger            *logrus.Entry
	Metrics           *monitoring.Metrics
}

type removal struct {
	gen  uint64
	stop chan struct{}
}

// Board is the keyed store of orders currently shown for one kitchen center.
// All methods are safe for concurrent use; every mutation is applied atomically.
type Board struct {
	clock      clockwork.Clock
	readyDelay time.Duration
	paidDelay  time.Duration
	log        *logrus.Entry
	metrics    *monitoring.Metrics

	mu         sync.Mutex
	active     View
	cards      map[int64]*Card
	lanes      map[View][]int64
	timers     *Timers
	removals   map[int64]removal
	removalGen uint64
	notice     string
	closed     bool
	changes    chan struct{}
}

// New creates an empty board showing the pending view
func New(opts Options) *Board {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ReadyRemovalDelay <= 0 {
		opts.ReadyRemovalDelay = DefaultReadyRemovalDelay
	}
	if opts.PaidRemovalDelay <= 0 {
		opts.PaidRemovalDelay = DefaultPaidRemovalDelay
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Board{
		clock:      opts.Clock,
		readyDelay: opts.ReadyRemovalDelay,
		paidDelay:  opts.PaidRemovalDelay,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		active:     ViewPending,
		cards:      make(map[int64]*Card),
		lanes:      make(map[View][]int64),
		timers:     NewTimers(opts.Clock),
		removals:   make(map[int64]removal),
		changes:    make(chan struct{}, 1),
	}
}

// Changes signals after every mutation. Signals coalesce; read Snapshot on receipt.
func (b *Board) Changes() <-chan struct{} {
	return b.changes
}

// ActiveView returns the view the board is showing
func (b *Board) ActiveView() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// LoadSnapshot switches to view and replaces its contents with orders.
// Loading the pending view also replaces the payment-due lane with the
// snapshot's PAYMENT_DUE orders.
func (b *Board) LoadSnapshot(view View, orders []models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	replace := []View{ViewPending, ViewCompleted}
	if view == ViewPending {
		replace = append(replace, ViewPaymentDue)
	}
	for _, v := range replace {
		for _, id := range append([]int64(nil), b.lanes[v]...) {
			b.drop(id)
		}
		delete(b.lanes, v)
	}
	b.active = view

	seen := make(map[int64]bool, len(orders))
	for _, o := range orders {
		if o.ID <= 0 {
			b.log.WithField("view", view).Warn("skipping snapshot order without id")
			continue
		}
		if seen[o.ID] {
			b.log.WithField("order_id", o.ID).Warn("skipping duplicate snapshot order")
			continue
		}
		seen[o.ID] = true
		if existing, ok := b.cards[o.ID]; ok {
			if !existing.State.Terminal() {
				b.log.WithField("order_id", o.ID).Warn("skipping duplicate snapshot order")
				continue
			}
			b.drop(o.ID)
		}

		lane := view
		if view == ViewPending && o.Status == models.StatusPaymentDue {
			lane = ViewPaymentDue
		}
		b.place(o, lane, false)
	}

	b.changed()
}

// ApplyInsert adds a live pending order at the head of the pending lane. While
// another view is active the lane is kept off screen until the next pending
// snapshot replaces it.
func (b *Board) ApplyInsert(o models.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if err := b.evictTerminal(o.ID); err != nil {
		return err
	}

	b.place(o, ViewPending, true)
	b.changed()
	return nil
}

// ApplyPaymentDue adds a live payment alert at the head of the payment-due lane,
// whatever view is active. A pending card with the same ID is reclassified:
// it leaves the pending lane and its countdown restarts in the payment lane.
func (b *Board) ApplyPaymentDue(o models.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if existing, ok := b.cards[o.ID]; ok && existing.View == ViewPending && !existing.State.Terminal() {
		b.drop(o.ID)
	}
	if err := b.evictTerminal(o.ID); err != nil {
		return err
	}

	b.place(o, ViewPaymentDue, true)
	b.changed()
	return nil
}

// UpdateOrder replaces the order details of an active card in place. Its lane,
// state, control and countdown are kept.
func (b *Board) UpdateOrder(o models.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	card, ok := b.cards[o.ID]
	if !ok {
		return ErrUnknownOrder
	}
	if card.State.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "order %d is %s", o.ID, card.State)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = card.Order.CreatedAt
	}
	card.Order = o
	b.changed()
	return nil
}

// ApplyTransition moves an order to READY or PAID, stops its timer and schedules
// its removal
func (b *Board) ApplyTransition(id int64, state models.State) error {
	if !state.Terminal() {
		return ErrNotTerminal
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	card, ok := b.cards[id]
	if !ok {
		return ErrUnknownOrder
	}
	if card.State == state {
		return nil
	}

	var (
		label string
		delay time.Duration
	)
	switch {
	case state == models.StateReady && card.State == models.StatePending:
		label, delay = LabelReady, b.readyDelay
	case state == models.StatePaid && card.State == models.StatePaymentDue:
		label, delay = LabelPaid, b.paidDelay
	default:
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", card.State, state)
	}

	b.timers.Stop(id)
	card.State = state
	card.Control = Control{Action: card.Control.Action, Label: label, Disabled: true}
	b.scheduleRemoval(id, delay)

	b.changed()
	return nil
}

// Remove deletes an order. Removing an absent order is a no-op.
func (b *Board) Remove(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.drop(id) {
		return false
	}
	b.changed()
	return true
}

// BeginAction disables the card's control while its request is in flight
func (b *Board) BeginAction(id int64, action Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	card, ok := b.cards[id]
	if !ok {
		return ErrUnknownOrder
	}
	if action == ActionNone || card.Control.Action != action {
		return ErrNoAction
	}
	if card.Control.Disabled {
		return ErrActionInFlight
	}

	card.Control.Disabled = true
	card.Control.Label = busyLabel(action)
	b.changed()
	return nil
}

// AbortAction re-enables a control after a failed request
func (b *Board) AbortAction(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	card, ok := b.cards[id]
	if !ok || card.State.Terminal() {
		return
	}
	card.Control.Disabled = false
	card.Control.Label = idleLabel(card.Control.Action)
	b.changed()
}

// SetNotice shows a user-visible message; an empty string clears it
func (b *Board) SetNotice(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notice == msg {
		return
	}
	b.notice = msg
	b.changed()
}

// Lookup returns a copy of the card for id
func (b *Board) Lookup(id int64) (Card, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	card, ok := b.cards[id]
	if !ok {
		return Card{}, false
	}
	return *card, true
}

// Len returns the number of cards on the board
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cards)
}

// HasTimer reports whether id has a ticking countdown
func (b *Board) HasTimer(id int64) bool {
	return b.timers.Active(id)
}

// TimerCount returns the number of ticking countdowns
func (b *Board) TimerCount() int {
	return b.timers.Len()
}

// Snapshot copies the board for rendering
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Active:     b.active,
		Pending:    b.laneLocked(ViewPending),
		Completed:  b.laneLocked(ViewCompleted),
		PaymentDue: b.laneLocked(ViewPaymentDue),
		Notice:     b.notice,
	}
}

// Close cancels every timer and scheduled removal and empties the board
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	b.timers.StopAll()
	for id := range b.removals {
		b.cancelRemoval(id)
	}
	b.cards = make(map[int64]*Card)
	b.lanes = make(map[View][]int64)
	b.reportCards()
}

func (b *Board) laneLocked(v View) []Card {
	ids := b.lanes[v]
	out := make([]Card, 0, len(ids))
	for _, id := range ids {
		out = append(out, *b.cards[id])
	}
	return out
}

// evictTerminal clears the way for an insert of id.
// An active card with the same ID is a contract violation.
func (b *Board) evictTerminal(id int64) error {
	existing, ok := b.cards[id]
	if !ok {
		return nil
	}
	if !existing.State.Terminal() {
		return errors.Wrapf(ErrDuplicateOrder, "order %d", id)
	}
	b.drop(id)
	return nil
}

// place prepends a new card to lane and starts its countdown
func (b *Board) place(o models.Order, lane View, live bool) {
	card := &Card{Order: o, View: lane, Live: live, Elapsed: ElapsedStart}

	switch lane {
	case ViewPending:
		card.State = models.StatePending
		card.Control = Control{Action: ActionMarkReady, Label: LabelMarkReady}
	case ViewPaymentDue:
		card.State = models.StatePaymentDue
		card.Control = Control{Action: ActionMarkPaid, Label: LabelMarkPaid}
	case ViewCompleted:
		card.State = models.StateReady
		card.Elapsed = ElapsedClosed
	}

	b.cards[o.ID] = card
	b.lanes[lane] = append([]int64{o.ID}, b.lanes[lane]...)

	if lane != ViewCompleted && !o.CreatedAt.IsZero() {
		id := o.ID
		b.timers.Start(id, func(gen uint64) { b.tick(id, gen) })
	}
}

// drop removes a card along with its timer and pending removal
func (b *Board) drop(id int64) bool {
	card, ok := b.cards[id]
	if !ok {
		return false
	}

	b.timers.Stop(id)
	b.cancelRemoval(id)
	delete(b.cards, id)

	ids := b.lanes[card.View]
	for i, other := range ids {
		if other == id {
			b.lanes[card.View] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return true
}

func (b *Board) tick(id int64, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.timers.Current(id, gen) {
		return
	}
	card, ok := b.cards[id]
	if !ok || card.State.Terminal() {
		return
	}

	elapsed := FormatElapsed(b.clock.Since(card.Order.CreatedAt.Time))
	if elapsed == card.Elapsed {
		return
	}
	card.Elapsed = elapsed
	b.notify()
}

func (b *Board) scheduleRemoval(id int64, delay time.Duration) {
	b.cancelRemoval(id)

	b.removalGen++
	r := removal{gen: b.removalGen, stop: make(chan struct{})}
	b.removals[id] = r

	timer := b.clock.NewTimer(delay)
	go func() {
		defer timer.Stop()
		select {
		case <-r.stop:
		case <-timer.Chan():
			b.expire(id, r.gen)
		}
	}()
}

func (b *Board) cancelRemoval(id int64) {
	if r, ok := b.removals[id]; ok {
		close(r.stop)
		delete(b.removals, id)
	}
}

// expire removes a terminal card once its delay has elapsed
func (b *Board) expire(id int64, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.removals[id]
	if !ok || r.gen != gen {
		return
	}
	delete(b.removals, id)
	if b.drop(id) {
		b.changed()
	}
}

// changed records gauges and signals listeners
func (b *Board) changed() {
	b.reportCards()
	b.notify()
}

func (b *Board) reportCards() {
	for _, v := range Views {
		b.metrics.BoardCards(string(v), len(b.lanes[v]))
	}
}

func (b *Board) notify() {
	select {
	case b.changes <- struct{}{}:
	default:
	}
}

func busyLabel(a Action) string {
	if a == ActionMarkPaid {
		return LabelProcessing
	}
	return LabelMarking
}

func idleLabel(a Action) string {
	if a == ActionMarkPaid {
		return LabelMarkPaid
	}
	return LabelMarkReady
}
