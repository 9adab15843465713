package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"kdsboard/internal/board"
	"kdsboard/internal/dispatch"
	"kdsboard/internal/feed"
	"kdsboard/internal/kdsapi"
	"kdsboard/internal/models"
	"kdsboard/internal/monitoring"
	"kdsboard/internal/render"
	"kdsboard/internal/waitlist"
)

// ErrNotSwitchable is returned for views that cannot be selected directly
var ErrNotSwitchable = errors.New("view cannot be selected")

// Backend is everything a session needs from the REST API
type Backend interface {
	PendingOrders(ctx context.Context, centerID int64) ([]models.Order, error)
	CompletedOrders(ctx context.Context, centerID int64) ([]models.Order, error)
	dispatch.API
	waitlist.Fetcher
}

// Feed is a live order stream
type Feed interface {
	Run(ctx context.Context, onMessage feed.MessageFunc, onStatus feed.StatusFunc) error
}

// Options configures a Session
type Options struct {
	CenterID          int64
	Backend           Backend
	Feed              Feed
	Clock             clockwork.Clock
	ReadyRemovalDelay time.Duration
	PaidRemovalDelay  time.Duration
	PollInterval      time.Duration
	Renderer          *render.Renderer
	Logger            *logrus.Entry
	Metrics           *monitoring.Metrics
}

// Session owns everything shown for one kitchen center while its board is
// open: the board with its timers, the feed connection, the dispatcher and
// the waiting-orders poller. Close tears all of it down.
type Session struct {
	centerID   int64
	api        Backend
	feed       Feed
	board      *board.Board
	renderer   *render.Renderer
	dispatcher *dispatch.Dispatcher
	poller     *waitlist.Poller
	log        *logrus.Entry

	updates chan struct{}

	mu        sync.Mutex
	connected bool
	// stale is set when the board may be missing orders: a snapshot failed
	// or the feed dropped. The next connect reloads the active view.
	stale  bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a session. Nothing runs until Start.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Renderer == nil {
		opts.Renderer = render.New()
	}
	log := opts.Logger.WithField("center_id", opts.CenterID)

	s := &Session{
		centerID: opts.CenterID,
		api:      opts.Backend,
		feed:     opts.Feed,
		renderer: opts.Renderer,
		log:      log,
		updates:  make(chan struct{}, 1),
	}
	s.board = board.New(board.Options{
		Clock:             opts.Clock,
		ReadyRemovalDelay: opts.ReadyRemovalDelay,
		PaidRemovalDelay:  opts.PaidRemovalDelay,
		Logger:            log.WithField("component", "board"),
		Metrics:           opts.Metrics,
	})
	s.dispatcher = dispatch.New(opts.Backend, s.board, log.WithField("component", "dispatch"), opts.Metrics)
	s.poller = waitlist.New(opts.Backend, waitlist.Options{
		Clock:    opts.Clock,
		Interval: opts.PollInterval,
		Logger:   log.WithField("component", "waitlist"),
		Metrics:  opts.Metrics,
		OnUpdate: func([]models.WaitingTable) { s.notify() },
	})
	return s
}

// Start loads the pending view, then opens the feed and starts the poller.
// A failed snapshot leaves an empty view and is returned, but the feed and
// poller run regardless.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.cancel, s.group = cancel, g
	s.mu.Unlock()

	snapErr := s.SwitchView(gctx, board.ViewPending)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-s.board.Changes():
				s.notify()
			}
		}
	})

	if s.feed != nil {
		g.Go(func() error {
			err := s.feed.Run(gctx, s.HandleEvent, func(connected bool) { s.onStatus(gctx, connected) })
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	s.poller.Start(gctx)
	s.log.Info("board session started")
	return snapErr
}

// SwitchView loads the snapshot for view. On failure the view is shown
// empty with a notice and the error is returned.
func (s *Session) SwitchView(ctx context.Context, view board.View) error {
	var (
		orders []models.Order
		err    error
	)
	switch view {
	case board.ViewPending:
		orders, err = s.api.PendingOrders(ctx, s.centerID)
	case board.ViewCompleted:
		orders, err = s.api.CompletedOrders(ctx, s.centerID)
	default:
		return errors.Wrapf(ErrNotSwitchable, "%s", view)
	}

	if err != nil {
		s.log.WithError(err).WithField("view", view).Error("could not load orders")
		s.board.LoadSnapshot(view, nil)
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
		if !errors.Is(err, kdsapi.ErrUnauthorized) {
			s.board.SetNotice("Could not load orders. Check the connection and try again.")
		}
		return errors.Wrapf(err, "load %s orders", view)
	}

	s.board.LoadSnapshot(view, orders)
	s.board.SetNotice("")
	s.mu.Lock()
	if s.connected {
		s.stale = false
	}
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"view": view, "orders": len(orders)}).Debug("snapshot loaded")
	return nil
}

// HandleEvent routes one feed event onto the board
func (s *Session) HandleEvent(evt models.FeedEvent) {
	log := s.log.WithField("order_id", evt.ID)

	var err error
	if evt.IsPaymentAlert() {
		o := evt.Order
		o.Status = models.StatusPaymentDue
		if card, ok := s.board.Lookup(o.ID); ok && card.View == board.ViewPaymentDue && !card.State.Terminal() {
			// A cash announcement for an alert already on screen
			err = s.board.UpdateOrder(o)
		} else {
			err = s.board.ApplyPaymentDue(o)
		}
	} else {
		err = s.board.ApplyInsert(evt.Order)
	}

	if err != nil {
		log.WithError(err).Warn("feed event rejected")
		return
	}
	log.WithField("alert_type", evt.AlertType).Debug("feed event applied")
}

// HandleMessage decodes a raw feed frame and applies it. Malformed frames
// leave the board untouched.
func (s *Session) HandleMessage(data []byte) error {
	evt, err := models.DecodeFeedEvent(data)
	if err != nil {
		s.log.WithError(err).Warn("dropping malformed feed message")
		return err
	}
	s.HandleEvent(evt)
	return nil
}

// MarkReady marks a pending card ready
func (s *Session) MarkReady(ctx context.Context, orderID int64) error {
	return s.dispatcher.MarkReady(ctx, orderID)
}

// MarkPaid marks a payment-due card paid
func (s *Session) MarkPaid(ctx context.Context, orderID int64) error {
	return s.dispatcher.MarkPaid(ctx, orderID)
}

// Frame renders the current state
func (s *Session) Frame() render.Frame {
	return s.renderer.Render(s.board.Snapshot(), render.Status{
		Connected: s.Connected(),
		Waiting:   s.poller.Latest(),
	})
}

// Updates signals whenever the frame may have changed. Signals coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Board exposes the session's board
func (s *Session) Board() *board.Board {
	return s.board
}

// Connected reports the feed indicator state
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close stops the feed and the poller, cancels every timer and waits for the
// session's goroutines to exit
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	s.poller.Stop()
	var err error
	if cancel != nil {
		cancel()
		err = g.Wait()
	}
	s.board.Close()
	s.log.Info("board session closed")
	return err
}

// onStatus runs on the feed goroutine. A connect after a drop or a failed
// snapshot reloads the active view so missed orders appear before newer feed
// messages.
func (s *Session) onStatus(ctx context.Context, connected bool) {
	s.mu.Lock()
	s.connected = connected
	resync := connected && s.stale
	if !connected {
		s.stale = true
	}
	s.mu.Unlock()
	s.notify()

	if resync {
		view := s.board.ActiveView()
		if err := s.SwitchView(ctx, view); err != nil {
			s.log.WithError(err).Warn("resync after reconnect failed")
		}
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
