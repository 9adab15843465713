package waitlist

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"kdsboard/internal/models"
	"kdsboard/internal/monitoring"
)

// DefaultInterval is the refresh period of the waiting panel
const DefaultInterval = 30 * time.Second

// Fetcher loads the current waiting list
type Fetcher interface {
	WaitingOrders(ctx context.Context) ([]models.WaitingTable, error)
}

// Poller refreshes the "orders waiting" panel on a fixed interval.
// Only one polling loop runs at a time.
type Poller struct {
	fetcher  Fetcher
	clock    clockwork.Clock
	interval time.Duration
	log      *logrus.Entry
	metrics  *monitoring.Metrics
	onUpdate func([]models.WaitingTable)

	// life serializes Start and Stop
	life   sync.Mutex
	mu     sync.Mutex
	latest []models.WaitingTable
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a Poller
type Options struct {
	Clock    clockwork.Clock
	Interval time.Duration
	Logger   *logrus.Entry
	Metrics  *monitoring.Metrics
	// OnUpdate is called from the polling goroutine after every successful
	// fetch. It must not call Start or Stop.
	OnUpdate func([]models.WaitingTable)
}

// New creates a stopped poller
func New(fetcher Fetcher, opts Options) *Poller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{
		fetcher:  fetcher,
		clock:    opts.Clock,
		interval: opts.Interval,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		onUpdate: opts.OnUpdate,
	}
}

// Start fetches immediately and then on every interval until ctx is done or
// Stop is called. A running loop is stopped before the new one starts.
func (p *Poller) Start(ctx context.Context) {
	p.life.Lock()
	defer p.life.Unlock()
	p.stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.loop(ctx)
	}()
}

// Stop ends the polling loop and waits for it to exit. It is safe to call
// on a stopped poller.
func (p *Poller) Stop() {
	p.life.Lock()
	defer p.life.Unlock()
	p.stop()
}

func (p *Poller) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a polling loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Latest returns the last fetched list
func (p *Poller) Latest() []models.WaitingTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.WaitingTable(nil), p.latest...)
}

func (p *Poller) loop(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.fetch(ctx)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) {
	tables, err := p.fetcher.WaitingOrders(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Warn("could not refresh waiting orders")
		}
		return
	}

	p.mu.Lock()
	p.latest = tables
	p.mu.Unlock()

	p.metrics.WaitingTables(len(tables))
	if p.onUpdate != nil {
		p.onUpdate(tables)
	}
}
