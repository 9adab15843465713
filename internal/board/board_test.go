package board

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdsboard/internal/logging"
	"kdsboard/internal/models"
)

var opened = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newBoard(t *testing.T) (*Board, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(opened)
	b := New(Options{Clock: clock, Logger: logging.Discard()})
	t.Cleanup(b.Close)
	return b, clock
}

func order(id int64) models.Order {
	return models.Order{
		ID:        id,
		TableID:   5,
		CreatedAt: models.NewTimestamp(opened),
		Total:     25,
		Items:     []models.LineItem{{Quantity: 2, Name: "Pizza"}},
		Status:    models.StatusPending,
	}
}

func ids(cards []Card) []int64 {
	out := make([]int64, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Order.ID)
	}
	return out
}

func TestLoadSnapshotOneCardPerOrder(t *testing.T) {
	b, _ := newBoard(t)

	b.LoadSnapshot(ViewPending, []models.Order{order(1), order(2), order(2), order(3)})

	snap := b.Snapshot()
	// Prepend semantics: the last order of the list renders first
	assert.Equal(t, []int64{3, 2, 1}, ids(snap.Pending))
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.TimerCount())
	for _, c := range snap.Pending {
		assert.False(t, c.Live, "snapshot cards never animate")
		assert.Equal(t, ElapsedStart, c.Elapsed)
		assert.Equal(t, Control{Action: ActionMarkReady, Label: LabelMarkReady}, c.Control)
	}
}

func TestLoadSnapshotRoutesPaymentDue(t *testing.T) {
	b, _ := newBoard(t)

	due := order(9)
	due.Status = models.StatusPaymentDue
	b.LoadSnapshot(ViewPending, []models.Order{order(1), due})

	snap := b.Snapshot()
	assert.Equal(t, []int64{1}, ids(snap.Pending))
	require.Len(t, snap.PaymentDue, 1)
	assert.Equal(t, models.StatePaymentDue, snap.PaymentDue[0].State)
	assert.Equal(t, ActionMarkPaid, snap.PaymentDue[0].Control.Action)
}

func TestLoadSnapshotKeepsFirstDuplicate(t *testing.T) {
	b, _ := newBoard(t)

	first := order(7)
	first.TableID = 1
	second := order(7)
	second.TableID = 2
	b.LoadSnapshot(ViewCompleted, []models.Order{first, second})

	card, ok := b.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, int64(1), card.Order.TableID)
	assert.Equal(t, 1, b.Len())
}

func TestLoadSnapshotIsTotalReplacement(t *testing.T) {
	b, _ := newBoard(t)

	b.LoadSnapshot(ViewPending, []models.Order{order(1), order(2)})
	require.NoError(t, b.ApplyPaymentDue(order(50)))
	b.LoadSnapshot(ViewCompleted, []models.Order{order(7)})

	snap := b.Snapshot()
	assert.Equal(t, ViewCompleted, snap.Active)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, []int64{7}, ids(snap.Completed))
	// Payment alerts stay visible across the completed view
	assert.Equal(t, []int64{50}, ids(snap.PaymentDue))
	assert.Equal(t, ElapsedClosed, snap.Completed[0].Elapsed)
	assert.Equal(t, ActionNone, snap.Completed[0].Control.Action)

	assert.False(t, b.HasTimer(1))
	assert.False(t, b.HasTimer(7), "completed orders have no countdown")
	assert.True(t, b.HasTimer(50))

	b.LoadSnapshot(ViewPending, nil)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.TimerCount())
}

func TestApplyInsertPrepends(t *testing.T) {
	b, _ := newBoard(t)
	b.LoadSnapshot(ViewPending, []models.Order{order(1)})

	require.NoError(t, b.ApplyInsert(order(42)))

	snap := b.Snapshot()
	assert.Equal(t, []int64{42, 1}, ids(snap.Pending))
	assert.True(t, snap.Pending[0].Live)
	assert.True(t, b.HasTimer(42))
}

func TestApplyInsertDuplicate(t *testing.T) {
	b, _ := newBoard(t)
	require.NoError(t, b.ApplyInsert(order(42)))

	err := b.ApplyInsert(order(42))
	assert.True(t, errors.Is(err, ErrDuplicateOrder))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, b.TimerCount())
}

func TestApplyInsertReplacesTerminalCard(t *testing.T) {
	b, _ := newBoard(t)
	require.NoError(t, b.ApplyPaymentDue(order(42)))
	require.NoError(t, b.ApplyTransition(42, models.StatePaid))

	// The paid order comes back as kitchen work before its removal fired
	require.NoError(t, b.ApplyInsert(order(42)))

	card, ok := b.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, ViewPending, card.View)
	assert.Empty(t, b.Snapshot().PaymentDue)
}

func TestApplyInsertWhileCompletedActive(t *testing.T) {
	b, _ := newBoard(t)
	b.LoadSnapshot(ViewCompleted, nil)

	require.NoError(t, b.ApplyInsert(order(3)))
	snap := b.Snapshot()
	assert.Equal(t, ViewCompleted, snap.Active)
	assert.Equal(t, []int64{3}, ids(snap.Pending))
	assert.True(t, snap.Pending[0].Live)
	assert.True(t, b.HasTimer(3))

	// Switching back replaces the off-screen lane with the server's list
	b.LoadSnapshot(ViewPending, []models.Order{order(3), order(4)})
	assert.Equal(t, []int64{4, 3}, ids(b.Snapshot().Pending))

	// Payment alerts are routed regardless of the active view
	require.NoError(t, b.ApplyPaymentDue(order(5)))
	assert.Equal(t, []int64{5}, ids(b.Snapshot().PaymentDue))
}

func TestPaymentDueReclassifiesPendingCard(t *testing.T) {
	b, _ := newBoard(t)
	b.LoadSnapshot(ViewPending, []models.Order{order(3), order(4)})

	require.NoError(t, b.ApplyPaymentDue(order(4)))
	snap := b.Snapshot()
	assert.Equal(t, []int64{3}, ids(snap.Pending))
	assert.Equal(t, []int64{4}, ids(snap.PaymentDue))

	card, ok := b.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, models.StatePaymentDue, card.State)
	assert.Equal(t, ActionMarkPaid, card.Control.Action)
	assert.True(t, b.HasTimer(4))
	assert.Equal(t, 2, b.TimerCount())

	// A second alert for a card already in the payment lane is a duplicate
	err := b.ApplyPaymentDue(order(4))
	assert.True(t, errors.Is(err, ErrDuplicateOrder))
}

func TestInsertThenTransitionRemovesAfterDelay(t *testing.T) {
	b, clock := newBoard(t)

	require.NoError(t, b.ApplyInsert(order(42)))
	require.NoError(t, b.ApplyTransition(42, models.StateReady))

	card, ok := b.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, models.StateReady, card.State)
	assert.Equal(t, Control{Action: ActionMarkReady, Label: LabelReady, Disabled: true}, card.Control)
	assert.False(t, b.HasTimer(42), "terminal cards stop ticking")

	clock.Advance(DefaultReadyRemovalDelay - time.Millisecond)
	_, ok = b.Lookup(42)
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := b.Lookup(42)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPaidRemovalDelay(t *testing.T) {
	b, clock := newBoard(t)

	require.NoError(t, b.ApplyPaymentDue(order(8)))
	require.NoError(t, b.ApplyTransition(8, models.StatePaid))

	clock.Advance(DefaultPaidRemovalDelay)
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestUpdateOrderKeepsCardState(t *testing.T) {
	b, _ := newBoard(t)
	require.NoError(t, b.ApplyPaymentDue(order(8)))
	require.NoError(t, b.BeginAction(8, ActionMarkPaid))

	updated := order(8)
	updated.CustomerAlias = "Ana"
	updated.CreatedAt = models.Timestamp{}
	require.NoError(t, b.UpdateOrder(updated))

	card, _ := b.Lookup(8)
	assert.Equal(t, "Ana", card.Order.CustomerAlias)
	assert.Equal(t, opened, card.Order.CreatedAt.Time)
	assert.Equal(t, LabelProcessing, card.Control.Label)
	assert.True(t, b.HasTimer(8))

	assert.Equal(t, ErrUnknownOrder, b.UpdateOrder(order(99)))
}

func TestApplyTransitionErrors(t *testing.T) {
	b, _ := newBoard(t)
	require.NoError(t, b.ApplyInsert(order(1)))

	assert.Equal(t, ErrNotTerminal, b.ApplyTransition(1, models.StatePending))
	assert.Equal(t, ErrUnknownOrder, b.ApplyTransition(99, models.StateReady))
	assert.True(t, errors.Is(b.ApplyTransition(1, models.StatePaid), ErrInvalidTransition))

	require.NoError(t, b.ApplyTransition(1, models.StateReady))
	// Repeating the same transition is harmless
	assert.NoError(t, b.ApplyTransition(1, models.StateReady))
}

func TestRemoveIsIdempotent(t *testing.T) {
	b, _ := newBoard(t)
	b.LoadSnapshot(ViewPending, []models.Order{order(1), order(2)})
	before := b.Snapshot()

	assert.False(t, b.Remove(77))
	assert.Equal(t, before, b.Snapshot())

	assert.True(t, b.Remove(1))
	assert.False(t, b.Remove(1))
	assert.Equal(t, []int64{2}, ids(b.Snapshot().Pending))
	assert.False(t, b.HasTimer(1))
}

func TestRemoveKeepsRelativeOrder(t *testing.T) {
	b, _ := newBoard(t)
	b.LoadSnapshot(ViewPending, []models.Order{order(1), order(2), order(3), order(4)})

	b.Remove(3)
	assert.Equal(t, []int64{4, 2, 1}, ids(b.Snapshot().Pending))
}

func TestManualRemoveBeatsScheduledRemoval(t *testing.T) {
	b, clock := newBoard(t)
	require.NoError(t, b.ApplyInsert(order(5)))
	require.NoError(t, b.ApplyTransition(5, models.StateReady))

	assert.True(t, b.Remove(5))
	require.NoError(t, b.ApplyInsert(order(5)))

	// The stale removal from the first card must not touch the new one
	clock.Advance(DefaultReadyRemovalDelay)
	time.Sleep(20 * time.Millisecond)
	card, ok := b.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, models.StatePending, card.State)
}

func TestCountdownTicks(t *testing.T) {
	b, clock := newBoard(t)
	require.NoError(t, b.ApplyInsert(order(42)))

	card, _ := b.Lookup(42)
	assert.Equal(t, "00:00", card.Elapsed)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		card, _ := b.Lookup(42)
		return card.Elapsed == "00:01"
	}, time.Second, 5*time.Millisecond)
}

func TestNoTimerWithoutCreationTime(t *testing.T) {
	b, _ := newBoard(t)
	o := order(3)
	o.CreatedAt = models.Timestamp{}

	require.NoError(t, b.ApplyInsert(o))
	assert.False(t, b.HasTimer(3))
}

func TestBeginAndAbortAction(t *testing.T) {
	b, _ := newBoard(t)
	require.NoError(t, b.ApplyInsert(order(42)))

	require.NoError(t, b.BeginAction(42, ActionMarkReady))
	card, _ := b.Lookup(42)
	assert.Equal(t, Control{Action: ActionMarkReady, Label: LabelMarking, Disabled: true}, card.Control)

	assert.Equal(t, ErrActionInFlight, b.BeginAction(42, ActionMarkReady))
	assert.Equal(t, ErrNoAction, b.BeginAction(42, ActionMarkPaid))
	assert.Equal(t, ErrUnknownOrder, b.BeginAction(7, ActionMarkReady))

	b.AbortAction(42)
	card, _ = b.Lookup(42)
	assert.Equal(t, Control{Action: ActionMarkReady, Label: LabelMarkReady}, card.Control)
	assert.Equal(t, models.StatePending, card.State)
}

func TestChangesSignal(t *testing.T) {
	b, _ := newBoard(t)

	require.NoError(t, b.ApplyInsert(order(1)))
	select {
	case <-b.Changes():
	default:
		t.Fatal("expected a change signal")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	b, _ := newBoard(t)
	require.NoError(t, b.ApplyInsert(order(1)))
	require.NoError(t, b.ApplyInsert(order(2)))
	require.NoError(t, b.ApplyTransition(2, models.StateReady))

	b.Close()
	assert.Equal(t, 0, b.TimerCount())
	assert.Equal(t, 0, b.Len())
	assert.NoError(t, b.ApplyInsert(order(3)))
	assert.Equal(t, 0, b.Len())
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00", FormatElapsed(-time.Second))
	assert.Equal(t, "01:05", FormatElapsed(65*time.Second))
	assert.Equal(t, "125:00", FormatElapsed(125*time.Minute))
}
