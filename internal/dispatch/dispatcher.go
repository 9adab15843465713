package dispatch

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kdsboard/internal/board"
	"kdsboard/internal/kdsapi"
	"kdsboard/internal/models"
	"kdsboard/internal/monitoring"
)

// API is the subset of the backend client the dispatcher needs
type API interface {
	UpdateState(ctx context.Context, orderID int64, status models.Status) error
	MarkPaid(ctx context.Context, orderID int64) error
}

// Dispatcher turns staff actions into backend calls and board transitions.
// A control stays disabled from the click until the backend answers.
type Dispatcher struct {
	api     API
	board   *board.Board
	log     *logrus.Entry
	metrics *monitoring.Metrics
}

// New creates a dispatcher
func New(api API, b *board.Board, log *logrus.Entry, metrics *monitoring.Metrics) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{api: api, board: b, log: log, metrics: metrics}
}

// MarkReady tells the backend the order is ready for pickup
func (d *Dispatcher) MarkReady(ctx context.Context, orderID int64) error {
	return d.run(ctx, orderID, board.ActionMarkReady, models.StateReady, func(ctx context.Context) error {
		return d.api.UpdateState(ctx, orderID, models.StatusReadyForPickup)
	})
}

// MarkPaid confirms the cashier collected payment
func (d *Dispatcher) MarkPaid(ctx context.Context, orderID int64) error {
	return d.run(ctx, orderID, board.ActionMarkPaid, models.StatePaid, func(ctx context.Context) error {
		return d.api.MarkPaid(ctx, orderID)
	})
}

func (d *Dispatcher) run(ctx context.Context, orderID int64, action board.Action, target models.State, call func(context.Context) error) error {
	log := d.log.WithFields(logrus.Fields{"order_id": orderID, "action": action})

	if err := d.board.BeginAction(orderID, action); err != nil {
		return err
	}

	if err := call(ctx); err != nil {
		d.board.AbortAction(orderID)
		if errors.Is(err, kdsapi.ErrUnauthorized) {
			d.metrics.Dispatch(string(action), "unauthorized")
			log.Warn("action aborted, session is no longer authorized")
			return err
		}

		d.metrics.Dispatch(string(action), "failed")
		log.WithError(err).Error("backend rejected action")
		d.board.SetNotice(failureNotice(action, orderID))
		return errors.Wrapf(err, "%s order %d", action, orderID)
	}

	d.metrics.Dispatch(string(action), "ok")
	d.board.SetNotice("")
	if err := d.board.ApplyTransition(orderID, target); err != nil {
		// The card may have been removed by a resync while the call was in flight
		log.WithError(err).Debug("could not apply transition")
	}
	log.Info("action applied")
	return nil
}

func failureNotice(action board.Action, orderID int64) string {
	if action == board.ActionMarkPaid {
		return fmt.Sprintf("Could not mark order %d as paid. Try again.", orderID)
	}
	return fmt.Sprintf("Could not mark order %d ready. Try again.", orderID)
}
