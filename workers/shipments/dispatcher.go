package shipments

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shipment-dispatch-client/api"
	"shipment-dispatch-client/session"
	"shipment-dispatch-client/workers/shipments/models"
)

var ErrNoNextPhase = errors.New("shipment has no next phase")

// StatusUpdater sends transition requests to the server.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id models.ID, status string, userID models.ID) error
}

type Refresher interface {
	Refresh(ctx context.Context, background bool) error
}

type Session interface {
	User() (models.User, bool)
	Expire(ctx context.Context, reason session.Reason) bool
}

// PartialTransitionError means the shipment reached Departure but the
// follow-up transition to Completed failed. The first step is not undone.
type PartialTransitionError struct {
	ShipmentID models.ID
	Reached    string
	Err        error
}

func (e *PartialTransitionError) Error() string {
	return fmt.Sprintf("shipment %s left in %s: completing failed: %v", e.ShipmentID, e.Reached, e.Err)
}

func (e *PartialTransitionError) Unwrap() error {
	return e.Err
}

// Dispatcher requests status transitions. It never changes a snapshot
// locally; the next refresh shows the server's answer.
type Dispatcher struct {
	logger  *zap.Logger
	updater StatusUpdater
	session Session
	poller  Refresher
}

func NewDispatcher(updater StatusUpdater, sess Session, poller Refresher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:  logger,
		updater: updater,
		session: sess,
		poller:  poller,
	}
}

// Advance moves shipment id to status. Reaching Departure also completes the
// shipment with a second request, since the server does not cascade.
func (d *Dispatcher) Advance(ctx context.Context, id models.ID, status string) error {
	user, ok := d.session.User()
	if !ok {
		return session.ErrSignedOut
	}

	if err := d.update(ctx, id, status, user.ID); err != nil {
		return err
	}

	if status == models.StatusDeparture {
		if err := d.update(ctx, id, models.StatusCompleted, user.ID); err != nil {
			d.logger.Error("Shipment departed but could not be completed",
				zap.String("shipment_id", id.String()),
				zap.Error(err),
			)
			return &PartialTransitionError{ShipmentID: id, Reached: models.StatusDeparture, Err: err}
		}
	}

	d.logger.Info("Shipment status updated",
		zap.String("shipment_id", id.String()),
		zap.String("status", status),
	)

	if d.poller != nil {
		if err := d.poller.Refresh(ctx, false); err != nil {
			d.logger.Debug("Refresh after status update failed", zap.Error(err))
		}
	}
	return nil
}

// AdvanceToNext moves s to the phase after its current one.
func (d *Dispatcher) AdvanceToNext(ctx context.Context, s models.Shipment) error {
	next, ok := models.NextStatus(s.CurrentStatus)
	if !ok {
		return fmt.Errorf("%w: %s is %q", ErrNoNextPhase, s.ID, s.CurrentStatus)
	}
	return d.Advance(ctx, s.ID, next)
}

func (d *Dispatcher) update(ctx context.Context, id models.ID, status string, userID models.ID) error {
	err := d.updater.UpdateStatus(ctx, id, status, userID)
	if err == nil {
		return nil
	}

	if errors.Is(err, api.ErrUnauthorized) {
		d.session.Expire(ctx, session.ReasonUnauthorized)
		return err
	}

	var verr *api.ValidationError
	if errors.As(err, &verr) {
		d.logger.Info("Status update rejected",
			zap.String("shipment_id", id.String()),
			zap.String("status", status),
			zap.String("message", verr.Message),
		)
		return err
	}

	return fmt.Errorf("update shipment %s to %s: %w", id, status, err)
}
