package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shipment-dispatch-client/api"
	"shipment-dispatch-client/session"
	"shipment-dispatch-client/workers/shipments/models"
)

const (
	DefaultInterval       = 3 * time.Second
	DefaultRequestTimeout = 20 * time.Second
)

// ErrStaleResponse is returned when a newer refresh was issued while this
// one was in flight. Its result is dropped.
var ErrStaleResponse = errors.New("stale poll response discarded")

// Source fetches the authoritative shipment list.
type Source interface {
	ListShipments(ctx context.Context, userID models.ID) ([]models.Shipment, error)
}

// Session is the part of the session coordinator the poller needs.
type Session interface {
	User() (models.User, bool)
	Expire(ctx context.Context, reason session.Reason) bool
}

// Poller keeps the latest shipment list for the signed-in user. Refreshes may
// overlap; each is numbered and only the most recently issued one may
// replace the list.
type Poller struct {
	logger   *zap.Logger
	source   Source
	session  Session
	interval time.Duration
	timeout  time.Duration

	issued atomic.Uint64

	mu        sync.RWMutex
	shipments []models.Shipment
	rendered  uint64
	openID    models.ID
	open      *models.Shipment
	listeners []func([]models.Shipment)
}

type Option func(*Poller)

// WithRequestTimeout bounds each background refresh.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func New(source Source, sess Session, logger *zap.Logger, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		logger:   logger,
		source:   source,
		session:  sess,
		interval: interval,
		timeout:  DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refresh fetches the list once. Background refreshes come from the timer;
// foreground ones from the user and get a visible explanation when the
// session turns out to be gone.
func (p *Poller) Refresh(ctx context.Context, background bool) error {
	user, ok := p.session.User()
	if !ok {
		return session.ErrSignedOut
	}

	seq := p.issued.Add(1)

	shipments, err := p.source.ListShipments(ctx, user.ID)
	if err != nil {
		return p.handleError(ctx, seq, background, err)
	}

	p.mu.Lock()
	if seq != p.issued.Load() || seq <= p.rendered {
		p.mu.Unlock()
		p.logger.Debug("Discarding stale shipment list",
			zap.Uint64("seq", seq),
			zap.Uint64("latest", p.issued.Load()),
		)
		return ErrStaleResponse
	}

	p.rendered = seq
	p.shipments = shipments
	if p.openID != "" {
		if s, found := find(shipments, p.openID); found {
			p.open = &s
		}
	}
	snapshot := p.snapshotLocked()
	listeners := append([]func([]models.Shipment){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

func (p *Poller) handleError(ctx context.Context, seq uint64, background bool, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		reason := session.ReasonUnauthorized
		if !background {
			reason = session.ReasonKickedOut
		}
		p.logger.Warn("Shipment fetch rejected, ending session",
			zap.Uint64("seq", seq),
			zap.Bool("background", background),
		)
		p.session.Expire(ctx, reason)
		return err
	}

	p.logger.Debug("Shipment fetch failed, retrying next tick",
		zap.Uint64("seq", seq),
		zap.Bool("background", background),
		zap.Error(err),
	)
	return fmt.Errorf("refresh shipments: %w", err)
}

// Shipments returns the rendered list.
func (p *Poller) Shipments() []models.Shipment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// OnUpdate registers fn to receive every list that gets rendered.
func (p *Poller) OnUpdate(fn func([]models.Shipment)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Open pins a shipment in the detail view. Later refreshes replace the pinned
// record with its newest snapshot.
func (p *Poller) Open(id models.ID) (models.Shipment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := find(p.shipments, id)
	if !ok {
		return models.Shipment{}, false
	}
	p.openID = id
	p.open = &s
	return s, true
}

// Opened returns the shipment in the detail view, if any. A shipment that
// disappears from the list keeps its last known snapshot.
func (p *Poller) Opened() (models.Shipment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.open == nil {
		return models.Shipment{}, false
	}
	return *p.open, true
}

func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openID = ""
	p.open = nil
}

// Reset drops the rendered list, for use after sign-out. Refreshes still in
// flight are invalidated so they cannot render the previous user's list.
func (p *Poller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued.Add(1)
	p.shipments = nil
	p.openID = ""
	p.open = nil
}

func (p *Poller) Schedule() string {
	return fmt.Sprintf("@every %s", p.interval)
}

// Ready ignores in-flight refreshes; overlap is resolved by sequence numbers.
func (p *Poller) Ready(time.Time) bool {
	_, ok := p.session.User()
	return ok
}

func (p *Poller) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.Refresh(ctx, true); err != nil && !errors.Is(err, ErrStaleResponse) && !errors.Is(err, api.ErrUnauthorized) {
		p.logger.Info("Background shipment refresh failed", zap.Error(err))
	}
}

func (p *Poller) snapshotLocked() []models.Shipment {
	out := make([]models.Shipment, len(p.shipments))
	copy(out, p.shipments)
	return out
}

func find(list []models.Shipment, id models.ID) (models.Shipment, bool) {
	for _, s := range list {
		if s.ID == id {
			return s, true
		}
	}
	return models.Shipment{}, false
}
