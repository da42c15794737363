package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"shipment-dispatch-client/api"
	"shipment-dispatch-client/broadcast"
	"shipment-dispatch-client/config"
	"shipment-dispatch-client/core"
	"shipment-dispatch-client/session"
	"shipment-dispatch-client/store"
	"shipment-dispatch-client/workers/shipments"
	"shipment-dispatch-client/workers/shipments/classifier"
	"shipment-dispatch-client/workers/shipments/models"
	"shipment-dispatch-client/workers/shipments/poller"
	"shipment-dispatch-client/workers/shipments/tracker"
)

var ErrUnknownShipment = errors.New("shipment not in the current list")

type Options struct {
	BaseURI  string
	Store    store.StateStore
	Bus      broadcast.Bus
	Logger   *zap.Logger
	Timings  config.Timings
	Location *time.Location
	Clock    func() time.Time
}

// Tab is one open client: its session, its shipment list and its timers.
type Tab struct {
	logger       *zap.Logger
	now          func() time.Time
	orchestrator *core.Orchestrator

	Session    *session.Coordinator
	Poller     *poller.Poller
	Tracker    *tracker.Tracker
	Dispatcher *shipments.Dispatcher
	Classifier *classifier.Classifier

	mu      sync.Mutex
	mounted bool
}

// BoardCard is a classified shipment with its new-assignment highlight.
type BoardCard struct {
	classifier.Card
	New bool
}

func NewTab(ctx context.Context, opts Options) (*Tab, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var coord *session.Coordinator
	requestTimeout := orDefault(opts.Timings.RequestTimeout, poller.DefaultRequestTimeout)
	client := api.NewClient(opts.BaseURI, api.TokenFunc(func() string { return coord.Token() }), logger,
		api.WithTimeout(requestTimeout),
	)

	coord, err := session.New(opts.Store, opts.Bus, client, client, logger,
		session.WithClock(opts.Clock),
		session.WithIdleTimeout(orDefault(opts.Timings.IdleTimeout, session.DefaultIdleTimeout)),
	)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("tab_id", coord.TabID()))

	seen, err := tracker.New(ctx, opts.Store, logger, tracker.WithClock(opts.Clock))
	if err != nil {
		_ = coord.Close()
		return nil, err
	}

	p := poller.New(client, coord, logger, opts.Timings.PollInterval,
		poller.WithRequestTimeout(requestTimeout),
	)
	t := &Tab{
		logger:     logger,
		now:        opts.Clock,
		Session:    coord,
		Poller:     p,
		Tracker:    seen,
		Dispatcher: shipments.NewDispatcher(client, coord, p, logger),
		Classifier: classifier.New(opts.Location),
	}
	t.orchestrator = core.NewOrchestrator(logger, []core.Worker{
		p,
		session.NewIdleWorker(coord, opts.Timings.IdleCheckInterval),
	})

	coord.OnExpired(func(e session.Expired) {
		p.Reset()
		if notice := e.Reason.Notice(); notice != "" {
			logger.Warn(notice, zap.String("reason", string(e.Reason)))
		}
	})
	return t, nil
}

// Mount refreshes once and starts the recurring tasks.
func (t *Tab) Mount(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mounted {
		return nil
	}

	if _, err := t.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start timers: %w", err)
	}
	t.mounted = true

	if err := t.Poller.Refresh(ctx, false); err != nil {
		t.logger.Info("Initial shipment refresh failed", zap.Error(err))
	}
	return nil
}

// Unmount clears the timers and leaves the broadcast topic. The persisted
// session stays for the next load of the profile.
func (t *Tab) Unmount() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mounted {
		t.orchestrator.Stop()
		t.mounted = false
	}
	return t.Session.Close()
}

// Board returns the cards of one bucket as of now.
func (t *Tab) Board(bucket classifier.Bucket) []BoardCard {
	today := t.Classifier.Today(t.now())
	cards := t.Classifier.View(bucket, t.Poller.Shipments(), today)

	out := make([]BoardCard, len(cards))
	for i, c := range cards {
		out[i] = BoardCard{Card: c, New: t.Tracker.IsNewlyAssigned(c.Shipment)}
	}
	return out
}

func (t *Tab) Counts() map[classifier.Bucket]int {
	return t.Classifier.Counts(t.Poller.Shipments(), t.Classifier.Today(t.now()))
}

// OpenShipment shows a shipment in the detail view and marks it as seen.
func (t *Tab) OpenShipment(ctx context.Context, id models.ID) (models.Shipment, error) {
	s, ok := t.Poller.Open(id)
	if !ok {
		return models.Shipment{}, fmt.Errorf("%w: %s", ErrUnknownShipment, id)
	}
	if err := t.Tracker.Acknowledge(ctx, id); err != nil {
		return s, err
	}
	return s, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
