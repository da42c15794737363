package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"shipment-dispatch-client/store"
	"shipment-dispatch-client/workers/shipments/models"
)

// NewAssignmentWindow is how long after creation a pending shipment still
// counts as a new assignment.
const NewAssignmentWindow = 24 * time.Hour

// Tracker remembers which shipments the user already opened on this profile.
// The set is shared by every user of the profile and only ever grows.
type Tracker struct {
	logger *zap.Logger
	store  store.StateStore
	now    func() time.Time

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New loads the acknowledged set from st. A corrupt stored value is logged and
// treated as empty.
func New(ctx context.Context, st store.StateStore, logger *zap.Logger, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		logger: logger,
		store:  st,
		now:    time.Now,
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	raw, err := st.Load(ctx, store.KeySeenShipments)
	if errors.Is(err, store.ErrNotFound) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load seen shipments: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		t.logger.Warn("Discarding unreadable seen shipments", zap.Error(err))
		return t, nil
	}
	for _, id := range ids {
		t.add(normalize(id))
	}
	return t, nil
}

// IsNewlyAssigned reports whether s is a pending shipment created within the
// last 24 hours that the user has not opened yet.
func (t *Tracker) IsNewlyAssigned(s models.Shipment) bool {
	if s.CurrentStatus != models.StatusPending {
		return false
	}

	created, ok := parseInstant(s.CreationTimestamp)
	if !ok || t.now().Sub(created) >= NewAssignmentWindow {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, seen := t.seen[normalize(s.ID.String())]
	return !seen
}

// Acknowledge marks id as seen and persists the whole set. Acknowledging an id
// twice is a no-op.
func (t *Tracker) Acknowledge(ctx context.Context, id models.ID) error {
	key := normalize(id.String())
	if key == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[key]; ok {
		return nil
	}

	// The id only counts as seen once the full set is stored.
	next := make([]string, len(t.order), len(t.order)+1)
	copy(next, t.order)
	next = append(next, key)

	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := t.store.Save(ctx, store.KeySeenShipments, string(payload)); err != nil {
		return fmt.Errorf("persist seen shipments: %w", err)
	}
	t.add(key)
	return nil
}

// Seen returns the acknowledged ids in the order they were first seen.
func (t *Tracker) Seen() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Tracker) add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	t.order = append(t.order, id)
	return true
}

func normalize(id string) string {
	return strings.TrimSpace(id)
}

func parseInstant(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		var (
			ts  time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			ts, err = time.Parse(layout, raw)
		} else {
			ts, err = time.ParseInLocation(layout, raw, time.Local)
		}
		if err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
