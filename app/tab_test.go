package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"shipment-dispatch-client/broadcast"
	"shipment-dispatch-client/config"
	"shipment-dispatch-client/internal/testserver"
	"shipment-dispatch-client/session"
	"shipment-dispatch-client/store"
	"shipment-dispatch-client/workers/shipments/classifier"
	"shipment-dispatch-client/workers/shipments/models"
)

var driver = models.User{ID: "U1", Username: "driver", Role: models.RoleDriver}

type device struct {
	srv   *testserver.Server
	store *store.MemoryStore
	bus   *broadcast.LocalBus
}

func newDevice(t *testing.T) *device {
	t.Helper()
	srv := testserver.New(t)
	srv.AddUser(driver, "pw")
	return &device{srv: srv, store: store.NewMemoryStore(), bus: broadcast.NewLocalBus()}
}

func (d *device) openTab(t *testing.T) *Tab {
	t.Helper()
	tab, err := NewTab(context.Background(), Options{
		BaseURI:  d.srv.URL(),
		Store:    d.store,
		Bus:      d.bus,
		Logger:   zap.NewNop(),
		Location: time.UTC,
		Timings: config.Timings{
			PollInterval:      time.Second,
			IdleCheckInterval: time.Minute,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Unmount() })
	return tab
}

func day(offset int) string {
	return time.Now().UTC().AddDate(0, 0, offset).Format("2006-01-02")
}

func TestBoardAfterMount(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)
	d.srv.SetShipments(driver.ID, []models.Shipment{
		{ID: "1", CurrentStatus: models.StatusPending, LoadingDate: day(0), DeliveryDate: day(2), CreationTimestamp: time.Now().UTC().Format(time.RFC3339)},
		{ID: "2", CurrentStatus: models.StatusPending, LoadingDate: day(3)},
		{ID: "3", CurrentStatus: models.StatusArrival, DeliveryDate: day(-1)},
	})

	tab := d.openTab(t)
	require.NoError(t, tab.Session.Login(ctx, driver.Username, "pw"))
	require.NoError(t, tab.Mount(ctx))

	active := tab.Board(classifier.BucketActive)
	require.Len(t, active, 1)
	assert.Equal(t, models.ID("1"), active[0].Shipment.ID)
	assert.Equal(t, classifier.StyleToLoad, active[0].Style)
	assert.True(t, active[0].New)

	delayed := tab.Board(classifier.BucketDelayed)
	require.Len(t, delayed, 1)
	assert.Equal(t, classifier.StyleDelayed, delayed[0].Style)

	assert.Equal(t, 1, tab.Counts()[classifier.BucketUpcoming])

	opened, err := tab.OpenShipment(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, opened.CurrentStatus)
	assert.False(t, tab.Board(classifier.BucketActive)[0].New)

	_, err = tab.OpenShipment(ctx, "99")
	require.ErrorIs(t, err, ErrUnknownShipment)
}

func TestPollingPicksUpServerChanges(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)
	d.srv.SetShipments(driver.ID, []models.Shipment{
		{ID: "1", CurrentStatus: models.StatusStartLoading, LoadingDate: day(0), DeliveryDate: day(0)},
	})

	tab := d.openTab(t)
	require.NoError(t, tab.Session.Login(ctx, driver.Username, "pw"))
	require.NoError(t, tab.Mount(ctx))
	_, err := tab.OpenShipment(ctx, "1")
	require.NoError(t, err)

	d.srv.SetShipments(driver.ID, []models.Shipment{
		{ID: "1", CurrentStatus: models.StatusCompleted, LoadingDate: day(0), DeliveryDate: day(0)},
	})

	require.Eventually(t, func() bool {
		return len(tab.Board(classifier.BucketCompleted)) == 1
	}, 5*time.Second, 100*time.Millisecond)

	opened, ok := tab.Poller.Opened()
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, opened.CurrentStatus)
	assert.Empty(t, tab.Board(classifier.BucketActive))
}

func TestDispatcherRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)
	d.srv.SetShipments(driver.ID, []models.Shipment{
		{ID: "5", CurrentStatus: models.StatusEndUnloading, DeliveryDate: day(0)},
	})

	tab := d.openTab(t)
	require.NoError(t, tab.Session.Login(ctx, driver.Username, "pw"))
	require.NoError(t, tab.Mount(ctx))

	require.NoError(t, tab.Dispatcher.Advance(ctx, "5", models.StatusDeparture))

	completed := tab.Board(classifier.BucketCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, classifier.StyleCompleted, completed[0].Style)
}

func TestSecondTabLoginKicksFirst(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)
	d.srv.SetShipments(driver.ID, []models.Shipment{{ID: "1", CurrentStatus: models.StatusPending, LoadingDate: day(0)}})

	tabB := d.openTab(t)
	require.NoError(t, tabB.Session.Login(ctx, driver.Username, "pw"))
	require.NoError(t, tabB.Poller.Refresh(ctx, false))
	require.Len(t, tabB.Board(classifier.BucketActive), 1)

	var (
		mu      sync.Mutex
		reasons []session.Reason
	)
	tabB.Session.OnExpired(func(e session.Expired) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, e.Reason)
	})

	tabA := d.openTab(t)
	require.NoError(t, tabA.Session.Login(ctx, driver.Username, "pw"))
	d.bus.Wait()

	assert.Equal(t, session.SignedIn, tabA.Session.State())
	assert.Equal(t, session.SignedOut, tabB.Session.State())
	assert.Empty(t, tabB.Board(classifier.BucketActive))

	mu.Lock()
	assert.Equal(t, []session.Reason{session.ReasonSuperseded}, reasons)
	mu.Unlock()

	// The superseded credential is already rejected, so its logout report is lost.
	assert.Empty(t, d.srv.Audit())
}

func TestRevokedSessionSignsOutOnNextPoll(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	tab := d.openTab(t)
	require.NoError(t, tab.Session.Login(ctx, driver.Username, "pw"))
	require.NoError(t, tab.Mount(ctx))

	d.srv.Revoke(driver.ID)

	require.Eventually(t, func() bool {
		return tab.Session.State() == session.SignedOut
	}, 5*time.Second, 100*time.Millisecond)

	_, err := d.store.Load(ctx, store.KeyToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnmountStopsTimers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tab, err := NewTab(context.Background(), Options{
		BaseURI: "http://127.0.0.1:0",
		Store:   store.NewMemoryStore(),
		Bus:     broadcast.NewLocalBus(),
		Timings: config.Timings{PollInterval: time.Second},
	})
	require.NoError(t, err)

	require.NoError(t, tab.Mount(context.Background()))
	require.NoError(t, tab.Mount(context.Background()))
	require.NoError(t, tab.Unmount())
}

func TestLogoutIsAudited(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	tab := d.openTab(t)
	require.NoError(t, tab.Session.Login(ctx, driver.Username, "pw"))
	require.NoError(t, tab.Session.Logout(ctx))

	entries := d.srv.Audit()
	require.Len(t, entries, 1)
	assert.Equal(t, "LOGOUT", entries[0].Action)
	assert.Equal(t, "User logged out", entries[0].Details)
}
