package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shipment-dispatch-client/api"
	"shipment-dispatch-client/broadcast"
	"shipment-dispatch-client/store"
	"shipment-dispatch-client/workers/shipments/models"
)

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	users map[string]models.User
}

func (f *fakeAuth) Login(_ context.Context, username, _ string) (*api.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[username]
	if !ok {
		return nil, api.ErrUnauthorized
	}
	f.calls++
	return &api.LoginResult{Token: fmt.Sprintf("token-%s-%d", username, f.calls), User: user}, nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []api.AuditEntry
	tokens  []string
	fail    bool
	source  api.TokenSource
}

func (f *fakeAuditor) LogAudit(_ context.Context, e api.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.source != nil {
		f.tokens = append(f.tokens, f.source.Token())
	}
	if f.fail {
		return errors.New("audit service down")
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditor) Entries() []api.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.AuditEntry(nil), f.entries...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store *store.MemoryStore
	bus   *broadcast.LocalBus
	auth  *fakeAuth
	audit *fakeAuditor
	clock *clock
}

func newHarness() *harness {
	return &harness{
		store: store.NewMemoryStore(),
		bus:   broadcast.NewLocalBus(),
		auth: &fakeAuth{users: map[string]models.User{
			"u1": {ID: "U1", Username: "u1", Role: models.RoleDriver},
			"u2": {ID: "U2", Username: "u2", Role: models.RoleDriver},
		}},
		audit: &fakeAuditor{},
		clock: &clock{t: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)},
	}
}

func (h *harness) tab(t *testing.T, id string) *Coordinator {
	t.Helper()
	c, err := New(h.store, h.bus, h.auth, h.audit, zap.NewNop(),
		WithTabID(id),
		WithClock(h.clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func recordExpiry(c *Coordinator) func() []Expired {
	var (
		mu     sync.Mutex
		events []Expired
	)
	c.OnExpired(func(e Expired) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	return func() []Expired {
		mu.Lock()
		defer mu.Unlock()
		return append([]Expired(nil), events...)
	}
}

func TestLoginPersistsCredential(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c := h.tab(t, "A")

	require.Equal(t, SignedOut, c.State())
	require.NoError(t, c.Login(ctx, "u1", "pw"))
	h.bus.Wait()

	assert.Equal(t, SignedIn, c.State())
	user, ok := c.User()
	require.True(t, ok)
	assert.Equal(t, models.ID("U1"), user.ID)

	token, err := h.store.Load(ctx, store.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, c.Token(), token)
}

func TestLoginFailureStaysSignedOut(t *testing.T) {
	h := newHarness()
	c := h.tab(t, "A")

	err := c.Login(context.Background(), "nobody", "pw")
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, SignedOut, c.State())
}

func TestNewerLoginSignsOutSiblingTab(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	tabA := h.tab(t, "A")
	tabB := h.tab(t, "B")
	expiredB := recordExpiry(tabB)

	require.NoError(t, tabB.Login(ctx, "u1", "pw"))
	h.bus.Wait()
	require.Equal(t, SignedIn, tabB.State())

	require.NoError(t, tabA.Login(ctx, "u1", "pw"))
	h.bus.Wait()

	assert.Equal(t, SignedIn, tabA.State())
	assert.Equal(t, SignedOut, tabB.State())
	require.Len(t, expiredB(), 1)
	assert.Equal(t, ReasonSuperseded, expiredB()[0].Reason)

	token, err := h.store.Load(ctx, store.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, tabA.Token(), token, "stale tab must not clear the newer credential")
}

func TestOwnAnnouncementIgnored(t *testing.T) {
	h := newHarness()
	c := h.tab(t, "A")

	require.NoError(t, c.Login(context.Background(), "u1", "pw"))
	h.bus.Wait()
	assert.Equal(t, SignedIn, c.State())
}

func TestOtherUserLoginIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	tabA := h.tab(t, "A")
	tabB := h.tab(t, "B")

	require.NoError(t, tabB.Login(ctx, "u1", "pw"))
	require.NoError(t, tabA.Login(ctx, "u2", "pw"))
	h.bus.Wait()

	assert.Equal(t, SignedIn, tabA.State())
	assert.Equal(t, SignedIn, tabB.State())
}

func TestIdleTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c := h.tab(t, "A")
	expired := recordExpiry(c)
	worker := NewIdleWorker(c, 0)
	assert.Equal(t, "@every 1m0s", worker.Schedule())

	require.NoError(t, c.Login(ctx, "u1", "pw"))
	assert.True(t, worker.Ready(h.clock.Now()))

	h.clock.Advance(10 * time.Minute)
	assert.True(t, c.RecordActivity(EventScroll))
	assert.False(t, c.RecordActivity("focus"))

	h.clock.Advance(29 * time.Minute)
	worker.Execute()
	require.Equal(t, SignedIn, c.State())

	h.clock.Advance(time.Minute)
	worker.Execute()
	require.Equal(t, SignedOut, c.State())
	assert.False(t, worker.Ready(h.clock.Now()))

	require.Len(t, expired(), 1)
	assert.Equal(t, ReasonIdleTimeout, expired()[0].Reason)
	assert.Equal(t, 1, h.auth.calls, "no server round trip beyond the login")

	entries := h.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "LOGOUT", entries[0].Action)
	assert.Equal(t, "Session expired due to inactivity", entries[0].Details)

	_, err := h.store.Load(ctx, store.KeyToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogoutCompletesWhenAuditFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.audit.fail = true
	c := h.tab(t, "A")
	h.audit.source = c

	require.NoError(t, c.Login(ctx, "u1", "pw"))
	token := c.Token()

	require.NoError(t, c.Logout(ctx))
	assert.Equal(t, SignedOut, c.State())
	assert.Empty(t, c.Token())
	assert.Equal(t, []string{token}, h.audit.tokens, "audit is sent with the outgoing credential")

	require.ErrorIs(t, c.Logout(ctx), ErrSignedOut)
}

func TestExpireIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c := h.tab(t, "A")
	expired := recordExpiry(c)

	require.NoError(t, c.Login(ctx, "u1", "pw"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Expire(ctx, ReasonUnauthorized)
		}()
	}
	wg.Wait()

	require.Len(t, expired(), 1)
	assert.Equal(t, models.ID("U1"), expired()[0].UserID)
	assert.Empty(t, ReasonUnauthorized.Notice())
	assert.NotEmpty(t, ReasonKickedOut.Notice())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	first := h.tab(t, "A")
	require.NoError(t, first.Login(ctx, "u1", "pw"))
	token := first.Token()
	require.NoError(t, first.Close())

	reloaded := h.tab(t, "A2")
	ok, err := reloaded.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SignedIn, reloaded.State())
	assert.Equal(t, token, reloaded.Token())

	empty := newHarness().tab(t, "C")
	ok, err = empty.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTabIDGenerated(t *testing.T) {
	h := newHarness()
	a, err := New(h.store, h.bus, h.auth, nil, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	b, err := New(h.store, h.bus, h.auth, nil, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	assert.NotEmpty(t, a.TabID())
	assert.NotEqual(t, a.TabID(), b.TabID())
}
