package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shipment-dispatch-client/api"
	"shipment-dispatch-client/broadcast"
	"shipment-dispatch-client/store"
	"shipment-dispatch-client/workers/shipments/models"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	auditTimeout       = 5 * time.Second
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (*api.LoginResult, error)
}

type Auditor interface {
	LogAudit(ctx context.Context, entry api.AuditEntry) error
}

// Coordinator owns the signed-in state of one tab. It is the only component
// that ends a session; everything else reports through Expire.
type Coordinator struct {
	logger      *zap.Logger
	store       store.StateStore
	bus         broadcast.Bus
	auth        Authenticator
	audit       Auditor
	now         func() time.Time
	idleTimeout time.Duration
	tabID       string
	sub         broadcast.Subscription

	mu           sync.Mutex
	state        State
	user         models.User
	token        string
	lastActivity time.Time
	listeners    []func(Expired)
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.idleTimeout = d }
}

// WithTabID fixes the tab identifier instead of generating one.
func WithTabID(id string) Option {
	return func(c *Coordinator) { c.tabID = id }
}

// New creates a signed-out coordinator and joins the session topic.
func New(st store.StateStore, bus broadcast.Bus, auth Authenticator, audit Auditor, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		logger:      logger,
		store:       st,
		bus:         bus,
		auth:        auth,
		audit:       audit,
		now:         time.Now,
		idleTimeout: DefaultIdleTimeout,
		tabID:       uuid.New().String(),
	}
	for _, opt := range opts {
		opt(c)
	}

	sub, err := bus.Subscribe(broadcast.TopicSession, c.handleBroadcast)
	if err != nil {
		return nil, fmt.Errorf("join session topic: %w", err)
	}
	c.sub = sub
	c.logger = c.logger.With(zap.String("tab_id", c.tabID))
	return c, nil
}

func (c *Coordinator) TabID() string {
	return c.tabID
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the signed-in user. The bool is false when signed out.
func (c *Coordinator) User() (models.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.state == SignedIn
}

// Token returns the bearer credential. It stays available while the session
// is invalidating so the logout can still be reported.
func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnExpired registers fn to run after every completed sign-out.
func (c *Coordinator) OnExpired(fn func(Expired)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Restore signs the tab in from a credential persisted by an earlier load of
// the same profile.
func (c *Coordinator) Restore(ctx context.Context) (bool, error) {
	token, err := c.store.Load(ctx, store.KeyToken)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	raw, err := c.store.Load(ctx, store.KeyUser)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		c.logger.Warn("Ignoring unreadable stored user", zap.Error(err))
		return false, nil
	}

	c.mu.Lock()
	c.state = SignedIn
	c.user = user
	c.token = token
	c.lastActivity = c.now()
	c.mu.Unlock()

	c.logger.Info("Session restored", zap.String("user_id", user.ID.String()))
	return true, nil
}

// Login authenticates, persists the credential and tells sibling tabs that
// this user now has a newer session.
func (c *Coordinator) Login(ctx context.Context, username, password string) error {
	res, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	userJSON, err := json.Marshal(res.User)
	if err != nil {
		return err
	}
	if err := c.store.Save(ctx, store.KeyUser, string(userJSON)); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	if err := c.store.Save(ctx, store.KeyToken, res.Token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	c.mu.Lock()
	c.state = SignedIn
	c.user = res.User
	c.token = res.Token
	c.lastActivity = c.now()
	c.mu.Unlock()

	c.logger.Info("Signed in",
		zap.String("user_id", res.User.ID.String()),
		zap.String("role", res.User.Role),
	)

	msg := broadcast.Message{
		Type:     broadcast.TypeLogin,
		Token:    res.Token,
		UserID:   res.User.ID.String(),
		SenderID: c.tabID,
	}
	if err := c.bus.Publish(ctx, broadcast.TopicSession, msg); err != nil {
		c.logger.Warn("Login announcement failed", zap.Error(err))
	}
	return nil
}

// Logout ends the session at the user's request.
func (c *Coordinator) Logout(ctx context.Context) error {
	if !c.invalidate(ctx, ReasonUserLogout) {
		return ErrSignedOut
	}
	return nil
}

// Expire ends the session for reason. It reports false when there was no
// session to end.
func (c *Coordinator) Expire(ctx context.Context, reason Reason) bool {
	return c.invalidate(ctx, reason)
}

// RecordActivity resets the idle clock for the known input events.
func (c *Coordinator) RecordActivity(ev InputEvent) bool {
	if _, ok := activityEvents[ev]; !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.now()
	return true
}

// CheckIdle signs out when no input was recorded for the idle timeout.
func (c *Coordinator) CheckIdle(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	idle := c.state == SignedIn && now.Sub(c.lastActivity) >= c.idleTimeout
	c.mu.Unlock()

	if !idle {
		return false
	}
	return c.invalidate(ctx, ReasonIdleTimeout)
}

// Close leaves the session topic. The session itself is left untouched.
func (c *Coordinator) Close() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Close()
}

func (c *Coordinator) handleBroadcast(msg broadcast.Message) {
	if msg.SenderID == c.tabID || msg.Type != broadcast.TypeLogin {
		return
	}

	c.mu.Lock()
	stale := c.state == SignedIn && c.user.ID.String() == msg.UserID
	c.mu.Unlock()

	if stale {
		c.logger.Info("Newer sign-in detected for this user", zap.String("sender_id", msg.SenderID))
		c.invalidate(context.Background(), ReasonSuperseded)
	}
}

func (c *Coordinator) invalidate(ctx context.Context, reason Reason) bool {
	c.mu.Lock()
	if c.state != SignedIn {
		c.mu.Unlock()
		return false
	}
	c.state = Invalidating
	user, token := c.user, c.token
	c.mu.Unlock()

	c.reportLogout(ctx, reason)
	c.clearCredential(ctx, token)

	c.mu.Lock()
	c.state = SignedOut
	c.user = models.User{}
	c.token = ""
	listeners := append([]func(Expired){}, c.listeners...)
	c.mu.Unlock()

	c.logger.Info("Signed out",
		zap.String("user_id", user.ID.String()),
		zap.String("reason", string(reason)),
	)

	evt := Expired{Reason: reason, UserID: user.ID, At: c.now()}
	for _, fn := range listeners {
		fn(evt)
	}
	return true
}

func (c *Coordinator) reportLogout(ctx context.Context, reason Reason) {
	if c.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	err := c.audit.LogAudit(ctx, api.AuditEntry{
		Action:    "LOGOUT",
		Details:   reason.auditDetails(),
		Timestamp: c.now().UTC(),
	})
	if err != nil {
		c.logger.Warn("Logout audit failed", zap.String("reason", string(reason)), zap.Error(err))
	}
}

// clearCredential removes the persisted session unless another tab has
// already replaced it with a newer login.
func (c *Coordinator) clearCredential(ctx context.Context, token string) {
	ctx = context.WithoutCancel(ctx)

	stored, err := c.store.Load(ctx, store.KeyToken)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		c.logger.Warn("Reading stored credential failed", zap.Error(err))
		return
	}
	if stored != token {
		return
	}

	for _, key := range []string{store.KeyToken, store.KeyUser} {
		if err := c.store.Clear(ctx, key); err != nil {
			c.logger.Warn("Clearing stored credential failed", zap.String("key", key), zap.Error(err))
		}
	}
}
