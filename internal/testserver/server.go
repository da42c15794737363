// Package testserver runs an in-process dispatch server for tests. It issues
// JWT bearer tokens and keeps only the newest login per user valid.
package testserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"shipment-dispatch-client/workers/shipments/models"
)

const secret = "testserver-secret"

type accessClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

type account struct {
	password string
	user     models.User
}

// StatusUpdate records one PUT /shipments/{id}/status call.
type StatusUpdate struct {
	ShipmentID string
	Status     string
	UserID     string
}

// AuditEntry records one POST /logs call.
type AuditEntry struct {
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

type Server struct {
	srv *httptest.Server

	mu         sync.Mutex
	accounts   map[string]account
	latest     map[string]string
	shipments  map[string][]models.Shipment
	updates    []StatusUpdate
	audit      []AuditEntry
	failStatus map[string]bool
	failAudit  bool
	listCalls  int
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		accounts:   make(map[string]account),
		latest:     make(map[string]string),
		shipments:  make(map[string][]models.Shipment),
		failStatus: make(map[string]bool),
	}

	engine := gin.New()
	engine.POST("/login", s.login)

	authed := engine.Group("/", s.auth)
	authed.GET("/shipments", s.listShipments)
	authed.PUT("/shipments/:id/status", s.updateStatus)
	authed.POST("/logs", s.logs)

	s.srv = httptest.NewServer(engine)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) AddUser(user models.User, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[user.Username] = account{password: password, user: user}
}

// SetShipments replaces the shipments assigned to userID.
func (s *Server) SetShipments(userID models.ID, shipments []models.Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[userID.String()] = append([]models.Shipment(nil), shipments...)
}

func (s *Server) Shipments(userID models.ID) []models.Shipment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Shipment(nil), s.shipments[userID.String()]...)
}

func (s *Server) Updates() []StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusUpdate(nil), s.updates...)
}

func (s *Server) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// FailUpdatesTo makes every transition to status fail with a 500.
func (s *Server) FailUpdatesTo(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus[status] = true
}

func (s *Server) FailAudit(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAudit = fail
}

// Revoke invalidates every token issued to userID.
func (s *Server) Revoke(userID models.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[userID.String()] = ""
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	s.mu.Unlock()
	if !ok || acc.password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	sessionID := uuid.New().String()
	token, err := sign(acc.user, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.latest[acc.user.ID.String()] = sessionID
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"token": token, "user": acc.user})
}

func (s *Server) auth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
		return
	}

	claims, err := parse(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}

	s.mu.Lock()
	current := s.latest[claims.UserID]
	s.mu.Unlock()
	if current == "" || current != claims.SessionID {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_superseded"})
		return
	}

	c.Set("claims", claims)
	c.Next()
}

func (s *Server) listShipments(c *gin.Context) {
	claims := c.MustGet("claims").(*accessClaims)
	userID := c.Query("userID")
	if userID != claims.UserID && claims.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	s.mu.Lock()
	s.listCalls++
	list := append([]models.Shipment{}, s.shipments[userID]...)
	s.mu.Unlock()

	c.JSON(http.StatusOK, list)
}

type statusRequest struct {
	Status string    `json:"status" binding:"required"`
	UserID models.ID `json:"userID"`
}

func (s *Server) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.IsKnownStatus(req.Status) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": fmt.Sprintf("unknown status %q", req.Status)})
		return
	}

	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failStatus[req.Status] {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	for owner, list := range s.shipments {
		for i := range list {
			if list[i].ID.String() != id {
				continue
			}
			if list[i].IsCompleted() {
				c.JSON(http.StatusConflict, gin.H{"message": "shipment is already completed"})
				return
			}
			list[i].CurrentStatus = req.Status
			s.shipments[owner] = list
			s.updates = append(s.updates, StatusUpdate{ShipmentID: id, Status: req.Status, UserID: req.UserID.String()})
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
}

func (s *Server) logs(c *gin.Context) {
	var entry AuditEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAudit {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit unavailable"})
		return
	}
	s.audit = append(s.audit, entry)
	c.Status(http.StatusCreated)
}

func sign(user models.User, sessionID string) (string, error) {
	now := time.Now()
	claims := accessClaims{
		UserID:    user.ID.String(),
		SessionID: sessionID,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			Subject:   user.ID.String(),
			ID:        sessionID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parse(token string) (*accessClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
