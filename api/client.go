package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shipment-dispatch-client/workers/shipments/models"
)

// TokenSource supplies the bearer credential for authenticated calls.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string {
	return f()
}

type LoginResult struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// AuditEntry is posted to /logs
type AuditEntry struct {
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

type statusUpdate struct {
	Status string    `json:"status"`
	UserID models.ID `json:"userID"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the dispatch server.
type Client struct {
	baseURI string
	tokens  TokenSource
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

func NewClient(baseURI string, tokens TokenSource, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURI: strings.TrimRight(baseURI, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 20 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}

	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/login", nil, body, &result, false); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, fmt.Errorf("login response without token")
	}
	return &result, nil
}

// ListShipments fetches every shipment assigned to userID.
func (c *Client) ListShipments(ctx context.Context, userID models.ID) ([]models.Shipment, error) {
	q := url.Values{}
	q.Set("userID", userID.String())

	var shipments []models.Shipment
	if err := c.do(ctx, http.MethodGet, "/shipments", q, nil, &shipments, true); err != nil {
		return nil, err
	}
	return shipments, nil
}

// UpdateStatus asks the server to move a shipment to status.
func (c *Client) UpdateStatus(ctx context.Context, id models.ID, status string, userID models.ID) error {
	path := "/shipments/" + url.PathEscape(id.String()) + "/status"
	return c.do(ctx, http.MethodPut, path, nil, statusUpdate{Status: status, UserID: userID}, nil, true)
}

func (c *Client) LogAudit(ctx context.Context, entry AuditEntry) error {
	return c.do(ctx, http.MethodPost, "/logs", nil, entry, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, authenticated bool) error {
	u, err := url.Parse(c.baseURI + path)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}

	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if authenticated && c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	c.logger.Debug("Dispatch API call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		msg := strings.TrimSpace(string(bodyBytes))
		var er errorResponse
		if json.Unmarshal(bodyBytes, &er) == nil {
			if er.Message != "" {
				msg = er.Message
			} else if er.Error != "" {
				msg = er.Error
			}
		}
		return &ValidationError{Status: resp.StatusCode, Message: msg}
	default:
		return &StatusError{Status: resp.StatusCode, Body: string(bodyBytes)}
	}
}
