// Package remote implements the identity+data service contract over its REST
// API and realtime websocket. Data-plane calls run behind a circuit breaker
// so a flapping backend fails fast instead of tying up every caller.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/lenahartl/fieldsync/internal/domain"
	apperrors "github.com/lenahartl/fieldsync/internal/errors"
	"github.com/lenahartl/fieldsync/internal/metrics"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the remote identity+data service. It holds the current
// access token internally; the session manager drives its lifecycle through
// the IdentityService methods.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// New creates a client for the service at baseURL authenticating with apiKey.
func New(baseURL, apiKey string) *Client {
	settings := gobreaker.Settings{
		Name:    "remote",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			metrics.RemoteBreakerState.Set(breakerStateValue(to))
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// wire shapes

type wireSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
	} `json:"user"`
}

type wireProfile struct {
	ID          uuid.UUID  `json:"id"`
	DisplayName string     `json:"display_name"`
	TenantID    *uuid.UUID `json:"tenant_id"`
	Role        string     `json:"role"`
}

func (c *Client) toSession(w *wireSession) *domain.Session {
	return &domain.Session{
		AccessToken:  w.AccessToken,
		RefreshToken: w.RefreshToken,
		PrincipalID:  w.User.ID,
		Email:        w.User.Email,
	}
}

// CurrentSession asks the remote service for an existing session.
func (c *Client) CurrentSession(ctx context.Context) (*domain.Session, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/v1/session", nil, "")
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		c.setTokens("", "")
		return nil, nil
	case resp.StatusCode == http.StatusOK:
		var w wireSession
		if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
			return nil, apperrors.Transient("decode session", err)
		}
		c.setTokens(w.AccessToken, w.RefreshToken)
		return c.toSession(&w), nil
	default:
		return nil, statusError("current session", resp)
	}
}

// RefreshSession exchanges the held refresh token for a fresh session.
func (c *Client) RefreshSession(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	body := map[string]string{"refresh_token": refresh}
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/refresh", body, "")
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("refresh session", resp)
	}

	var w wireSession
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, apperrors.Transient("decode session", err)
	}
	c.setTokens(w.AccessToken, w.RefreshToken)
	return c.toSession(&w), nil
}

// SignOut invalidates the remote session and forgets the held tokens. The
// tokens are cleared even when the remote call fails: callers only invoke
// this on the way to the unauthenticated state.
func (c *Client) SignOut(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/signout", nil, "")
	c.setTokens("", "")
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode >= 300 {
		return statusError("sign out", resp)
	}
	return nil
}

// ReadProfile reads the profile row for the principal. (nil, nil) when the
// row does not exist.
func (c *Client) ReadProfile(ctx context.Context, principalID uuid.UUID) (*domain.Profile, error) {
	path := "/rest/v1/profiles/" + principalID.String()
	result, err := c.guarded("read_profile", func() (any, error) {
		resp, err := c.do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		switch resp.StatusCode {
		case http.StatusNotFound:
			return (*domain.Profile)(nil), nil
		case http.StatusOK:
			var w wireProfile
			if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
				return nil, apperrors.Transient("decode profile", err)
			}
			p := &domain.Profile{
				PrincipalID: w.ID,
				DisplayName: w.DisplayName,
				Role:        domain.Role(w.Role),
			}
			if w.TenantID != nil {
				p.TenantID = *w.TenantID
			}
			return p, nil
		default:
			return nil, statusError("read profile", resp)
		}
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Profile), nil
}

// CurrentRole invokes the get_current_user_role RPC.
func (c *Client) CurrentRole(ctx context.Context) (domain.Role, error) {
	result, err := c.guarded("current_role", func() (any, error) {
		resp, err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/get_current_user_role", struct{}{}, "")
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode != http.StatusOK {
			return nil, statusError("current role", resp)
		}

		var role *string
		if err := json.NewDecoder(resp.Body).Decode(&role); err != nil {
			return nil, apperrors.Transient("decode role", err)
		}
		if role == nil {
			return domain.Role(""), nil
		}
		return domain.Role(*role), nil
	})
	if err != nil {
		return "", err
	}
	return result.(domain.Role), nil
}

// InsertRecord creates a row in the given table. Client errors (4xx) are
// business rejections; everything else is transient.
func (c *Client) InsertRecord(ctx context.Context, table string, fields map[string]any) error {
	if table == "" {
		return apperrors.Validation("table is required")
	}

	_, err := c.guarded("insert_"+table, func() (any, error) {
		resp, err := c.do(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(table), fields, "")
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		switch {
		case resp.StatusCode < 300:
			return nil, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			msg := readErrorMessage(resp)
			return nil, apperrors.RemoteReject(msg, nil).WithContext("table", table)
		default:
			return nil, statusError("insert record", resp)
		}
	})
	return err
}

// UploadBinary stores blob under bucket/name and returns its public URL.
func (c *Client) UploadBinary(ctx context.Context, bucket, name, contentType string, blob []byte) (string, error) {
	path := "/storage/v1/object/" + url.PathEscape(bucket) + "/" + url.PathEscape(name)
	result, err := c.guarded("upload_binary", func() (any, error) {
		resp, err := c.doRaw(ctx, http.MethodPost, path, bytes.NewReader(blob), contentType)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode >= 300 {
			return nil, statusError("upload binary", resp)
		}

		var out struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, apperrors.Transient("decode upload response", err)
		}
		if out.URL == "" {
			return c.baseURL + path, nil
		}
		return out.URL, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// guarded runs a data-plane call through the circuit breaker. Business
// rejections do not count as breaker failures.
func (c *Client) guarded(operation string, fn func() (any, error)) (any, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		v, err := fn()
		if err != nil && apperrors.IsType(err, apperrors.TypeRemoteReject) {
			// Surface the rejection without tripping the breaker.
			return rejectedResult{err: err}, nil
		}
		return v, err
	})

	status := "ok"
	if err != nil {
		status = "error"
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = apperrors.Transient("remote service unavailable", err)
		}
	}
	if rejected, ok := result.(rejectedResult); ok {
		status = "rejected"
		err = rejected.err
		result = nil
	}
	metrics.RemoteRequestsTotal.WithLabelValues(operation, status).Inc()
	return result, err
}

type rejectedResult struct{ err error }

func (c *Client) setTokens(access, refresh string) {
	c.mu.Lock()
	c.accessToken = access
	c.refreshToken = refresh
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body any, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		if contentType == "" {
			contentType = "application/json"
		}
	}
	return c.doRaw(ctx, method, path, reader, contentType)
}

func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, apperrors.Transient("remote request failed", err)
	}
	return resp, nil
}

func statusError(operation string, resp *http.Response) error {
	msg := readErrorMessage(resp)
	return apperrors.Transient(fmt.Sprintf("%s: %s", operation, msg), nil).
		WithContext("status", resp.StatusCode)
}

func readErrorMessage(resp *http.Response) string {
	var out struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &out); err == nil {
		if out.Message != "" {
			return out.Message
		}
		if out.Error != "" {
			return out.Error
		}
	}
	return resp.Status
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
