package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lenahartl/fieldsync/internal/domain"
	"github.com/lenahartl/fieldsync/internal/platform/correlation"
)

const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
)

type wireEvent struct {
	Event   string       `json:"event"`
	Session *wireSession `json:"session"`
}

// SubscribeSessionEvents opens the realtime websocket and delivers session
// events to handler sequentially, in arrival order. The connection
// resubscribes with exponential backoff until ctx is cancelled or the
// returned unsubscribe function is called.
func (c *Client) SubscribeSessionEvents(ctx context.Context, handler domain.SessionEventHandler) (func(), error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	go c.readLoop(subCtx, wsURL, handler)
	return cancel, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/session"
	u.RawQuery = url.Values{"apikey": {c.apiKey}}.Encode()
	return u.String(), nil
}

func (c *Client) readLoop(ctx context.Context, wsURL string, handler domain.SessionEventHandler) {
	delay := reconnectInitialDelay

	for {
		if ctx.Err() != nil {
			return
		}

		connCtx := correlation.WithNewID(ctx)
		conn, _, err := websocket.DefaultDialer.DialContext(connCtx, wsURL, nil)
		if err != nil {
			slog.WarnContext(connCtx, "Realtime dial failed, retrying", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		slog.DebugContext(connCtx, "Realtime connection established")
		delay = reconnectInitialDelay

		// Close the socket when the subscription is cancelled so the
		// blocked ReadMessage below returns.
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		c.consume(connCtx, conn, handler)
		stop()
		_ = conn.Close()
	}
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn, handler domain.SessionEventHandler) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "Realtime connection lost", "error", err)
			}
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			slog.WarnContext(ctx, "Dropping malformed realtime event", "error", err)
			continue
		}

		kind, ok := eventKind(ev.Event)
		if !ok {
			slog.DebugContext(ctx, "Ignoring unknown realtime event", "event", ev.Event)
			continue
		}

		var session *domain.Session
		if ev.Session != nil {
			c.setTokens(ev.Session.AccessToken, ev.Session.RefreshToken)
			session = c.toSession(ev.Session)
		}
		handler(kind, session)
	}
}

func eventKind(event string) (domain.SessionEventKind, bool) {
	switch event {
	case "SIGNED_IN":
		return domain.SessionSignedIn, true
	case "TOKEN_REFRESHED":
		return domain.SessionTokenRefreshed, true
	case "SIGNED_OUT":
		return domain.SessionSignedOut, true
	}
	return "", false
}
