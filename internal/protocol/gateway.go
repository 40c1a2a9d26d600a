package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = pongWait * 9 / 10
)

type frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	To          string          `json:"to,omitempty"`
	Text        string          `json:"text,omitempty"`
	Error       string          `json:"error,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// GatewayDialer connects to the protocol gateway over websocket.
type GatewayDialer struct {
	dialer *websocket.Dialer
}

func NewGatewayDialer() *GatewayDialer {
	return &GatewayDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *GatewayDialer) Dial(ctx context.Context, endpoint, sessionID string, credentials json.RawMessage, handler Handler) (Client, error) {
	url := strings.TrimRight(endpoint, "/") + "/sessions/" + sessionID
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &gatewayClient{
		sessionID: sessionID,
		conn:      conn,
		handler:   handler,
		pending:   make(map[string]chan error),
		done:      make(chan struct{}),
	}

	if err := c.write(frame{Type: "hello", Credentials: credentials}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

type gatewayClient struct {
	sessionID string
	conn      *websocket.Conn
	handler   Handler

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan error
	closing bool

	done      chan struct{}
	closeOnce sync.Once
}

func (c *gatewayClient) Send(ctx context.Context, to, text string) error {
	return c.request(ctx, frame{Type: "send", To: to, Text: text})
}

func (c *gatewayClient) Logout(ctx context.Context) error {
	return c.request(ctx, frame{Type: "logout"})
}

func (c *gatewayClient) request(ctx context.Context, f frame) error {
	f.ID = uuid.NewString()
	ack := make(chan error, 1)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[f.ID] = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		select {
		case <-c.done:
			return ErrClosed
		default:
			return err
		}
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *gatewayClient) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *gatewayClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			c.shutdown()
			if !closing {
				log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("gateway connection lost")
				c.handler(Event{Type: EventDisconnected, Reason: ReasonGatewayLost})
			}
			return
		}

		var head struct {
			Type  string `json:"type"`
			ID    string `json:"id"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("malformed gateway frame")
			continue
		}

		if head.Type == "ack" {
			c.resolve(head.ID, head.Error)
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("malformed gateway event")
			continue
		}
		c.handler(ev)
	}
}

func (c *gatewayClient) resolve(id, errMsg string) {
	c.mu.Lock()
	ack, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	if errMsg != "" {
		ack <- errors.New(errMsg)
		return
	}
	ack <- nil
}

func (c *gatewayClient) pingLoop() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *gatewayClient) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// Close tears the socket down without reporting a disconnect event.
func (c *gatewayClient) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown()
	return nil
}
