package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/bridge"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	redisclient "github.com/recrutai/engage-server-go/internal/redis"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingEvery      = wsPongWait * 9 / 10
	wsReadLimit      = 64 << 10
	wsReplyBuffer    = 16
	wsCommandTimeout = 30 * time.Second
)

// Commands accepted on the realtime channel.
const (
	CommandSubscribeSession   = "subscribe_session"
	CommandSubscribeCandidate = "subscribe_candidato"
	CommandSendMessage        = "send_message"
	CommandGetSessionStatus   = "get_session_status"
	CommandGetQRCode          = "get_qr_code"
)

// Hub is the realtime fan-out observers attach to.
type Hub interface {
	NewObserver(id string) *bridge.Observer
	Subscribe(o *bridge.Observer, topic string) error
	Unsubscribe(o *bridge.Observer)
}

type command struct {
	Type string      `json:"type"`
	Data commandData `json:"data"`
}

type commandData struct {
	SessionID   string `json:"sessionId"`
	CandidateID string `json:"candidatoId"`
	To          string `json:"to"`
	Text        string `json:"text"`
}

// WSHandler serves the realtime control channel. Every connection is one
// bridge observer; commands are handled in order of arrival.
type WSHandler struct {
	hub      Hub
	sessions SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(hub Hub, sessions SessionService) *WSHandler {
	return &WSHandler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type wsConn struct {
	h        *WSHandler
	conn     *websocket.Conn
	observer *bridge.Observer
	replies  chan bridge.Event

	// done closes when the reader stops; closed closes when the writer stops.
	done   chan struct{}
	closed chan struct{}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{
		h:        h,
		conn:     conn,
		observer: h.hub.NewObserver(uuid.NewString()),
		replies:  make(chan bridge.Event, wsReplyBuffer),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	defer h.hub.Unsubscribe(c.observer)

	log.Info().
		Str("observerId", c.observer.ID).
		Str("remoteAddr", r.RemoteAddr).
		Msg("realtime observer connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.reply(bridge.NewEvent(bridge.EventConnectionEstablished, map[string]string{
		"observerId": c.observer.ID,
	}))

	go c.readLoop(ctx)
	c.writeLoop()

	log.Info().
		Str("observerId", c.observer.ID).
		Strs("topics", c.observer.Topics()).
		Msg("realtime observer disconnected")
}

func (c *wsConn) readLoop(ctx context.Context) {
	defer close(c.done)

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("observerId", c.observer.ID).Msg("realtime read failed")
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.replyError("", apperrors.ValidationError("malformed command"))
			continue
		}
		c.handle(ctx, cmd)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		close(c.closed)
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return

		case <-c.observer.Done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(wsWriteWait))
			return

		case ev := <-c.replies:
			if err := c.write(ev); err != nil {
				return
			}

		case ev := <-c.observer.Events:
			if err := c.write(ev); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				log.Debug().Str("observerId", c.observer.ID).Msg("heartbeat failed, closing connection")
				return
			}
		}
	}
}

func (c *wsConn) write(ev bridge.Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		log.Debug().Err(err).Str("observerId", c.observer.ID).Msg("realtime write failed")
		return err
	}
	return nil
}

// reply queues an event for this connection only.
func (c *wsConn) reply(ev bridge.Event) {
	select {
	case c.replies <- ev:
	case <-c.closed:
	}
}

func (c *wsConn) replyError(command string, err error) {
	code := apperrors.GetCode(err)
	message := err.Error()
	if appErr, ok := apperrors.AsAppError(err); ok {
		message = appErr.Message
	} else {
		code = apperrors.ErrCodeInternal
	}
	c.reply(bridge.NewEvent(bridge.EventError, map[string]string{
		"command": command,
		"code":    string(code),
		"message": message,
	}))
}

func (c *wsConn) handle(ctx context.Context, cmd command) {
	ctx, cancel := context.WithTimeout(ctx, wsCommandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case CommandSubscribeSession:
		err = c.subscribeSession(ctx, cmd.Data)
	case CommandSubscribeCandidate:
		err = c.subscribeCandidate(cmd.Data)
	case CommandSendMessage:
		err = c.sendMessage(ctx, cmd.Data)
	case CommandGetSessionStatus:
		err = c.sessionStatus(ctx, cmd.Data)
	case CommandGetQRCode:
		err = c.qrCode(cmd.Data)
	default:
		err = apperrors.InvalidInput("type", "unknown command "+cmd.Type)
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("observerId", c.observer.ID).
			Str("command", cmd.Type).
			Msg("realtime command failed")
		c.replyError(cmd.Type, err)
	}
}

func (c *wsConn) subscribeSession(ctx context.Context, d commandData) error {
	if strings.TrimSpace(d.SessionID) == "" {
		return apperrors.MissingRequired("sessionId")
	}
	if err := c.h.hub.Subscribe(c.observer, redisclient.Topic(bridge.TopicSession, d.SessionID)); err != nil {
		return apperrors.Internal("subscription failed").WithCause(err)
	}
	return c.sessionStatus(ctx, d)
}

func (c *wsConn) subscribeCandidate(d commandData) error {
	if strings.TrimSpace(d.CandidateID) == "" {
		return apperrors.MissingRequired("candidatoId")
	}
	if err := c.h.hub.Subscribe(c.observer, redisclient.Topic(bridge.TopicCandidate, d.CandidateID)); err != nil {
		return apperrors.Internal("subscription failed").WithCause(err)
	}
	return nil
}

func (c *wsConn) sendMessage(ctx context.Context, d commandData) error {
	switch {
	case strings.TrimSpace(d.SessionID) == "":
		return apperrors.MissingRequired("sessionId")
	case strings.TrimSpace(d.To) == "":
		return apperrors.MissingRequired("to")
	case d.Text == "":
		return apperrors.MissingRequired("text")
	}
	if err := c.h.sessions.Send(ctx, d.SessionID, d.To, d.Text); err != nil {
		return err
	}
	c.reply(bridge.NewEvent(bridge.EventMessageSent, map[string]string{
		"sessionId": d.SessionID,
		"to":        d.To,
		"text":      d.Text,
	}))
	return nil
}

func (c *wsConn) sessionStatus(ctx context.Context, d commandData) error {
	if strings.TrimSpace(d.SessionID) == "" {
		return apperrors.MissingRequired("sessionId")
	}
	status, err := c.h.sessions.Status(ctx, d.SessionID)
	if err != nil {
		return err
	}
	c.reply(bridge.NewEvent(bridge.EventSessionStatus, map[string]any{
		"sessionId": status.ID,
		"state":     status.State,
		"live":      status.Live,
		"hasQrCode": status.HasQRCode,
	}))
	return nil
}

// qrCode answers with an empty image when the session is not pairing.
func (c *wsConn) qrCode(d commandData) error {
	if strings.TrimSpace(d.SessionID) == "" {
		return apperrors.MissingRequired("sessionId")
	}
	image, err := c.h.sessions.PairingImage(d.SessionID)
	if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		return err
	}
	c.reply(bridge.NewEvent(bridge.EventQRCode, map[string]string{
		"sessionId": d.SessionID,
		"qrCode":    image,
	}))
	return nil
}
