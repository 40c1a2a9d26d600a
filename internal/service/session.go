package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/recrutai/engage-server-go/internal/bridge"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/observability"
	"github.com/recrutai/engage-server-go/internal/protocol"
	redisclient "github.com/recrutai/engage-server-go/internal/redis"
	"github.com/recrutai/engage-server-go/internal/repository"
	"github.com/recrutai/engage-server-go/internal/util"
)

const (
	eventTimeout   = 10 * time.Second
	inboundTimeout = time.Minute
	qrImageSize    = 256
)

type ManagerConfig struct {
	// Endpoints are the gateway URLs tried in order by Initialize.
	Endpoints     []string
	CountryCode   string
	DialTimeout   time.Duration
	SendTimeout   time.Duration
	SendRate      float64
	SendBurst     int
	RecoveryDelay time.Duration
	RecoveryWait  time.Duration
}

type SessionStatus struct {
	model.Session
	Live      bool `json:"live"`
	HasQRCode bool `json:"hasQrCode"`
}

type RecoveryReport struct {
	Attempted    int `json:"attempted"`
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
	Skipped      int `json:"skipped"`
}

// Manager owns the protocol connections of tenant sessions.
type Manager struct {
	cfg        ManagerConfig
	sessions   repository.SessionRepository
	inbound    repository.InboundMessageRepository
	candidates repository.CandidateRepository
	dialer     protocol.Dialer
	registry   *Registry
	notifier   Notifier
	sealer     *util.Sealer

	mu        sync.RWMutex
	responder InboundResponder
	closed    bool

	wg sync.WaitGroup
}

func NewManager(
	cfg ManagerConfig,
	sessions repository.SessionRepository,
	inbound repository.InboundMessageRepository,
	candidates repository.CandidateRepository,
	dialer protocol.Dialer,
	registry *Registry,
	notifier Notifier,
	sealer *util.Sealer,
) *Manager {
	if cfg.SendBurst < 1 {
		cfg.SendBurst = 1
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	m := &Manager{
		cfg:        cfg,
		sessions:   sessions,
		inbound:    inbound,
		candidates: candidates,
		dialer:     dialer,
		registry:   registry,
		notifier:   notifier,
		sealer:     sealer,
	}
	registry.OnLost(m.dropLost)
	return m
}

// SetResponder installs the handler for inbound messages from known
// candidates.
func (m *Manager) SetResponder(r InboundResponder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
}

func (m *Manager) Create(ctx context.Context, tenantID, displayName string) (*model.Session, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.MissingRequired("tenantId")
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, apperrors.MissingRequired("displayName")
	}

	session, err := m.sessions.Create(ctx, model.CreateSessionParams{
		TenantID:    tenantID,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("tenantId", tenantID).
		Msg("session created")

	m.emitStatus(session.ID, session.TenantID, session.State)
	return session, nil
}

// Initialize opens the protocol connection for a session, trying each
// gateway endpoint in order. A live session is left untouched.
func (m *Manager) Initialize(ctx context.Context, sessionID string) error {
	if m.isClosed() {
		return apperrors.Internal("session manager is shutting down")
	}

	session, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.NotFound("session")
	}

	if m.registry.Get(sessionID) != nil {
		return nil
	}

	state := session.State
	switch state {
	case model.SessionStateLoggedOut:
		state, _ = model.Transition(state, model.SessionEventReset)
		if err := m.sessions.UpdateState(ctx, sessionID, state); err != nil {
			return apperrors.Database(err)
		}
	case model.SessionStateConnected:
		// persisted state is stale until the gateway confirms
		state = model.SessionStateDisconnected
	}

	owned, err := m.registry.Claim(ctx, sessionID)
	if err != nil {
		return apperrors.Connection(sessionID, err)
	}
	if !owned {
		return apperrors.SessionOwnedElsewhere(sessionID)
	}

	creds, err := m.loadCredentials(session)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("stored credentials unreadable, pairing from scratch")
		creds = nil
	}

	ls := &liveSession{
		id:       sessionID,
		tenantID: session.TenantID,
		limiter:  rate.NewLimiter(rate.Limit(m.cfg.SendRate), m.cfg.SendBurst),
		state:    state,
	}
	if !m.registry.Put(ls) {
		return nil
	}

	var lastErr error
	for i, endpoint := range m.cfg.Endpoints {
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		client, err := m.dialer.Dial(dialCtx, endpoint, sessionID, creds, m.handler(ls))
		cancel()
		if err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("sessionId", sessionID).
				Int("strategy", i).
				Str("endpoint", endpoint).
				Msg("connection strategy failed")
			continue
		}

		ls.mu.Lock()
		ls.client = client
		ls.mu.Unlock()

		log.Info().
			Str("sessionId", sessionID).
			Int("strategy", i).
			Bool("resumed", creds != nil).
			Msg("session initialized")
		return nil
	}

	m.registry.Remove(ls)
	m.apply(ctx, ls, model.SessionEventStrategiesExhausted, nil)
	m.registry.Release(ctx, sessionID)

	log.Error().
		Err(lastErr).
		Str("sessionId", sessionID).
		Int("strategies", len(m.cfg.Endpoints)).
		Msg("all connection strategies failed")
	return apperrors.Connection(sessionID, lastErr)
}

// Send delivers text to recipient. It fails fast when the session is not
// connected in this process.
func (m *Manager) Send(ctx context.Context, sessionID, recipient, text string) error {
	ls := m.registry.Get(sessionID)
	if ls == nil {
		return apperrors.SessionNotConnected(sessionID)
	}
	client, state := ls.snapshot()
	if client == nil || state != model.SessionStateConnected {
		return apperrors.SessionNotConnected(sessionID)
	}

	to := util.NormalizePhone(recipient, m.cfg.CountryCode)
	if to == "" {
		return apperrors.InvalidInput("recipient", "must contain a phone number")
	}
	if strings.TrimSpace(text) == "" {
		return apperrors.MissingRequired("text")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	if err := ls.limiter.Wait(ctx); err != nil {
		observability.Sends.WithLabelValues("throttled").Inc()
		return apperrors.SendFailed(err)
	}

	start := time.Now()
	if err := client.Send(ctx, to, text); err != nil {
		observability.Sends.WithLabelValues("error").Inc()
		log.Warn().
			Err(err).
			Str("sessionId", sessionID).
			Str("to", util.MaskAddress(to)).
			Msg("protocol send failed")
		return apperrors.SendFailed(err)
	}
	observability.Sends.WithLabelValues("ok").Inc()
	observability.SendLatency.Observe(time.Since(start).Seconds())

	log.Debug().
		Str("sessionId", sessionID).
		Str("to", util.MaskAddress(to)).
		Msg("message sent")
	return nil
}

func (m *Manager) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	session, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("session")
	}

	status := &SessionStatus{Session: *session}
	if ls := m.registry.Get(sessionID); ls != nil {
		ls.mu.Lock()
		status.State = ls.state
		status.HasQRCode = ls.qr != ""
		ls.mu.Unlock()
		status.Live = true
	}
	return status, nil
}

// List returns the sessions of a tenant.
func (m *Manager) List(ctx context.Context, tenantID string) ([]model.Session, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.MissingRequired("tenantId")
	}
	sessions, err := m.sessions.FindByTenantID(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// History lists the inbound messages recorded for a session, newest first.
func (m *Manager) History(ctx context.Context, sessionID string, limit, offset int) ([]model.InboundMessage, error) {
	messages, err := m.inbound.FindBySessionID(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if messages == nil {
		messages = []model.InboundMessage{}
	}
	return messages, nil
}

// CandidateHistory returns the latest inbound messages resolved to
// candidateID across every session.
func (m *Manager) CandidateHistory(ctx context.Context, candidateID string, limit int) ([]model.InboundMessage, error) {
	if strings.TrimSpace(candidateID) == "" {
		return nil, apperrors.MissingRequired("candidatoId")
	}
	messages, err := m.inbound.FindByRecipientRef(ctx, candidateID, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if messages == nil {
		messages = []model.InboundMessage{}
	}
	return messages, nil
}

// LiveCount is the number of sessions with a live connection in this
// process.
func (m *Manager) LiveCount() int {
	return m.registry.Len()
}

// PairingImage returns the current pairing QR code as a PNG data URL.
func (m *Manager) PairingImage(sessionID string) (string, error) {
	ls := m.registry.Get(sessionID)
	if ls == nil {
		return "", apperrors.NotFound("pairing image")
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.qr == "" {
		return "", apperrors.NotFound("pairing image")
	}
	return ls.qr, nil
}

// Disconnect logs the session out: the device link is dropped, stored
// credentials are erased and the session is marked logged_out.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	session, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.NotFound("session")
	}

	ls := m.registry.Get(sessionID)
	if ls == nil {
		if err := m.sessions.MarkLoggedOut(ctx, sessionID); err != nil {
			return apperrors.Database(err)
		}
		m.registry.Release(ctx, sessionID)
		m.emitStatus(sessionID, session.TenantID, model.SessionStateLoggedOut)
		log.Info().Str("sessionId", sessionID).Msg("session logged out")
		return nil
	}

	if client, _ := ls.snapshot(); client != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		if err := client.Logout(logoutCtx); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("gateway logout failed, dropping connection anyway")
		}
		cancel()
	}

	m.apply(ctx, ls, model.SessionEventLoggedOut, nil)
	m.teardown(ctx, ls, true)

	log.Info().Str("sessionId", sessionID).Msg("session logged out")
	return nil
}

// RecoverAll reconnects every session persisted as connected, one at a
// time. Sessions that do not reach connected within the recovery wait are
// persisted as disconnected.
func (m *Manager) RecoverAll(ctx context.Context) (*RecoveryReport, error) {
	report := &RecoveryReport{}

	sessions, err := m.sessions.FindByState(ctx, model.SessionStateConnected)
	if err != nil {
		return report, apperrors.Database(err)
	}

	for i, session := range sessions {
		if i > 0 {
			select {
			case <-time.After(m.cfg.RecoveryDelay):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}

		report.Attempted++
		switch m.recoverOne(ctx, session) {
		case model.SessionStateConnected:
			report.Connected++
		case model.SessionStateDisconnected:
			report.Disconnected++
		default:
			report.Skipped++
		}
	}

	log.Info().
		Int("attempted", report.Attempted).
		Int("connected", report.Connected).
		Int("disconnected", report.Disconnected).
		Int("skipped", report.Skipped).
		Msg("session recovery finished")
	return report, nil
}

// recoverOne returns the state the session ended in, or "" when another
// instance owns it.
func (m *Manager) recoverOne(ctx context.Context, session model.Session) model.SessionState {
	err := m.Initialize(ctx, session.ID)
	if apperrors.HasCode(err, apperrors.ErrCodeSessionOwned) {
		log.Info().Str("sessionId", session.ID).Msg("session owned by another instance, skipping recovery")
		return ""
	}
	if err == nil && m.awaitConnected(ctx, session.ID, m.cfg.RecoveryWait) {
		return model.SessionStateConnected
	}

	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("session recovery failed")
	} else {
		log.Warn().
			Str("sessionId", session.ID).
			Dur("wait", m.cfg.RecoveryWait).
			Msg("session did not reconnect in time")
	}

	if ls := m.registry.Get(session.ID); ls != nil {
		m.teardown(ctx, ls, true)
	}
	if err := m.sessions.UpdateState(ctx, session.ID, model.SessionStateDisconnected); err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to persist recovery state")
	}
	m.emitStatus(session.ID, session.TenantID, model.SessionStateDisconnected)
	return model.SessionStateDisconnected
}

func (m *Manager) awaitConnected(ctx context.Context, sessionID string, timeout time.Duration) bool {
	ls := m.registry.Get(sessionID)
	if ls == nil {
		return false
	}

	ls.mu.Lock()
	if ls.state == model.SessionStateConnected {
		ls.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	ls.waiters = append(ls.waiters, ch)
	ls.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Shutdown closes every live connection and waits for in-flight inbound
// handling. Persisted states are kept so the next start can recover.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	for _, ls := range m.registry.Close() {
		if client, _ := ls.snapshot(); client != nil {
			client.Close()
		}
		m.registry.Release(ctx, ls.id)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown timed out waiting for inbound handlers")
	}
	log.Info().Msg("session manager stopped")
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// goTracked runs fn in a goroutine that Shutdown waits for.
func (m *Manager) goTracked(fn func()) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Manager) handler(ls *liveSession) protocol.Handler {
	return func(ev protocol.Event) {
		m.onEvent(ls, ev)
	}
}

func (m *Manager) onEvent(ls *liveSession, ev protocol.Event) {
	if m.registry.Get(ls.id) != ls {
		log.Debug().Str("sessionId", ls.id).Str("type", string(ev.Type)).Msg("event from stale connection ignored")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch ev.Type {
	case protocol.EventPairingCode:
		img, err := renderQR(ev.Code)
		if err != nil {
			log.Error().Err(err).Str("sessionId", ls.id).Msg("failed to render pairing code")
			return
		}
		ls.mu.Lock()
		ls.qr = img
		ls.mu.Unlock()

		m.apply(ctx, ls, model.SessionEventPairingCode, nil)
		m.notifier.EmitSession(ls.id, ls.tenantID, bridge.NewEvent(bridge.EventQRCode, map[string]string{
			"sessionId": ls.id,
			"qrCode":    img,
		}))

	case protocol.EventConnected:
		m.clearQR(ls)
		var address *string
		if addr := util.NormalizePhone(ev.Address, ""); addr != "" {
			address = &addr
		}
		m.apply(ctx, ls, model.SessionEventConnected, address)

	case protocol.EventCredentials:
		m.saveCredentials(ctx, ls.id, ev.Credentials)

	case protocol.EventDisconnected:
		m.onDisconnected(ctx, ls, ev.Reason)

	case protocol.EventMessage:
		m.goTracked(func() { m.handleInbound(ls, ev) })

	default:
		log.Debug().Str("sessionId", ls.id).Str("type", string(ev.Type)).Msg("unknown gateway event")
	}
}

func (m *Manager) onDisconnected(ctx context.Context, ls *liveSession, reason string) {
	log.Info().Str("sessionId", ls.id).Str("reason", reason).Msg("session disconnected")

	switch reason {
	case protocol.ReasonRestartRequested:
		m.apply(ctx, ls, model.SessionEventRestartRequested, nil)
		m.teardown(ctx, ls, false)
		m.goTracked(func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout*time.Duration(len(m.cfg.Endpoints)+1))
			defer cancel()
			if err := m.Initialize(ctx, ls.id); err != nil {
				log.Error().Err(err).Str("sessionId", ls.id).Msg("silent reinitialization failed")
			}
		})

	case protocol.ReasonLoggedOut:
		m.apply(ctx, ls, model.SessionEventLoggedOut, nil)
		m.teardown(ctx, ls, true)

	case protocol.ReasonGatewayLost:
		m.apply(ctx, ls, model.SessionEventConnectionLost, nil)
		m.teardown(ctx, ls, true)

	default:
		m.apply(ctx, ls, model.SessionEventConnectionLost, nil)
	}
}

// apply runs the state machine for ls and persists an accepted transition.
func (m *Manager) apply(ctx context.Context, ls *liveSession, event model.SessionEvent, address *string) (model.SessionState, bool) {
	ls.mu.Lock()
	prev := ls.state
	next, ok := model.Transition(prev, event)
	if ok {
		ls.state = next
		if next == model.SessionStateConnected {
			ls.notifyConnected()
		}
	}
	ls.mu.Unlock()

	if !ok {
		log.Debug().
			Str("sessionId", ls.id).
			Str("state", string(prev)).
			Str("event", string(event)).
			Msg("session transition rejected")
		return prev, false
	}

	var err error
	switch next {
	case model.SessionStateConnected:
		err = m.sessions.MarkConnected(ctx, ls.id, address)
	case model.SessionStateLoggedOut:
		err = m.sessions.MarkLoggedOut(ctx, ls.id)
	default:
		err = m.sessions.UpdateState(ctx, ls.id, next)
	}
	if err != nil {
		log.Error().Err(err).Str("sessionId", ls.id).Str("state", string(next)).Msg("failed to persist session state")
	}

	observability.SessionTransitions.WithLabelValues(string(next)).Inc()
	if prev != next {
		log.Info().
			Str("sessionId", ls.id).
			Str("from", string(prev)).
			Str("to", string(next)).
			Msg("session state changed")
	}
	m.emitStatus(ls.id, ls.tenantID, next)
	return next, true
}

// teardown unregisters ls and closes its connection.
func (m *Manager) teardown(ctx context.Context, ls *liveSession, releaseLease bool) {
	removed := m.registry.Remove(ls)
	if client, _ := ls.snapshot(); client != nil {
		client.Close()
	}
	if releaseLease && removed {
		m.registry.Release(ctx, ls.id)
	}
	m.clearQR(ls)
}

func (m *Manager) dropLost(ls *liveSession) {
	if client, _ := ls.snapshot(); client != nil {
		client.Close()
	}
	m.clearQR(ls)
}

func (m *Manager) clearQR(ls *liveSession) {
	ls.mu.Lock()
	had := ls.qr != ""
	ls.qr = ""
	ls.mu.Unlock()
	if had {
		m.notifier.EmitSession(ls.id, ls.tenantID, bridge.NewEvent(bridge.EventQRCode, map[string]string{
			"sessionId": ls.id,
			"qrCode":    "",
		}))
	}
}

func (m *Manager) emitStatus(sessionID, tenantID string, state model.SessionState) {
	m.notifier.EmitSession(sessionID, tenantID, bridge.NewEvent(bridge.EventSessionStatus, map[string]string{
		"sessionId": sessionID,
		"state":     string(state),
	}))
}

func (m *Manager) handleInbound(ls *liveSession, ev protocol.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	from := util.NormalizePhone(ev.From, m.cfg.CountryCode)
	if from == "" {
		log.Warn().Str("sessionId", ls.id).Msg("inbound message without sender address")
		return
	}

	candidate, err := m.candidates.FindByPhone(ctx, from)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", ls.id).Msg("candidate lookup failed")
		candidate = nil
	}

	params := model.CreateInboundMessageParams{
		SessionID:     ls.id,
		SenderAddress: from,
		Text:          ev.Text,
		ReceivedAt:    time.Now(),
	}
	if len(ev.Attachment) > 0 {
		att := json.RawMessage(ev.Attachment)
		params.Attachment = &att
	}
	if candidate != nil {
		params.ResolvedRecipientRef = &candidate.ID
	}

	msg, err := m.inbound.Create(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("sessionId", ls.id).Msg("failed to record inbound message")
		return
	}

	topics := []string{
		redisclient.Topic(bridge.TopicSession, ls.id),
		redisclient.Topic(bridge.TopicTenant, ls.tenantID),
	}
	if candidate != nil {
		topics = append(topics, redisclient.Topic(bridge.TopicCandidate, candidate.ID))
	}
	m.notifier.Emit(bridge.NewEvent(bridge.EventNewMessage, msg.ToEventData()), topics...)

	if candidate == nil {
		log.Info().
			Str("sessionId", ls.id).
			Str("messageId", msg.ID).
			Str("from", util.MaskAddress(from)).
			Msg("inbound message from unknown sender recorded")
		return
	}

	m.mu.RLock()
	responder := m.responder
	m.mu.RUnlock()
	if responder != nil {
		responder.Respond(ctx, Inbound{
			SessionID: ls.id,
			TenantID:  ls.tenantID,
			Address:   from,
			Message:   msg,
			Candidate: candidate,
		})
	}
}

func (m *Manager) saveCredentials(ctx context.Context, sessionID string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	sealed, err := m.sealer.Seal(string(raw))
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to seal credentials")
		return
	}
	if err := m.sessions.SaveCredentials(ctx, sessionID, sealed); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to store credentials")
		return
	}
	log.Debug().Str("sessionId", sessionID).Msg("credentials stored")
}

func (m *Manager) loadCredentials(session *model.Session) (json.RawMessage, error) {
	if session.Credentials == nil || *session.Credentials == "" {
		return nil, nil
	}
	plain, err := m.sealer.Open(*session.Credentials)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(plain), nil
}

func renderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
