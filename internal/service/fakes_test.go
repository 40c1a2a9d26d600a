package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/recrutai/engage-server-go/internal/bridge"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/protocol"
)

// memSessionRepo is an in-memory SessionRepository.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	seq      int
}

func newMemSessionRepo(sessions ...model.Session) *memSessionRepo {
	r := &memSessionRepo{sessions: make(map[string]*model.Session)}
	for i := range sessions {
		s := sessions[i]
		r.sessions[s.ID] = &s
	}
	return r
}

func (r *memSessionRepo) get(id string) model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.sessions[id]
}

func (r *memSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) FindByState(_ context.Context, state model.SessionState) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.State == state {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memSessionRepo) FindByTenantID(_ context.Context, tenantID string) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.TenantID == tenantID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Create(_ context.Context, params model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	s := &model.Session{
		ID:          fmt.Sprintf("sess-%d", r.seq),
		TenantID:    params.TenantID,
		DisplayName: params.DisplayName,
		State:       model.SessionStateUninitialized,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) UpdateState(_ context.Context, id string, state model.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.State = state
	}
	return nil
}

func (r *memSessionRepo) MarkConnected(_ context.Context, id string, address *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		now := time.Now()
		s.State = model.SessionStateConnected
		s.LastConnectedAt = &now
		if address != nil {
			s.Address = address
		}
	}
	return nil
}

func (r *memSessionRepo) SaveCredentials(_ context.Context, id string, sealed string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Credentials = &sealed
	}
	return nil
}

func (r *memSessionRepo) MarkLoggedOut(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.State = model.SessionStateLoggedOut
		s.Credentials = nil
	}
	return nil
}

type memInboundRepo struct {
	mu   sync.Mutex
	msgs []model.InboundMessage
}

func (r *memInboundRepo) Create(_ context.Context, p model.CreateInboundMessageParams) (*model.InboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := model.InboundMessage{
		ID:                   fmt.Sprintf("in-%d", len(r.msgs)+1),
		SessionID:            p.SessionID,
		SenderAddress:        p.SenderAddress,
		Text:                 p.Text,
		Attachment:           p.Attachment,
		ResolvedRecipientRef: p.ResolvedRecipientRef,
		ReceivedAt:           p.ReceivedAt,
	}
	r.msgs = append(r.msgs, msg)
	return &msg, nil
}

func (r *memInboundRepo) FindBySessionID(_ context.Context, sessionID string, limit, offset int) ([]model.InboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.InboundMessage
	for _, m := range r.msgs {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memInboundRepo) FindByRecipientRef(_ context.Context, ref string, limit int) ([]model.InboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.InboundMessage
	for _, m := range r.msgs {
		if m.ResolvedRecipientRef != nil && *m.ResolvedRecipientRef == ref {
			out = append(out, m)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memInboundRepo) all() []model.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.InboundMessage(nil), r.msgs...)
}

// memCandidateRepo is an in-memory CandidateRepository.
type memCandidateRepo struct {
	mu         sync.Mutex
	candidates map[string]*model.Candidate
	interviews map[string]*model.Interview
	jobs       map[string]*model.Job
	failWith   error
}

func newMemCandidateRepo() *memCandidateRepo {
	return &memCandidateRepo{
		candidates: make(map[string]*model.Candidate),
		interviews: make(map[string]*model.Interview),
		jobs:       make(map[string]*model.Job),
	}
}

func (r *memCandidateRepo) add(c model.Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[c.ID] = &c
}

func (r *memCandidateRepo) addInterview(i model.Interview) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interviews[i.ID] = &i
}

func (r *memCandidateRepo) addJob(j model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = &j
}

func (r *memCandidateRepo) candidate(id string) model.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.candidates[id]
}

func (r *memCandidateRepo) interview(id string) model.Interview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.interviews[id]
}

func (r *memCandidateRepo) FindByID(_ context.Context, id string) (*model.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	c, ok := r.candidates[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// phoneMatches mirrors the candidates FindByPhone query.
func phoneMatches(stored, address string) bool {
	digits := strings.TrimLeft(strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, stored), "0")
	if digits == address {
		return true
	}
	return len(digits) >= 10 && len(digits) <= 11 && strings.HasSuffix(address, digits)
}

func (r *memCandidateRepo) FindByPhone(_ context.Context, phone string) (*model.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.candidates {
		if phoneMatches(c.Phone, phone) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memCandidateRepo) NextInterview(_ context.Context, candidateID string, after time.Time) (*model.Interview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	var best *model.Interview
	for _, i := range r.interviews {
		if i.CandidateID != candidateID || i.ScheduledAt.Before(after) {
			continue
		}
		if best == nil || i.ScheduledAt.Before(best.ScheduledAt) {
			best = i
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *memCandidateRepo) SetInterviewStatus(_ context.Context, id string, status model.InterviewStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.interviews[id]; ok {
		i.Status = status
	}
	return nil
}

func (r *memCandidateRepo) FlagForHuman(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.candidates[id]; ok {
		c.NeedsHuman = true
	}
	return nil
}

func (r *memCandidateRepo) MarkDocumentsRequested(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.candidates[id]; ok {
		c.DocumentsRequested = true
	}
	return nil
}

func (r *memCandidateRepo) AdvanceStage(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.candidates[id]
	if !ok {
		return 0, errors.New("no such candidate")
	}
	c.StageOrdinal++
	return c.StageOrdinal, nil
}

func (r *memCandidateRepo) FindJob(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

// memOutboundRepo mirrors the conditional updates of the SQL repository.
type memOutboundRepo struct {
	mu       sync.Mutex
	msgs     map[string]*model.OutboundMessage
	order    []string
	claimHook func(id string)
}

func newMemOutboundRepo() *memOutboundRepo {
	return &memOutboundRepo{msgs: make(map[string]*model.OutboundMessage)}
}

func (r *memOutboundRepo) get(id string) model.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.msgs[id]
}

func (r *memOutboundRepo) FindByID(_ context.Context, id string) (*model.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *memOutboundRepo) Create(_ context.Context, p model.CreateOutboundMessageParams) (*model.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	m := &model.OutboundMessage{
		ID:               p.ID,
		SessionID:        p.SessionID,
		RecipientRef:     p.RecipientRef,
		RecipientAddress: p.RecipientAddress,
		EventTag:         p.EventTag,
		RenderedBody:     p.RenderedBody,
		ScheduledAt:      p.ScheduledAt,
		Status:           model.OutboundStatusPending,
		MaxAttempts:      p.MaxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.msgs[m.ID] = m
	r.order = append(r.order, m.ID)
	cp := *m
	return &cp, nil
}

func (r *memOutboundRepo) FindDue(_ context.Context, now time.Time, limit int) ([]model.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.OutboundMessage
	for _, id := range r.order {
		m := r.msgs[id]
		if m.Status == model.OutboundStatusPending && !m.ScheduledAt.After(now) {
			out = append(out, *m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memOutboundRepo) Claim(_ context.Context, id string) (bool, error) {
	if r.claimHook != nil {
		r.claimHook(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok || m.Status != model.OutboundStatusPending {
		return false, nil
	}
	m.Status = model.OutboundStatusProcessing
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *memOutboundRepo) MarkSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok || m.Status != model.OutboundStatusProcessing {
		return nil
	}
	now := time.Now()
	m.Status = model.OutboundStatusSent
	m.SentAt = &now
	m.LastError = nil
	return nil
}

func (r *memOutboundRepo) RecordFailure(_ context.Context, id string, lastError string) (model.OutboundMessageStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok || m.Status != model.OutboundStatusProcessing {
		return "", errors.New("no rows")
	}
	m.AttemptCount++
	m.LastError = &lastError
	if m.AttemptCount >= m.MaxAttempts {
		m.Status = model.OutboundStatusFailed
	} else {
		m.Status = model.OutboundStatusPending
	}
	return m.Status, nil
}

func (r *memOutboundRepo) ReclaimStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.msgs {
		if m.Status == model.OutboundStatusProcessing && m.UpdatedAt.Before(before) {
			m.Status = model.OutboundStatusPending
			n++
		}
	}
	return n, nil
}

func (r *memOutboundRepo) ResetFailed(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.msgs {
		if m.Status == model.OutboundStatusFailed {
			m.Status = model.OutboundStatusPending
			m.AttemptCount = 0
			m.LastError = nil
			n++
		}
	}
	return n, nil
}

func (r *memOutboundRepo) DeleteSentBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.msgs {
		if m.Status == model.OutboundStatusSent && m.CreatedAt.Before(before) {
			delete(r.msgs, id)
			n++
		}
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if _, ok := r.msgs[id]; ok {
			kept = append(kept, id)
		}
	}
	r.order = kept
	return n, nil
}

func (r *memOutboundRepo) Stats(_ context.Context) (*model.OutboundStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s model.OutboundStats
	for _, m := range r.msgs {
		switch m.Status {
		case model.OutboundStatusPending:
			s.Pending++
		case model.OutboundStatusProcessing:
			s.Processing++
		case model.OutboundStatusSent:
			s.Sent++
		case model.OutboundStatusFailed:
			s.Failed++
		}
		s.Total++
	}
	return &s, nil
}

func (r *memOutboundRepo) LatestSentEventTag(_ context.Context, address string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.OutboundMessage
	for _, m := range r.msgs {
		if m.RecipientAddress != address || m.Status != model.OutboundStatusSent {
			continue
		}
		if latest == nil || m.SentAt.After(*latest.SentAt) {
			latest = m
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.EventTag, nil
}

// mockTemplateRepo is a testify mock of TemplateRepository.
type mockTemplateRepo struct {
	mock.Mock
}

func (m *mockTemplateRepo) FindActive(ctx context.Context, eventTag string) (*model.Template, error) {
	args := m.Called(ctx, eventTag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Template), args.Error(1)
}

func (m *mockTemplateRepo) FindActiveWindow(ctx context.Context, eventTag string) (*model.TimeWindowPolicy, error) {
	args := m.Called(ctx, eventTag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TimeWindowPolicy), args.Error(1)
}

func (m *mockTemplateRepo) FindQuickReply(ctx context.Context, eventTag, optionCode string) (*model.QuickReplyMapping, error) {
	args := m.Called(ctx, eventTag, optionCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QuickReplyMapping), args.Error(1)
}

func (m *mockTemplateRepo) Upsert(ctx context.Context, tpl model.Template) (*model.Template, error) {
	args := m.Called(ctx, tpl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Template), args.Error(1)
}

// mockSender is a testify mock of Sender.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, sessionID, recipient, text string) error {
	args := m.Called(ctx, sessionID, recipient, text)
	return args.Error(0)
}

// recordingSender records every send and returns err.
type recordingSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	err   error
	block chan struct{}
}

type sentMessage struct {
	SessionID string
	To        string
	Text      string
}

func (s *recordingSender) Send(_ context.Context, sessionID, recipient, text string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{SessionID: sessionID, To: recipient, Text: text})
	return s.err
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type memClassificationRepo struct {
	mu      sync.Mutex
	records []model.CreateClassificationParams
	err     error
}

func (r *memClassificationRepo) Create(_ context.Context, p model.CreateClassificationParams) (*model.IntentClassification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.records = append(r.records, p)
	return &model.IntentClassification{
		ID:         fmt.Sprintf("cls-%d", len(r.records)),
		SourceText: p.SourceText,
		Label:      p.Label,
		Confidence: p.Confidence,
		Tier:       p.Tier,
		CreatedAt:  time.Now(),
	}, nil
}

func (r *memClassificationRepo) CountSince(_ context.Context, _ time.Time) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := 0
	for _, rec := range r.records {
		if rec.Label != model.IntentOther {
			matched++
		}
	}
	return len(r.records), matched, nil
}

func (r *memClassificationRepo) CountByTierSince(_ context.Context, _ time.Time) ([]model.TierCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[model.ClassificationTier]int{}
	for _, rec := range r.records {
		counts[rec.Tier]++
	}
	var out []model.TierCount
	for tier, n := range counts {
		out = append(out, model.TierCount{Tier: tier, Count: n})
	}
	return out, nil
}

func (r *memClassificationRepo) TopIntentsSince(_ context.Context, _ time.Time, limit int) ([]model.IntentCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[model.Intent]int{}
	for _, rec := range r.records {
		counts[rec.Label]++
	}
	var out []model.IntentCount
	for label, n := range counts {
		out = append(out, model.IntentCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeNotifier records emitted events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []emitted
}

type emitted struct {
	Event  bridge.Event
	Topics []string
}

func (n *fakeNotifier) Emit(event bridge.Event, topics ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emitted{Event: event, Topics: topics})
}

func (n *fakeNotifier) EmitSession(sessionID, tenantID string, event bridge.Event) {
	n.Emit(event, "session:"+sessionID, "tenant:"+tenantID)
}

func (n *fakeNotifier) ofType(eventType string) []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []emitted
	for _, e := range n.events {
		if e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memLease grants every lease unless the session is in taken.
type memLease struct {
	mu       sync.Mutex
	held     map[string]bool
	taken    map[string]bool
	released []string
}

func newMemLease() *memLease {
	return &memLease{held: make(map[string]bool), taken: make(map[string]bool)}
}

func (l *memLease) Acquire(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken[id] {
		return false, nil
	}
	l.held[id] = true
	return true, nil
}

func (l *memLease) Renew(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id] && !l.taken[id], nil
}

func (l *memLease) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
	l.released = append(l.released, id)
	return nil
}

func (l *memLease) isHeld(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}

// fakeDialer hands out fakeClients and lets tests push gateway events.
type fakeDialer struct {
	mu       sync.Mutex
	fail     map[string]error
	clients  []*fakeClient
	dialed   []string
	onDial   func(c *fakeClient)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{fail: make(map[string]error)}
}

func (d *fakeDialer) Dial(_ context.Context, endpoint, sessionID string, creds json.RawMessage, handler protocol.Handler) (protocol.Client, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, endpoint)
	if err, ok := d.fail[endpoint]; ok {
		d.mu.Unlock()
		return nil, err
	}
	c := &fakeClient{sessionID: sessionID, endpoint: endpoint, creds: creds, handler: handler}
	d.clients = append(d.clients, c)
	onDial := d.onDial
	d.mu.Unlock()

	if onDial != nil {
		onDial(c)
	}
	return c, nil
}

func (d *fakeDialer) last() *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

type fakeClient struct {
	sessionID string
	endpoint  string
	creds     json.RawMessage
	handler   protocol.Handler

	mu       sync.Mutex
	sent     []sentMessage
	sendErr  error
	closed   bool
	loggedOut bool
}

func (c *fakeClient) emit(ev protocol.Event) {
	c.handler(ev)
}

func (c *fakeClient) Send(_ context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMessage{SessionID: c.sessionID, To: to, Text: text})
	return nil
}

func (c *fakeClient) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}
