package handler

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/service"
)

type mockSessions struct {
	mock.Mock
	live int
}

func (m *mockSessions) LiveCount() int { return m.live }

func (m *mockSessions) Create(ctx context.Context, tenantID, displayName string) (*model.Session, error) {
	args := m.Called(ctx, tenantID, displayName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessions) List(ctx context.Context, tenantID string) ([]model.Session, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSessions) Initialize(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockSessions) Status(ctx context.Context, sessionID string) (*service.SessionStatus, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SessionStatus), args.Error(1)
}

func (m *mockSessions) PairingImage(sessionID string) (string, error) {
	args := m.Called(sessionID)
	return args.String(0), args.Error(1)
}

func (m *mockSessions) Disconnect(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockSessions) Send(ctx context.Context, sessionID, recipient, text string) error {
	return m.Called(ctx, sessionID, recipient, text).Error(0)
}

func (m *mockSessions) CandidateHistory(ctx context.Context, candidateID string, limit int) ([]model.InboundMessage, error) {
	args := m.Called(ctx, candidateID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundMessage), args.Error(1)
}

func (m *mockSessions) History(ctx context.Context, sessionID string, limit, offset int) ([]model.InboundMessage, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundMessage), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req service.DispatchRequest) (*service.DispatchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DispatchResult), args.Error(1)
}

func (m *mockDispatcher) SaveTemplate(ctx context.Context, eventTag, body string, active bool) (*model.Template, error) {
	args := m.Called(ctx, eventTag, body, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Template), args.Error(1)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Sweep(ctx context.Context) (*service.SweepResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SweepResult), args.Error(1)
}

func (m *mockQueue) ReplayFailed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueue) PurgeOld(ctx context.Context, olderThanDays int) (int64, error) {
	args := m.Called(ctx, olderThanDays)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueue) Stats(ctx context.Context) (*model.OutboundStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboundStats), args.Error(1)
}

func (m *mockQueue) Get(ctx context.Context, id string) (*model.OutboundMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboundMessage), args.Error(1)
}

type mockIntents struct {
	mock.Mock
}

func (m *mockIntents) Classify(ctx context.Context, text string) service.Classification {
	return m.Called(ctx, text).Get(0).(service.Classification)
}

func (m *mockIntents) Stats(ctx context.Context, since time.Time) (*model.ClassificationStats, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClassificationStats), args.Error(1)
}

type mockActions struct {
	mock.Mock
}

func (m *mockActions) Execute(ctx context.Context, action model.Action, ac service.ActionContext) (*service.ActionResult, error) {
	args := m.Called(ctx, action, ac)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ActionResult), args.Error(1)
}

// memTransport is an in-process pub/sub used in place of Redis.
type memTransport struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newMemTransport() *memTransport {
	return &memTransport{subs: make(map[string][]chan []byte)}
}

func (m *memTransport) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[channel] {
		ch <- payload
	}
	return nil
}

func (m *memTransport) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[channel]
		for i, c := range list {
			if c == ch {
				m.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}
