// Package telegram provides the Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/dispatcher/handlers/filters"
	"github.com/celestix/gotgproto/ext"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"

	"github.com/blockedby/videorelay/internal/config"
	"github.com/blockedby/videorelay/internal/logger"
)

// Status represents the Telegram client status.
type Status string

// Status constants define the possible states of the Telegram client.
const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusError        Status = "ERROR"
)

// MessageHandler receives every inbound message event.
type MessageHandler func(ctx context.Context, msg Message)

// ClientFactory is a function that creates a telegram client.
type ClientFactory func(cfg *config.Config) (*gotgproto.Client, error)

// Manager handles Telegram client lifecycle and authentication.
type Manager struct {
	client *gotgproto.Client
	cfg    *config.Config
	log    *logger.Logger

	status Status
	mu     sync.RWMutex

	clientFactory ClientFactory

	onMessage   MessageHandler
	onMessageMu sync.RWMutex
}

// NewManager creates a new Telegram Manager.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:           cfg,
		log:           logger.Get(),
		status:        StatusInitializing,
		clientFactory: NewPersistentClient,
	}
}

// NewPersistentClient creates a telegram client backed by the sqlite session
// database produced by the tg-auth tool. Session updates (auth key refreshes)
// are persisted back automatically.
func NewPersistentClient(cfg *config.Config) (*gotgproto.Client, error) {
	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty = use stored session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(cfg.SessionPath)),
			DisableCopyright: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	return client, nil
}

// SetClientFactory allows overriding the client creation logic (e.g. for testing).
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientFactory = f
}

// GetStatus returns the current Telegram client status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetClient returns the underlying Telegram client.
func (m *Manager) GetClient() *gotgproto.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// SelfID returns the authenticated user id, or 0 when not logged in.
func (m *Manager) SelfID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || m.client.Self == nil {
		return 0
	}
	return m.client.Self.ID
}

// Start connects the client using the stored session. A missing or revoked
// session leaves the manager in StatusUnauthorized without failing the app.
func (m *Manager) Start(_ context.Context) error {
	m.mu.Lock()
	m.status = StatusInitializing
	factory := m.clientFactory
	m.mu.Unlock()

	client, err := factory(m.cfg)
	if err != nil {
		m.log.Warn().Err(err).Msg("telegram: failed to initialize client, waiting for auth")
		m.mu.Lock()
		m.status = StatusUnauthorized
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	m.client = client
	m.status = StatusReady
	m.mu.Unlock()

	m.registerHandlers(client)

	m.log.Info().Int64("self_id", client.Self.ID).Msg("telegram: client is ready")
	return nil
}

// Stop shuts down the underlying client.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Stop()
		m.client = nil
	}
	m.status = StatusUnauthorized
}

// OnMessage sets the handler invoked for every new message event.
func (m *Manager) OnMessage(h MessageHandler) {
	m.onMessageMu.Lock()
	defer m.onMessageMu.Unlock()
	m.onMessage = h
}

// registerHandlers wires the gotgproto dispatcher into our MessageHandler.
func (m *Manager) registerHandlers(client *gotgproto.Client) {
	client.Dispatcher.AddHandler(handlers.NewMessage(filters.Message.All, func(ctx *ext.Context, update *ext.Update) error {
		m.onMessageMu.RLock()
		handler := m.onMessage
		m.onMessageMu.RUnlock()
		if handler == nil {
			return nil
		}

		raw := update.EffectiveMessage
		if raw == nil {
			return nil
		}

		_, forwarded := raw.GetFwdFrom()
		msg := Message{
			ID:        raw.ID,
			ChatID:    update.EffectiveChat().GetID(),
			Text:      raw.Text,
			Forwarded: forwarded,
		}
		if user := update.EffectiveUser(); user != nil {
			msg.SenderID = user.ID
		}

		handler(ctx, msg)
		return nil
	}))
}
