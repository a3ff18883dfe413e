package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotAuthenticated is returned by Token when no user is signed in.
var ErrNotAuthenticated = errors.New("not authenticated")

// Manager owns the authenticated-session flag. Every transition is delivered
// to watchers; the token is persisted through the TokenStore.
type Manager struct {
	store TokenStore

	mu        sync.Mutex
	token     string
	principal *Principal
	expiry    *time.Timer
	watchers  []chan bool

	now func() time.Time
}

// NewManager creates a signed-out Manager.
func NewManager(store TokenStore) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Restore signs in with the stored token, if any. An expired stored token is
// cleared and reported as ErrNoToken.
func (m *Manager) Restore() (*Principal, error) {
	raw, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	p, err := ParseToken(raw)
	if err != nil || p.Expired(m.now()) {
		if clearErr := m.store.Clear(); clearErr != nil {
			log.Warn().Err(clearErr).Msg("failed to clear unusable stored token")
		}
		return nil, ErrNoToken
	}
	m.signIn(raw, p)
	return p, nil
}

// Login validates and stores the token, then flips the session to authenticated.
func (m *Manager) Login(raw string) (*Principal, error) {
	p, err := ParseToken(raw)
	if err != nil {
		return nil, err
	}
	if p.Expired(m.now()) {
		return nil, fmt.Errorf("%w: token expired at %s", ErrInvalidToken, p.ExpiresAt.Format(time.RFC3339))
	}
	if err := m.store.Save(raw); err != nil {
		return nil, err
	}
	m.signIn(raw, p)
	return p, nil
}

// Logout clears the stored token and flips the session to unauthenticated.
func (m *Manager) Logout() error {
	m.signOut("logout")
	return m.store.Clear()
}

// Authenticated reports the current session flag.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principal != nil
}

// Principal returns the signed-in user, or nil.
func (m *Manager) Principal() *Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principal
}

// Token returns the bearer token for API calls.
func (m *Manager) Token(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.principal == nil {
		return "", ErrNotAuthenticated
	}
	return m.token, nil
}

// Watch returns a channel that receives the session flag after every
// transition. Only the latest value is kept if the reader falls behind.
func (m *Manager) Watch() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()
	return ch
}

// Close stops the expiry timer and closes all watch channels.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	for _, ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
}

func (m *Manager) signIn(raw string, p *Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = raw
	m.principal = p
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	if !p.ExpiresAt.IsZero() {
		m.expiry = time.AfterFunc(p.ExpiresAt.Sub(m.now()), m.expire)
	}

	log.Info().Str("user", p.UserID).Msg("session authenticated")
	m.notifyLocked(true)
}

func (m *Manager) signOut(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	if m.principal == nil {
		return
	}
	log.Info().Str("user", m.principal.UserID).Str("reason", reason).Msg("session ended")
	m.token = ""
	m.principal = nil
	m.notifyLocked(false)
}

func (m *Manager) expire() {
	m.signOut("token expired")
	if err := m.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear expired token")
	}
}

// notifyLocked replaces any unread value so watchers always see the latest flag.
func (m *Manager) notifyLocked(authenticated bool) {
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- authenticated:
		default:
		}
	}
}
