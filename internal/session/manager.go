package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/notify"
	"github.com/backweb/backweb/internal/security"
	"github.com/backweb/backweb/internal/store"
)

// Manager owns session rows and the per-session advisory locks.
type Manager struct {
	Store *store.Store

	CookieName string
	// IdleTimeout slides from the last access of non-persistent sessions.
	IdleTimeout time.Duration
	// PersistentTimeout slides from the last access of "remember me"
	// sessions.
	PersistentTimeout time.Duration
	// AbsoluteTimeout anchors at the session start for everyone.
	AbsoluteTimeout time.Duration

	MfaCodeTTL time.Duration
	MfaWindow  time.Duration
	Mailer     notify.Sender

	// now is swappable in tests.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager builds a Manager with the documented defaults.
func NewManager(s *store.Store, mailer notify.Sender) *Manager {
	return &Manager{
		Store:             s,
		CookieName:        "session_id",
		IdleTimeout:       60 * time.Minute,
		PersistentTimeout: 7 * 24 * time.Hour,
		AbsoluteTimeout:   30 * 24 * time.Hour,
		MfaCodeTTL:        10 * time.Minute,
		MfaWindow:         30 * 24 * time.Hour,
		Mailer:            mailer,
		now:               time.Now,
		locks:             map[string]*sessionLock{},
	}
}

// Lock serializes requests sharing one session id. The returned func
// releases the lock; lock entries are reclaimed when unused.
func (m *Manager) Lock(id string) func() {
	m.mu.Lock()
	entry, ok := m.locks[id]
	if !ok {
		entry = &sessionLock{}
		m.locks[id] = entry
	}
	entry.refs++
	m.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		m.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// New creates a fresh anonymous session.
func (m *Manager) New() (*Session, error) {
	id, errID := security.GenerateSessionID()
	if errID != nil {
		return nil, errID
	}
	now := m.now()
	model := &models.Session{
		ID:             id,
		StartTime:      now,
		LastAccessTime: now,
		ExpirationTime: now.Add(m.AbsoluteTimeout),
	}
	session, errWrap := wrap(model)
	if errWrap != nil {
		return nil, errWrap
	}
	session.SetTime(models.SessionKeyStartTime, now)
	return session, m.Save(session)
}

// Load resolves a cookie id to a live session. The second return is
// true when an existing session was cleared because a timeout bound
// elapsed; the caller then captures the requested URL on the fresh
// session. An empty or unknown id silently yields a new session.
func (m *Manager) Load(id string) (*Session, bool, error) {
	if id == "" {
		session, errNew := m.New()
		return session, false, errNew
	}
	model, errGet := m.Store.GetSession(id)
	if errGet != nil {
		session, errNew := m.New()
		return session, false, errNew
	}
	session, errWrap := wrap(model)
	if errWrap != nil {
		// A corrupt payload is unrecoverable; replace the session.
		_ = m.Store.DeleteSession(id)
		fresh, errNew := m.New()
		return fresh, false, errNew
	}
	if m.expired(session) {
		// All elapsed bounds collapse into one clear.
		if errDelete := m.Store.DeleteSession(id); errDelete != nil {
			return nil, false, errDelete
		}
		fresh, errNew := m.New()
		return fresh, errNew == nil, errNew
	}
	session.model.LastAccessTime = m.now()
	return session, false, m.Save(session)
}

// expired evaluates the three timeout bounds; any one elapsing ends the
// session.
func (m *Manager) expired(s *Session) bool {
	now := m.now()
	if s.model.Persistent {
		if now.Sub(s.model.LastAccessTime) > m.PersistentTimeout {
			return true
		}
	} else if now.Sub(s.model.LastAccessTime) > m.IdleTimeout {
		return true
	}
	return now.Sub(s.model.StartTime) > m.AbsoluteTimeout
}

// Save persists the session row with its payload.
func (m *Manager) Save(s *Session) error {
	if errEncode := s.encodePayload(); errEncode != nil {
		return errEncode
	}
	s.model.ExpirationTime = s.model.StartTime.Add(m.AbsoluteTimeout)
	s.dirty = false
	return m.Store.SaveSession(s.model)
}

// Rotate issues a new session id while keeping the payload, defeating
// fixation after privilege changes.
func (m *Manager) Rotate(s *Session) error {
	oldID := s.model.ID
	newID, errID := security.GenerateSessionID()
	if errID != nil {
		return errID
	}
	s.model.ID = newID
	if errSave := m.Save(s); errSave != nil {
		s.model.ID = oldID
		return errSave
	}
	return m.Store.DeleteSession(oldID)
}

// Login binds the session to the user: rotated id, fresh start time,
// cleared MFA state.
func (m *Manager) Login(s *Session, user *models.User, persistent bool) error {
	now := m.now()
	s.model.Username = user.Username
	s.model.Persistent = persistent
	s.model.StartTime = now
	s.model.LastAccessTime = now
	s.Set(models.SessionKeyUsername, user.Username)
	s.Set(models.SessionKeyPersistent, persistent)
	s.SetTime(models.SessionKeyStartTime, now)
	m.clearMfa(s)
	s.Delete(models.SessionKeyMfaVerifiedTime)
	s.Delete(models.SessionKeyMfaVerifiedIPList)
	return m.Rotate(s)
}

// Logout destroys the session row.
func (m *Manager) Logout(s *Session) error {
	return m.Store.DeleteSession(s.model.ID)
}

// DestroyOthers removes every other session of the same user, used
// after a password change.
func (m *Manager) DestroyOthers(s *Session) (int64, error) {
	if !s.Authenticated() {
		return 0, fmt.Errorf("session: not authenticated")
	}
	return m.Store.DeleteOtherSessions(s.model.Username, s.model.ID)
}
