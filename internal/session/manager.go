package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type record struct {
	session *Session

	mu       sync.Mutex
	messages []Message
	byKey    map[string][]Message
}

// Manager is the in-process Registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*record
	ttl      time.Duration
	now      func() time.Time
	onExpire func(*Session)
	onSweep  func(active int)
}

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{
		sessions: make(map[string]*record),
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetSweepHook registers a callback run after every janitor pass with the
// number of sessions still live.
func (m *Manager) SetSweepHook(hook func(active int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSweep = hook
}

func (m *Manager) Create(_ context.Context, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		HostLanguage:   cfg.HostLanguage,
		TargetLanguage: cfg.TargetLanguage,
		Mode:           cfg.Mode,
		HostUserID:     cfg.HostUserID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &record{session: s, byKey: make(map[string][]Message)}
	return clone(s), nil
}

func (m *Manager) Get(_ context.Context, sessionID string) (*Session, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}
	return clone(rec.session), nil
}

func (m *Manager) AppendMessage(_ context.Context, sessionID string, msg Message) error {
	rec, err := m.live(sessionID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.messages = append(rec.messages, msg)
	if msg.AutoKey != "" {
		rec.byKey[msg.AutoKey] = append(rec.byKey[msg.AutoKey], msg)
	}
	return nil
}

func (m *Manager) RecentMessages(_ context.Context, sessionID string, n int) ([]Message, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Message{}, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	start := len(rec.messages) - n
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), rec.messages[start:]...), nil
}

func (m *Manager) MessagesByAutoKey(_ context.Context, sessionID, autoKey string) ([]Message, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]Message(nil), rec.byKey[autoKey]...), nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*record)
	return nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireStale()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, rec := range m.sessions {
		if now.Before(rec.session.ExpiresAt) {
			count++
		}
	}
	return count
}

// live returns the record if it exists and has not passed its expiry. The
// janitor removes stale entries; this check covers the gap between sweeps.
func (m *Manager) live(sessionID string) (*record, error) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || !m.now().Before(rec.session.ExpiresAt) {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *Manager) expireStale() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, rec := range m.sessions {
		if now.Before(rec.session.ExpiresAt) {
			continue
		}
		expired = append(expired, clone(rec.session))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	sweep := m.onSweep
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
	if sweep != nil {
		sweep(m.ActiveCount())
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
