package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ent0n29/chattoz/internal/protocol"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrHubClosed        = errors.New("hub closed")
)

// Connection is one participant's outbound channel.
type Connection interface {
	Send(ctx context.Context, payload any) error
	Close() error
}

type member struct {
	role   protocol.Role
	userID string
	conn   Connection
}

// group.mu guards the member list and is never held across a Send.
// sendMu orders deliveries within the session.
type group struct {
	mu      sync.Mutex
	members []member
	sendMu  sync.Mutex
}

// Hub groups live connections by session id. Sends within one session are
// serialized so every participant observes broadcasts in the same order;
// sessions never wait on each other.
type Hub struct {
	mu      sync.Mutex
	groups  map[string]*group
	closed  bool
	onEmpty func(sessionID string)
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{groups: make(map[string]*group), logger: logger}
}

// SetEmptyHook registers a callback run after a session's last connection leaves.
func (h *Hub) SetEmptyHook(hook func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEmpty = hook
}

// Join registers conn under sessionID for the participant userID acting as role.
func (h *Hub) Join(sessionID string, role protocol.Role, userID string, conn Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	g, ok := h.groups[sessionID]
	if !ok {
		g = &group{}
		h.groups[sessionID] = g
	}
	g.mu.Lock()
	g.members = append(g.members, member{role: role, userID: userID, conn: conn})
	g.mu.Unlock()
	return nil
}

// Leave is a no-op for connections that are not registered.
func (h *Hub) Leave(sessionID string, conn Connection) {
	g := h.group(sessionID)
	if g == nil {
		return
	}
	g.mu.Lock()
	for i, m := range g.members {
		if m.conn == conn {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	empty := len(g.members) == 0
	g.mu.Unlock()
	if !empty {
		return
	}

	// A Join may have reused the group between the two locks.
	h.mu.Lock()
	removed := false
	if h.groups[sessionID] == g {
		g.mu.Lock()
		if len(g.members) == 0 {
			delete(h.groups, sessionID)
			removed = true
		}
		g.mu.Unlock()
	}
	hook := h.onEmpty
	h.mu.Unlock()

	if removed && hook != nil {
		hook(sessionID)
	}
}

// Broadcast sends payload to every connection in registration order and
// returns how many accepted it. Failed connections are dropped from the group.
func (h *Hub) Broadcast(ctx context.Context, sessionID string, payload any) int {
	return h.deliver(ctx, sessionID, payload, func(protocol.Role) bool { return true })
}

// BroadcastExceptRole delivers only to connections whose role differs from role.
func (h *Hub) BroadcastExceptRole(ctx context.Context, sessionID string, role protocol.Role, payload any) int {
	return h.deliver(ctx, sessionID, payload, func(r protocol.Role) bool { return r != role })
}

// HasRole reports whether a connection with role is present in the session.
func (h *Hub) HasRole(sessionID string, role protocol.Role) bool {
	_, ok := h.lookup(sessionID, role)
	return ok
}

// UserID returns the user id of the earliest connection holding role, or ""
// when nobody with that role is connected.
func (h *Hub) UserID(sessionID string, role protocol.Role) string {
	m, _ := h.lookup(sessionID, role)
	return m.userID
}

func (h *Hub) Count(sessionID string) int {
	g := h.group(sessionID)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Close closes every registered connection and rejects further joins.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	groups := h.groups
	h.groups = make(map[string]*group)
	h.mu.Unlock()

	for sessionID, g := range groups {
		g.mu.Lock()
		members := g.members
		g.members = nil
		g.mu.Unlock()
		for _, m := range members {
			if err := m.conn.Close(); err != nil {
				h.logger.Debug("hub close connection", "session_id", sessionID, "err", err)
			}
		}
	}
}

func (h *Hub) group(sessionID string) *group {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groups[sessionID]
}

func (h *Hub) lookup(sessionID string, role protocol.Role) (member, bool) {
	g := h.group(sessionID)
	if g == nil {
		return member{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m.role == role {
			return m, true
		}
	}
	return member{}, false
}

func (h *Hub) deliver(ctx context.Context, sessionID string, payload any, include func(protocol.Role) bool) int {
	g := h.group(sessionID)
	if g == nil {
		return 0
	}

	g.sendMu.Lock()
	g.mu.Lock()
	members := append([]member(nil), g.members...)
	g.mu.Unlock()

	var broken []Connection
	delivered := 0
	for _, m := range members {
		if !include(m.role) {
			continue
		}
		if err := m.conn.Send(ctx, payload); err != nil {
			h.logger.Warn("hub send failed, dropping connection", "session_id", sessionID, "role", m.role, "err", err)
			broken = append(broken, m.conn)
			continue
		}
		delivered++
	}
	g.sendMu.Unlock()

	for _, conn := range broken {
		h.Leave(sessionID, conn)
		_ = conn.Close()
	}
	return delivered
}
