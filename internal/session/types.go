package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/chattoz/internal/protocol"
)

var ErrNotFound = errors.New("session not found")

// Mode is how the host wants replies handled for the session.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeConfirm Mode = "confirm"
)

// ParseMode defaults an empty value to ModeAuto.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeConfirm:
		return ModeConfirm, nil
	default:
		return "", fmt.Errorf("invalid session mode %q", raw)
	}
}

type Session struct {
	ID             string    `json:"session_id"`
	HostLanguage   string    `json:"host_language"`
	TargetLanguage string    `json:"target_language"`
	Mode           Mode      `json:"mode"`
	HostUserID     string    `json:"host_user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Message is one relayed turn. AutoKey is set when the turn belongs to an
// autonomous exchange.
type Message struct {
	Role       protocol.Role `json:"role"`
	Original   string        `json:"original"`
	Translated string        `json:"translated"`
	AutoKey    string        `json:"auto_key,omitempty"`
}

// Config is what a caller supplies to open a session.
type Config struct {
	HostLanguage   string
	TargetLanguage string
	Mode           Mode
	HostUserID     string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.HostLanguage) == "" || strings.TrimSpace(c.TargetLanguage) == "" {
		return errors.New("host_language and target_language are required")
	}
	return nil
}

// Registry stores session configuration and message history. Expiry is
// fixed from creation; reads never extend it.
type Registry interface {
	Create(ctx context.Context, cfg Config) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error)
	MessagesByAutoKey(ctx context.Context, sessionID, autoKey string) ([]Message, error)
	Close() error
}

// Direction returns the (source, target) languages for text written by role.
func Direction(s *Session, role protocol.Role) (source, target string) {
	if role == protocol.RoleHost {
		return s.HostLanguage, s.TargetLanguage
	}
	return s.TargetLanguage, s.HostLanguage
}

// LanguageOf returns the language a participant reads and writes in.
func LanguageOf(s *Session, role protocol.Role) string {
	if role == protocol.RoleHost {
		return s.HostLanguage
	}
	return s.TargetLanguage
}

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	HostLanguage   string `json:"host_language"`
	TargetLanguage string `json:"target_language"`
	Mode           string `json:"mode"`
	HostUserID     string `json:"host_user_id,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID      string    `json:"session_id"`
	ShortURL       string    `json:"short_url"`
	HostLanguage   string    `json:"host_language"`
	TargetLanguage string    `json:"target_language"`
	Mode           Mode      `json:"mode"`
	ExpiresAt      time.Time `json:"expires_at"`
}
