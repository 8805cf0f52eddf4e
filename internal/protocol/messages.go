package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatInput   MessageType = "chat_input"
	TypeChatMessage MessageType = "chat_message"
	TypeSuggestions MessageType = "suggestions"
	TypeSystemEvent MessageType = "system_event"
	TypeErrorEvent  MessageType = "error_event"
)

// System event codes.
const (
	CodeInvalidSession = "invalid_session"
	CodeAutoChatEnded  = "auto_chat_ended"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidRole     = errors.New("invalid role")
)

// Role is the participant side of a session. Only two variants exist.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// ParseRole accepts "host" or "guest" (case-insensitive).
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleHost:
		return RoleHost, nil
	case RoleGuest:
		return RoleGuest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// Other returns the opposite side.
func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatInput is the only client-originated variant.
type ChatInput struct {
	Type           MessageType `json:"type"`
	Text           string      `json:"text"`
	AutoModeActive bool        `json:"auto_mode_active"`
	AutoKey        string      `json:"auto_key,omitempty"`
}

type ChatMessage struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	From           Role        `json:"from"`
	Original       string      `json:"original"`
	Translated     string      `json:"translated"`
	AutoModeActive bool        `json:"auto_mode_active"`
	AutoKey        string      `json:"auto_key,omitempty"`
}

type Suggestions struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Suggestions []string    `json:"suggestions"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	AutoKey   string      `json:"auto_key,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewChatMessage(sessionID string, from Role, original, translated string, autoKey string) ChatMessage {
	return ChatMessage{
		Type:           TypeChatMessage,
		SessionID:      sessionID,
		From:           from,
		Original:       original,
		Translated:     translated,
		AutoModeActive: autoKey != "",
		AutoKey:        autoKey,
	}
}

func NewSystemEvent(sessionID, code, detail string) SystemEvent {
	return SystemEvent{Type: TypeSystemEvent, SessionID: sessionID, Code: code, Detail: detail}
}

func NewErrorEvent(sessionID, code, source string, retryable bool, detail string) ErrorEvent {
	return ErrorEvent{
		Type:      TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatInput:
		var msg ChatInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.AutoKey = strings.TrimSpace(msg.AutoKey)
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid chat_input: text is required")
		}
		if msg.AutoModeActive && msg.AutoKey == "" {
			return nil, errors.New("invalid chat_input: auto_key is required when auto_mode_active")
		}
		if !msg.AutoModeActive {
			msg.AutoKey = ""
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the discriminator of a known payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ChatInput:
		return m.Type, true
	case ChatMessage:
		return m.Type, true
	case Suggestions:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
