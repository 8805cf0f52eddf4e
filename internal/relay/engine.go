package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/chattoz/internal/assist"
	"github.com/ent0n29/chattoz/internal/hub"
	"github.com/ent0n29/chattoz/internal/llm"
	"github.com/ent0n29/chattoz/internal/memory"
	"github.com/ent0n29/chattoz/internal/observability"
	"github.com/ent0n29/chattoz/internal/policy"
	"github.com/ent0n29/chattoz/internal/protocol"
	"github.com/ent0n29/chattoz/internal/reliability"
	"github.com/ent0n29/chattoz/internal/session"
)

// ErrSessionNotFound ends a connection whose session is unknown or expired.
var ErrSessionNotFound = errors.New("relay: session not found")

const sendTimeout = 2 * time.Second

type MemoryIndex interface {
	Relevant(ctx context.Context, userID string, query []float32, topN int) ([]memory.Entry, error)
}

type Assistant interface {
	Suggestions(ctx context.Context, recipient protocol.Role, language string, history []session.Message, memories []string) ([]string, error)
	AutoReply(ctx context.Context, hostLanguage string, memories []string, history []session.Message) (assist.Reply, error)
}

type Config struct {
	CollaboratorTimeout time.Duration
	AutoReplyMaxTurns   int
	SuggestionHistory   int
	MemoryTopN          int
}

type Deps struct {
	Sessions   session.Registry
	Hub        *hub.Hub
	Translator llm.Translator
	Embedder   memory.Embedder
	Memories   MemoryIndex
	Assistant  Assistant
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Participant is one side of a session as seen by the engine.
type Participant struct {
	SessionID string
	Role      protocol.Role
	UserID    string
	Conn      hub.Connection
}

type autoKeyRef struct {
	sessionID string
	autoKey   string
}

type autoState struct {
	turns int
	ended bool
}

// Engine relays chat turns between the two participants of a session.
type Engine struct {
	cfg        Config
	sessions   session.Registry
	hub        *hub.Hub
	translator llm.Translator
	embedder   memory.Embedder
	memories   MemoryIndex
	assistant  Assistant
	metrics    *observability.Metrics
	logger     *slog.Logger

	autoMu sync.Mutex
	auto   map[autoKeyRef]*autoState
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 20 * time.Second
	}
	if cfg.AutoReplyMaxTurns <= 0 {
		cfg.AutoReplyMaxTurns = 12
	}
	if cfg.SuggestionHistory <= 0 {
		cfg.SuggestionHistory = 4
	}
	if cfg.MemoryTopN <= 0 {
		cfg.MemoryTopN = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:        cfg,
		sessions:   deps.Sessions,
		hub:        deps.Hub,
		translator: deps.Translator,
		embedder:   deps.Embedder,
		memories:   deps.Memories,
		assistant:  deps.Assistant,
		metrics:    deps.Metrics,
		logger:     logger,
		auto:       make(map[autoKeyRef]*autoState),
	}
	e.hub.SetEmptyHook(e.forgetSession)
	return e
}

// RunConnection registers p with the hub and relays every chat_input read
// from inbound until the channel closes, ctx ends or the session is gone.
func (e *Engine) RunConnection(ctx context.Context, p Participant, inbound <-chan any) error {
	if err := e.hub.Join(p.SessionID, p.Role, p.UserID, p.Conn); err != nil {
		return err
	}
	defer e.hub.Leave(p.SessionID, p.Conn)
	e.metrics.ObserveSessionEvent("participant_joined")
	e.logger.Debug("participant joined", "session_id", p.SessionID, "role", p.Role, "participants", e.hub.Count(p.SessionID))
	defer e.metrics.ObserveSessionEvent("participant_left")

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			in, ok := raw.(protocol.ChatInput)
			if !ok {
				continue
			}
			if err := e.HandleMessage(ctx, p, in); errors.Is(err, ErrSessionNotFound) {
				return err
			}
		}
	}
}

// HandleMessage runs one inbound turn through translation, persistence,
// memory lookup, fan-out, suggestions and the autonomous reply. Collaborator
// failures are reported to the sender and never returned; only a missing
// session is.
func (e *Engine) HandleMessage(ctx context.Context, p Participant, in protocol.ChatInput) error {
	turnStart := time.Now()
	defer func() { e.metrics.ObserveStage(observability.StageTurnTotal, time.Since(turnStart)) }()

	sess, err := e.sessions.Get(ctx, p.SessionID)
	if err != nil {
		return e.rejectLookup(ctx, p, err)
	}

	source, target := session.Direction(sess, p.Role)
	var translated string
	stageStart := time.Now()
	err = e.call(ctx, "translation", func(ctx context.Context) error {
		var err error
		translated, err = e.translator.Translate(ctx, in.Text, source, target)
		return err
	})
	e.metrics.ObserveStage(observability.StageTranslate, time.Since(stageStart))
	if err != nil {
		e.logger.Warn("translation failed", "session_id", p.SessionID, "role", p.Role, "err", err)
		e.metrics.ObserveTurn("translation_failed")
		e.sendTo(ctx, p, protocol.NewErrorEvent(p.SessionID, "translation_failed", "translation", retryable(err), err.Error()))
		return nil
	}

	stageStart = time.Now()
	err = e.sessions.AppendMessage(ctx, p.SessionID, session.Message{
		Role:       p.Role,
		Original:   in.Text,
		Translated: translated,
		AutoKey:    in.AutoKey,
	})
	e.metrics.ObserveStage(observability.StagePersist, time.Since(stageStart))
	if err != nil {
		return e.rejectLookup(ctx, p, err)
	}

	var memories []string
	if p.Role != protocol.RoleHost {
		stageStart = time.Now()
		memories = e.hostMemories(ctx, sess, p, in.Text)
		e.metrics.ObserveStage(observability.StageMemory, time.Since(stageStart))
	}

	stageStart = time.Now()
	msg := protocol.NewChatMessage(p.SessionID, p.Role, in.Text, translated, in.AutoKey)
	e.broadcast(ctx, p.SessionID, msg)
	e.metrics.ObserveStage(observability.StageBroadcast, time.Since(stageStart))
	e.logger.Debug("relayed message", "session_id", p.SessionID, "from", p.Role, "text", policy.LogPreview(in.Text))

	e.sendSuggestions(ctx, sess, p.Role, memories)

	if in.AutoModeActive && p.Role != protocol.RoleHost {
		stageStart = time.Now()
		e.runAutoReply(ctx, sess, in.AutoKey, translated, memories)
		e.metrics.ObserveStage(observability.StageAutoReply, time.Since(stageStart))
	}

	e.metrics.ObserveTurn("relayed")
	return nil
}

// rejectLookup maps registry failures. A missing session notifies only the
// sender and ends the connection; other errors fail just this turn.
func (e *Engine) rejectLookup(ctx context.Context, p Participant, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		e.metrics.ObserveTurn("invalid_session")
		e.sendTo(ctx, p, protocol.NewSystemEvent(p.SessionID, protocol.CodeInvalidSession, "Invalid or expired session."))
		return fmt.Errorf("%w: %s", ErrSessionNotFound, p.SessionID)
	}
	e.logger.Error("session registry failure", "session_id", p.SessionID, "err", err)
	e.metrics.ObserveTurn("registry_failed")
	e.sendTo(ctx, p, protocol.NewErrorEvent(p.SessionID, "session_store_failed", "session", true, err.Error()))
	return nil
}

// hostMemories returns the host's memories most related to text. The host is
// the session's bound user or else the connected host; with neither known
// there are no memories. Failures degrade to no memories.
func (e *Engine) hostMemories(ctx context.Context, sess *session.Session, p Participant, text string) []string {
	if e.embedder == nil || e.memories == nil {
		return nil
	}
	userID := sess.HostUserID
	if userID == "" {
		userID = e.hub.UserID(sess.ID, protocol.RoleHost)
	}
	if userID == "" {
		return nil
	}

	var query []float32
	err := e.call(ctx, "embedding", func(ctx context.Context) error {
		var err error
		query, err = e.embedder.Embed(ctx, text)
		return err
	})
	if err != nil {
		e.logger.Warn("embedding failed, continuing without memories", "session_id", p.SessionID, "err", err)
		return nil
	}

	entries, err := e.memories.Relevant(ctx, userID, query, e.cfg.MemoryTopN)
	if err != nil {
		e.logger.Warn("memory lookup failed, continuing without memories", "session_id", p.SessionID, "user_id", userID, "err", err)
		return nil
	}
	return memory.Messages(entries)
}

func (e *Engine) sendSuggestions(ctx context.Context, sess *session.Session, sender protocol.Role, memories []string) {
	recipient := sender.Other()
	if e.assistant == nil || !e.hub.HasRole(sess.ID, recipient) {
		return
	}
	start := time.Now()
	defer func() { e.metrics.ObserveStage(observability.StageSuggestions, time.Since(start)) }()

	history, err := e.sessions.RecentMessages(ctx, sess.ID, e.cfg.SuggestionHistory)
	if err != nil {
		e.logger.Warn("suggestion history unavailable", "session_id", sess.ID, "err", err)
		return
	}

	var suggestions []string
	err = e.call(ctx, "suggestions", func(ctx context.Context) error {
		var err error
		suggestions, err = e.assistant.Suggestions(ctx, recipient, session.LanguageOf(sess, recipient), history, memories)
		return err
	})
	if err != nil {
		e.logger.Warn("suggestions omitted", "session_id", sess.ID, "recipient", recipient, "err", err)
		return
	}
	if len(suggestions) == 0 {
		return
	}
	e.deliver(ctx, sess.ID, protocol.Suggestions{
		Type:        protocol.TypeSuggestions,
		SessionID:   sess.ID,
		Suggestions: suggestions,
	}, func(ctx context.Context, payload any) int {
		return e.hub.BroadcastExceptRole(ctx, sess.ID, sender, payload)
	})
}

// call runs one external collaborator under the configured timeout and
// records its latency and outcome.
func (e *Engine) call(ctx context.Context, collaborator string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CollaboratorTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	code := reliability.Classify(err)
	if errors.Is(err, llm.ErrSchemaViolation) {
		code = "schema_violation"
	}
	e.metrics.ObserveCollaborator(collaborator, time.Since(start), code)
	return err
}

func (e *Engine) broadcast(ctx context.Context, sessionID string, payload any) {
	e.deliver(ctx, sessionID, payload, func(ctx context.Context, payload any) int {
		return e.hub.Broadcast(ctx, sessionID, payload)
	})
}

func (e *Engine) deliver(ctx context.Context, sessionID string, payload any, fanOut func(context.Context, any) int) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	msgType, _ := protocol.TypeOf(payload)
	if n := fanOut(ctx, payload); n == 0 {
		e.metrics.ObserveOutboundMessage(string(msgType), "no_recipients")
		return
	}
	e.metrics.ObserveOutboundMessage(string(msgType), "delivered")
}

func (e *Engine) sendTo(ctx context.Context, p Participant, payload any) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	msgType, _ := protocol.TypeOf(payload)
	if err := p.Conn.Send(ctx, payload); err != nil {
		e.metrics.ObserveOutboundMessage(string(msgType), "failed")
		return
	}
	e.metrics.ObserveOutboundMessage(string(msgType), "delivered")
}

func retryable(err error) bool {
	return reliability.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}
