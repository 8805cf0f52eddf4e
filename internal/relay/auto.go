package relay

import (
	"context"

	"github.com/ent0n29/chattoz/internal/assist"
	"github.com/ent0n29/chattoz/internal/policy"
	"github.com/ent0n29/chattoz/internal/protocol"
	"github.com/ent0n29/chattoz/internal/session"
)

type autoVerdict int

const (
	autoProceed autoVerdict = iota
	autoClosed
	autoExhausted
)

// reserveAutoTurn claims one autonomous reply for the exchange. Once an
// exchange is closed it stays closed until its session's group empties.
func (e *Engine) reserveAutoTurn(ref autoKeyRef) autoVerdict {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	st, ok := e.auto[ref]
	if !ok {
		st = &autoState{}
		e.auto[ref] = st
	}
	if st.ended {
		return autoClosed
	}
	if st.turns >= e.cfg.AutoReplyMaxTurns {
		st.ended = true
		return autoExhausted
	}
	st.turns++
	return autoProceed
}

func (e *Engine) closeAutoKey(ref autoKeyRef) {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if st, ok := e.auto[ref]; ok {
		st.ended = true
	}
}

// forgetSession drops autonomous exchange state once nobody is connected.
func (e *Engine) forgetSession(sessionID string) {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	for ref := range e.auto {
		if ref.sessionID == sessionID {
			delete(e.auto, ref)
		}
	}
}

// runAutoReply produces the host's reply for an autonomous exchange and
// relays it in the guest's language under the same correlation key.
// guestText is the guest's turn in the host's language.
func (e *Engine) runAutoReply(ctx context.Context, sess *session.Session, autoKey, guestText string, memories []string) {
	if e.assistant == nil || autoKey == "" {
		return
	}
	ref := autoKeyRef{sessionID: sess.ID, autoKey: autoKey}
	switch e.reserveAutoTurn(ref) {
	case autoClosed:
		return
	case autoExhausted:
		e.logger.Info("auto reply turn budget exhausted", "session_id", sess.ID, "auto_key", autoKey, "max_turns", e.cfg.AutoReplyMaxTurns)
		e.endAutoChat(ctx, sess.ID, autoKey, "turn budget exhausted")
		return
	}
	if verdict := policy.ScreenAutoReply(guestText); !verdict.Allowed {
		e.logger.Info("auto reply handed to host", "session_id", sess.ID, "auto_key", autoKey, "reason", verdict.Reason)
		e.closeAutoKey(ref)
		e.endAutoChat(ctx, sess.ID, autoKey, verdict.Reason)
		return
	}

	history, err := e.sessions.MessagesByAutoKey(ctx, sess.ID, autoKey)
	if err != nil {
		e.logger.Warn("auto reply history unavailable", "session_id", sess.ID, "auto_key", autoKey, "err", err)
		return
	}

	var reply assist.Reply
	err = e.call(ctx, "auto_reply", func(ctx context.Context) error {
		var err error
		reply, err = e.assistant.AutoReply(ctx, sess.HostLanguage, memories, history)
		return err
	})
	if err != nil {
		e.logger.Warn("auto reply omitted", "session_id", sess.ID, "auto_key", autoKey, "err", err)
		return
	}
	if reply.EndChat {
		e.closeAutoKey(ref)
		e.endAutoChat(ctx, sess.ID, autoKey, "conversation ended")
		return
	}
	if reply.Text == "" {
		return
	}

	source, target := session.Direction(sess, protocol.RoleHost)
	var translated string
	err = e.call(ctx, "translation", func(ctx context.Context) error {
		var err error
		translated, err = e.translator.Translate(ctx, reply.Text, source, target)
		return err
	})
	if err != nil {
		e.logger.Warn("auto reply translation failed", "session_id", sess.ID, "auto_key", autoKey, "err", err)
		return
	}

	err = e.sessions.AppendMessage(ctx, sess.ID, session.Message{
		Role:       protocol.RoleHost,
		Original:   reply.Text,
		Translated: translated,
		AutoKey:    autoKey,
	})
	if err != nil {
		e.logger.Warn("auto reply not persisted", "session_id", sess.ID, "auto_key", autoKey, "err", err)
		return
	}

	e.broadcast(ctx, sess.ID, protocol.NewChatMessage(sess.ID, protocol.RoleHost, reply.Text, translated, autoKey))
	e.metrics.CountIndicator("auto_reply_sent")
	e.logger.Debug("auto reply relayed", "session_id", sess.ID, "auto_key", autoKey, "text", policy.LogPreview(reply.Text))
}

func (e *Engine) endAutoChat(ctx context.Context, sessionID, autoKey, reason string) {
	e.metrics.CountIndicator(protocol.CodeAutoChatEnded)
	evt := protocol.NewSystemEvent(sessionID, protocol.CodeAutoChatEnded, reason)
	evt.AutoKey = autoKey
	e.broadcast(ctx, sessionID, evt)
}
