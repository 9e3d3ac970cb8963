package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

type binding struct {
	SessionID domain.SessionID
	Member    core.MemberSession
	Cancel    context.CancelFunc
}

// Registry tracks the live signaling connection of every participant and
// the session it currently belongs to. One connection per participant.
type Registry struct {
	mu       sync.RWMutex
	bindings map[domain.ParticipantID]*binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[domain.ParticipantID]*binding)}
}

// BindSignal attaches a fresh connection for pid. A previous connection is
// returned so the caller can cancel it; its session association carries
// over to the new connection.
func (r *Registry) BindSignal(pid domain.ParticipantID, m core.MemberSession, cancel context.CancelFunc) (previous context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sid domain.SessionID
	if old, ok := r.bindings[pid]; ok {
		previous = old.Cancel
		sid = old.SessionID
	}
	r.bindings[pid] = &binding{SessionID: sid, Member: m, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("participant", string(pid)).Msg("bound signal")
	return previous
}

func (r *Registry) Member(pid domain.ParticipantID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.bindings[pid]; ok {
		return b.Member, true
	}
	return nil, false
}

// Unbind removes pid only while m is still its current connection, so a
// stale pump shutting down never drops a newer connection.
func (r *Registry) Unbind(pid domain.ParticipantID, m core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[pid]
	if !ok || b.Member != m {
		return false
	}
	delete(r.bindings, pid)
	log.Info().Str("module", "app.registry").Str("participant", string(pid)).Msg("unbind signal")
	return true
}

func (r *Registry) SessionOf(pid domain.ParticipantID) (domain.SessionID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[pid]
	if !ok || b.SessionID == "" {
		return "", nil, false
	}
	return b.SessionID, b.Member, true
}

func (r *Registry) SetSession(pid domain.ParticipantID, sid domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[pid]
	if !ok {
		return false
	}
	b.SessionID = sid
	log.Info().Str("module", "app.registry").Str("participant", string(pid)).Str("session", string(sid)).Msg("updated session")
	return true
}

func (r *Registry) ClearSession(pid domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[pid]; ok {
		b.SessionID = ""
	}
}

type Snap struct {
	ParticipantID domain.ParticipantID
	Member        core.MemberSession
}

func (r *Registry) MembersOfSession(sid domain.SessionID) []Snap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snap, 0, len(r.bindings))
	for pid, b := range r.bindings {
		if b.SessionID == sid {
			out = append(out, Snap{ParticipantID: pid, Member: b.Member})
		}
	}
	return out
}

// Cancel stops the pumps of pid's connection.
func (r *Registry) Cancel(pid domain.ParticipantID) bool {
	r.mu.RLock()
	b, ok := r.bindings[pid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if b.Cancel != nil {
		b.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("participant", string(pid)).Msg("canceled connection")
	return true
}
