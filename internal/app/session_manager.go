package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var ErrSessionExists = errors.New("session already exists")

const defaultArchiveLimit = 256

type SessionManagerOptions struct {
	DefaultMaxParticipants int
	ArchiveLimit           int
	Now                    func() time.Time
}

// SessionManagerImpl keeps live sessions in memory. Archived sessions are
// kept as read-only snapshots, oldest evicted first.
type SessionManagerImpl struct {
	opts SessionManagerOptions

	mu       sync.RWMutex
	sessions map[domain.SessionID]core.SessionService
	archive  map[domain.SessionID]domain.Session
	order    []domain.SessionID
	adhoc    map[domain.SessionID]bool
}

func NewSessionManager(opts SessionManagerOptions) *SessionManagerImpl {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ArchiveLimit <= 0 {
		opts.ArchiveLimit = defaultArchiveLimit
	}
	return &SessionManagerImpl{
		opts:     opts,
		sessions: make(map[domain.SessionID]core.SessionService),
		archive:  make(map[domain.SessionID]domain.Session),
		adhoc:    make(map[domain.SessionID]bool),
	}
}

var _ core.SessionManager = (*SessionManagerImpl)(nil)

func (m *SessionManagerImpl) Create(spec core.SessionSpec) (core.SessionService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spec.ID == "" {
		spec.ID = domain.SessionID(uuid.NewString())
	}
	if _, ok := m.sessions[spec.ID]; ok {
		return nil, fmt.Errorf("create %s: %w", spec.ID, ErrSessionExists)
	}
	if _, ok := m.archive[spec.ID]; ok {
		return nil, fmt.Errorf("create %s: %w", spec.ID, domain.ErrSessionEnded)
	}
	s := m.newLocked(spec)
	return s, nil
}

func (m *SessionManagerImpl) Get(id domain.SessionID) (core.SessionService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *SessionManagerImpl) GetOrCreate(spec core.SessionSpec) core.SessionService {
	m.mu.RLock()
	s, ok := m.sessions[spec.ID]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sessions[spec.ID]; ok {
		return s
	}
	m.adhoc[spec.ID] = true
	return m.newLocked(spec)
}

func (m *SessionManagerImpl) newLocked(spec core.SessionSpec) core.SessionService {
	now := m.opts.Now()
	if spec.Settings.MaxParticipants == 0 {
		spec.Settings.MaxParticipants = m.opts.DefaultMaxParticipants
	}
	if spec.Settings.Encryption == "" {
		spec.Settings.Encryption = domain.EncryptionStandard
	}
	if !spec.Type.Valid() {
		spec.Type = domain.SessionMeeting
	}
	if spec.Title == "" {
		spec.Title = string(spec.ID)
	}
	s := core.NewSessionService(domain.Session{
		ID:        spec.ID,
		Title:     spec.Title,
		Type:      spec.Type,
		OwnerID:   spec.OwnerID,
		Settings:  spec.Settings,
		Grants:    domain.DefaultGrants(now),
		CreatedAt: now,
	}, core.SessionOptions{Now: m.opts.Now})
	m.sessions[spec.ID] = s
	log.Info().Str("module", "app.sessions").Str("session", string(spec.ID)).Str("type", string(spec.Type)).Msg("created session")
	return s
}

func (m *SessionManagerImpl) List() []core.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, info(s.Snapshot()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Archive moves the session out of the live set. The final snapshot stays
// readable through Archived.
func (m *SessionManagerImpl) Archive(id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	delete(m.adhoc, id)
	m.archive[id] = s.Snapshot()
	for i, old := range m.order {
		if old == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, id)
	for len(m.order) > m.opts.ArchiveLimit {
		delete(m.archive, m.order[0])
		m.order = m.order[1:]
	}
	log.Info().Str("module", "app.sessions").Str("session", string(id)).Msg("archived session")
}

func (m *SessionManagerImpl) Reap(id domain.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !m.adhoc[id] || s.Count() > 0 {
		return false
	}
	delete(m.sessions, id)
	delete(m.adhoc, id)
	log.Info().Str("module", "app.sessions").Str("session", string(id)).Msg("reaped empty session")
	return true
}

func (m *SessionManagerImpl) Archived(id domain.SessionID) (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.archive[id]
	return s, ok
}

func info(s domain.Session) core.SessionInfo {
	return core.SessionInfo{
		ID:               s.ID,
		Title:            s.Title,
		Type:             s.Type,
		Status:           s.State.Status,
		ParticipantCount: len(s.Participants),
		MaxParticipants:  s.Settings.MaxParticipants,
	}
}
