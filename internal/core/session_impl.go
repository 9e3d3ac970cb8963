package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
)

const defaultAuditLimit = 4096

type field uint8

const (
	fieldMedia field = iota
	fieldCursor
	fieldPresence
)

type SessionOptions struct {
	Checker *permission.Checker
	Now     func() time.Time
	// Mirror marks a client-side copy: the server already authorized every
	// inbound change, so mutators skip permission checks. Authorize still
	// evaluates locally.
	Mirror     bool
	AuditLimit int
}

// sessionImpl is a threadsafe in-memory session record.
// It never touches transport resources.
type sessionImpl struct {
	mu         sync.RWMutex
	rec        domain.Session
	enforce    bool
	checker    *permission.Checker
	now        func() time.Time
	seqs       map[domain.ParticipantID]map[field]uint64
	audit      []domain.AuditEntry
	auditLimit int
}

func NewSessionService(rec domain.Session, opts SessionOptions) SessionService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Checker == nil {
		opts.Checker = permission.NewChecker(opts.Now)
	}
	if opts.AuditLimit <= 0 {
		opts.AuditLimit = defaultAuditLimit
	}
	if rec.Participants == nil {
		rec.Participants = make(map[domain.ParticipantID]domain.Participant)
	}
	if rec.State.Status == "" {
		rec.State.Status = domain.SessionWaiting
	}
	if rec.Type == "" {
		rec.Type = domain.SessionMeeting
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = opts.Now()
	}
	return &sessionImpl{
		rec:        rec,
		enforce:    !opts.Mirror,
		checker:    opts.Checker,
		now:        opts.Now,
		seqs:       make(map[domain.ParticipantID]map[field]uint64),
		auditLimit: opts.AuditLimit,
	}
}

func (s *sessionImpl) ID() domain.SessionID { return s.rec.ID }

func (s *sessionImpl) Snapshot() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.rec.Clone()
	target := s.rec.Target()
	for id, p := range out.Participants {
		p.Permissions = s.checker.Effective(p.Subject(), target)
		out.Participants[id] = p
	}
	return out
}

func (s *sessionImpl) Status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.State.Status
}

func (s *sessionImpl) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Settings
}

func (s *sessionImpl) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rec.Participants)
}

func (s *sessionImpl) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rec.Participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return p.Clone(), true
}

func (s *sessionImpl) Participants() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(s.rec.Participants))
	for _, p := range s.rec.Participants {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *sessionImpl) ResolveRole(id domain.ParticipantID, fallback domain.Role) domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.rec.OwnerID == id || s.rec.OwnerID == "":
		return domain.RoleOwner
	case s.rec.IsModerator(id):
		return domain.RoleModerator
	}
	for _, inv := range s.rec.Invitations {
		if inv.ParticipantID == id {
			return inv.Role
		}
	}
	return fallback
}

func (s *sessionImpl) Authorize(actor domain.ParticipantID, action permission.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorizeLocked(actor, action, true)
}

func (s *sessionImpl) Audit() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), s.audit...)
}

func (s *sessionImpl) Join(p domain.Participant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return false, err
	}
	if s.enforce && s.rec.IsRemoved(p.ID) {
		denied := &permission.DeniedError{Action: permission.ActionJoin, Capability: permission.CanView, Reason: "removed from session"}
		s.recordLocked(p.ID, string(permission.ActionJoin), false, denied.Reason)
		return false, denied
	}
	_, replaced := s.rec.Participants[p.ID]
	if !replaced && s.rec.Settings.MaxParticipants > 0 && len(s.rec.Participants) >= s.rec.Settings.MaxParticipants {
		s.recordLocked(p.ID, "join", false, domain.ErrCapacityExceeded.Error())
		return false, fmt.Errorf("join %s: %w", s.rec.ID, domain.ErrCapacityExceeded)
	}

	now := s.now()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	if p.Status == "" {
		p.Status = domain.StatusOnline
	}
	p.Permissions = nil
	switch p.Role {
	case domain.RoleOwner:
		if s.rec.OwnerID == "" {
			s.rec.OwnerID = p.ID
		}
	case domain.RoleModerator:
		if !s.rec.IsModerator(p.ID) {
			s.rec.Moderators = append(s.rec.Moderators, p.ID)
		}
	}
	s.rec.Participants[p.ID] = p.Clone()
	delete(s.seqs, p.ID)

	if s.rec.State.Status == domain.SessionWaiting {
		s.rec.State.Status = domain.SessionActive
		s.rec.State.StartedAt = &now
	}
	s.recordLocked(p.ID, "join", true, string(p.Role))
	log.Info().Str("module", "core.session").Str("session", string(s.rec.ID)).Str("participant", string(p.ID)).Bool("replaced", replaced).Msg("participant joined")
	return replaced, nil
}

func (s *sessionImpl) Leave(id domain.ParticipantID) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.Participant{}, err
	}
	p, ok := s.rec.Participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrNotParticipant
	}
	delete(s.rec.Participants, id)
	delete(s.seqs, id)
	s.recordLocked(id, "leave", true, "")
	log.Info().Str("module", "core.session").Str("session", string(s.rec.ID)).Str("participant", string(id)).Msg("participant left")
	return p, nil
}

func (s *sessionImpl) UpdateMedia(actor domain.ParticipantID, media domain.MediaState, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	p, ok := s.rec.Participants[actor]
	if !ok {
		return domain.ErrNotParticipant
	}
	if (media.Audio && !p.Media.Audio) || (media.Video && !p.Media.Video) {
		if err := s.authorizeLocked(actor, permission.ActionPublishMedia, s.enforce); err != nil {
			return err
		}
	}
	if media.Screen && !p.Media.Screen {
		if err := s.authorizeLocked(actor, permission.ActionShareScreen, s.enforce); err != nil {
			return err
		}
	}
	if err := s.checkSeqLocked(actor, fieldMedia, seq); err != nil {
		return err
	}
	p.Media = media
	s.rec.Participants[actor] = p
	return nil
}

func (s *sessionImpl) UpdateCursor(actor domain.ParticipantID, loc domain.Location, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	p, ok := s.rec.Participants[actor]
	if !ok {
		return domain.ErrNotParticipant
	}
	if err := s.authorizeQuietLocked(actor, permission.ActionUpdateCursor); err != nil {
		return err
	}
	if err := s.checkSeqLocked(actor, fieldCursor, seq); err != nil {
		return err
	}
	if loc.Viewport != nil {
		vp := *loc.Viewport
		loc.Viewport = &vp
	}
	p.Location = &loc
	s.rec.Participants[actor] = p
	return nil
}

func (s *sessionImpl) UpdatePresence(actor domain.ParticipantID, status domain.Status, seq uint64) error {
	if !status.Valid() {
		return fmt.Errorf("presence %q: %w", status, domain.ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	p, ok := s.rec.Participants[actor]
	if !ok {
		return domain.ErrNotParticipant
	}
	if err := s.authorizeQuietLocked(actor, permission.ActionSetPresence); err != nil {
		return err
	}
	if err := s.checkSeqLocked(actor, fieldPresence, seq); err != nil {
		return err
	}
	p.Status = status
	s.rec.Participants[actor] = p
	return nil
}

func (s *sessionImpl) AddChat(actor domain.ParticipantID, msg domain.ChatMessage) (domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := s.authorizeLocked(actor, permission.ActionSendChat, s.enforce); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := msg.Validate(); err != nil {
		return domain.ChatMessage{}, err
	}
	if msg.ID != "" {
		if i := s.rec.FindMessage(msg.ID); i >= 0 {
			return s.rec.State.Chat[i].Clone(), nil
		}
	} else {
		msg.ID = uuid.NewString()
	}
	if s.enforce {
		msg.SenderID = actor
		msg.Timestamp = s.now()
		if msg.Type != domain.MessageFile {
			msg.Type = domain.MessageText
		}
		msg.Reactions = nil
	}
	if msg.Type == "" {
		msg.Type = domain.MessageText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg = msg.Clone()
	s.rec.State.Chat = append(s.rec.State.Chat, msg)
	return msg.Clone(), nil
}

func (s *sessionImpl) React(actor domain.ParticipantID, messageID, emoji string, add bool) (domain.ChatMessage, error) {
	if emoji == "" {
		return domain.ChatMessage{}, domain.ErrEmojiEmpty
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := s.authorizeLocked(actor, permission.ActionReact, s.enforce); err != nil {
		return domain.ChatMessage{}, err
	}
	i := s.rec.FindMessage(messageID)
	if i < 0 {
		return domain.ChatMessage{}, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	msg := &s.rec.State.Chat[i]
	if add {
		msg.AddReaction(actor, emoji)
	} else {
		msg.RemoveReaction(actor, emoji)
	}
	return msg.Clone(), nil
}

func (s *sessionImpl) ShareContent(actor domain.ParticipantID, content domain.SharedContent) (domain.SharedContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.SharedContent{}, err
	}
	if err := s.authorizeLocked(actor, permission.ActionShareContent, s.enforce); err != nil {
		return domain.SharedContent{}, err
	}
	if err := content.Validate(); err != nil {
		return domain.SharedContent{}, err
	}
	if content.ID != "" {
		if i := s.rec.FindContent(content.ID); i >= 0 {
			return s.rec.State.SharedContent[i].Clone(), nil
		}
	} else {
		content.ID = uuid.NewString()
	}
	if s.enforce || content.OwnerID == "" {
		content.OwnerID = actor
	}
	if s.enforce || content.SharedAt.IsZero() {
		content.SharedAt = s.now()
	}
	if s.enforce {
		content.Removed, content.RemovedAt, content.RemovedBy = false, nil, ""
	}
	content = content.Clone()
	s.rec.State.SharedContent = append(s.rec.State.SharedContent, content)
	return content.Clone(), nil
}

func (s *sessionImpl) RemoveContent(actor domain.ParticipantID, contentID string) (domain.SharedContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.SharedContent{}, err
	}
	i := s.rec.FindContent(contentID)
	if i < 0 {
		return domain.SharedContent{}, fmt.Errorf("content %s: %w", contentID, domain.ErrNotFound)
	}
	c := &s.rec.State.SharedContent[i]
	if s.enforce {
		p, ok := s.rec.Participants[actor]
		if !ok {
			return domain.SharedContent{}, domain.ErrNotParticipant
		}
		byItem := s.checker.Check(p.Subject(), permission.ActionDeleteContent, c.Target())
		if !byItem.Allowed {
			if err := s.authorizeLocked(actor, permission.ActionDeleteContent, true); err != nil {
				return domain.SharedContent{}, err
			}
		} else {
			s.recordLocked(actor, string(permission.ActionDeleteContent), true, byItem.Reason)
		}
	}
	if !c.Removed {
		now := s.now()
		c.Removed = true
		c.RemovedAt = &now
		c.RemovedBy = actor
	}
	return c.Clone(), nil
}

func (s *sessionImpl) AddInsight(actor domain.ParticipantID, ins domain.Insight) (domain.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.Insight{}, err
	}
	if err := s.authorizeLocked(actor, permission.ActionPublishInsight, s.enforce); err != nil {
		return domain.Insight{}, err
	}
	if err := ins.Validate(); err != nil {
		return domain.Insight{}, err
	}
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	for _, existing := range s.rec.State.Insights {
		if existing.ID == ins.ID {
			return existing, nil
		}
	}
	if ins.Timestamp.IsZero() {
		ins.Timestamp = s.now()
	}
	s.rec.State.Insights = append(s.rec.State.Insights, ins)
	return ins, nil
}

func (s *sessionImpl) SetGrant(actor, target domain.ParticipantID, caps permission.Set, expiresAt *time.Time) (permission.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return permission.Grant{}, err
	}
	if err := s.authorizeLocked(actor, permission.ActionChangePermission, s.enforce); err != nil {
		return permission.Grant{}, err
	}
	if target == "" || target == s.rec.OwnerID {
		return permission.Grant{}, fmt.Errorf("grant for %q: %w", target, domain.ErrNotParticipant)
	}
	g := permission.Grant{
		Scope:        permission.ScopeUser,
		Principal:    string(target),
		Capabilities: caps.Clone(),
		GrantedBy:    string(actor),
		GrantedAt:    s.now(),
	}
	if expiresAt != nil {
		exp := *expiresAt
		g.ExpiresAt = &exp
	}
	s.rec.Grants = permission.Upsert(s.rec.Grants, g)
	return g.Clone(), nil
}

func (s *sessionImpl) Invite(actor, target domain.ParticipantID, role domain.Role) (domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.Invitation{}, err
	}
	if err := s.authorizeLocked(actor, permission.ActionInvite, s.enforce); err != nil {
		return domain.Invitation{}, err
	}
	if target == "" {
		return domain.Invitation{}, domain.ErrParticipantIDEmpty
	}
	if !role.Valid() || role == domain.RoleOwner {
		role = domain.RoleParticipant
	}
	inv := domain.Invitation{ParticipantID: target, Role: role, InvitedBy: actor, InvitedAt: s.now()}
	s.rec.Removed = without(s.rec.Removed, target)
	for i := range s.rec.Invitations {
		if s.rec.Invitations[i].ParticipantID == target {
			s.rec.Invitations[i] = inv
			return inv, nil
		}
	}
	s.rec.Invitations = append(s.rec.Invitations, inv)
	return inv, nil
}

func (s *sessionImpl) Remove(actor, target domain.ParticipantID) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return domain.Participant{}, err
	}
	if err := s.authorizeLocked(actor, permission.ActionRemove, s.enforce); err != nil {
		return domain.Participant{}, err
	}
	if s.enforce && target == s.rec.OwnerID {
		denied := &permission.DeniedError{Action: permission.ActionRemove, Capability: permission.CanModerate, Reason: "owner cannot be removed"}
		s.recordLocked(actor, string(permission.ActionRemove), false, denied.Reason)
		return domain.Participant{}, denied
	}
	p, ok := s.rec.Participants[target]
	if !ok {
		return domain.Participant{}, domain.ErrNotParticipant
	}
	delete(s.rec.Participants, target)
	delete(s.seqs, target)
	kept := s.rec.Invitations[:0]
	for _, inv := range s.rec.Invitations {
		if inv.ParticipantID != target {
			kept = append(kept, inv)
		}
	}
	s.rec.Invitations = kept
	s.rec.Moderators = without(s.rec.Moderators, target)
	s.rec.Grants = permission.Revoke(s.rec.Grants, permission.ScopeUser, string(target))
	if !s.rec.IsRemoved(target) {
		s.rec.Removed = append(s.rec.Removed, target)
	}
	return p, nil
}

func without(ids []domain.ParticipantID, id domain.ParticipantID) []domain.ParticipantID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func (s *sessionImpl) StartRecording(actor domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if err := s.authorizeLocked(actor, permission.ActionStartRecording, s.enforce); err != nil {
		return err
	}
	if s.enforce && !s.rec.Settings.RecordingEnabled {
		return domain.ErrRecordingDisabled
	}
	s.rec.State.Recording = true
	return nil
}

func (s *sessionImpl) SetStatus(actor domain.ParticipantID, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	action := permission.ActionChangeStatus
	if status == domain.SessionEnded {
		action = permission.ActionEndSession
	}
	if err := s.authorizeLocked(actor, action, s.enforce); err != nil {
		return err
	}
	from := s.rec.State.Status
	if !domain.CanTransition(from, status) {
		return fmt.Errorf("%s -> %s: %w", from, status, domain.ErrInvalidTransition)
	}
	now := s.now()
	s.rec.State.Status = status
	switch status {
	case domain.SessionActive:
		if s.rec.State.StartedAt == nil {
			s.rec.State.StartedAt = &now
		}
	case domain.SessionEnded:
		s.rec.State.EndedAt = &now
		s.rec.State.Recording = false
	}
	log.Info().Str("module", "core.session").Str("session", string(s.rec.ID)).Str("from", string(from)).Str("to", string(status)).Msg("status changed")
	return nil
}

func (s *sessionImpl) End(actor domain.ParticipantID) error {
	return s.SetStatus(actor, domain.SessionEnded)
}

func (s *sessionImpl) Replace(rec domain.Session) {
	rec = rec.Clone()
	if rec.Participants == nil {
		rec.Participants = make(map[domain.ParticipantID]domain.Participant)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	// Counters restart with the peers' connections; the snapshot is newer
	// than anything seen before it.
	s.seqs = make(map[domain.ParticipantID]map[field]uint64)
}

func (s *sessionImpl) checkOpenLocked() error {
	if s.rec.Ended() {
		return fmt.Errorf("session %s: %w", s.rec.ID, domain.ErrSessionEnded)
	}
	return nil
}

// authorizeLocked checks action for actor and records the outcome. With
// enforce false the check is skipped and nothing is recorded.
func (s *sessionImpl) authorizeLocked(actor domain.ParticipantID, action permission.Action, enforce bool) error {
	if !enforce {
		return nil
	}
	p, ok := s.rec.Participants[actor]
	if !ok {
		s.recordLocked(actor, string(action), false, domain.ErrNotParticipant.Error())
		return domain.ErrNotParticipant
	}
	d := s.checker.Check(p.Subject(), action, s.rec.Target())
	s.recordLocked(actor, string(action), d.Allowed, d.Reason)
	return d.Err()
}

// authorizeQuietLocked is authorizeLocked for high-frequency presence
// updates: only denials are recorded.
func (s *sessionImpl) authorizeQuietLocked(actor domain.ParticipantID, action permission.Action) error {
	if !s.enforce {
		return nil
	}
	p := s.rec.Participants[actor]
	d := s.checker.Check(p.Subject(), action, s.rec.Target())
	if !d.Allowed {
		s.recordLocked(actor, string(action), false, d.Reason)
	}
	return d.Err()
}

func (s *sessionImpl) checkSeqLocked(actor domain.ParticipantID, f field, seq uint64) error {
	if seq == 0 {
		return nil
	}
	bySeq := s.seqs[actor]
	if bySeq == nil {
		bySeq = make(map[field]uint64)
		s.seqs[actor] = bySeq
	}
	if seq <= bySeq[f] {
		return domain.ErrStaleUpdate
	}
	bySeq[f] = seq
	return nil
}

func (s *sessionImpl) recordLocked(actor domain.ParticipantID, action string, allowed bool, detail string) {
	s.audit = append(s.audit, domain.AuditEntry{
		At:      s.now(),
		Actor:   actor,
		Action:  action,
		Allowed: allowed,
		Detail:  detail,
	})
	if over := len(s.audit) - s.auditLimit; over > 0 {
		s.audit = append(s.audit[:0:0], s.audit[over:]...)
	}
}
