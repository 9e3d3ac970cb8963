// Package events is a small synchronous pub/sub keyed by event name.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type Name string

const (
	ConnectionEstablished Name = "connection:established"
	ConnectionLost        Name = "connection:lost"
	ParticipantJoined     Name = "participant:joined"
	ParticipantLeft       Name = "participant:left"
	ParticipantUpdated    Name = "participant:updated"
	MediaStateChanged     Name = "media:state_changed"
	CursorMoved           Name = "presence:cursor_moved"
	ChatMessageReceived   Name = "chat:message_received"
	ChatReactionUpdated   Name = "chat:reaction_updated"
	ContentShared         Name = "content:shared"
	ContentRemoved        Name = "content:removed"
	InsightReceived       Name = "ai:insight_received"
	InsightRequested      Name = "ai:insight_requested"
	SessionUpdated        Name = "session:updated"
	SessionEnded          Name = "session:ended"
	PermissionsUpdated    Name = "permissions:updated"
	InviteReceived        Name = "invite:received"
	PeerStateChanged      Name = "peer:connection_state_changed"
	PeerTrackReplaced     Name = "peer:track_replaced"
	PeerUnreachable       Name = "peer:unreachable"
	ErrorReceived         Name = "error:received"
	Wildcard              Name = "*"
)

type Event struct {
	Name    Name
	Payload any
}

type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus delivers every event to its subscribers in subscription order on the
// publishing goroutine. Handlers may subscribe or unsubscribe while being
// called; the change applies from the next Publish.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Name][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]subscription)}
}

// Subscribe registers fn for name, or for every event with Wildcard.
// The returned func removes the subscription and is safe to call twice.
func (b *Bus) Subscribe(name Name, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[name]
	for i, s := range list {
		if s.id == id {
			b.subs[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

func (b *Bus) Publish(name Name, payload any) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[name])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[name]...)
	if name != Wildcard {
		targets = append(targets, b.subs[Wildcard]...)
	}
	b.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, s := range targets {
		b.call(s.fn, ev)
	}
}

// call isolates the bus from a panicking handler.
func (b *Bus) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "events").Str("event", string(ev.Name)).Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn(ev)
}

// Count reports the number of subscribers for name.
func (b *Bus) Count(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
