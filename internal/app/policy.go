package app

import (
	"sync"

	"github.com/dkeye/Huddle/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a participant whose send buffer is full.
type Policy interface {
	OnBackPressure(session core.SessionService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionService, core.MemberSession) BackpressureAction {
	return KickMember
}

// MemberTracker is implemented by policies that keep state per member.
type MemberTracker interface {
	// OnDelivered is called after a frame reached member's buffer.
	OnDelivered(member core.MemberSession)
	// Forget is called once member's connection is gone.
	Forget(member core.MemberSession)
}

// TolerantPolicy drops frames while a member overflows at most Limit times
// in a row and kicks it afterwards. A delivered frame clears the count.
type TolerantPolicy struct {
	Limit int

	mu      sync.Mutex
	strikes map[core.MemberSession]int
}

func (p *TolerantPolicy) OnBackPressure(_ core.SessionService, member core.MemberSession) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.strikes == nil {
		p.strikes = make(map[core.MemberSession]int)
	}
	p.strikes[member]++
	if p.strikes[member] > p.Limit {
		delete(p.strikes, member)
		return KickMember
	}
	return DropFrame
}

var _ MemberTracker = (*TolerantPolicy)(nil)

func (p *TolerantPolicy) OnDelivered(member core.MemberSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.strikes, member)
}

func (p *TolerantPolicy) Forget(member core.MemberSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.strikes, member)
}

// Tracked reports how many members currently have strikes.
func (p *TolerantPolicy) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.strikes)
}
