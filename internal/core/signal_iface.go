package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrSignalClosed = errors.New("signal connection closed")
)

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection abstracts the per-participant signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
