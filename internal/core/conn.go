// Package core holds the transport-facing contracts shared by the
// coordinator and its adapters.
package core

// Frame is a raw serialized event payload.
type Frame []byte

// ConnID names one live transport-level channel to one client process.
// Assigned by the adapter on upgrade, never reused.
type ConnID string

// Conn abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend(Frame) error
	Close()
}
