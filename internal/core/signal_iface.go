package core

// Frame is a raw encoded payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// Notify encodes a server event and queues it without blocking.
	Notify(event string, data any) error
	Close()
}
