package imap

import "time"

// Session is one connection lifecycle against a mail server, from raw
// transport to authenticated mailbox commands. The phases are split so the
// caller can map each failure to its own recovery policy. A Session is used
// once and discarded after Close; it is not safe for concurrent use.
type Session interface {
	// Connect opens the transport-layer connection.
	Connect(host string, port uint16) error
	// Secure negotiates TLS on the open transport.
	Secure() error
	// Login waits for the server greeting and authenticates.
	Login(user, password string) error
	// Capabilities reports the extensions the server advertises.
	Capabilities() (CapabilitySet, error)
	// SelectReadOnly opens a mailbox without side effects and returns its
	// total message count.
	SelectReadOnly(mailbox string) (uint32, error)
	// SearchUnseen returns the ids of messages not marked as seen in the
	// selected mailbox.
	SearchUnseen() ([]uint32, error)
	// IdleBegin asks the server to push mailbox changes.
	IdleBegin() error
	// IdleWait blocks until a pushed change arrives or max elapses.
	IdleWait(max time.Duration) error
	// IdleEnd stops the push subscription, making the session available
	// for regular commands again.
	IdleEnd() error
	// Close logs out and releases the connection, whatever state the
	// session is in.
	Close() error
}

// IdleCapability is the extension name servers advertise when they can
// push mailbox changes.
const IdleCapability = "IDLE"

// CapabilitySet holds the extension names a server advertises.
type CapabilitySet map[string]bool

// Has reports whether the named capability was advertised.
func (s CapabilitySet) Has(name string) bool {
	return s[name]
}
