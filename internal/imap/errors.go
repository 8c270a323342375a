package imap

import "fmt"

// TransportError represents a connectivity-level failure: refused or
// dropped connections, resolution failures, missing greetings. Callers
// retry these with a fresh session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SecurityError represents a failed TLS negotiation. A server that cannot
// be trusted stays untrusted on retry, so callers treat this as fatal.
type SecurityError struct {
	Host string
	Err  error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("tls negotiation with %s: %v", e.Host, e.Err)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// AuthError represents a rejected login. The credentials themselves never
// appear in the message.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ProtocolError represents a failed command on an authenticated session.
// Callers recover by discarding the session and reconnecting.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
