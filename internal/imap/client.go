package imap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const (
	dialTimeout   = 30 * time.Second
	logoutTimeout = 5 * time.Second
	updatesBuffer = 64
)

var errNotConnected = errors.New("not connected")

// StandardSession drives one connection lifecycle against a real server.
// Sessions come from NewStandardSession, walk through Connect, Secure and
// Login, and are discarded after Close.
type StandardSession struct {
	host    string
	timeout time.Duration
	debug   io.Writer

	conn    net.Conn
	tlsConn *tls.Conn
	client  *client.Client

	updates chan client.Update
	idle    *idleHandle
}

// idleHandle tracks one running IDLE command. The done channel is buffered
// so the idle goroutine can always deliver its result and exit.
type idleHandle struct {
	stop     chan struct{}
	done     chan error
	finished bool
}

// NewStandardSession creates a new StandardSession with a default timeout of 30 seconds for IMAP commands
func NewStandardSession() *StandardSession {
	return &StandardSession{
		timeout: 30 * time.Second,
	}
}

// SetDebugWriter turns on protocol tracing to w for connections made after
// the call. Login exchanges are redacted before they reach w.
func (s *StandardSession) SetDebugWriter(w io.Writer) {
	s.debug = w
}

// Connect opens the TCP transport to the server. Security negotiation is a
// separate step so connectivity failures and trust failures stay apart.
func (s *StandardSession) Connect(host string, port uint16) error {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return &TransportError{Op: "dial " + addr, Err: err}
	}
	s.host = host
	s.conn = conn
	return nil
}

// Secure upgrades the open transport to TLS, verifying the server
// certificate against the host given to Connect.
func (s *StandardSession) Secure() error {
	if s.conn == nil {
		return &ProtocolError{Op: "secure", Err: errNotConnected}
	}

	tlsConn := tls.Client(s.conn, &tls.Config{ServerName: s.host})

	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	err := tlsConn.Handshake()
	_ = s.conn.SetDeadline(time.Time{})
	if err != nil {
		return &SecurityError{Host: s.host, Err: err}
	}

	s.tlsConn = tlsConn
	return nil
}

// Login waits for the server greeting and authenticates. A missing or
// broken greeting is a transport problem; a rejected LOGIN is an
// authentication problem.
func (s *StandardSession) Login(user, password string) error {
	if s.tlsConn == nil {
		return &ProtocolError{Op: "login", Err: errNotConnected}
	}

	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	cl, err := client.New(s.tlsConn)
	_ = s.conn.SetDeadline(time.Time{})
	if err != nil {
		return &TransportError{Op: "greeting", Err: err}
	}
	if s.debug != nil {
		cl.SetDebug(&redactingWriter{out: s.debug})
	}
	s.client = cl

	var loginErr error
	s.withTimeout(func() { loginErr = cl.Login(user, password) })
	if loginErr != nil {
		return &AuthError{Err: loginErr}
	}
	return nil
}

// Capabilities queries the extensions the server advertises. It returns an
// error if the query fails or if there is no authenticated connection.
func (s *StandardSession) Capabilities() (CapabilitySet, error) {
	if s.client == nil {
		return nil, &ProtocolError{Op: "capability", Err: errNotConnected}
	}

	var caps map[string]bool
	var err error
	s.withTimeout(func() { caps, err = s.client.Capability() })
	if err != nil {
		return nil, &ProtocolError{Op: "capability", Err: err}
	}
	return CapabilitySet(caps), nil
}

// SelectReadOnly selects the specified mailbox without side effects and
// returns its total message count. It returns an error if the mailbox
// cannot be selected or if there is no authenticated connection.
func (s *StandardSession) SelectReadOnly(mailbox string) (uint32, error) {
	if s.client == nil {
		return 0, &ProtocolError{Op: "select", Err: errNotConnected}
	}

	var mbox *imap.MailboxStatus
	var err error
	s.withTimeout(func() { mbox, err = s.client.Select(mailbox, true) })
	if err != nil {
		return 0, &ProtocolError{Op: "select " + mailbox, Err: err}
	}
	return mbox.Messages, nil
}

// SearchUnseen retrieves the sequence numbers of messages not flagged as
// seen in the selected mailbox.
func (s *StandardSession) SearchUnseen() ([]uint32, error) {
	if s.client == nil {
		return nil, &ProtocolError{Op: "search", Err: errNotConnected}
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	var ids []uint32
	var err error
	s.withTimeout(func() { ids, err = s.client.Search(criteria) })
	if err != nil {
		return nil, &ProtocolError{Op: "search unseen", Err: err}
	}
	return ids, nil
}

// IdleBegin registers for unsolicited updates and starts the IDLE command
// on its own goroutine. Updates queued by earlier commands are discarded
// first so only changes pushed from now on can end the wait.
func (s *StandardSession) IdleBegin() error {
	if s.client == nil {
		return &ProtocolError{Op: "idle", Err: errNotConnected}
	}
	if s.idle != nil {
		return &ProtocolError{Op: "idle", Err: errors.New("idle already running")}
	}

	if s.updates == nil {
		s.updates = make(chan client.Update, updatesBuffer)
		s.client.Updates = s.updates
	}
	s.drainUpdates()

	h := &idleHandle{
		stop: make(chan struct{}),
		done: make(chan error, 1),
	}
	go func() {
		h.done <- s.client.Idle(h.stop, nil)
	}()
	s.idle = h
	return nil
}

// IdleWait blocks until the server pushes a mailbox change, max elapses,
// or the IDLE command fails underneath us. A nil return means the mailbox
// should be observed again.
func (s *StandardSession) IdleWait(max time.Duration) error {
	if s.idle == nil {
		return &ProtocolError{Op: "idle wait", Err: errors.New("idle not running")}
	}

	timer := time.NewTimer(max)
	defer timer.Stop()

	select {
	case <-s.updates:
		s.drainUpdates()
		return nil
	case <-timer.C:
		return nil
	case err := <-s.idle.done:
		s.idle.finished = true
		if err == nil {
			err = errors.New("idle ended unexpectedly")
		}
		return &ProtocolError{Op: "idle wait", Err: err}
	}
}

// IdleEnd stops the running IDLE command and waits for it to finish, making
// the session available for regular commands again. The finish wait is
// bounded by the command timeout; a connection that swallows the closing
// round-trip fails the wait instead of blocking it.
func (s *StandardSession) IdleEnd() error {
	h := s.idle
	if h == nil {
		return &ProtocolError{Op: "idle done", Err: errors.New("idle not running")}
	}
	s.idle = nil

	if h.finished {
		return nil
	}

	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	close(h.stop)
	err := <-h.done
	_ = s.conn.SetDeadline(time.Time{})
	if err != nil {
		return &ProtocolError{Op: "idle done", Err: err}
	}
	return nil
}

// Close tears the session down from whatever state it reached. The logout
// is best effort and bounded; the connection is released either way.
func (s *StandardSession) Close() error {
	conn, cl, h := s.conn, s.client, s.idle
	s.conn, s.tlsConn, s.client, s.idle, s.updates = nil, nil, nil, nil, nil

	if conn == nil {
		return nil
	}
	_ = conn.SetDeadline(time.Now().Add(logoutTimeout))

	if h != nil && !h.finished {
		close(h.stop)
		<-h.done
	}

	if cl != nil {
		if err := cl.Logout(); err != nil {
			_ = conn.Close()
			return fmt.Errorf("logout: %w", err)
		}
		return nil
	}
	return conn.Close()
}

// withTimeout runs one command with the session timeout armed, restoring
// the previous value afterwards so a following IDLE is never cut short.
func (s *StandardSession) withTimeout(f func()) {
	prevTimeout := s.client.Timeout
	s.client.Timeout = s.timeout
	defer func() { s.client.Timeout = prevTimeout }()
	f()
}

// drainUpdates empties the updates buffer without blocking.
func (s *StandardSession) drainUpdates() {
	for {
		select {
		case <-s.updates:
		default:
			return
		}
	}
}
