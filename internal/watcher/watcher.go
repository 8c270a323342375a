package watcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailwatch/internal/backoff"
	"mailwatch/internal/imap"
	"mailwatch/internal/logging"
	"mailwatch/internal/models"
	"mailwatch/internal/status"
)

const (
	// PollInterval paces mailbox checks against servers that cannot push.
	PollInterval = 300 * time.Second
	// KeepAlive caps a single idle wait. Middleboxes drop connections that
	// stay quiet too long; waking below their usual cutoff keeps the
	// session alive.
	KeepAlive = 1700 * time.Second

	watchedMailbox = "INBOX"
)

// Watcher drives the session lifecycle for one account: connect, observe
// the mailbox, publish unread counts and reconnect with backoff whenever
// the connection degrades.
type Watcher struct {
	creds      models.Credentials
	newSession func() imap.Session
	reporter   *status.Reporter
	backoff    *backoff.Backoff

	pollInterval time.Duration
	keepAlive    time.Duration
	sleep        func(time.Duration)

	sess    imap.Session
	canIdle bool
	total   uint32

	baselog *logrus.Entry
	log     *logrus.Entry
}

// NewWatcher creates a Watcher for the given account. Every connection
// cycle gets a fresh session from newSession; sessions are never reused
// across cycles.
func NewWatcher(creds models.Credentials, newSession func() imap.Session, reporter *status.Reporter) *Watcher {
	baselog := logging.Log.WithField("server", creds.String())
	return &Watcher{
		creds:        creds,
		newSession:   newSession,
		reporter:     reporter,
		backoff:      backoff.New(backoff.DefaultSchedule),
		pollInterval: PollInterval,
		keepAlive:    KeepAlive,
		sleep:        time.Sleep,
		baselog:      baselog,
		log:          baselog,
	}
}

// Run executes the lifecycle until a fatal error surfaces. Recoverable
// failures are retried forever, so a nil return never happens.
func (w *Watcher) Run() error {
	st := StateDisconnected
	for {
		next, err := w.step(st)
		if err != nil {
			w.discardSession()
			return err
		}
		st = next
	}
}

// step executes the work of the current state and returns the next one.
// Recoverable failures come back as StateDisconnected; only fatal errors
// are returned.
func (w *Watcher) step(st State) (State, error) {
	switch st {
	case StateDisconnected:
		return w.stepDisconnected(), nil
	case StateConnecting:
		return w.stepConnecting(), nil
	case StateAuthenticating:
		return w.stepAuthenticating()
	case StateProbingCapabilities:
		return w.stepProbingCapabilities(), nil
	case StateSelectingMailbox:
		return w.stepSelectingMailbox(), nil
	case StateObserving:
		return w.stepObserving(), nil
	case StateIdling:
		return w.stepIdling(), nil
	case StatePolling:
		return w.stepPolling(), nil
	}
	return StateDisconnected, fmt.Errorf("watcher: unhandled state %v", st)
}

// stepDisconnected discards whatever is left of the previous cycle and
// waits out the next backoff delay.
func (w *Watcher) stepDisconnected() State {
	w.discardSession()

	delay := w.backoff.Next()
	if delay > 0 {
		w.log.Debugf("Reconnecting in %s", delay)
	}
	w.sleep(delay)
	return StateConnecting
}

// stepConnecting starts a fresh session and opens the transport.
func (w *Watcher) stepConnecting() State {
	w.log = w.baselog.WithField("cycle_id", uuid.New().String())
	w.sess = w.newSession()

	if err := w.sess.Connect(w.creds.Host, w.creds.Port); err != nil {
		w.log.Warnf("Connection error: %v", err)
		return StateDisconnected
	}
	return StateAuthenticating
}

// stepAuthenticating negotiates TLS and logs in. Trust and credential
// rejections are fatal; a broken greeting is retried like any other
// connectivity problem.
func (w *Watcher) stepAuthenticating() (State, error) {
	if err := w.sess.Secure(); err != nil {
		if isFatal(err) {
			return StateDisconnected, err
		}
		w.log.Warnf("Security negotiation error: %v", err)
		return StateDisconnected, nil
	}

	if err := w.sess.Login(w.creds.User, w.creds.Pass); err != nil {
		if isFatal(err) {
			return StateDisconnected, err
		}
		w.log.Warnf("Login error: %v", err)
		return StateDisconnected, nil
	}

	w.log.Debug("Authenticated")
	return StateProbingCapabilities, nil
}

// stepProbingCapabilities decides between push and poll for this cycle.
func (w *Watcher) stepProbingCapabilities() State {
	caps, err := w.sess.Capabilities()
	if err != nil {
		w.log.Debugf("Capability query error: %v", err)
		return StateDisconnected
	}

	w.canIdle = caps.Has(imap.IdleCapability)
	w.log.Debugf("Server push support: %t", w.canIdle)
	return StateSelectingMailbox
}

// stepSelectingMailbox opens the watched mailbox and records its size.
func (w *Watcher) stepSelectingMailbox() State {
	total, err := w.sess.SelectReadOnly(watchedMailbox)
	if err != nil {
		w.log.Debugf("Folder selection error: %v", err)
		return StateDisconnected
	}

	w.total = total
	return StateObserving
}

// stepObserving counts unread messages, publishes the observation and
// rearms the backoff, then hands over to the watch strategy the server
// supports.
func (w *Watcher) stepObserving() State {
	ids, err := w.sess.SearchUnseen()
	if err != nil {
		w.log.Debugf("Error searching for unseen messages: %v", err)
		return StateDisconnected
	}

	obs := models.Observation{Unread: uint32(len(ids)), Total: w.total}
	if err := w.reporter.Emit(obs); err != nil {
		w.log.Warnf("Error emitting status line: %v", err)
	}
	w.backoff.Reset()
	w.log.Debugf("Mailbox observed: %d unread of %d", obs.Unread, obs.Total)

	if w.canIdle {
		return StateIdling
	}
	return StatePolling
}

// stepIdling runs one push wait: subscribe, block until a change or the
// keep-alive cutoff, unsubscribe. Any failure discards the connection.
func (w *Watcher) stepIdling() State {
	if err := w.sess.IdleBegin(); err != nil {
		w.log.Debugf("Idle subscription error: %v", err)
		return StateDisconnected
	}
	if err := w.sess.IdleWait(w.keepAlive); err != nil {
		w.log.Debugf("Idle wait error: %v", err)
		return StateDisconnected
	}
	if err := w.sess.IdleEnd(); err != nil {
		w.log.Debugf("Idle teardown error: %v", err)
		return StateDisconnected
	}
	return StateSelectingMailbox
}

// stepPolling waits out the poll interval before observing again.
func (w *Watcher) stepPolling() State {
	w.sleep(w.pollInterval)
	return StateSelectingMailbox
}

// discardSession closes and drops every remnant of the previous cycle;
// nothing survives a return to the disconnected state.
func (w *Watcher) discardSession() {
	if w.sess != nil {
		if err := w.sess.Close(); err != nil {
			w.log.Debugf("Error discarding session: %v", err)
		}
		w.sess = nil
	}
	w.canIdle = false
	w.total = 0
	w.log = w.baselog
}

// isFatal reports whether err belongs to one of the error classes that
// retrying cannot fix.
func isFatal(err error) bool {
	var secErr *imap.SecurityError
	var authErr *imap.AuthError
	return errors.As(err, &secErr) || errors.As(err, &authErr)
}
