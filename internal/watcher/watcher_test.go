package watcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"mailwatch/internal/imap"
	"mailwatch/internal/models"
	"mailwatch/internal/status"
)

// fakeSession scripts one collaborator per lifecycle phase. Each errs queue
// is consumed call by call; an empty queue or a nil entry means success.
type fakeSession struct {
	connectErrs   []error
	secureErrs    []error
	loginErrs     []error
	capsErrs      []error
	selectErrs    []error
	searchErrs    []error
	idleBeginErrs []error
	idleWaitErrs  []error
	idleEndErrs   []error

	idleCapable bool
	total       uint32
	unseen      []uint32

	calls       []string
	closes      int
	lastIdleMax time.Duration
}

func take(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (f *fakeSession) Connect(host string, port uint16) error {
	f.calls = append(f.calls, "connect")
	return take(&f.connectErrs)
}

func (f *fakeSession) Secure() error {
	f.calls = append(f.calls, "secure")
	return take(&f.secureErrs)
}

func (f *fakeSession) Login(user, password string) error {
	f.calls = append(f.calls, "login")
	return take(&f.loginErrs)
}

func (f *fakeSession) Capabilities() (imap.CapabilitySet, error) {
	f.calls = append(f.calls, "capabilities")
	if err := take(&f.capsErrs); err != nil {
		return nil, err
	}
	caps := imap.CapabilitySet{}
	if f.idleCapable {
		caps[imap.IdleCapability] = true
	}
	return caps, nil
}

func (f *fakeSession) SelectReadOnly(mailbox string) (uint32, error) {
	f.calls = append(f.calls, "select "+mailbox)
	if err := take(&f.selectErrs); err != nil {
		return 0, err
	}
	return f.total, nil
}

func (f *fakeSession) SearchUnseen() ([]uint32, error) {
	f.calls = append(f.calls, "search")
	if err := take(&f.searchErrs); err != nil {
		return nil, err
	}
	return f.unseen, nil
}

func (f *fakeSession) IdleBegin() error {
	f.calls = append(f.calls, "idle-begin")
	return take(&f.idleBeginErrs)
}

func (f *fakeSession) IdleWait(max time.Duration) error {
	f.calls = append(f.calls, "idle-wait")
	f.lastIdleMax = max
	return take(&f.idleWaitErrs)
}

func (f *fakeSession) IdleEnd() error {
	f.calls = append(f.calls, "idle-end")
	return take(&f.idleEndErrs)
}

func (f *fakeSession) Close() error {
	f.calls = append(f.calls, "close")
	f.closes++
	return nil
}

func newTestWatcher(t *testing.T, fake *fakeSession) (*Watcher, *bytes.Buffer, *[]time.Duration) {
	t.Helper()

	var buf bytes.Buffer
	slept := &[]time.Duration{}

	creds := models.Credentials{Host: "mail.example.com", Port: 993, User: "someone", Pass: "pw"}
	w := NewWatcher(creds, func() imap.Session { return fake }, status.NewReporter(status.FormatI3Bar, &buf))
	w.sleep = func(d time.Duration) { *slept = append(*slept, d) }

	return w, &buf, slept
}

// drive advances the watcher the given number of transitions, failing the
// test on any fatal error.
func drive(t *testing.T, w *Watcher, from State, steps int) State {
	t.Helper()

	st := from
	for i := 0; i < steps; i++ {
		next, err := w.step(st)
		if err != nil {
			t.Fatalf("step(%v) returned a fatal error: %v", st, err)
		}
		st = next
	}
	return st
}

func emittedLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()

	raw := strings.TrimRight(buf.String(), "\n")
	if raw == "" {
		return nil
	}
	var lines []map[string]string
	for _, l := range strings.Split(raw, "\n") {
		var fields map[string]string
		if err := json.Unmarshal([]byte(l), &fields); err != nil {
			t.Fatalf("Failed to decode emitted line %q: %v", l, err)
		}
		lines = append(lines, fields)
	}
	return lines
}

func TestPollingLifecycle(t *testing.T) {
	fake := &fakeSession{total: 42, unseen: []uint32{7, 9, 11}}
	w, buf, slept := newTestWatcher(t, fake)

	st := drive(t, w, StateDisconnected, 6)
	if st != StatePolling {
		t.Fatalf("State after observe = %v, want %v", st, StatePolling)
	}

	wantCalls := []string{"connect", "secure", "login", "capabilities", "select INBOX", "search"}
	if len(fake.calls) != len(wantCalls) {
		t.Fatalf("Calls = %v, want %v", fake.calls, wantCalls)
	}
	for i, call := range wantCalls {
		if fake.calls[i] != call {
			t.Errorf("Call %d = %q, want %q", i, fake.calls[i], call)
		}
	}

	lines := emittedLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("Emitted %d lines, want 1: %q", len(lines), buf.String())
	}
	if lines[0]["full_text"] != "(3) 42" {
		t.Errorf("Expected full_text '(3) 42', got '%s'", lines[0]["full_text"])
	}
	if lines[0]["color"] != "#ffcc00" {
		t.Errorf("Expected accent color on unread mail, got '%s'", lines[0]["color"])
	}

	st = drive(t, w, st, 1)
	if st != StateSelectingMailbox {
		t.Errorf("State after poll sleep = %v, want %v", st, StateSelectingMailbox)
	}
	if want := []time.Duration{0, PollInterval}; len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("Sleeps = %v, want %v", *slept, want)
	}
}

func TestReconnectBackoffAndReset(t *testing.T) {
	connectFailure := errors.New("connection refused")
	fake := &fakeSession{
		connectErrs: []error{connectFailure, connectFailure, connectFailure},
		searchErrs:  []error{nil, errors.New("search broke")},
		total:       5,
	}
	w, buf, slept := newTestWatcher(t, fake)

	st := drive(t, w, StateDisconnected, 16)
	if st != StateConnecting {
		t.Fatalf("State after 16 steps = %v, want %v", st, StateConnecting)
	}

	want := []time.Duration{0, 60 * time.Second, 120 * time.Second, 500 * time.Second, PollInterval, 0}
	if len(*slept) != len(want) {
		t.Fatalf("Sleeps = %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("Sleep %d = %v, want %v", i, (*slept)[i], d)
		}
	}

	lines := emittedLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("Emitted %d lines, want 1", len(lines))
	}
	if lines[0]["full_text"] != "(0) 5" {
		t.Errorf("Expected full_text '(0) 5', got '%s'", lines[0]["full_text"])
	}
	if lines[0]["color"] != "" {
		t.Errorf("Expected no accent color without unread mail, got '%s'", lines[0]["color"])
	}

	if fake.closes != 4 {
		t.Errorf("Sessions closed %d times, want 4", fake.closes)
	}
}

func TestIdleLifecycle(t *testing.T) {
	fake := &fakeSession{idleCapable: true, total: 10, unseen: []uint32{3}}
	w, buf, _ := newTestWatcher(t, fake)

	st := drive(t, w, StateDisconnected, 6)
	if st != StateIdling {
		t.Fatalf("State after observe = %v, want %v", st, StateIdling)
	}

	st = drive(t, w, st, 1)
	if st != StateSelectingMailbox {
		t.Fatalf("State after idle wake = %v, want %v", st, StateSelectingMailbox)
	}
	if fake.lastIdleMax != KeepAlive {
		t.Errorf("Idle wait ceiling = %v, want %v", fake.lastIdleMax, KeepAlive)
	}

	tail := fake.calls[len(fake.calls)-3:]
	wantTail := []string{"idle-begin", "idle-wait", "idle-end"}
	for i, call := range wantTail {
		if tail[i] != call {
			t.Errorf("Idle call %d = %q, want %q", i, tail[i], call)
		}
	}

	st = drive(t, w, st, 2)
	if st != StateIdling {
		t.Fatalf("State after re-observe = %v, want %v", st, StateIdling)
	}
	if lines := emittedLines(t, buf); len(lines) != 2 {
		t.Errorf("Emitted %d lines after two observations, want 2", len(lines))
	}
}

func TestIdleWaitFailureReconnects(t *testing.T) {
	fake := &fakeSession{
		idleCapable:  true,
		idleWaitErrs: []error{errors.New("connection reset")},
	}
	w, _, _ := newTestWatcher(t, fake)

	st := drive(t, w, StateDisconnected, 7)
	if st != StateDisconnected {
		t.Fatalf("State after idle failure = %v, want %v", st, StateDisconnected)
	}

	last := fake.calls[len(fake.calls)-1]
	if last != "idle-wait" {
		t.Errorf("Last call = %q, want idle-wait", last)
	}
	for _, call := range fake.calls {
		if call == "idle-end" {
			t.Error("Idle teardown ran even though the wait already failed")
		}
	}
}

func TestIdleBeginFailureReconnects(t *testing.T) {
	fake := &fakeSession{
		idleCapable:   true,
		idleBeginErrs: []error{errors.New("server hiccup")},
	}
	w, _, _ := newTestWatcher(t, fake)

	if st := drive(t, w, StateDisconnected, 7); st != StateDisconnected {
		t.Errorf("State after idle subscription failure = %v, want %v", st, StateDisconnected)
	}
}

func TestIdleEndFailureReconnects(t *testing.T) {
	fake := &fakeSession{
		idleCapable: true,
		idleEndErrs: []error{errors.New("closing handshake went unanswered")},
	}
	w, _, _ := newTestWatcher(t, fake)

	st := drive(t, w, StateDisconnected, 7)
	if st != StateDisconnected {
		t.Fatalf("State after idle teardown failure = %v, want %v", st, StateDisconnected)
	}

	last := fake.calls[len(fake.calls)-1]
	if last != "idle-end" {
		t.Errorf("Last call = %q, want idle-end", last)
	}
	if fake.closes != 0 {
		t.Fatalf("Session closed before re-entering the disconnected state")
	}

	drive(t, w, st, 1)
	if fake.closes != 1 {
		t.Errorf("Sessions closed %d times after the teardown failure, want 1", fake.closes)
	}
}

func TestCapabilityFailureReconnects(t *testing.T) {
	fake := &fakeSession{capsErrs: []error{errors.New("bad response")}}
	w, _, _ := newTestWatcher(t, fake)

	if st := drive(t, w, StateDisconnected, 4); st != StateDisconnected {
		t.Errorf("State after capability failure = %v, want %v", st, StateDisconnected)
	}
}

func TestSelectFailureReconnects(t *testing.T) {
	fake := &fakeSession{selectErrs: []error{errors.New("no such mailbox")}}
	w, _, _ := newTestWatcher(t, fake)

	if st := drive(t, w, StateDisconnected, 5); st != StateDisconnected {
		t.Errorf("State after select failure = %v, want %v", st, StateDisconnected)
	}
}

func TestGreetingFailureRetries(t *testing.T) {
	fake := &fakeSession{
		loginErrs: []error{&imap.TransportError{Op: "greeting", Err: errors.New("EOF")}},
	}
	w, _, _ := newTestWatcher(t, fake)

	if st := drive(t, w, StateDisconnected, 3); st != StateDisconnected {
		t.Errorf("State after greeting failure = %v, want %v", st, StateDisconnected)
	}
}

func TestAuthFailureIsFatal(t *testing.T) {
	fake := &fakeSession{
		loginErrs: []error{&imap.AuthError{Err: errors.New("NO LOGIN failed")}},
	}
	w, _, _ := newTestWatcher(t, fake)

	err := w.Run()
	if err == nil {
		t.Fatal("Run() returned nil after a rejected login")
	}
	var authErr *imap.AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("Run() error = %T, want *imap.AuthError", err)
	}
	if fake.closes != 1 {
		t.Errorf("Sessions closed %d times, want 1", fake.closes)
	}
}

func TestSecurityFailureIsFatal(t *testing.T) {
	fake := &fakeSession{
		secureErrs: []error{&imap.SecurityError{Host: "mail.example.com", Err: errors.New("bad certificate")}},
	}
	w, _, _ := newTestWatcher(t, fake)

	err := w.Run()
	if err == nil {
		t.Fatal("Run() returned nil after a failed TLS negotiation")
	}
	var secErr *imap.SecurityError
	if !errors.As(err, &secErr) {
		t.Errorf("Run() error = %T, want *imap.SecurityError", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("stdout is gone")
}

func TestEmitFailureDoesNotStopTheWatcher(t *testing.T) {
	fake := &fakeSession{total: 3, unseen: []uint32{1}}

	creds := models.Credentials{Host: "mail.example.com", Port: 993}
	w := NewWatcher(creds, func() imap.Session { return fake }, status.NewReporter(status.FormatI3Bar, failingWriter{}))
	w.sleep = func(time.Duration) {}

	if st := drive(t, w, StateDisconnected, 6); st != StatePolling {
		t.Errorf("State after failed emit = %v, want %v", st, StatePolling)
	}
}

func TestStateStrings(t *testing.T) {
	states := []State{
		StateDisconnected,
		StateConnecting,
		StateAuthenticating,
		StateProbingCapabilities,
		StateSelectingMailbox,
		StateObserving,
		StateIdling,
		StatePolling,
	}

	seen := map[string]bool{}
	for _, st := range states {
		name := st.String()
		if name == "unknown" || name == "" {
			t.Errorf("State %d has no name", int(st))
		}
		if seen[name] {
			t.Errorf("State name %q is not unique", name)
		}
		seen[name] = true
	}

	if State(99).String() != "unknown" {
		t.Errorf("State(99).String() = %q, want unknown", State(99).String())
	}
}
