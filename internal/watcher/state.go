package watcher

// State represents one phase of the session lifecycle
type State int

const (
	// StateDisconnected is the resting point between connection cycles.
	// Every recoverable failure funnels back here.
	StateDisconnected State = iota
	// StateConnecting opens the transport to the server.
	StateConnecting
	// StateAuthenticating secures the transport and logs in.
	StateAuthenticating
	// StateProbingCapabilities asks the server whether it can push changes.
	StateProbingCapabilities
	// StateSelectingMailbox opens the watched mailbox read-only.
	StateSelectingMailbox
	// StateObserving counts unread messages and publishes the result.
	StateObserving
	// StateIdling waits for the server to push a mailbox change.
	StateIdling
	// StatePolling waits out the poll interval on servers without push.
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateProbingCapabilities:
		return "probing-capabilities"
	case StateSelectingMailbox:
		return "selecting-mailbox"
	case StateObserving:
		return "observing"
	case StateIdling:
		return "idling"
	case StatePolling:
		return "polling"
	}
	return "unknown"
}
