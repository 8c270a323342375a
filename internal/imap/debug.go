package imap

import (
	"io"
	"strings"
)

const redactedMarker = "** LOGIN EXCHANGE REDACTED **\r\n"

// redactingWriter passes protocol traffic through to out, replacing any
// chunk that carries a LOGIN exchange so credentials never reach the trace.
type redactingWriter struct {
	out io.Writer
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if containsLogin(p) {
		if _, err := io.WriteString(w.out, redactedMarker); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	if _, err := w.out.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func containsLogin(p []byte) bool {
	return strings.Contains(strings.ToUpper(string(p)), "LOGIN")
}
