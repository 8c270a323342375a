package models

import (
	"net"
	"strconv"
)

// Credentials represents a fully resolved IMAP account: where to connect
// and how to authenticate. It is resolved once at startup and never
// mutated afterwards.
type Credentials struct {
	Host string
	Port uint16
	User string
	Pass string
}

// Addr returns the host:port dial address for the account.
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// String renders only the server coordinates. The user and password are
// omitted so credentials can never reach a log line through formatting.
func (c Credentials) String() string {
	return c.Addr()
}
