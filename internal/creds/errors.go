package creds

import "fmt"

// ConfigError represents a credential resolution failure: an unreadable
// credentials file, a failing password command or a malformed directive.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials: %s: %v", e.Reason, e.Err)
	}
	return "credentials: " + e.Reason
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
