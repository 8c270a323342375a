package creds

import (
	"bufio"
	"errors"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"mailwatch/internal/models"
)

// DefaultPort is assumed whenever the configuration names a server without
// an explicit port.
const DefaultPort = 993

// FromMuttFile resolves credentials from a mutt-style configuration file.
// It scans every line for the imap_user, imap_pass and folder directives,
// later occurrences overriding earlier ones, and leaves defaults in place
// for anything the file does not mention.
func FromMuttFile(path string) (models.Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Credentials{}, &ConfigError{Reason: "reading credentials file", Err: err}
	}

	c := models.Credentials{Port: DefaultPort}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.Contains(line, "imap_pass") {
			if v, ok := directiveValue(line); ok {
				pass, err := expandPassword(v)
				if err != nil {
					return models.Credentials{}, err
				}
				c.Pass = pass
			}
		}
		if strings.Contains(line, "imap_user") {
			if v, ok := directiveValue(line); ok {
				c.User = v
			}
		}
		if strings.Contains(line, "folder") {
			if v, ok := directiveValue(line); ok {
				if err := applyFolderURL(&c, v); err != nil {
					return models.Credentials{}, err
				}
			}
		}
	}
	return c, nil
}

// FromStream resolves credentials from an interactive stream. The first
// line is the password; the remaining lines may carry "user:<name>" and
// "imap:<host>" or "imap:<host>:<port>" overrides.
func FromStream(r io.Reader) (models.Credentials, error) {
	c := models.Credentials{Port: DefaultPort}

	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return models.Credentials{}, &ConfigError{Reason: "reading credential stream", Err: err}
		}
		return c, nil
	}
	c.Pass = strings.TrimSpace(sc.Text())

	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "user:"); ok {
			c.User = v
			continue
		}
		v, ok := strings.CutPrefix(line, "imap:")
		if !ok {
			continue
		}
		host, port, hasPort := strings.Cut(v, ":")
		c.Host = host
		if hasPort {
			p, err := strconv.ParseUint(port, 10, 16)
			if err != nil {
				return models.Credentials{}, &ConfigError{Reason: "parsing server port", Err: err}
			}
			c.Port = uint16(p)
		}
	}
	if err := sc.Err(); err != nil {
		return models.Credentials{}, &ConfigError{Reason: "reading credential stream", Err: err}
	}
	return c, nil
}

// directiveValue extracts the value of a "name = value" line, stripping
// surrounding whitespace, then single quotes, then double quotes. Lines
// without an equals sign carry no value.
func directiveValue(line string) (string, bool) {
	_, v, ok := strings.Cut(line, "=")
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "'")
	v = strings.Trim(v, `"`)
	return v, true
}

// expandPassword resolves a password directive value. A value wrapped in
// backticks is a shell command whose first output line is the password;
// anything else is taken literally.
func expandPassword(v string) (string, error) {
	if !strings.HasPrefix(v, "`") {
		return v, nil
	}

	out, err := exec.Command("/bin/sh", "-c", strings.Trim(v, "`")).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", &ConfigError{Reason: "running password command", Err: err}
		}
		// The command ran but exited non-zero; whatever it printed still counts.
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// applyFolderURL fills the host and port from a mutt folder URL such as
// imaps://mail.example.com:993/. Missing components leave the current
// values untouched.
func applyFolderURL(c *models.Credentials, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Reason: "parsing folder URL", Err: err}
	}
	if h := u.Hostname(); h != "" {
		c.Host = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return &ConfigError{Reason: "parsing folder URL port", Err: err}
		}
		c.Port = uint16(port)
	}
	return nil
}
