package main

import (
	"flag"
	"os"

	"mailwatch/internal/creds"
	imapclient "mailwatch/internal/imap"
	"mailwatch/internal/logging"
	"mailwatch/internal/models"
	"mailwatch/internal/status"
	"mailwatch/internal/watcher"
)

// Exit codes, so supervisors can tell a bad configuration from a server
// that rejects us.
const (
	exitConfig = 1
	exitFatal  = 2
)

// IMAPDebugEnv turns on redacted protocol tracing to stderr when set.
const IMAPDebugEnv = "MAILWATCH_IMAP_DEBUG"

func main() {
	formatName := flag.String("format", "i3-bar-format", "status line encoding: i3-bar-format or waybar-format")
	flag.Parse()

	format, err := status.ParseFormat(*formatName)
	if err != nil {
		logging.Log.Errorf("Unusable status format: %v", err)
		os.Exit(exitConfig)
	}

	credentials, err := resolveCredentials(flag.Arg(0))
	if err != nil {
		logging.Log.Errorf("Error resolving credentials: %v", err)
		os.Exit(exitConfig)
	}
	if credentials.Host == "" {
		logging.Log.Warn("No IMAP host configured; every connection attempt will fail until the configuration names one")
	}

	logging.Log.Infof("Watching INBOX on %s, reporting in %s", credentials, format)

	debugIMAP := os.Getenv(IMAPDebugEnv) != ""
	newSession := func() imapclient.Session {
		s := imapclient.NewStandardSession()
		if debugIMAP {
			s.SetDebugWriter(os.Stderr)
		}
		return s
	}

	reporter := status.NewReporter(format, os.Stdout)
	w := watcher.NewWatcher(credentials, newSession, reporter)

	err = w.Run()
	logging.Log.Errorf("Watcher stopped: %v", err)
	os.Exit(exitFatal)
}

// resolveCredentials picks the file strategy when a path argument is given
// and falls back to reading the standard input stream otherwise.
func resolveCredentials(path string) (models.Credentials, error) {
	if path != "" {
		return creds.FromMuttFile(path)
	}
	logging.Log.Debug("No credentials file given, reading credentials from stdin")
	return creds.FromStream(os.Stdin)
}
