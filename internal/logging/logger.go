package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// LevelEnv overrides the log verbosity, accepting any logrus level name.
const LevelEnv = "MAILWATCH_LOG"

// Log writes to stderr; stdout is reserved for the status lines the bar
// consumes.
var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	Log.SetOutput(os.Stderr)
	Log.SetLevel(levelFromEnv())
}

func levelFromEnv() logrus.Level {
	raw := os.Getenv(LevelEnv)
	if raw == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
