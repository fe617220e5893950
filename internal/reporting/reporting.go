package reporting

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
)

// Reporter forwards unexpected errors to an error tracker.
type Reporter interface {
	Error(err error, extras map[string]interface{})
	Close()
}

// New returns a Rollbar reporter when token is set and a log-only reporter otherwise.
func New(token, env, version string) Reporter {
	if token == "" {
		return LogReporter{}
	}
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetCodeVersion(version)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(true)
	return Rollbar{}
}

// Rollbar reports through the global rollbar client.
type Rollbar struct{}

func (Rollbar) Error(err error, extras map[string]interface{}) {
	log.Printf("error: %v %v", err, extras)
	rollbar.Error(err, extras)
}

// Close flushes queued items.
func (Rollbar) Close() {
	rollbar.Close()
}

// LogReporter writes errors to the standard logger.
type LogReporter struct{}

func (LogReporter) Error(err error, extras map[string]interface{}) {
	log.Printf("error: %v %v", err, extras)
}

func (LogReporter) Close() {}
