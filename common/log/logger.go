// Package log configures the process-wide logrus logger.
package log

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ldv-klever/klever-scheduler/common/log/hooks"
)

// LevelEnv overrides the log level of test binaries.
const LevelEnv = "KLEVER_LOGLEVEL"

// Configure sets the global level and installs the context hook.
func Configure(level string) error {
	l, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(l)
	log.AddHook(hooks.NewContextHook())
	return nil
}

// ConfigureFromEnv is meant for package init() in tests: it honours
// KLEVER_LOGLEVEL and otherwise keeps test output quiet.
func ConfigureFromEnv() {
	if level := os.Getenv(LevelEnv); level != "" {
		if err := Configure(level); err != nil {
			log.Error(err)
		}
		return
	}
	log.SetLevel(log.ErrorLevel)
}
