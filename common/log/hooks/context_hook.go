package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

type contextHook struct {
}

// NewContextHook returns a hook that tags every entry with the file:line of
// the call site that emitted it.
func NewContextHook() contextHook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	lines := strings.Split(string(debug.Stack()), "\n")
	// After the goroutine header, frames come in pairs (function, file:line).
	// Skip everything up to and including logrus itself, the first file line
	// after that is the caller.
	inLogrus := false
	for i := 2; i < len(lines); i += 2 {
		file := strings.TrimSpace(lines[i])
		if strings.Contains(file, "sirupsen/logrus") {
			inLogrus = true
			continue
		}
		if !inLogrus {
			continue
		}
		ctx := strings.Split(file, "klever-scheduler/")
		entry.Data["file:line"] = strings.Split(ctx[len(ctx)-1], " ")[0]
		break
	}
	return nil
}
