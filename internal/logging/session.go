package logging

import (
	"time"

	"github.com/google/uuid"

	"github.com/tis24dev/pgsave/pkg/utils"
)

// Session tags every line of one operation run with a short run identifier
// so that interleaved runs (e.g. a detached archive drain next to a backup)
// can be told apart in the shared stanza log.
type Session struct {
	logger    *Logger
	runID     string
	operation string
	stanza    string
	started   time.Time
}

// StartSession opens a run session on the given logger and logs the banner
// line. The caller must invoke End exactly once when the run finishes.
func StartSession(logger *Logger, operation, stanza string) *Session {
	s := &Session{
		logger:    logger,
		runID:     uuid.New().String()[:8],
		operation: operation,
		stanza:    stanza,
		started:   time.Now(),
	}
	logger.Info("run %s: %s started (stanza=%s)", s.runID, operation, stanza)
	return s
}

// RunID returns the short run identifier.
func (s *Session) RunID() string {
	if s == nil {
		return ""
	}
	return s.runID
}

// End logs the closing line with the run outcome and duration.
func (s *Session) End(err error) {
	if s == nil {
		return
	}
	elapsed := utils.FormatDuration(time.Since(s.started))
	if err != nil {
		s.logger.Error("run %s: %s failed after %s: %v", s.runID, s.operation, elapsed, err)
		return
	}
	s.logger.Info("run %s: %s completed in %s", s.runID, s.operation, elapsed)
}
