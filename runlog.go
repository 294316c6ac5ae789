package syncdata

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// RunLog accumulates the textual report of one importer run, mirroring full
// lines to a structured logger. Progress marks are buffer-only, one character
// per processed item, so a run reads like:
//
//	validate
//	...x..
type RunLog struct {
	mu     sync.Mutex
	buf    strings.Builder
	logger *zap.SugaredLogger
}

// NewRunLog creates a run log mirroring to logger. A nil logger buffers only.
func NewRunLog(logger *zap.Logger) *RunLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLog{
		logger: logger.Sugar(),
	}
}

// Printf appends a formatted line to the report and mirrors it to the
// structured logger.
func (l *RunLog) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)

	l.mu.Lock()
	l.buf.WriteString(line)
	l.buf.WriteString("\n")
	l.mu.Unlock()

	l.logger.Info(strings.TrimSpace(line))
}

// Mark appends a progress character to the report without a line break.
func (l *RunLog) Mark(mark string) {
	l.mu.Lock()
	l.buf.WriteString(mark)
	l.mu.Unlock()
}

// Banner appends a framed section header to the report.
func (l *RunLog) Banner(title string) {
	l.Printf("\n===== %s =====", title)
}

// String returns the accumulated report text.
func (l *RunLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
