package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/kicad-prism/pkg/log"
)

// Handle is the worker-side view of a running job.
type Handle struct {
	reg *Registry
	rec *record
}

func (h *Handle) ID() string {
	return h.rec.id
}

// SetProgress updates the current step. percent is clamped to [0,100] and
// never moves backwards; an empty message keeps the previous one.
func (h *Handle) SetProgress(message string, percent int) {
	percent = min(max(percent, 0), 100)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.rec.job.Status.Terminal() {
		return
	}
	if message != "" {
		h.rec.job.Message = message
	}
	if percent > h.rec.job.Percent {
		h.rec.job.Percent = percent
	}
	h.rec.job.UpdatedAt = h.reg.now()
}

// Log appends one line per non-empty line of text.
func (h *Handle) Log(text string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	h.rec.mu.Lock()
	if h.rec.job.Status.Terminal() {
		h.rec.mu.Unlock()
		return
	}
	appended := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		h.rec.job.Logs = append(h.rec.job.Logs, line)
		appended++
	}
	if appended > 0 {
		h.rec.job.UpdatedAt = h.reg.now()
	}
	h.rec.mu.Unlock()

	// jobset output can be large, skip the mirror unless debugging
	if appended > 0 && h.rec.logger.Level() <= log.LevelDebug {
		h.rec.logger.Debug("%s", strings.TrimSpace(text))
	}
}

func (h *Handle) Logf(format string, args ...any) {
	h.Log(fmt.Sprintf(format, args...))
}

// Own registers a cleanup that runs once the job has been deleted (or
// reaped) and is no longer running.
func (h *Handle) Own(cleanup func()) {
	if cleanup == nil {
		return
	}
	h.rec.mu.Lock()
	if h.rec.deleted && h.rec.job.Status != StatusRunning {
		h.rec.mu.Unlock()
		runCleanups(h.rec.id, []func(){cleanup})
		return
	}
	h.rec.cleanups = append(h.rec.cleanups, cleanup)
	h.rec.mu.Unlock()
}

func runCleanups(id string, cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("Cleanup for job %s panicked: %v", id, r)
				}
			}()
			cleanups[i]()
		}()
	}
}

func elapsedSince(start time.Time, now time.Time) time.Duration {
	if start.IsZero() {
		return 0
	}
	return now.Sub(start)
}
