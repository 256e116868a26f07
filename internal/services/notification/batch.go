package notificationservice

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/risk"
)

type batchEntry struct {
	event  *event.NormalizedEvent
	report *risk.Report
}

// batchWindow collects an operator's batch operations in arrival order
type batchWindow struct {
	started time.Time
	entries []batchEntry
}

func (w *batchWindow) expired(now time.Time, window time.Duration) bool {
	return now.Sub(w.started) > window
}

// appendToWindow adds ev to its operator's window. It returns the merged
// entries when the window reached BatchMax and was closed, and the window size.
func (r *Router) appendToWindow(ev *event.NormalizedEvent, report *risk.Report) ([]batchEntry, int) {
	now := r.now()
	entry := batchEntry{event: ev, report: report}

	var (
		flushed []batchEntry
		size    int
	)
	r.windows.Compute(windowKey(ev), func(w *batchWindow, loaded bool) (*batchWindow, xsync.ComputeOp) {
		if !loaded || w.expired(now, r.cfg.BatchWindow) {
			w = &batchWindow{started: now}
		} else {
			// copy on write, Sweep may still hold the old value
			w = &batchWindow{started: w.started, entries: append([]batchEntry(nil), w.entries...)}
		}
		w.entries = append(w.entries, entry)
		size = len(w.entries)

		if r.cfg.BatchMax > 0 && len(w.entries) >= r.cfg.BatchMax {
			flushed = w.entries
			return nil, xsync.DeleteOp
		}
		return w, xsync.UpdateOp
	})

	return flushed, size
}
