package pipeline

import (
	"fmt"

	"math-mentor/api/internal/types"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusOverride Status = "override"
	StatusFallback Status = "fallback"
	StatusError    Status = "error"
	StatusNone     Status = "none"
	StatusHalted   Status = "halted"
	StatusAdvisory Status = "advisory"
)

// TraceEntry: запись журнала прогона; журнал только дополняется.
type TraceEntry struct {
	Stage   types.Stage `json:"stage"`
	Status  Status      `json:"status"`
	Summary string      `json:"summary"`
	Payload any         `json:"payload,omitempty"`
}

type trace struct {
	entries []TraceEntry
}

func (t *trace) add(stage types.Stage, status Status, payload any, format string, args ...any) {
	t.entries = append(t.entries, TraceEntry{
		Stage:   stage,
		Status:  status,
		Summary: fmt.Sprintf(format, args...),
		Payload: payload,
	})
}

// snapshot отдаёт копию, чтобы вызывающий не видел последующих дописок.
func (t *trace) snapshot() []TraceEntry {
	return append([]TraceEntry(nil), t.entries...)
}

// RunError: прогон прерван; Trace содержит всё, что успело произойти.
type RunError struct {
	Stage types.Stage
	Trace []TraceEntry
	Err   error
}

func (e *RunError) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err) }
func (e *RunError) Unwrap() error { return e.Err }
