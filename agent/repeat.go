package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// Verdict is the repeat detector's classification of a candidate call.
type Verdict int

const (
	// VerdictAllow lets the call execute normally.
	VerdictAllow Verdict = iota
	// VerdictWarn lets a short run of duplicates execute; models
	// legitimately retry (polling a timer, re-reading a sensor).
	VerdictWarn
	// VerdictForceStop blocks the call: a synthetic result tells the model
	// further identical calls will not run.
	VerdictForceStop
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictWarn:
		return "warn"
	case VerdictForceStop:
		return "force_stop"
	}
	return "unknown"
}

// CanonicalArguments returns an order-independent serialization of a call's
// argument payload. JSON objects round-trip through a map, which marshals
// with sorted keys, so key order in the model's output does not matter.
func CanonicalArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Unparseable arguments compare by their raw bytes.
		return string(raw)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}

// callSignature computes a deterministic signature for a tool call
// (name + hash of canonical arguments).
func callSignature(req ToolCallRequest) string {
	h := sha256.Sum256([]byte(CanonicalArguments(req.Arguments)))
	return fmt.Sprintf("%s:%x", req.Name, h[:8])
}

// RepeatDetector breaks infinite tool-calling loops caused by a model
// issuing the same call indefinitely.
type RepeatDetector struct {
	softLimit int
}

// NewRepeatDetector creates a detector capping consecutive identical calls
// at softLimit executions. Values below 1 fall back to the default of 2.
func NewRepeatDetector(softLimit int) *RepeatDetector {
	if softLimit < 1 {
		softLimit = 2
	}
	return &RepeatDetector{softLimit: softLimit}
}

// SoftLimit returns the configured consecutive-duplicate cap.
func (d *RepeatDetector) SoftLimit() int { return d.softLimit }

// Classify counts the maximal suffix of history consisting of calls
// identical to candidate and returns the verdict plus that count.
// Executions 1..softLimit run; the next identical attempt is intercepted.
func (d *RepeatDetector) Classify(history []ToolCallRequest, candidate ToolCallRequest) (Verdict, int) {
	sig := callSignature(candidate)

	run := 0
	for i := len(history) - 1; i >= 0; i-- {
		if callSignature(history[i]) != sig {
			break
		}
		run++
	}

	switch {
	case run == 0:
		return VerdictAllow, 0
	case run < d.softLimit:
		return VerdictWarn, run
	default:
		return VerdictForceStop, run
	}
}

// History is the per-turn record of requested tool calls. It is reset at
// the start of each turn and appended under a single-writer discipline even
// when executions themselves run concurrently.
type History struct {
	requests []ToolCallRequest
	mu       sync.Mutex
}

// NewHistory creates an empty invocation history.
func NewHistory() *History {
	return &History{}
}

// Append records a request, whether or not it actually ran, so subsequent
// repeat checks in the same batch see it.
func (h *History) Append(req ToolCallRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
}

// Snapshot returns a copy of the recorded requests.
func (h *History) Snapshot() []ToolCallRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ToolCallRequest, len(h.requests))
	copy(out, h.requests)
	return out
}

// Len returns the number of recorded requests.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}
