package agent

import (
	"encoding/json"
	"testing"
)

func call(name, args string) ToolCallRequest {
	return ToolCallRequest{ID: "c-" + name, Name: name, Arguments: json.RawMessage(args)}
}

func TestCanonicalArgumentsKeyOrder(t *testing.T) {
	a := CanonicalArguments(json.RawMessage(`{"city":"Berlin","units":"metric"}`))
	b := CanonicalArguments(json.RawMessage(`{"units":"metric","city":"Berlin"}`))
	if a != b {
		t.Errorf("key order changed canonical form: %q vs %q", a, b)
	}
}

func TestCanonicalArgumentsWhitespace(t *testing.T) {
	a := CanonicalArguments(json.RawMessage(`{ "n" : 1 }`))
	b := CanonicalArguments(json.RawMessage(`{"n":1}`))
	if a != b {
		t.Errorf("whitespace changed canonical form: %q vs %q", a, b)
	}
}

func TestCanonicalArgumentsEmpty(t *testing.T) {
	if got := CanonicalArguments(nil); got != "{}" {
		t.Errorf("empty arguments = %q, want {}", got)
	}
}

func TestCanonicalArgumentsUnparseable(t *testing.T) {
	raw := json.RawMessage(`{not json`)
	if got := CanonicalArguments(raw); got != string(raw) {
		t.Errorf("unparseable arguments = %q, want raw bytes back", got)
	}
}

func TestClassifyFreshCall(t *testing.T) {
	d := NewRepeatDetector(2)
	verdict, run := d.Classify(nil, call("get_weather", `{"city":"Berlin"}`))
	if verdict != VerdictAllow || run != 0 {
		t.Errorf("fresh call = (%v, %d), want (allow, 0)", verdict, run)
	}
}

func TestClassifyWarnThenForceStop(t *testing.T) {
	d := NewRepeatDetector(2)
	c := call("check_timer", `{"name":"pasta"}`)

	verdict, run := d.Classify([]ToolCallRequest{c}, c)
	if verdict != VerdictWarn || run != 1 {
		t.Errorf("second identical call = (%v, %d), want (warn, 1)", verdict, run)
	}

	verdict, run = d.Classify([]ToolCallRequest{c, c}, c)
	if verdict != VerdictForceStop || run != 2 {
		t.Errorf("third identical call = (%v, %d), want (force_stop, 2)", verdict, run)
	}
}

func TestClassifyCountsSuffixOnly(t *testing.T) {
	d := NewRepeatDetector(2)
	repeated := call("get_state", `{"entity":"light.kitchen"}`)
	other := call("get_weather", `{"city":"Oslo"}`)

	// The intervening different call resets the run.
	history := []ToolCallRequest{repeated, repeated, other}
	verdict, run := d.Classify(history, repeated)
	if verdict != VerdictAllow || run != 0 {
		t.Errorf("after interleaved call = (%v, %d), want (allow, 0)", verdict, run)
	}
}

func TestClassifyDifferentArgumentsAllowed(t *testing.T) {
	d := NewRepeatDetector(2)
	history := []ToolCallRequest{
		call("get_weather", `{"city":"Berlin"}`),
		call("get_weather", `{"city":"Berlin"}`),
	}
	verdict, _ := d.Classify(history, call("get_weather", `{"city":"Paris"}`))
	if verdict != VerdictAllow {
		t.Errorf("same tool with new arguments = %v, want allow", verdict)
	}
}

func TestClassifyEquivalentArgumentsMatch(t *testing.T) {
	d := NewRepeatDetector(2)
	history := []ToolCallRequest{
		call("get_weather", `{"city":"Berlin","units":"metric"}`),
		call("get_weather", `{"units":"metric","city":"Berlin"}`),
	}
	verdict, run := d.Classify(history, call("get_weather", `{"units" : "metric", "city" : "Berlin"}`))
	if verdict != VerdictForceStop || run != 2 {
		t.Errorf("equivalent arguments = (%v, %d), want (force_stop, 2)", verdict, run)
	}
}

func TestNewRepeatDetectorDefaultsBadLimit(t *testing.T) {
	if got := NewRepeatDetector(0).SoftLimit(); got != 2 {
		t.Errorf("SoftLimit() = %d, want default 2", got)
	}
	if got := NewRepeatDetector(5).SoftLimit(); got != 5 {
		t.Errorf("SoftLimit() = %d, want 5", got)
	}
}

func TestHistorySnapshotIsCopy(t *testing.T) {
	h := NewHistory()
	h.Append(call("a", `{}`))
	snap := h.Snapshot()
	snap[0].Name = "mutated"
	if h.Snapshot()[0].Name != "a" {
		t.Error("mutating a snapshot changed the history")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}
