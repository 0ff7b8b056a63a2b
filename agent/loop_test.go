package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bernardlabs/bernard/llm"
)

// scriptedClient replays a fixed sequence of responses and records every
// request it receives.
type scriptedClient struct {
	mu        sync.Mutex
	responses []scriptedStep
	requests  []llm.Request
}

type scriptedStep struct {
	resp *llm.Response
	err  error
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := c.responses[0]
	c.responses = c.responses[1:]
	return step.resp, step.err
}

func (c *scriptedClient) recorded() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

func textStep(text string) scriptedStep {
	return scriptedStep{resp: &llm.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: text},
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}
}

func toolCallStep(id, name, args string) scriptedStep {
	return scriptedStep{resp: &llm.Response{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: id, Name: name, Arguments: json.RawMessage(args)},
			},
		},
		Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}
}

func errStep(err error) scriptedStep { return scriptedStep{err: err} }

func weatherRegistry(t *testing.T, calls *atomic.Int32) *Registry {
	t.Helper()
	r := NewRegistry()
	err := r.Register(Descriptor{
		Name:        "get_weather",
		Description: "Current weather for a city.",
		InputSchema: &Schema{
			Properties: map[string]Property{"city": {Type: "string"}},
			Required:   []string{"city"},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if calls != nil {
				calls.Add(1)
			}
			return "14C, overcast", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestRunHappyPath(t *testing.T) {
	var toolCalls atomic.Int32
	client := &scriptedClient{responses: []scriptedStep{
		toolCallStep("c1", "get_weather", `{"city":"Berlin"}`),
		textStep("It is 14C and overcast in Berlin."),
	}}
	loop := NewLoop(client, weatherRegistry(t, &toolCalls), DefaultConfig())
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "weather in berlin?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != TurnCompleted {
		t.Errorf("Status = %v", result.Status)
	}
	if result.FinalText != "It is 14C and overcast in Berlin." {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.Steps != 2 {
		t.Errorf("Steps = %d, want 2", result.Steps)
	}
	if toolCalls.Load() != 1 {
		t.Errorf("tool ran %d times, want 1", toolCalls.Load())
	}
	if result.Usage.TotalTokens != 30 {
		t.Errorf("Usage.TotalTokens = %d, want 30", result.Usage.TotalTokens)
	}

	// Transcript: human, assistant(call), tool result, assistant(final).
	kinds := make([]MessageKind, len(result.Messages))
	for i, m := range result.Messages {
		kinds[i] = m.Kind
	}
	want := []MessageKind{KindHuman, KindAssistant, KindToolResult, KindAssistant}
	if len(kinds) != len(want) {
		t.Fatalf("transcript kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("transcript[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if tr := result.Messages[2].ToolResult; tr.CallID != "c1" || tr.IsError {
		t.Errorf("tool result = %+v", tr)
	}

	// The second request must carry the first call's result.
	reqs := client.recorded()
	if len(reqs) != 2 {
		t.Fatalf("model invoked %d times", len(reqs))
	}
	var sawResult bool
	for _, m := range reqs[1].Messages {
		if m.Role == llm.RoleTool && m.ToolCallID == "c1" {
			sawResult = true
		}
	}
	if !sawResult {
		t.Error("second invocation did not include the tool result")
	}
}

func TestRunBreaksRepeatLoop(t *testing.T) {
	var toolCalls atomic.Int32
	r := NewRegistry()
	err := r.Register(Descriptor{
		Name: "check_timer",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			toolCalls.Add(1)
			return "timer still running", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	same := func() scriptedStep { return toolCallStep("c", "check_timer", `{"name":"pasta"}`) }
	client := &scriptedClient{responses: []scriptedStep{
		same(), same(), same(),
		textStep("The timer is still running."),
	}}
	loop := NewLoop(client, r, DefaultConfig())
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "is the pasta done?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != TurnCompleted {
		t.Errorf("Status = %v", result.Status)
	}
	if toolCalls.Load() != 2 {
		t.Errorf("tool ran %d times, want 2 (soft limit)", toolCalls.Load())
	}

	// The third identical call yields a synthetic blocked result.
	var blockedResult *ToolResultMessage
	for i := range result.Messages {
		if tr := result.Messages[i].ToolResult; tr != nil && strings.Contains(tr.Content, "Blocked") {
			blockedResult = tr
		}
	}
	if blockedResult == nil || !blockedResult.IsError {
		t.Fatal("no synthetic blocked result in transcript")
	}
}

func TestRunStepCapForcesFinalAnswer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepCap = 3

	// The model never stops asking for tools on its own.
	client := &scriptedClient{responses: []scriptedStep{
		toolCallStep("c1", "get_weather", `{"city":"Oslo"}`),
		toolCallStep("c2", "get_weather", `{"city":"Bergen"}`),
		textStep("Here is what I found so far."),
	}}
	loop := NewLoop(client, weatherRegistry(t, nil), cfg)
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "compare the weather")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != TurnCompleted {
		t.Errorf("Status = %v", result.Status)
	}
	if !result.StepCapped {
		t.Error("StepCapped not set")
	}
	if result.Steps != 3 {
		t.Errorf("Steps = %d, want 3", result.Steps)
	}
	if result.FinalText != "Here is what I found so far." {
		t.Errorf("FinalText = %q", result.FinalText)
	}

	reqs := client.recorded()
	final := reqs[len(reqs)-1]
	if final.ToolChoice != llm.ToolChoiceNone {
		t.Errorf("final ToolChoice = %q, want none", final.ToolChoice)
	}
	if len(final.Tools) != 0 {
		t.Errorf("final request still advertises %d tools", len(final.Tools))
	}
	last := final.Messages[len(final.Messages)-1]
	if last.Role != llm.RoleUser || !strings.Contains(last.Content, "Answer the user now") {
		t.Errorf("final directive missing: %+v", last)
	}
}

func TestRunValidationFailureSurfacesToModel(t *testing.T) {
	var ran atomic.Int32
	r := NewRegistry()
	err := r.Register(Descriptor{
		Name:        "set_timer",
		InputSchema: timerSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ran.Add(1)
			return "timer started", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	client := &scriptedClient{responses: []scriptedStep{
		toolCallStep("c1", "set_timer", `{"seconds":-5}`),
		toolCallStep("c2", "set_timer", `{"seconds":300}`),
		textStep("Timer set for five minutes."),
	}}
	loop := NewLoop(client, r, DefaultConfig())
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "timer for -5 seconds")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != TurnCompleted {
		t.Errorf("Status = %v", result.Status)
	}
	if ran.Load() != 1 {
		t.Errorf("handler ran %d times, want 1 (invalid call skipped)", ran.Load())
	}

	first := result.Messages[2].ToolResult
	if first == nil || !first.IsError || !strings.Contains(first.Content, "invalid arguments") {
		t.Errorf("first tool result = %+v, want validation error", first)
	}
}

func TestRunModelFailureIsFatal(t *testing.T) {
	client := &scriptedClient{responses: []scriptedStep{
		errStep(&llm.ServerError{ProviderError: llm.ProviderError{
			ClientError: llm.ClientError{Message: "upstream exploded"},
			StatusCode:  500,
		}}),
	}}
	loop := NewLoop(client, NewRegistry(), DefaultConfig())
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "hello")
	if result.Status != TurnFailed {
		t.Errorf("Status = %v, want failed", result.Status)
	}
	var mie *ModelInvocationError
	if !errors.As(err, &mie) {
		t.Fatalf("err = %v, want ModelInvocationError", err)
	}
}

func TestRunCancellation(t *testing.T) {
	client := &blockingClient{}
	loop := NewLoop(client, NewRegistry(), DefaultConfig())
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := loop.RunText(ctx, "hello")
	if result.Status != TurnCancelled {
		t.Errorf("Status = %v, want cancelled", result.Status)
	}
	var ce *CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CancelledError", err)
	}
}

func TestRunTurnTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TurnTimeout = 30 * time.Millisecond
	cfg.ModelTimeout = 0

	loop := NewLoop(&blockingClient{}, NewRegistry(), cfg)
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "hello")
	if result.Status != TurnTimedOut {
		t.Errorf("Status = %v, want timed_out", result.Status)
	}
	var te *TurnTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TurnTimeoutError", err)
	}
}

// blockingClient waits for cancellation.
type blockingClient struct{}

func (b *blockingClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunRespondSignalTerminates(t *testing.T) {
	var toolCalls atomic.Int32
	client := &scriptedClient{responses: []scriptedStep{
		{resp: &llm.Response{Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: RespondSignalName, Arguments: json.RawMessage(`{"answer":"All done."}`)},
				{ID: "c2", Name: "get_weather", Arguments: json.RawMessage(`{"city":"x"}`)},
			},
		}}},
	}}
	loop := NewLoop(client, weatherRegistry(t, &toolCalls), DefaultConfig())
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "anything else?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != TurnCompleted || result.FinalText != "All done." {
		t.Errorf("result = %+v", result)
	}
	if toolCalls.Load() != 0 {
		t.Error("sibling call executed despite respond signal")
	}
	if result.Steps != 1 {
		t.Errorf("Steps = %d, want 1", result.Steps)
	}
}

func TestRunRejectsNonHumanFirstMessage(t *testing.T) {
	loop := NewLoop(&scriptedClient{}, NewRegistry(), DefaultConfig())
	defer loop.Close()

	if _, err := loop.Run(context.Background(), nil); err == nil {
		t.Error("empty input accepted")
	}
	bad := []Message{NewAssistantMessage("hi", nil, llm.Usage{})}
	if _, err := loop.Run(context.Background(), bad); err == nil {
		t.Error("assistant-first input accepted")
	}
}

func TestRunInvokesTurnHook(t *testing.T) {
	var hookRuns atomic.Int32
	var hookStatus TurnStatus
	hook := func(ctx context.Context, transcript []Message, result *TurnResult) error {
		hookRuns.Add(1)
		hookStatus = result.Status
		if len(transcript) == 0 {
			t.Error("hook received empty transcript")
		}
		return nil
	}

	client := &scriptedClient{responses: []scriptedStep{textStep("hi there")}}
	loop := NewLoop(client, NewRegistry(), DefaultConfig(), WithTurnHook(hook))
	defer loop.Close()

	if _, err := loop.RunText(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hookRuns.Load() != 1 {
		t.Errorf("hook ran %d times, want 1", hookRuns.Load())
	}
	if hookStatus != TurnCompleted {
		t.Errorf("hook saw status %v", hookStatus)
	}
}

func TestRunHookFailureDoesNotFailTurn(t *testing.T) {
	hook := func(ctx context.Context, transcript []Message, result *TurnResult) error {
		return errors.New("disk full")
	}
	client := &scriptedClient{responses: []scriptedStep{textStep("ok")}}
	loop := NewLoop(client, NewRegistry(), DefaultConfig(), WithTurnHook(hook))
	defer loop.Close()

	result, err := loop.RunText(context.Background(), "hi")
	if err != nil || result.Status != TurnCompleted {
		t.Errorf("hook failure leaked: status=%v err=%v", result.Status, err)
	}
}

func TestRunEmitsTurnEvents(t *testing.T) {
	client := &scriptedClient{responses: []scriptedStep{
		toolCallStep("c1", "get_weather", `{"city":"Berlin"}`),
		textStep("done"),
	}}
	loop := NewLoop(client, weatherRegistry(t, nil), DefaultConfig(), WithConversationID("conv-42"))

	if _, err := loop.RunText(context.Background(), "weather"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	loop.Close()

	seen := map[EventKind]int{}
	for e := range loop.Events() {
		if e.ConversationID != "conv-42" {
			t.Errorf("ConversationID = %q", e.ConversationID)
		}
		if e.TurnID == "" {
			t.Error("event missing TurnID")
		}
		seen[e.Kind]++
	}
	for _, kind := range []EventKind{
		EventTurnStarted, EventModelInvoked,
		EventToolCallStarted, EventToolCallCompleted,
		EventTurnTerminated,
	} {
		if seen[kind] == 0 {
			t.Errorf("no %s event emitted", kind)
		}
	}
	if seen[EventModelInvoked] != 2 {
		t.Errorf("model_invoked events = %d, want 2", seen[EventModelInvoked])
	}
}

func TestRunAccumulatesTranscriptAcrossTurns(t *testing.T) {
	client := &scriptedClient{responses: []scriptedStep{
		textStep("first answer"),
		textStep("second answer"),
	}}
	loop := NewLoop(client, NewRegistry(), DefaultConfig())
	defer loop.Close()

	if _, err := loop.RunText(context.Background(), "one"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := loop.RunText(context.Background(), "two"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	transcript := loop.Transcript()
	if len(transcript) != 4 {
		t.Fatalf("transcript has %d messages, want 4", len(transcript))
	}

	// Turn two's request must include turn one's exchange.
	reqs := client.recorded()
	if len(reqs[1].Messages) <= len(reqs[0].Messages) {
		t.Error("second turn did not carry prior context")
	}
}

func TestWithTranscriptSeedsConversation(t *testing.T) {
	prior := []Message{
		NewHumanMessage("remember the number 7"),
		NewAssistantMessage("Noted.", nil, llm.Usage{}),
	}
	client := &scriptedClient{responses: []scriptedStep{textStep("7")}}
	loop := NewLoop(client, NewRegistry(), DefaultConfig(), WithTranscript(prior))
	defer loop.Close()

	if _, err := loop.RunText(context.Background(), "what number?"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	reqs := client.recorded()
	if len(reqs[0].Messages) != 3 {
		t.Errorf("seeded request has %d messages, want 3", len(reqs[0].Messages))
	}
}
