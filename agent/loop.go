package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bernardlabs/bernard/llm"
)

// answerNowDirective is injected before the final forced invocation when
// the step cap is reached.
const answerNowDirective = "You have used all available tool-calling steps for this turn. Answer the user now with the information you already have. Do not request any more tools."

// Config holds the loop's tunable limits.
type Config struct {
	Model           string
	SystemPrompt    string
	RepeatSoftLimit int           // consecutive identical calls allowed to run
	StepCap         int           // model invocations per turn, incl. the forced final one
	ToolTimeout     time.Duration // per tool call
	ModelTimeout    time.Duration // per model invocation
	TurnTimeout     time.Duration // whole turn
	MaxResultChars  int           // tool output cap before truncation
	EventBuffer     int           // telemetry channel depth
}

// DefaultConfig returns the limits used when the caller does not override
// them.
func DefaultConfig() Config {
	return Config{
		RepeatSoftLimit: 2,
		StepCap:         16,
		ToolTimeout:     30 * time.Second,
		ModelTimeout:    60 * time.Second,
		TurnTimeout:     5 * time.Minute,
		MaxResultChars:  16384,
		EventBuffer:     256,
	}
}

// TurnStatus is the terminal disposition of a turn.
type TurnStatus string

const (
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnTimedOut  TurnStatus = "timed_out"
	TurnCancelled TurnStatus = "cancelled"
)

// TurnResult is what one call to Run produces.
type TurnResult struct {
	Status         TurnStatus `json:"status"`
	ConversationID string     `json:"conversation_id"`
	TurnID         string     `json:"turn_id"`
	Messages       []Message  `json:"messages"` // messages appended during this turn
	FinalText      string     `json:"final_text"`
	Steps          int        `json:"steps"` // model invocations made
	Usage          llm.Usage  `json:"usage"`
	StepCapped     bool       `json:"step_capped"`
}

// TurnHook runs after a turn reaches a terminal state, before Run returns.
// A hook error is logged, not propagated; checkpointing must never sink a
// completed turn.
type TurnHook func(ctx context.Context, transcript []Message, result *TurnResult) error

// Loop is the orchestration state machine. One Loop owns one conversation;
// Run executes one turn at a time.
type Loop struct {
	client         CompletionClient
	registry       *Registry
	detector       *RepeatDetector
	emitter        *Emitter
	invoker        *Invoker
	executor       *Executor
	logger         *slog.Logger
	cfg            Config
	conversationID string
	onTurnComplete TurnHook

	mu         sync.Mutex
	transcript []Message
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithConversationID pins the conversation ID, e.g. when resuming from a
// checkpoint.
func WithConversationID(id string) LoopOption {
	return func(l *Loop) { l.conversationID = id }
}

// WithTranscript seeds the conversation with prior messages, e.g. when
// resuming from a checkpoint.
func WithTranscript(messages []Message) LoopOption {
	return func(l *Loop) { l.transcript = append(l.transcript, messages...) }
}

// WithTurnHook installs a hook invoked after every terminal turn.
func WithTurnHook(hook TurnHook) LoopOption {
	return func(l *Loop) { l.onTurnComplete = hook }
}

// NewLoop creates a Loop over the given client and tool registry.
func NewLoop(client CompletionClient, registry *Registry, cfg Config, opts ...LoopOption) *Loop {
	def := DefaultConfig()
	if cfg.RepeatSoftLimit <= 0 {
		cfg.RepeatSoftLimit = def.RepeatSoftLimit
	}
	if cfg.StepCap <= 0 {
		cfg.StepCap = def.StepCap
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	l := &Loop{
		client:   client,
		registry: registry,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.conversationID == "" {
		l.conversationID = uuid.NewString()
	}

	l.detector = NewRepeatDetector(cfg.RepeatSoftLimit)
	l.emitter = NewEmitter(l.conversationID, cfg.EventBuffer)
	l.invoker = NewInvoker(client, cfg.Model, cfg.SystemPrompt, cfg.ModelTimeout)
	l.executor = NewExecutor(registry, l.detector, l.emitter, ExecutorConfig{
		ToolTimeout:    cfg.ToolTimeout,
		MaxResultChars: cfg.MaxResultChars,
		Logger:         l.logger,
	})
	return l
}

// ConversationID returns the loop's conversation identifier.
func (l *Loop) ConversationID() string { return l.conversationID }

// Events exposes the telemetry stream.
func (l *Loop) Events() <-chan Event { return l.emitter.Events() }

// Transcript returns a copy of the full conversation so far.
func (l *Loop) Transcript() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.transcript))
	copy(out, l.transcript)
	return out
}

// Close releases the telemetry channel.
func (l *Loop) Close() { l.emitter.Close() }

// Run executes one turn. The input must start with a human message; it is
// appended to the conversation and the loop alternates between model
// invocations and tool executions until the model answers, the step cap
// forces an answer, or a fatal condition ends the turn.
func (l *Loop) Run(ctx context.Context, input []Message) (*TurnResult, error) {
	if len(input) == 0 || input[0].Kind != KindHuman {
		return nil, fmt.Errorf("turn input must begin with a human message")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	turnID := uuid.NewString()
	result := &TurnResult{
		ConversationID: l.conversationID,
		TurnID:         turnID,
	}

	turnCtx := ctx
	if l.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, l.cfg.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	l.emitter.Emit(EventTurnStarted, turnID, map[string]any{
		"messages": len(input),
	})
	l.logger.Info("turn started", "conversation_id", l.conversationID, "turn_id", turnID)

	base := len(l.transcript)
	l.transcript = append(l.transcript, input...)
	history := NewHistory()

	err := l.runSteps(turnCtx, turnID, history, result)
	result.Messages = append([]Message(nil), l.transcript[base:]...)

	if err != nil {
		result.Status, err = l.classifyFailure(ctx, turnCtx, start, err)
	} else {
		result.Status = TurnCompleted
	}

	l.emitter.Emit(EventTurnTerminated, turnID, map[string]any{
		"status":      string(result.Status),
		"steps":       result.Steps,
		"step_capped": result.StepCapped,
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})
	l.logger.Info("turn terminated",
		"turn_id", turnID,
		"status", result.Status,
		"steps", result.Steps,
		"tokens", result.Usage.TotalTokens,
	)

	if l.onTurnComplete != nil {
		// The hook gets a background-capable context: a turn that timed out
		// still deserves its checkpoint.
		if hookErr := l.onTurnComplete(context.WithoutCancel(ctx), l.transcript, result); hookErr != nil {
			l.logger.Error("turn hook failed", "turn_id", turnID, "error", hookErr)
		}
	}

	return result, err
}

// RunText is a convenience wrapper around Run for plain text input.
func (l *Loop) RunText(ctx context.Context, text string) (*TurnResult, error) {
	return l.Run(ctx, []Message{NewHumanMessage(text)})
}

// runSteps drives the dispatch / await-model / execute-tools cycle until a
// terminal transition.
func (l *Loop) runSteps(ctx context.Context, turnID string, history *History, result *TurnResult) error {
	for step := 1; step <= l.cfg.StepCap; step++ {
		forced := step == l.cfg.StepCap

		messages := ToLLMMessages(l.transcript)
		tools := l.registry.Definitions()
		choice := llm.ToolChoiceAuto
		if forced {
			// Last allowed invocation: demand an answer, withdraw the tools.
			messages = append(messages, llm.UserMessage(answerNowDirective))
			tools = nil
			choice = llm.ToolChoiceNone
			result.StepCapped = true
			l.logger.Warn("step cap reached, forcing final answer", "turn_id", turnID, "step", step)
		}

		resp, err := l.invoker.Invoke(ctx, messages, tools, choice)
		if err != nil {
			return err
		}
		result.Steps = step
		result.Usage = result.Usage.Add(resp.Usage)
		l.emitter.Emit(EventModelInvoked, turnID, map[string]any{
			"step":       step,
			"tool_calls": len(resp.ToolCalls()),
			"tokens":     resp.Usage.TotalTokens,
			"forced":     forced,
		})

		calls, answer, terminal := splitRespondSignal(resp)

		assistant := make([]ToolCallRequest, len(calls))
		for i, tc := range calls {
			assistant[i] = ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
		l.transcript = append(l.transcript, NewAssistantMessage(resp.Text(), assistant, resp.Usage))

		if terminal || len(calls) == 0 || forced {
			if answer == "" {
				answer = resp.Text()
			}
			result.FinalText = answer
			return nil
		}

		results := l.executor.Execute(ctx, turnID, assistant, history)
		for _, r := range results {
			l.transcript = append(l.transcript, NewToolResultMessage(r))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	// Unreachable: the forced step always returns.
	return fmt.Errorf("step cap %d exhausted without a final answer", l.cfg.StepCap)
}

// splitRespondSignal separates the reserved respond signal from real tool
// calls. Seeing it ends the turn; an "answer" argument, when present,
// becomes the final text.
func splitRespondSignal(resp *llm.Response) (calls []llm.ToolCall, answer string, terminal bool) {
	for _, tc := range resp.ToolCalls() {
		if tc.Name != RespondSignalName {
			calls = append(calls, tc)
			continue
		}
		terminal = true
		var args struct {
			Answer string `json:"answer"`
		}
		if err := json.Unmarshal(tc.Arguments, &args); err == nil && args.Answer != "" {
			answer = args.Answer
		}
	}
	if terminal {
		// The respond signal supersedes any sibling calls in the batch.
		calls = nil
	}
	return calls, answer, terminal
}

// classifyFailure maps a step error to the turn's terminal status.
func (l *Loop) classifyFailure(parent, turn context.Context, start time.Time, err error) (TurnStatus, error) {
	switch {
	case parent.Err() == context.Canceled:
		return TurnCancelled, &CancelledError{Cause: parent.Err()}
	case turn.Err() == context.DeadlineExceeded:
		return TurnTimedOut, &TurnTimeoutError{Elapsed: time.Since(start).Round(time.Millisecond).String()}
	case parent.Err() == context.DeadlineExceeded:
		return TurnTimedOut, &TurnTimeoutError{Elapsed: time.Since(start).Round(time.Millisecond).String()}
	default:
		return TurnFailed, err
	}
}
