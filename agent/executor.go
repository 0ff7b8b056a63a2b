package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Executor resolves a batch of requested tool calls against the registry
// and produces one result per request, in request order. Classification
// and history appends run sequentially; admitted executions fan out
// concurrently and join in order.
type Executor struct {
	registry       *Registry
	detector       *RepeatDetector
	emitter        *Emitter
	logger         *slog.Logger
	toolTimeout    time.Duration
	maxResultChars int
}

// ExecutorConfig tunes per-call behavior.
type ExecutorConfig struct {
	ToolTimeout    time.Duration // 0 = no per-call timeout
	MaxResultChars int           // 0 = no capping
	Logger         *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(registry *Registry, detector *RepeatDetector, emitter *Emitter, cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:       registry,
		detector:       detector,
		emitter:        emitter,
		logger:         logger,
		toolTimeout:    cfg.ToolTimeout,
		maxResultChars: cfg.MaxResultChars,
	}
}

// plannedCall is the sequential-phase decision for one request.
type plannedCall struct {
	request   ToolCallRequest
	desc      *Descriptor
	args      map[string]any
	result    ToolResultMessage // pre-filled for calls that will not run
	run       bool
	repeatRun int // consecutive identical calls seen before this one
}

// Execute processes the batch. A failure in one request never aborts the
// others; every request yields exactly one result.
func (x *Executor) Execute(ctx context.Context, turnID string, requests []ToolCallRequest, history *History) []ToolResultMessage {
	planned := make([]plannedCall, len(requests))
	for i, req := range requests {
		planned[i] = x.plan(turnID, req, history)
		// The request is recorded whether or not it ran, so later repeat
		// checks in this same batch see it.
		history.Append(req)
	}

	results := make([]ToolResultMessage, len(requests))
	var wg sync.WaitGroup
	for i := range planned {
		if !planned[i].run {
			results[i] = planned[i].result
			x.emitter.Emit(EventToolCallCompleted, turnID, map[string]any{
				"call_id":  planned[i].request.ID,
				"tool":     planned[i].request.Name,
				"is_error": planned[i].result.IsError,
				"skipped":  true,
			})
			continue
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = x.runTool(ctx, turnID, planned[idx])
		}(i)
	}
	wg.Wait()

	return results
}

// plan performs lookup, validation, and repeat classification for one
// request. It emits tool_call_started and decides whether the call runs.
func (x *Executor) plan(turnID string, req ToolCallRequest, history *History) plannedCall {
	x.emitter.Emit(EventToolCallStarted, turnID, map[string]any{
		"call_id": req.ID,
		"tool":    req.Name,
	})

	p := plannedCall{request: req}

	desc, err := x.registry.Lookup(req.Name)
	if err != nil {
		p.result = errorResult(req, err.Error())
		return p
	}
	p.desc = desc

	args := map[string]any{}
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			verr := &ValidationError{Tool: req.Name, Reason: "arguments are not a JSON object"}
			p.result = errorResult(req, verr.Error())
			return p
		}
	}
	if err := desc.InputSchema.Validate(args); err != nil {
		verr := &ValidationError{Tool: req.Name, Reason: err.Error()}
		p.result = errorResult(req, verr.Error())
		return p
	}
	p.args = args

	verdict, run := x.detector.Classify(history.Snapshot(), req)
	switch verdict {
	case VerdictForceStop:
		x.emitter.Emit(EventRepeatBlocked, turnID, map[string]any{
			"call_id": req.ID,
			"tool":    req.Name,
			"run":     run,
		})
		x.logger.Warn("repeated tool call blocked", "tool", req.Name, "consecutive", run)
		p.result = ToolResultMessage{
			CallID:   req.ID,
			ToolName: req.Name,
			Content: fmt.Sprintf(
				"Blocked: %s was already called %d times in a row with identical arguments. Further identical calls will not run; answer with the information gathered so far or try different arguments.",
				req.Name, run),
			IsError: true,
		}
		return p
	case VerdictWarn:
		x.logger.Debug("duplicate tool call allowed", "tool", req.Name, "consecutive", run)
		p.repeatRun = run
	}

	p.run = true
	return p
}

// runTool executes one admitted call with the per-call timeout.
func (x *Executor) runTool(ctx context.Context, turnID string, p plannedCall) (result ToolResultMessage) {
	req := p.request

	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("tool panicked", "tool", req.Name, "panic", r)
			result = errorResult(req, fmt.Sprintf("tool %s failed unexpectedly", req.Name))
		}
		payload := map[string]any{
			"call_id":  req.ID,
			"tool":     req.Name,
			"is_error": result.IsError,
		}
		if p.repeatRun > 0 {
			payload["repeat_run"] = p.repeatRun
		}
		x.emitter.Emit(EventToolCallCompleted, turnID, payload)
	}()

	callCtx := ctx
	if x.toolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, x.toolTimeout)
		defer cancel()
	}

	start := time.Now()
	output, err := p.desc.Execute(callCtx, p.args)
	elapsed := time.Since(start)

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			x.logger.Warn("tool call timed out", "tool", req.Name, "elapsed", elapsed)
			return errorResult(req, fmt.Sprintf("tool %s timed out after %s", req.Name, x.toolTimeout))
		}
		x.logger.Warn("tool call failed", "tool", req.Name, "error", err)
		return errorResult(req, fmt.Sprintf("tool %s failed: %v", req.Name, err))
	}

	x.logger.Debug("tool call completed", "tool", req.Name, "elapsed", elapsed)
	return ToolResultMessage{
		CallID:   req.ID,
		ToolName: req.Name,
		Content:  capContent(output, x.maxResultChars),
	}
}

func errorResult(req ToolCallRequest, description string) ToolResultMessage {
	return ToolResultMessage{
		CallID:   req.ID,
		ToolName: req.Name,
		Content:  description,
		IsError:  true,
	}
}

// capContent truncates oversized tool output with a head/tail split so the
// model still sees both ends.
func capContent(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n[... output truncated, %d characters removed ...]\n", removed) +
		output[len(output)-half:]
}
