package agent

import (
	"context"
	"time"

	"github.com/bernardlabs/bernard/llm"
)

// CompletionClient is the slice of llm.Client the loop depends on.
type CompletionClient interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Invoker turns the transcript into a model request: it prepends the
// system prompt, binds the advertised tool set, and applies the
// per-invocation timeout.
type Invoker struct {
	client       CompletionClient
	model        string
	systemPrompt string
	timeout      time.Duration
}

// NewInvoker creates an Invoker.
func NewInvoker(client CompletionClient, model, systemPrompt string, timeout time.Duration) *Invoker {
	return &Invoker{
		client:       client,
		model:        model,
		systemPrompt: systemPrompt,
		timeout:      timeout,
	}
}

// Invoke sends one completion request. Failures are wrapped in
// ModelInvocationError; the caller decides whether the turn survives.
func (inv *Invoker) Invoke(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (*llm.Response, error) {
	msgs := make([]llm.Message, 0, len(messages)+1)
	if inv.systemPrompt != "" {
		msgs = append(msgs, llm.SystemMessage(inv.systemPrompt))
	}
	msgs = append(msgs, messages...)

	callCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	resp, err := inv.client.Complete(callCtx, llm.Request{
		Model:      inv.model,
		Messages:   msgs,
		Tools:      tools,
		ToolChoice: choice,
	})
	if err != nil {
		// Caller cancellation and turn deadline are reported as-is so the
		// loop can classify the turn outcome from its own context.
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &ModelInvocationError{Cause: err}
	}
	return resp, nil
}
