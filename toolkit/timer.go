package toolkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bernardlabs/bernard/agent"
)

// Timers holds named countdown timers. Timers fire passively; the model
// learns about expiry by checking.
type Timers struct {
	mu     sync.Mutex
	timers map[string]time.Time // expiry instants
	now    func() time.Time
}

// NewTimers creates an empty timer set.
func NewTimers() *Timers {
	return &Timers{
		timers: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetDescriptor returns the set_timer tool.
func (t *Timers) SetDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "set_timer",
		Description: "Start a named countdown timer.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"name":    {Type: "string", Description: "Label for the timer, e.g. \"pasta\"."},
				"seconds": {Type: "integer", Description: "Duration in seconds.", Minimum: agent.Num(0)},
			},
			Required: []string{"seconds"},
		},
		Execute: t.set,
	}
}

// CheckDescriptor returns the check_timer tool.
func (t *Timers) CheckDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "check_timer",
		Description: "Check how much time remains on a timer, or list all timers.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"name": {Type: "string", Description: "Timer to check. Omit to list all."},
			},
		},
		Execute: t.check,
	}
}

// CancelDescriptor returns the cancel_timer tool.
func (t *Timers) CancelDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "cancel_timer",
		Description: "Cancel a running timer.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"name": {Type: "string", Description: "Timer to cancel."},
			},
			Required: []string{"name"},
		},
		Execute: t.cancel,
	}
}

func (t *Timers) set(ctx context.Context, args map[string]any) (string, error) {
	seconds, ok := argNumber(args, "seconds")
	if !ok {
		return "", fmt.Errorf("seconds is required")
	}
	name := argString(args, "name", "timer")

	t.mu.Lock()
	t.timers[name] = t.now().Add(time.Duration(seconds) * time.Second)
	t.mu.Unlock()

	return fmt.Sprintf("Timer %q set for %s.", name, formatDuration(time.Duration(seconds)*time.Second)), nil
}

func (t *Timers) check(ctx context.Context, args map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := argString(args, "name", "")
	if name != "" {
		expiry, ok := t.timers[name]
		if !ok {
			return fmt.Sprintf("No timer named %q is running.", name), nil
		}
		return t.describe(name, expiry), nil
	}

	if len(t.timers) == 0 {
		return "No timers are running.", nil
	}
	names := make([]string, 0, len(t.timers))
	for n := range t.timers {
		names = append(names, n)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "\n"
		}
		out += t.describe(n, t.timers[n])
	}
	return out, nil
}

func (t *Timers) cancel(ctx context.Context, args map[string]any) (string, error) {
	name := argString(args, "name", "")

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.timers[name]; !ok {
		return fmt.Sprintf("No timer named %q is running.", name), nil
	}
	delete(t.timers, name)
	return fmt.Sprintf("Timer %q cancelled.", name), nil
}

// describe must be called with the lock held.
func (t *Timers) describe(name string, expiry time.Time) string {
	remaining := expiry.Sub(t.now())
	if remaining <= 0 {
		return fmt.Sprintf("Timer %q has finished.", name)
	}
	return fmt.Sprintf("Timer %q has %s remaining.", name, formatDuration(remaining))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
