// Package toolkit contains the tools the assistant can call: weather
// lookups, kitchen timers, smart home state and control, media playback,
// and web search. Each tool exposes an agent.Descriptor.
package toolkit

import (
	"fmt"

	"github.com/bernardlabs/bernard/agent"
)

// RegisterAll adds the given descriptors to the registry, failing on the
// first error.
func RegisterAll(r *agent.Registry, descriptors ...agent.Descriptor) error {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}
	return nil
}

// argString reads a string argument, with a fallback for missing keys.
func argString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// argNumber reads a numeric argument. JSON numbers decode as float64;
// integers from handwritten tests come through too.
func argNumber(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
