package toolkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bernardlabs/bernard/agent"
	"github.com/bernardlabs/bernard/homeassistant"
)

// HomeTools exposes smart home state and control backed by Home Assistant.
type HomeTools struct {
	client *homeassistant.Client
}

// NewHomeTools wraps a Home Assistant client.
func NewHomeTools(client *homeassistant.Client) *HomeTools {
	return &HomeTools{client: client}
}

// Descriptors returns all home tools for registration.
func (h *HomeTools) Descriptors() []agent.Descriptor {
	return []agent.Descriptor{
		h.stateDescriptor(),
		h.listDescriptor(),
		h.controlDescriptor(),
	}
}

func (h *HomeTools) stateDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "get_device_state",
		Description: "Get the current state of a smart home device by entity ID.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"entity_id": {Type: "string", Description: "Entity ID, e.g. light.kitchen."},
			},
			Required: []string{"entity_id"},
		},
		Execute: h.getState,
	}
}

func (h *HomeTools) listDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "list_devices",
		Description: "List smart home devices and their states, optionally filtered by domain.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"domain": {Type: "string", Description: "Domain filter, e.g. light, switch, sensor."},
			},
		},
		Execute: h.listDevices,
	}
}

func (h *HomeTools) controlDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "control_device",
		Description: "Turn a smart home device on or off, or toggle it.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"entity_id": {Type: "string", Description: "Entity ID to control."},
				"action":    {Type: "string", Enum: []string{"on", "off", "toggle"}},
			},
			Required: []string{"entity_id", "action"},
		},
		Execute: h.controlDevice,
	}
}

func (h *HomeTools) getState(ctx context.Context, args map[string]any) (string, error) {
	entityID := argString(args, "entity_id", "")
	state, err := h.client.GetState(ctx, entityID)
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	return fmt.Sprintf("%s (%s) is %s", state.FriendlyName(), state.EntityID, state.State), nil
}

func (h *HomeTools) listDevices(ctx context.Context, args map[string]any) (string, error) {
	domain := argString(args, "domain", "")
	states, err := h.client.GetStates(ctx, domain)
	if err != nil {
		return "", fmt.Errorf("list states: %w", err)
	}
	if len(states) == 0 {
		if domain != "" {
			return fmt.Sprintf("No devices found in domain %q.", domain), nil
		}
		return "No devices found.", nil
	}

	var b strings.Builder
	for i, s := range states {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%s): %s", s.FriendlyName(), s.EntityID, s.State)
	}
	return b.String(), nil
}

func (h *HomeTools) controlDevice(ctx context.Context, args map[string]any) (string, error) {
	entityID := argString(args, "entity_id", "")
	action := argString(args, "action", "")

	domain := ""
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		domain = entityID[:i]
	}
	if domain == "" {
		return "", fmt.Errorf("entity_id %q has no domain prefix", entityID)
	}

	var service string
	switch action {
	case "on":
		service = "turn_on"
	case "off":
		service = "turn_off"
	case "toggle":
		service = "toggle"
	default:
		return "", fmt.Errorf("unsupported action %q", action)
	}

	data := map[string]any{"entity_id": entityID}
	if err := h.client.CallService(ctx, domain, service, data); err != nil {
		return "", fmt.Errorf("call service: %w", err)
	}
	return fmt.Sprintf("Sent %s to %s.", service, entityID), nil
}
