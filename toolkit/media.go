package toolkit

import (
	"context"
	"fmt"

	"github.com/bernardlabs/bernard/agent"
	"github.com/bernardlabs/bernard/homeassistant"
)

// MediaTools controls media players through Home Assistant.
type MediaTools struct {
	client        *homeassistant.Client
	defaultPlayer string
}

// NewMediaTools wraps a Home Assistant client. defaultPlayer is used when
// the model does not name one.
func NewMediaTools(client *homeassistant.Client, defaultPlayer string) *MediaTools {
	return &MediaTools{client: client, defaultPlayer: defaultPlayer}
}

// Descriptors returns all media tools for registration.
func (m *MediaTools) Descriptors() []agent.Descriptor {
	return []agent.Descriptor{
		m.controlDescriptor(),
		m.volumeDescriptor(),
	}
}

var mediaServices = map[string]string{
	"play":     "media_play",
	"pause":    "media_pause",
	"stop":     "media_stop",
	"next":     "media_next_track",
	"previous": "media_previous_track",
}

func (m *MediaTools) controlDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "media_control",
		Description: "Control playback on a media player.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"action":    {Type: "string", Enum: []string{"play", "pause", "stop", "next", "previous"}},
				"entity_id": {Type: "string", Description: "Media player entity. Omit for the default player."},
			},
			Required: []string{"action"},
		},
		Execute: m.control,
	}
}

func (m *MediaTools) volumeDescriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "set_volume",
		Description: "Set a media player's volume.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"level":     {Type: "number", Description: "Volume from 0.0 to 1.0.", Minimum: agent.Num(0), Maximum: agent.Num(1)},
				"entity_id": {Type: "string", Description: "Media player entity. Omit for the default player."},
			},
			Required: []string{"level"},
		},
		Execute: m.setVolume,
	}
}

func (m *MediaTools) player(args map[string]any) (string, error) {
	player := argString(args, "entity_id", m.defaultPlayer)
	if player == "" {
		return "", fmt.Errorf("no media player specified and no default configured")
	}
	return player, nil
}

func (m *MediaTools) control(ctx context.Context, args map[string]any) (string, error) {
	player, err := m.player(args)
	if err != nil {
		return "", err
	}
	action := argString(args, "action", "")
	service, ok := mediaServices[action]
	if !ok {
		return "", fmt.Errorf("unsupported action %q", action)
	}

	data := map[string]any{"entity_id": player}
	if err := m.client.CallService(ctx, "media_player", service, data); err != nil {
		return "", fmt.Errorf("call service: %w", err)
	}
	return fmt.Sprintf("Sent %s to %s.", action, player), nil
}

func (m *MediaTools) setVolume(ctx context.Context, args map[string]any) (string, error) {
	player, err := m.player(args)
	if err != nil {
		return "", err
	}
	level, ok := argNumber(args, "level")
	if !ok {
		return "", fmt.Errorf("level is required")
	}

	data := map[string]any{"entity_id": player, "volume_level": level}
	if err := m.client.CallService(ctx, "media_player", "volume_set", data); err != nil {
		return "", fmt.Errorf("call service: %w", err)
	}
	return fmt.Sprintf("Volume on %s set to %.0f%%.", player, level*100), nil
}
