// Command bernard runs the assistant as an interactive console session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bernardlabs/bernard/agent"
	"github.com/bernardlabs/bernard/checkpoint"
	"github.com/bernardlabs/bernard/config"
	"github.com/bernardlabs/bernard/homeassistant"
	"github.com/bernardlabs/bernard/llm"
	"github.com/bernardlabs/bernard/toolkit"
)

const defaultSystemPrompt = `You are Bernard, a helpful voice assistant for the home.
Use the available tools to answer questions about weather, timers, smart home
devices, media playback, and the web. Keep answers short and conversational.
When you have enough information, answer directly instead of calling more tools.`

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	conversationID := flag.String("conversation", "", "resume this conversation from its checkpoint")
	showEvents := flag.Bool("events", false, "print telemetry events")
	flag.Parse()

	if err := run(*configPath, *conversationID, *showEvents); err != nil {
		fmt.Fprintln(os.Stderr, "bernard:", err)
		os.Exit(1)
	}
}

func run(configPath, conversationID string, showEvents bool) error {
	cfg := config.Default()
	if path, err := config.FindConfig(configPath); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	} else if configPath != "" {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Model client.
	adapterOpts := []llm.GollmOption{llm.WithModel(cfg.Model.Name)}
	if cfg.Model.APIKey != "" {
		adapterOpts = append(adapterOpts, llm.WithAPIKey(cfg.Model.APIKey))
	}
	if cfg.Model.MaxTokens > 0 {
		adapterOpts = append(adapterOpts, llm.WithMaxTokens(cfg.Model.MaxTokens))
	}
	adapter, err := llm.NewGollmAdapter(cfg.Model.Provider, adapterOpts...)
	if err != nil {
		return fmt.Errorf("model backend: %w", err)
	}
	client := llm.NewClient(llm.WithProvider(cfg.Model.Provider, adapter))
	defer client.Close()

	// Tools.
	registry := agent.NewRegistry()
	timers := toolkit.NewTimers()
	descriptors := []agent.Descriptor{
		toolkit.NewWeatherTool(cfg.Weather.URL).Descriptor(),
		timers.SetDescriptor(),
		timers.CheckDescriptor(),
		timers.CancelDescriptor(),
	}
	var haClient *homeassistant.Client
	if cfg.HomeAssistant.Enabled() {
		haClient = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token)
		if err := haClient.Ping(ctx); err != nil {
			logger.Warn("home assistant unreachable, registering tools anyway", "error", err)
		}
		descriptors = append(descriptors, toolkit.NewHomeTools(haClient).Descriptors()...)
		descriptors = append(descriptors,
			toolkit.NewMediaTools(haClient, cfg.HomeAssistant.DefaultPlayer).Descriptors()...)
	}
	if cfg.Search.Enabled() {
		descriptors = append(descriptors, toolkit.NewSearchTool(cfg.Search.URL).Descriptor())
	}
	if err := toolkit.RegisterAll(registry, descriptors...); err != nil {
		return err
	}
	logger.Info("tools registered", "count", registry.Count())

	// Loop configuration.
	loopCfg := agent.Config{
		Model:           cfg.Model.Name,
		SystemPrompt:    cfg.Model.SystemPrompt,
		RepeatSoftLimit: cfg.Loop.RepeatSoftLimit,
		StepCap:         cfg.Loop.StepCap,
		ToolTimeout:     cfg.Loop.ToolTimeout(),
		ModelTimeout:    cfg.Loop.ModelTimeout(),
		TurnTimeout:     cfg.Loop.TurnTimeout(),
		MaxResultChars:  cfg.Loop.MaxResultChars,
		EventBuffer:     cfg.Loop.EventBuffer,
	}
	if loopCfg.SystemPrompt == "" {
		loopCfg.SystemPrompt = defaultSystemPrompt
	}

	var loopOpts []agent.LoopOption
	loopOpts = append(loopOpts, agent.WithLogger(logger))

	// Checkpointing.
	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled() {
		store, err = checkpoint.Open(cfg.Checkpoint.Path, logger)
		if err != nil {
			return fmt.Errorf("checkpoint store: %w", err)
		}
		defer store.Close()
		loopOpts = append(loopOpts, agent.WithTurnHook(store.Hook()))

		if deleted, err := store.Prune(ctx,
			time.Duration(cfg.Checkpoint.KeepDays)*24*time.Hour, cfg.Checkpoint.MinKeep); err != nil {
			logger.Warn("checkpoint prune failed", "error", err)
		} else if deleted > 0 {
			logger.Info("pruned old checkpoints", "deleted", deleted)
		}

		if conversationID != "" {
			resumeOpts, err := store.Resume(ctx, conversationID)
			if err != nil {
				return fmt.Errorf("resume %s: %w", conversationID, err)
			}
			loopOpts = append(loopOpts, resumeOpts...)
			logger.Info("conversation resumed", "conversation_id", conversationID)
		}
	} else if conversationID != "" {
		return fmt.Errorf("cannot resume: checkpointing is not configured")
	}

	loop := agent.NewLoop(client, registry, loopCfg, loopOpts...)
	defer loop.Close()

	if showEvents {
		go printEvents(loop.Events())
	}
	if haClient != nil && cfg.HomeAssistant.WatchEvents {
		go watchBusEvents(ctx, cfg, logger)
	}

	return repl(ctx, loop, logger)
}

// repl reads lines from stdin and runs one turn per line.
func repl(ctx context.Context, loop *agent.Loop, logger *slog.Logger) error {
	fmt.Printf("bernard ready (conversation %s). Ctrl-D to exit.\n", loop.ConversationID())
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		result, err := loop.RunText(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("turn failed", "status", result.Status, "error", err)
			continue
		}
		fmt.Println(result.FinalText)
	}
}

func printEvents(events <-chan agent.Event) {
	for e := range events {
		fmt.Fprintf(os.Stderr, "[event] %s turn=%s %v\n", e.Kind, e.TurnID, e.Payload)
	}
}

// watchBusEvents follows the Home Assistant event bus and logs state
// changes, reconnecting with backoff when the socket drops.
func watchBusEvents(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	backoff := time.Second
	for ctx.Err() == nil {
		ec := homeassistant.NewEventClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		if err := ec.Connect(ctx); err != nil {
			logger.Warn("event socket connect failed", "error", err, "retry_in", backoff)
		} else if err := ec.Subscribe(ctx, "state_changed"); err != nil {
			logger.Warn("event subscribe failed", "error", err)
			ec.Close()
		} else {
			backoff = time.Second
		drain:
			for {
				select {
				case <-ctx.Done():
					ec.Close()
					return
				case <-ec.Done():
					break drain
				case e := <-ec.Events():
					logger.Debug("bus event", "event_type", e.Type)
				}
			}
			ec.Close()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
