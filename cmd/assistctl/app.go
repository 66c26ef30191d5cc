package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cexll/assistant-go/pkg/backend/anthropic"
	"github.com/cexll/assistant-go/pkg/backend/local"
	"github.com/cexll/assistant-go/pkg/backend/openai"
	"github.com/cexll/assistant-go/pkg/backend/router"
	"github.com/cexll/assistant-go/pkg/capability"
	"github.com/cexll/assistant-go/pkg/capability/imaging"
	"github.com/cexll/assistant-go/pkg/orchestrator"
	"github.com/cexll/assistant-go/pkg/settings"
	"github.com/cexll/assistant-go/pkg/telemetry"
)

const version = "0.3.0"

// app holds the wired assistant stack for one CLI invocation.
type app struct {
	cfg       *settings.Settings
	logger    zerolog.Logger
	registry  *capability.Registry
	router    *router.Router
	orch      *orchestrator.Orchestrator
	localB    *local.Backend
	telemetry *telemetry.Manager
}

func buildApp(ctx context.Context, cfgPath string, streams ioStreams) (*app, error) {
	loader, err := settings.NewLoader(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel, streams)

	tm, err := telemetry.NewManager(ctx, telemetry.Config{
		ServiceName:    "assistctl",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	telemetry.SetDefault(tm)

	registry := capability.NewRegistry()
	if err := imaging.Register(registry); err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}

	r := router.New(router.WithLogger(logger))
	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		router:    r,
		telemetry: tm,
	}
	if err := a.registerBackends(); err != nil {
		return nil, err
	}
	if err := r.Use(cfg.ActiveBackend); err != nil {
		return nil, err
	}

	a.orch = orchestrator.New(r, registry,
		orchestrator.WithSystemPrompt(cfg.SystemPrompt),
		orchestrator.WithMaxTokens(cfg.MaxTokens),
		orchestrator.WithMaxToolRounds(cfg.MaxToolRounds),
		orchestrator.WithLogger(logger),
	)
	return a, nil
}

func (a *app) registerBackends() error {
	if err := a.router.Register(anthropic.New(anthropic.Config{
		APIKey:    a.cfg.Anthropic.APIKey,
		BaseURL:   a.cfg.Anthropic.BaseURL,
		Model:     a.cfg.Anthropic.Model,
		MaxTokens: a.cfg.MaxTokens,
	})); err != nil {
		return err
	}
	if err := a.router.Register(openai.New(openai.Config{
		APIKey:    a.cfg.OpenAI.APIKey,
		BaseURL:   a.cfg.OpenAI.BaseURL,
		Model:     a.cfg.OpenAI.Model,
		MaxTokens: a.cfg.MaxTokens,
	})); err != nil {
		return err
	}

	if a.cfg.Local.ModelPath != "" {
		policy, err := local.ParseEvictionPolicy(a.cfg.Local.EvictionPolicy)
		if err != nil {
			return err
		}
		lb, err := local.New(local.Config{
			ModelPath:   a.cfg.Local.ModelPath,
			Policy:      policy,
			ContextSize: a.cfg.Local.ContextSize,
			Threads:     a.cfg.Local.Threads,
			MaxTokens:   a.cfg.MaxTokens,
		}, a.logger)
		if err != nil {
			return err
		}
		a.localB = lb
		if err := a.router.Register(lb); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.localB != nil {
		a.localB.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.logger.Debug().Err(err).Msg("telemetry shutdown")
	}
}

func newLogger(level string, streams ioStreams) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: streams.err, TimeFormat: time.Kitchen}
	if streams.err == nil {
		writer.Out = os.Stderr
	}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
