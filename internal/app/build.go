package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/chorus/internal/bot"
	"github.com/ent0n29/chorus/internal/compaction"
	"github.com/ent0n29/chorus/internal/config"
	"github.com/ent0n29/chorus/internal/httpapi"
	"github.com/ent0n29/chorus/internal/keys"
	"github.com/ent0n29/chorus/internal/memory"
	"github.com/ent0n29/chorus/internal/observability"
	"github.com/ent0n29/chorus/internal/persona"
	"github.com/ent0n29/chorus/internal/platform"
	"github.com/ent0n29/chorus/internal/prompt"
	"github.com/ent0n29/chorus/internal/provider"
	"github.com/ent0n29/chorus/internal/voice"
	"github.com/ent0n29/chorus/internal/worker"
)

type BuildResult struct {
	Config  config.Config
	Bot     *bot.Bot
	Gateway *platform.Gateway
	API     *httpapi.Server
	Pool    *worker.Pool
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires one character bot process from config. The pool is returned
// unstarted so the caller owns its lifecycle.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	character, err := persona.Load(cfg.CharactersPath, cfg.CharacterName)
	if err != nil {
		return nil, fmt.Errorf("persona load failed: %w", err)
	}

	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	keyStore, err := keys.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = memoryStore.Close()
		return nil, fmt.Errorf("key store init failed: %w", err)
	}

	rest := platform.NewRESTClient(cfg.PlatformAPIBase, cfg.PlatformToken)
	buffers := prompt.NewBufferRegistry(prompt.DefaultBufferCapacity)
	assembler := prompt.NewAssembler(memoryStore, bot.NewPlatformHistory(rest, cfg.SelfUserID))

	chat := provider.NewChatClient(cfg.GenerationAPIURL, cfg.ProviderTimeout)
	speech := provider.NewSpeechClient(cfg.SpeechAPIBase, cfg.ProviderTimeout)

	pool := worker.NewPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize)

	summarizer := compaction.NewProviderSummarizer(chat, keyStore, cfg.GenerationModel)
	scheduler := compaction.NewScheduler(compaction.Config{}, memoryStore, summarizer, pool, metrics)

	b, err := bot.New(bot.Options{
		BotName:         cfg.BotName,
		BotKey:          cfg.BotKey,
		SelfUserID:      cfg.SelfUserID,
		GuildID:         cfg.GuildID,
		TargetChannelID: cfg.TargetChannelID,
		DiagChannelID:   cfg.DiagChannelID,
		DefaultModel:    cfg.GenerationModel,
		VoiceEnabled:    cfg.VoiceEnabled,
		VoiceMaxChars:   cfg.VoiceMaxChars,
		Persona:         character,
		Store:           memoryStore,
		Buffers:         buffers,
		Assembler:       assembler,
		Scheduler:       scheduler,
		Chat:            chat,
		Speech:          speech,
		Keys:            keyStore,
		Sender:          rest,
		Decider:         voice.StaticDecider{},
		Profile:         voice.LoadProfile(cfg.CharacterName),
		Pool:            pool,
		Metrics:         metrics,
	})
	if err != nil {
		_ = keyStore.Close()
		_ = memoryStore.Close()
		return nil, err
	}

	gateway, err := platform.NewGateway(cfg.PlatformGatewayURL, cfg.PlatformToken, b.HandleMessage)
	if err != nil {
		_ = keyStore.Close()
		_ = memoryStore.Close()
		return nil, fmt.Errorf("gateway init failed: %w", err)
	}

	api := httpapi.New(cfg, memoryStore, keyStore, metrics)

	cleanup := func() error {
		var errs []string
		if err := keyStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := memoryStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		Bot:     b,
		Gateway: gateway,
		API:     api,
		Pool:    pool,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}
