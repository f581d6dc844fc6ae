package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/intentrouter/internal/channels"
	"github.com/nextlevelbuilder/intentrouter/internal/channels/discord"
	"github.com/nextlevelbuilder/intentrouter/internal/channels/telegram"
	"github.com/nextlevelbuilder/intentrouter/internal/config"
	"github.com/nextlevelbuilder/intentrouter/internal/gateway"
	"github.com/nextlevelbuilder/intentrouter/internal/tracing"
	"github.com/nextlevelbuilder/intentrouter/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, chat channels and the intent pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.TracingConfig())
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.close(); err != nil {
			slog.Error("engine close", "error", err)
		}
	}()

	channelMgr := channels.NewManager(eng.bus)
	registerChannels(cfg.Channels, channelMgr, eng)

	server := gateway.NewServer(cfg.Gateway, eng.bus, eng.pipeline, eng.stores.Audit, eng.registry)
	server.SetChannelStatus(channelMgr.Status)

	slog.Info("intentrouter starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"channels", channelMgr.Names(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return eng.runJanitors(gctx) })
	g.Go(func() error {
		consumeInboundMessages(gctx, eng.bus, eng.pipeline)
		return nil
	})
	g.Go(func() error {
		if err := channelMgr.StartAll(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		slog.Info("graceful shutdown initiated")
		return channelMgr.StopAll(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func registerChannels(cfg config.ChannelsConfig, mgr *channels.Manager, eng *engine) {
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		ch, err := telegram.New(cfg.Telegram, eng.bus)
		if err != nil {
			slog.Error("telegram channel disabled", "error", err)
		} else {
			mgr.Register(ch)
		}
	}
	if cfg.Discord.Enabled && cfg.Discord.Token != "" {
		ch, err := discord.New(cfg.Discord, eng.bus)
		if err != nil {
			slog.Error("discord channel disabled", "error", err)
		} else {
			mgr.Register(ch)
		}
	}
}
