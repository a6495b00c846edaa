package main

import (
	"context"
	"fmt"

	"github.com/vinayprograms/sketchlink/bus"
	"github.com/vinayprograms/sketchlink/channel"
	"github.com/vinayprograms/sketchlink/config"
	"github.com/vinayprograms/sketchlink/logging"
	"github.com/vinayprograms/sketchlink/shutdown"
	"github.com/vinayprograms/sketchlink/state"
	"github.com/vinayprograms/sketchlink/telemetry"
)

// runtime is everything a subcommand shares: config, logger, the channel
// service and the coordinator that tears them down.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	service  *channel.Service
	shutdown *shutdown.Coordinator
}

// setup loads config and opens the channel. The caller owns rt.shutdown.
func setup(ctx context.Context, component string) (*runtime, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	coord := shutdown.New(shutdown.Config{Logger: logger})

	if cfg.Trace.Enabled {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName: "sketchlink-" + component,
			Protocol:    cfg.Trace.Protocol,
			Endpoint:    cfg.Trace.Endpoint,
			Insecure:    cfg.Trace.Insecure,
			Debug:       cfg.Trace.Debug,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		coord.Register("tracing", shutdown.PhaseTelemetry, provider.Shutdown)
	}

	b, store := openBackends(cfg, logger, coord)

	strategy, err := channel.Open(channel.OpenConfig{
		Transport:   cfg.Channel.Transport,
		Bus:         b,
		Store:       store,
		ChannelName: cfg.Channel.Name,
		StorageKey:  cfg.Channel.StorageKey,
		ContextID:   cfg.Channel.ContextID,
		Logger:      logger,
	})
	if err != nil {
		coord.Shutdown(ctx)
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	svc := channel.NewService(strategy, channel.WithLogger(logger))
	channel.SetDefault(svc)
	coord.Closer("channel", shutdown.PhaseChannel, svc)

	logger.Info("channel open", map[string]interface{}{
		"strategy":  strategy.Name(),
		"component": component,
	})

	return &runtime{cfg: cfg, logger: logger, service: svc, shutdown: coord}, nil
}

// openBackends connects to NATS when configured. A failed connection or a
// missing JetStream leaves that backend nil so channel.Open can fall back.
// With no URL both backends are in process.
func openBackends(cfg *config.Config, logger *logging.Logger, coord *shutdown.Coordinator) (bus.MessageBus, state.Store) {
	if cfg.NATS.URL == "" {
		b := bus.NewMemoryBus(bus.DefaultConfig())
		s := state.NewMemoryStore()
		coord.Closer("memory-bus", shutdown.PhaseBackend, b)
		coord.Closer("memory-store", shutdown.PhaseBackend, s)
		return b, s
	}

	natsCfg := bus.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = cfg.NATS.Name

	nb, err := bus.NewNATSBus(natsCfg)
	if err != nil {
		logger.Warn("nats unavailable", map[string]interface{}{"url": cfg.NATS.URL, "error": err.Error()})
		return nil, nil
	}
	// The KV store borrows this connection, so it closes one step later.
	coord.Closer("nats", shutdown.PhaseBackend+1, nb)

	storeCfg := state.DefaultNATSStoreConfig()
	storeCfg.Conn = nb.Conn()
	if cfg.NATS.Bucket != "" {
		storeCfg.Bucket = cfg.NATS.Bucket
	}
	store, err := state.NewNATSStore(storeCfg)
	if err != nil {
		logger.Warn("jetstream kv unavailable", map[string]interface{}{"bucket": storeCfg.Bucket, "error": err.Error()})
		return nb, nil
	}
	coord.Closer("nats-kv", shutdown.PhaseBackend, store)
	return nb, store
}
