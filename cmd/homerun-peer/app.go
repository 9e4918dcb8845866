package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"homerun/pkg/admin"
	"homerun/pkg/avatar"
	"homerun/pkg/config"
	"homerun/pkg/effects"
	"homerun/pkg/identity"
	"homerun/pkg/link"
	"homerun/pkg/match"
	"homerun/pkg/memkv"
	"homerun/pkg/observability"
	"homerun/pkg/orchestrator"
	"homerun/pkg/peers"
	"homerun/pkg/physics"
	"homerun/pkg/protocol/codec"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	player, err := match.ParsePlayerType(opts.PlayerType)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		return 2
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("homerun-peer started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// peer store (in-mem) for remote peer metadata/statistics
	kv := memkv.New(memkv.Options{})
	defer kv.Close()
	ps := peers.NewStore(kv, peers.DefaultTTL, logger.Named("peers"))
	reg := codec.NewRegistry()

	o, err := orchestrator.New(orchestrator.Deps{
		Match:      cfg.Match,
		BodyFormat: cfg.Net.BodyFormat,
		Identity:   identity.NewResolver(cfg.Identity, logger),
		NewFinder: func(id *identity.Identity) (orchestrator.PeerFinder, error) {
			mm := link.NewMatchmaker(link.MatchmakerOptions{
				Identity:   id,
				Transports: cfg.Transports,
				Net:        cfg.Net,
				Registry:   reg,
				Peers:      ps,
				Log:        logger,
			})
			if err := mm.Start(ctx); err != nil {
				return nil, err
			}
			return mm, nil
		},
		Registry: reg,
		Rig:      avatar.NewHeadlessRig(),
		Poses: avatar.StaticPose{
			Head:  avatar.Transform{Position: physics.V(0, 1.7, 0), Rotation: [4]float32{0, 0, 0, 1}},
			Bat:   avatar.Transform{Position: physics.V(0.3, 1.2, 0.2), Rotation: [4]float32{0, 0, 0, 1}},
			Glove: avatar.Transform{Position: physics.V(-0.3, 1.2, 0.2), Rotation: [4]float32{0, 0, 0, 1}},
		},
		Mirror:  &avatar.Mirror{},
		Effects: effects.Logger{Log: logger.Named("effects")},
		Peers:   ps,
		Log:     logger,
	})
	if err != nil {
		zap.L().Error("failed to build orchestrator", zap.Error(err))
		return 1
	}

	if cfg.Admin.Listen != "" {
		h := admin.SetupRoutes(admin.Options{Orchestrator: o, Peers: ps, Log: logger.Named("admin")})
		go func() {
			if err := admin.Serve(ctx, cfg.Admin.Listen, h, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Error("admin server", zap.Error(err))
			}
		}()
	}

	o.Post(func() { o.SetPlayerType(player) })
	o.Start(ctx)
	if opts.Local {
		go startLocal(ctx, o)
	}

	zap.L().Info("peer is running; press Ctrl+C to exit", zap.Stringer("player", player))
	err = o.Run(ctx)
	_ = o.Close()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		zap.L().Info("peer stopped")
		return 0
	default:
		zap.L().Error("peer stopped", zap.Error(err))
		return 1
	}
}

// startLocal starts a practice match once the lobby is reached.
func startLocal(ctx context.Context, o *orchestrator.Orchestrator) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		started := false
		err := o.Do(ctx, func() {
			if o.CurrentState() == match.WaitingToPracticeOrMatchmake {
				started = o.PlayLocal() == nil
			}
		})
		if err != nil || started {
			return
		}
	}
}
