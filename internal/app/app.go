// Package app wires the room registry, presence tracker, broadcaster and HTTP
// surface together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
	"github.com/DoyleJ11/skygames-rooms/internal/broadcast"
	"github.com/DoyleJ11/skygames-rooms/internal/config"
	"github.com/DoyleJ11/skygames-rooms/internal/friends"
	"github.com/DoyleJ11/skygames-rooms/internal/httpapi"
	"github.com/DoyleJ11/skygames-rooms/internal/metrics"
	"github.com/DoyleJ11/skygames-rooms/internal/presence"
	"github.com/DoyleJ11/skygames-rooms/internal/room"
	"github.com/DoyleJ11/skygames-rooms/internal/ws"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config      config.Config
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	Friends     friends.Directory
	Rooms       *room.Registry
	Presence    *presence.Tracker
	Broadcaster *broadcast.Broadcaster
	Relay       *broadcast.RedisRelay // nil when running single-instance
	Redis       *redis.Client         // shared by the relay and the presence store
	Server      *http.Server

	closers []func() error
}

// New builds every component. Call Close when done, even if Run was never called.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (a *App, err error) {
	a = &App{Config: cfg, Log: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
			a = nil
		}
	}()

	if err := a.openFriends(ctx); err != nil {
		return a, err
	}

	a.Broadcaster = broadcast.New(ctx, broadcast.Options{
		Friends: a.Friends,
		Buffer:  cfg.SubscriberBuffer,
		Logger:  log,
		Metrics: a.Metrics,
	})
	a.closers = append(a.closers, func() error { a.Broadcaster.Stop(); return nil })

	trackerOpts := []presence.TrackerOption{presence.WithFriends(a.Friends)}
	if cfg.RedisAddr != "" {
		rdb, err := broadcast.DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return a, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
		trackerOpts = append(trackerOpts, presence.WithStore(presence.NewRedisStore(rdb, cfg.RedisKeyPrefix)))
	}
	a.Presence = presence.NewTracker(a.Broadcaster, log, trackerOpts...)

	a.Rooms = room.NewRegistry(ctx, room.Options{
		CodeLength:   cfg.Rooms.CodeLength,
		CodeAttempts: cfg.Rooms.CodeAttempts,
		IdleTimeout:  cfg.Rooms.IdleTimeout,
		CloseGrace:   cfg.Rooms.CloseGrace,
		Sink:         a.Presence,
		Friends:      a.Friends,
		Logger:       log,
		Metrics:      a.Metrics,
	})
	a.closers = append(a.closers, func() error { a.Rooms.Stop(); return nil })

	if a.Redis != nil {
		origin := cfg.InstanceID
		if origin == "" {
			origin = uuid.NewString()
		}
		a.Relay = broadcast.NewRedisRelay(a.Redis, broadcast.RelayConfig{
			Channel: cfg.RedisChannel,
			Origin:  origin,
		}, log, a.Metrics)
		a.Broadcaster.SetForwarder(a.Relay)
		log.Info("presence relay enabled", zap.String("channel", cfg.RedisChannel), zap.String("origin", origin))
	}

	a.Server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) openFriends(ctx context.Context) error {
	if a.Config.PGURL == "" {
		dir, err := friends.ParseStatic(a.Config.StaticFriends)
		if err != nil {
			return err
		}
		a.Friends = dir
		a.Log.Info("using static friend directory")
		return nil
	}

	store, err := friends.OpenStore(a.Config.PGURL, a.Log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)
	if a.Config.DBAutoMigrate {
		if err := store.AutoMigrate(ctx); err != nil {
			return err
		}
	}
	a.Friends = store
	return nil
}

// Handler builds the full HTTP surface.
func (a *App) Handler() http.Handler {
	return httpapi.SetupRoutes(httpapi.RouterDeps{
		API: &httpapi.API{
			Rooms:        a.Rooms,
			Presence:     a.Presence,
			PollInterval: a.Config.PollInterval,
			Log:          a.Log,
		},
		JWT: auth.New(a.Config.JWTSecret),
		Presence: &ws.Handler{
			Broadcaster:    a.Broadcaster,
			Presence:       a.Presence,
			Rooms:          a.Rooms,
			OriginPatterns: ws.OriginPatterns(a.Config.CORSAllow),
			Log:            a.Log.Named("ws"),
		},
		Metrics:   a.Metrics.Handler(),
		CORSAllow: a.Config.CORSAllow,
		Log:       a.Log,
	})
}

// Run serves HTTP, sweeps rooms and relays presence until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("listening", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Rooms.Run(gctx, a.Config.Rooms.SweepInterval)
	})
	if a.Relay != nil {
		g.Go(func() error {
			return a.Relay.Run(gctx, a.Broadcaster.Deliver)
		})
	}
	return g.Wait()
}

// Close releases components in reverse order of construction.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
