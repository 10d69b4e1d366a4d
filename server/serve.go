package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/identity"
	"collabtext/internal/logging"
	"collabtext/internal/relay"
	"collabtext/internal/reportstore"
	"collabtext/internal/room"
	"collabtext/internal/transport"
)

type serveOptions struct {
	configPath string
	addr       string
	logLevel   string
}

func serve(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	}, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := reportstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	defer store.Close()
	logger.Info("report store ready", "type", cfg.Store.Type)

	g, gctx := errgroup.WithContext(ctx)

	var events room.Events
	if cfg.Relay.Enabled {
		rdb := redis.NewClient(reportstore.RedisOptions(cfg))
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect relay redis: %w", err)
		}
		rel := relay.New(rdb, cfg.Relay.ChannelPrefix, logger.With("component", "relay"))
		events = rel
		g.Go(func() error { return rel.Run(gctx) })
		logger.Info("event relay enabled", "prefix", cfg.Relay.ChannelPrefix)
	}

	registry := room.NewRegistry(room.Options{
		Store:       store,
		Events:      events,
		SaveTimeout: cfg.SaveTimeout(),
		Logger:      logger.Logger,
	})
	srv := transport.NewServer(transport.Options{
		Registry:       registry,
		Identity:       identity.HeaderProvider{AllowAnonymous: cfg.Server.AllowAnonymous},
		Limits:         cfg.Limits,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.Logger,
	})
	httpSrv := &http.Server{
		Handler:           transport.NewRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var watcher *config.Watcher
	if opts.configPath != "" {
		if watcher, err = config.NewWatcher(opts.configPath); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	logger.Info("sync server listening", "addr", ln.Addr().String())

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if watcher != nil {
		watcher.OnChange(func(c *config.Config) {
			if err := logger.SetLevel(c.Logging.Level); err != nil {
				logger.Warn("ignoring reloaded log level", "error", err)
				return
			}
			logger.Info("config reloaded", "level", c.Logging.Level)
		})
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err := <-watcher.Errors():
					logger.Warn("config watch", "error", err)
				}
			}
		})
	}

	if cfg.Discovery.Enabled {
		port := ln.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise(discovery.InstanceName(cfg.Discovery.Instance), cfg.Discovery.Service, port,
			[]string{"path=/ws", "port=" + strconv.Itoa(port)})
		if err != nil {
			logger.Warn("mDNS advertisement disabled", "error", err)
		} else {
			defer ad.Shutdown()
			logger.Info("advertising over mDNS", "service", cfg.Discovery.Service, "port", port)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		// hijacked WebSocket connections are not covered by the HTTP server
		// shutdown, so close them through the transport
		httpErr := httpSrv.Shutdown(sctx)
		wsErr := srv.Shutdown(sctx)
		return errors.Join(httpErr, wsErr)
	})

	return g.Wait()
}
