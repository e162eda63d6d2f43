package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/zzampax/Simple-HTTP/internal/config"
	"github.com/zzampax/Simple-HTTP/internal/dispatch"
	"github.com/zzampax/Simple-HTTP/internal/files"
	"github.com/zzampax/Simple-HTTP/internal/logger"
	"github.com/zzampax/Simple-HTTP/internal/metrics"
	"github.com/zzampax/Simple-HTTP/internal/server"
	"github.com/zzampax/Simple-HTTP/internal/store"
	"github.com/zzampax/Simple-HTTP/internal/tmpl"
	"github.com/zzampax/Simple-HTTP/internal/wire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "simple-http: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Resolve(args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Sink:   cfg.Logging.Sink,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	root, err := files.NewRoot(cfg.Public.Root)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.DBPath, store.Options{
		TokenTTL:   cfg.Auth.TokenTTL.Duration(),
		BcryptCost: cfg.Auth.BcryptCost,
	}, log.Named("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("store_close_failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeperDone, err := st.StartSweeper(ctx, cfg.Auth.SweepCron)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Address != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Address, log); err != nil {
				log.Error("metrics_server_failed", zap.Error(err))
			}
		}()
	}

	d := dispatch.New(dispatch.Config{
		Identities: st,
		Data:       st,
		Renderer:   tmpl.Renderer{},
		Files:      root,
		Logger:     log.Named("dispatch"),
		OnUpload:   m.UploadedBytes,
	})

	srv, err := server.New(server.Config{
		Addrs:        cfg.Addrs(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		Limits: wire.Limits{
			MaxHeaderBytes: int(cfg.Server.MaxHeaderBytes.Int64()),
			MaxBodyBytes:   cfg.Server.MaxBodyBytes.Int64(),
		},
		RateLimit: server.RateLimit{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst},
	}, d, log.Named("server"), m)
	if err != nil {
		return err
	}
	log.Info("server_started",
		zap.String("addr", srv.Addr().String()),
		zap.String("public_root", root.Dir()),
		zap.String("max_body", cfg.Server.MaxBodyBytes.String()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutdown_signal_received", zap.String("signal", sig.String()))
		cancel()
		srv.Shutdown()
	}()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	srv.Shutdown()
	<-sweeperDone
	return nil
}
