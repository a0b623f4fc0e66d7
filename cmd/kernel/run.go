package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"slug/internal/capdata"
	"slug/internal/config"
	"slug/internal/executor"
	"slug/internal/id"
	"slug/internal/kernelsvc"
	"slug/internal/platform/localsandbox"
	"slug/internal/store"
	"slug/internal/subcluster"
)

func newRunCmd(opts *globalOpts) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a subcluster from a cluster.toml and drive it until Ctrl-C.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubcluster(opts, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "cluster.toml", "path to the cluster config")
	return cmd
}

func runSubcluster(opts *globalOpts, configPath string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return fmt.Errorf("kernel run: loading config: %w", err)
	}

	s, err := openStore(opts)
	if err != nil {
		return fmt.Errorf("kernel run: opening store: %w", err)
	}

	services := localsandbox.NewServices()
	registerBuiltinBundles(services)

	reg := kernelsvc.New()
	engine := executor.New(s, reg, log)
	pingKO := registerPingService(s, reg)
	log.Info("kernel service registered", slog.String("name", "ping"), slog.String("ko", string(pingKO)))

	mgr := subcluster.New(s, engine, services, log)
	scID, err := mgr.Launch(cfg)
	if err != nil {
		return fmt.Errorf("kernel run: launching subcluster: %w", err)
	}
	log.Info("subcluster running", slog.String("subcluster", string(scID)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	idle := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case idle <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	if err := engine.Run(ctx, idle); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine halted", slog.Any("error", err))
		return err
	}

	log.Info("shutting down", slog.String("subcluster", string(scID)))
	return mgr.TerminateAll()
}

// registerPingService gives a `kernel run` instance a minimal,
// always-present kernel-service object, whose koN the startup log reports.
// `kernel send` builds its own empty kernelsvc registry, so a send from
// that command does not reach this method.
func registerPingService(s *store.Store, reg *kernelsvc.Registry) id.KOId {
	s.StartCrank()
	ko := reg.Register(s, "ping", map[string]kernelsvc.Method{
		"ping": func(args capdata.CapData) (capdata.CapData, error) {
			return capdata.CapData{Body: "pong:" + args.Body}, nil
		},
	})
	_ = s.EndCrank()
	return ko
}
