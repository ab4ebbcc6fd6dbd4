package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/othala/orchd/internal/api"
	"github.com/othala/orchd/internal/classifier"
	"github.com/othala/orchd/internal/config"
	"github.com/othala/orchd/internal/daemon"
	"github.com/othala/orchd/internal/dispatch"
	"github.com/othala/orchd/internal/obslog"
	"github.com/othala/orchd/internal/recovery"
	"github.com/othala/orchd/internal/store"
	"github.com/othala/orchd/internal/supervisor"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default is .othala.yaml)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("othalad starting")

	if err := config.Bootstrap(*cfgFile); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("othalad exited with error: %v", err)
	}
	log.Println("othalad stopped")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal: %v", sig)
		cancel()
	}()

	st, err := store.Open(cfg.Store.DBPath, cfg.Store.EventDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	logger, err := obslog.NewWithCredentialsSecret(ctx, cfg.GCP.Project, "othalad", cfg.Daemon.RepoID, cfg.GCP.CredentialsSecret)
	if err != nil {
		return fmt.Errorf("opening logger: %w", err)
	}
	defer logger.Close()

	daemonCfg := cfg.ToDaemonConfig()
	dispatcher := dispatch.New(daemonCfg.DispatchConfig)
	sup := supervisor.New(dispatch.ModelClaude)
	defer sup.StopAll()

	recoveryLoop := recovery.New(classifier.New(), dispatcher)
	state := daemon.NewState()
	defer state.Close()

	apiServer := api.New(api.Config{Addr: cfg.API.Addr, AllowedOrigins: cfg.API.AllowedOrigins}, st)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serveAPI(groupCtx, apiServer)
	})
	group.Go(func() error {
		return tickLoop(groupCtx, cfg.Daemon.TickInterval, st, sup, dispatcher, recoveryLoop, state, daemonCfg, logger)
	})

	return group.Wait()
}

// serveAPI runs the operator HTTP surface until ctx is cancelled, then
// shuts it down gracefully.
func serveAPI(ctx context.Context, apiServer *api.Server) error {
	errCh := make(chan error, 1)
	apiServer.Start(errCh)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	}
}

func tickLoop(ctx context.Context, interval time.Duration, st *store.Store, sup *supervisor.Supervisor, dispatcher *dispatch.Dispatcher, recoveryLoop *recovery.Loop, state *daemon.State, cfg daemon.Config, logger *obslog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runTick(st, sup, dispatcher, recoveryLoop, state, cfg, logger); err != nil {
				logger.Error("", fmt.Sprintf("tick failed: %v", err))
			}
		}
	}
}

func runTick(st *store.Store, sup *supervisor.Supervisor, dispatcher *dispatch.Dispatcher, recoveryLoop *recovery.Loop, state *daemon.State, cfg daemon.Config, logger *obslog.Logger) error {
	actions, err := daemon.Tick(st, sup, dispatcher, recoveryLoop, state, cfg)
	if err != nil {
		return fmt.Errorf("computing tick actions: %w", err)
	}
	if len(actions) == 0 {
		return nil
	}
	return daemon.ExecuteActions(actions, st, sup, recoveryLoop, logger.AsDaemonLogger())
}
