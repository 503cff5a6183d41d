package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hutchstack/hutch/pkg/apply"
	"github.com/hutchstack/hutch/pkg/controller"
	"github.com/hutchstack/hutch/pkg/events"
	"github.com/hutchstack/hutch/pkg/health"
	"github.com/hutchstack/hutch/pkg/log"
	"github.com/hutchstack/hutch/pkg/metrics"
	"github.com/hutchstack/hutch/pkg/registry"
	"github.com/hutchstack/hutch/pkg/router"
	"github.com/hutchstack/hutch/pkg/runtime"
	"github.com/hutchstack/hutch/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hutch daemon",
	Long: `Run the reconciler, endpoint registry, and ingress proxy.

Examples:
  # Run with a manifest directory
  hutchd serve --manifests /etc/hutch/manifests

  # Run with debug logging and a custom proxy address
  hutchd serve --log-level debug --proxy-addr :8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "/var/lib/hutch", "Data directory for persistent state")
	serveCmd.Flags().String("manifests", "", "Manifest directory to load and watch")
	serveCmd.Flags().String("proxy-addr", ":80", "Ingress proxy listen address")
	serveCmd.Flags().String("metrics-addr", ":9090", "Metrics listen address")
	serveCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "Containerd socket path")
	serveCmd.Flags().String("instance-host", "127.0.0.1", "Host part of instance addresses")
	serveCmd.Flags().String("balancer", "roundrobin", "Backend selection policy (roundrobin or leastconn)")
	serveCmd.Flags().Duration("reconcile-interval", 10*time.Second, "Interval between reconciliation sweeps")
	serveCmd.Flags().Duration("unready-grace", 2*time.Minute, "How long an unready instance is kept before replacement")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("json-logs", false, "Emit JSON logs instead of console output")
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	manifestDir, _ := cmd.Flags().GetString("manifests")
	proxyAddr, _ := cmd.Flags().GetString("proxy-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	socketPath, _ := cmd.Flags().GetString("containerd-socket")
	instanceHost, _ := cmd.Flags().GetString("instance-host")
	balancerName, _ := cmd.Flags().GetString("balancer")
	interval, _ := cmd.Flags().GetDuration("reconcile-interval")
	unreadyGrace, _ := cmd.Flags().GetDuration("unready-grace")
	logLevel, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: jsonLogs,
	})

	logger := log.WithComponent("hutchd")
	logger.Info().Str("version", Version).Str("data_dir", dataDir).Msg("starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	rt, err := runtime.NewContainerdRuntime(socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to containerd: %w", err)
	}
	defer rt.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	prober := health.NewProber()
	defer prober.Stop()

	// Registry consumes readiness transitions and topology events
	reg := registry.New(store, broker)
	if err := reg.Sync(); err != nil {
		return fmt.Errorf("failed to sync endpoint registry: %w", err)
	}
	go reg.Run(ctx, prober.Transitions(), broker.Subscribe())

	// Surviving instances from a previous run need their probes back
	if err := rewatchInstances(store, prober); err != nil {
		return fmt.Errorf("failed to restore probes: %w", err)
	}

	ctrlCfg := controller.DefaultConfig()
	ctrlCfg.Interval = interval
	ctrlCfg.UnreadyGrace = unreadyGrace
	ctrlCfg.InstanceHost = instanceHost

	ctrl := controller.New(store, rt, prober, broker, ctrlCfg)
	ctrl.Start()
	defer ctrl.Stop()

	var balancer router.Balancer
	switch balancerName {
	case "roundrobin":
		balancer = router.NewRoundRobin()
	case "leastconn":
		balancer = router.NewLeastConnections()
	default:
		return fmt.Errorf("unknown balancer %q", balancerName)
	}

	proxy := router.NewProxy(store, router.New(reg, balancer), proxyAddr)
	go proxy.WatchRoutes(ctx, broker.Subscribe())

	errCh := make(chan error, 2)
	go func() {
		if err := proxy.Start(ctx); err != nil {
			errCh <- fmt.Errorf("proxy error: %w", err)
		}
	}()
	go func() {
		if err := serveMetrics(ctx, metricsAddr); err != nil {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	if manifestDir != "" {
		applier := apply.New(store, broker)
		watcher := apply.NewWatcher(applier, manifestDir)
		if err := watcher.LoadDir(); err != nil {
			return fmt.Errorf("failed to load manifests: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("manifest watcher stopped")
			}
		}()
	}

	logger.Info().
		Str("proxy_addr", proxyAddr).
		Str("metrics_addr", metricsAddr).
		Msg("hutchd is running")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// rewatchInstances restarts readiness probes for instances that survived a
// daemon restart
func rewatchInstances(store storage.Store, prober *health.Prober) error {
	instances, err := store.ListInstances()
	if err != nil {
		return err
	}

	for _, inst := range instances {
		if !inst.State.Active() {
			continue
		}
		w, err := store.GetWorkload(inst.Workload)
		if err != nil {
			continue // Orphan, the controller will drain it
		}
		prober.Watch(inst, w.Probe)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger := log.WithComponent("metrics")
	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
