package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/config"
	"github.com/cuemby/sirsicore/pkg/connector"
	"github.com/cuemby/sirsicore/pkg/hypervisor"
	"github.com/cuemby/sirsicore/pkg/log"
	"github.com/cuemby/sirsicore/pkg/metrics"
	"github.com/cuemby/sirsicore/pkg/orchestration"
	"github.com/cuemby/sirsicore/pkg/portregistry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sirsictl",
	Short: "sirsictl - multi-cloud AI control plane",
	Long: `sirsictl runs the control plane that supervises internal
services (the Hypervisor), schedules agent work across cloud
connectors (the Orchestration Engine), and tracks port allocations
for service discovery (the Port Registry) — as a single process, with
no external dependencies beyond the cloud provider SDKs.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sirsictl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file overriding the spec defaults")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// controlPlane bundles the wired C1-C5 components that serve runs;
// apply only parses and validates a resource file and builds none of
// them.
type controlPlane struct {
	ports   *portregistry.Registry
	cleaner *portregistry.Cleaner
	connMgr *connector.Manager
	engine  *orchestration.Engine
	worker  *orchestration.Worker
	hv      *hypervisor.Hypervisor
}

func newControlPlane(cfg config.Config) *controlPlane {
	ports := portregistry.New()
	cleaner := portregistry.NewCleaner(ports, time.Duration(cfg.PortRegistry.CleanupInterval))

	connMgr := connector.NewManager()
	engine := orchestration.New(connMgr, orchestration.Config{
		RetryBase: time.Duration(cfg.Orchestration.RetryBase),
		RetryCap:  time.Duration(cfg.Orchestration.RetryCap),
	})
	worker := orchestration.NewWorker(engine, clock.Real{}, time.Duration(cfg.Orchestration.WorkerPeriod))

	hv := hypervisor.New(ports, hypervisor.Config{
		HealthCheckInterval:  time.Duration(cfg.Hypervisor.HealthCheckInterval),
		StatusUpdateInterval: time.Duration(cfg.Hypervisor.StatusUpdateInterval),
		RestartBackoffBase:   time.Duration(cfg.Hypervisor.RestartBackoffBase),
		RestartBackoffCap:    time.Duration(cfg.Hypervisor.RestartBackoffCap),
		DependencyTimeout:    time.Duration(cfg.Hypervisor.DependencyTimeout),
	})

	return &controlPlane{ports: ports, cleaner: cleaner, connMgr: connMgr, engine: engine, worker: worker, hv: hv}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Start the Port Registry, Connector Manager, Orchestration
Engine and Hypervisor as one process, optionally bootstrapping an
initial set of services and connectors from a resource file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := rootCmd.PersistentFlags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		resourcesPath, _ := cmd.Flags().GetString("resources")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cp := newControlPlane(cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cp.cleaner.Start()
		cp.worker.Start(ctx)
		go cp.hv.Run(ctx)

		collector := metrics.NewCollector(cp.ports, cp.engine, cp.hv)
		collector.Start()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("portregistry", true, "ready")
		metrics.RegisterComponent("hypervisor", true, "ready")
		metrics.RegisterComponent("orchestration", true, "ready")

		if resourcesPath != "" {
			data, err := os.ReadFile(resourcesPath)
			if err != nil {
				return fmt.Errorf("failed to read resources file: %w", err)
			}
			resources, err := parseResources(data)
			if err != nil {
				return fmt.Errorf("failed to parse resources file: %w", err)
			}
			if err := applyResources(ctx, resources, cp); err != nil {
				return fmt.Errorf("failed to apply resources: %w", err)
			}
			fmt.Printf("✓ Applied %d resources from %s\n", len(resources), resourcesPath)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}

		var g errgroup.Group
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live}\n", metricsAddr)
		fmt.Println()
		fmt.Println("Control plane is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		<-sigCh
		fmt.Println("\nShutting down...")

		cancel()
		cp.worker.Stop()
		cp.cleaner.Stop()
		cp.hv.Stop()
		collector.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)

		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Bind address for the metrics/health HTTP endpoints")
	serveCmd.Flags().String("resources", "", "Path to a YAML resource file to apply at startup")
}
