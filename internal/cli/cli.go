// ============================================================================
// Cranium CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands to run the runtime and inspect it
//
// Command Structure:
//   cranium                        # Root command
//   ├── run                        # Run the tick loop
//   │   ├── --ticks                # Stop after N ticks (0 = until signalled)
//   │   └── --no-agent             # Do not install the reference agent
//   ├── status                     # Show configuration and probe health
//   │   └── --addr                 # Health server address
//   ├── ids                        # List the stored type registry
//   ├── --config, -c               # Config file (default configs/default.yaml)
//   └── --version
//
// run Command:
//   1. Load config and open the registry store (file or redis)
//   2. Restore the type registry
//   3. Create the core, install the agent
//   4. Start the metrics and health servers (if enabled)
//   5. Run ticks until SIGINT/SIGTERM or --ticks
//   6. Save the type registry and print a summary
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/opencranium/cranium/internal/agent"
	"github.com/opencranium/cranium/internal/config"
	"github.com/opencranium/cranium/internal/core"
	"github.com/opencranium/cranium/internal/metrics"
	"github.com/opencranium/cranium/internal/registry"
	"github.com/opencranium/cranium/internal/server"
	"github.com/opencranium/cranium/internal/stats"
)

var log = slog.Default()

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cranium",
		Short: "Cranium: a concurrent workspace runtime for layered agents",
		Long: `Cranium schedules typed processors on worker pools in bounded ticks:
- priority queues with supersession
- fair three-list rotation
- per-layer or shared pools
- Prometheus metrics and gRPC health`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildIDsCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

type runOptions struct {
	ticks   int
	noAgent bool
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runtime tick loop",
		Long:  "Start the pools and run ticks until interrupted or --ticks is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSystem(ctx, cmd.OutOrStdout(), cfg, opts)
		},
	}

	cmd.Flags().IntVar(&opts.ticks, "ticks", 0, "stop after this many ticks (0 = run until signalled)")
	cmd.Flags().BoolVar(&opts.noAgent, "no-agent", false, "do not install the reference agent")

	return cmd
}

func runSystem(ctx context.Context, out io.Writer, cfg *config.Config, opts runOptions) error {
	if opts.ticks < 0 {
		return fmt.Errorf("--ticks must not be negative, got %d", opts.ticks)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := registry.New()
	loaded, err := reg.Load(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to restore type registry: %w", err)
	}
	if !loaded {
		log.Warn("Starting with an empty type registry", "store", store.String())
	}

	var recorder *stats.Recorder
	if cfg.Statistics.Enabled {
		recorder = stats.NewRecorder(true)
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWith(promReg)

	c, err := core.New(cfg.CoreConfig(),
		core.WithRegistry(reg),
		core.WithRecorder(recorder),
		core.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("failed to create core: %w", err)
	}

	schedule := cfg.Schedule()
	schedule.MaxTicks = opts.ticks

	var a *agent.Agent
	if !opts.noAgent {
		if a, err = agent.Install(c); err != nil {
			return fmt.Errorf("failed to install agent: %w", err)
		}
		schedule.OnTick = a.Feed
	}

	srvCtx, cancelServers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelServers()
		wg.Wait()
	}()

	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(srvCtx, cfg.Metrics.Port, promReg); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}
	if cfg.Health.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.New(c, 0).ListenAndServe(srvCtx, cfg.Health.Port); err != nil {
				log.Error("Health server error", "error", err)
			}
		}()
	}

	green.Fprintf(out, "✓ Core %s running (%s)\n", c.ID(), layout(cfg))

	if err := c.Run(ctx, schedule); err != nil {
		return fmt.Errorf("tick loop failed: %w", err)
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !reg.Save(saveCtx, store) {
		yellow.Fprintf(out, "⚠️  Type registry was not saved to %s\n", store)
	}

	printSummary(out, c, a, recorder)
	return nil
}

func layout(cfg *config.Config) string {
	if cfg.ThreadPool.MultiPool {
		return "multi pool"
	}
	return "single pool"
}

func printSummary(out io.Writer, c *core.Core, a *agent.Agent, recorder *stats.Recorder) {
	st := c.Status()
	fmt.Fprintln(out)
	cyan.Fprintln(out, "📊 Run Summary:")
	fmt.Fprintf(out, "  ├─ Ticks:      %d\n", st.Tick.Number)
	fmt.Fprintf(out, "  ├─ Identities: %d\n", c.Registry().Len())
	for _, p := range st.Pools {
		fmt.Fprintf(out, "  ├─ Pool %-14s threads=%d processors=%d\n", p.Name, p.Threads, p.Members)
	}
	if a != nil {
		fmt.Fprintf(out, "  ├─ Agent:      sensor=%d avoider=%d planner=%d arbiter=%d\n",
			a.Handled(agent.Sensor), a.Handled(agent.Avoider), a.Handled(agent.Planner), a.Handled(agent.Arbiter))
	}
	fmt.Fprintf(out, "  └─ Queued:     %v\n", c.HasWork())

	if recorder.Enabled() {
		fmt.Fprintln(out)
		cyan.Fprintln(out, "⏱  Processor Statistics:")
		for _, s := range recorder.Processors() {
			fmt.Fprintf(out, "  %s\n", s)
		}
	}
}

// openStore builds the registry store named by the config.
func openStore(cfg *config.Config) (registry.Store, func(), error) {
	switch cfg.Registry.Backend {
	case config.BackendRedis:
		s, err := registry.NewRedisStore(&redis.Options{Addr: cfg.Registry.RedisAddr}, cfg.Registry.RedisKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis registry store: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn("Failed to close redis registry store", "error", err)
			}
		}, nil
	case config.BackendFile:
		return registry.NewFileStore(cfg.Registry.Path), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and runtime status",
		Long:  "Display the configuration and probe the health server of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if addr == "" {
				addr = fmt.Sprintf("localhost:%d", cfg.Health.Port)
			}
			return showStatus(cmd.Context(), cmd.OutOrStdout(), cfg, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "health server address (default localhost:<health.port>)")
	return cmd
}

func showStatus(ctx context.Context, out io.Writer, cfg *config.Config, addr string) error {
	fmt.Fprintln(out, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║               Cranium Runtime Status                      ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	threads := "CPU+1"
	if cfg.ThreadPool.Threads > 0 {
		threads = fmt.Sprint(cfg.ThreadPool.Threads)
	}
	cyan.Fprintln(out, "📋 Configuration:")
	fmt.Fprintf(out, "  ├─ Config File:   %s\n", configFile)
	fmt.Fprintf(out, "  ├─ Layout:        %s\n", layout(cfg))
	fmt.Fprintf(out, "  ├─ Threads/Pool:  %s\n", threads)
	if cfg.ThreadPool.MultiPool {
		fmt.Fprintf(out, "  ├─ Tick Windows:  %s (per layer)\n", cfg.LayerBudget().Total())
	} else {
		fmt.Fprintf(out, "  ├─ Tick Window:   %s\n", cfg.Tick.Execution)
	}
	fmt.Fprintf(out, "  ├─ Tick Pause:    %s\n", cfg.Tick.Pause)
	fmt.Fprintf(out, "  ├─ Registry:      %s\n", registryTarget(cfg))
	fmt.Fprintf(out, "  └─ Statistics:    %v\n", cfg.Statistics.Enabled)
	fmt.Fprintln(out)

	cyan.Fprintln(out, "📡 Metrics:")
	if cfg.Metrics.Enabled {
		green.Fprintf(out, "  └─ ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		yellow.Fprintln(out, "  └─ ⚠️  Disabled")
	}
	fmt.Fprintln(out)

	cyan.Fprintln(out, "💓 Health:")
	if !cfg.Health.Enabled {
		yellow.Fprintln(out, "  └─ ⚠️  Disabled")
		return nil
	}

	services := []string{server.ServiceName}
	if cfg.ThreadPool.MultiPool {
		for _, l := range core.Layers() {
			services = append(services, server.PoolService(string(l)))
		}
	} else {
		services = append(services, server.PoolService(core.SharedPool))
	}

	statuses, err := probeHealth(ctx, addr, services)
	if err != nil {
		red.Fprintf(out, "  └─ ❌ %s unreachable: %v\n", addr, err)
		return nil
	}
	for i, svc := range services {
		branch := "├─"
		if i == len(services)-1 {
			branch = "└─"
		}
		st := statuses[svc]
		if st == healthpb.HealthCheckResponse_SERVING {
			green.Fprintf(out, "  %s %-28s %s\n", branch, svc, st)
		} else {
			yellow.Fprintf(out, "  %s %-28s %s\n", branch, svc, st)
		}
	}
	return nil
}

func registryTarget(cfg *config.Config) string {
	if cfg.Registry.Backend == config.BackendRedis {
		return fmt.Sprintf("redis %s key %s", cfg.Registry.RedisAddr, cfg.Registry.RedisKey)
	}
	return "file " + cfg.Registry.Path
}

// probeHealth checks every service. The error is set only when the server
// cannot be reached at all.
func probeHealth(ctx context.Context, addr string, services []string) (map[string]healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	out := make(map[string]healthpb.HealthCheckResponse_ServingStatus, len(services))
	reached := false
	var lastErr error
	for _, svc := range services {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			lastErr = err
			out[svc] = healthpb.HealthCheckResponse_SERVICE_UNKNOWN
			continue
		}
		reached = true
		out[svc] = resp.GetStatus()
	}
	if !reached && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// ============================================================================
// ids
// ============================================================================

func buildIDsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "List the stored type registry",
		Long:  "Load the type registry from the configured store and print every identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return listIDs(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
	return cmd
}

// ErrNoRegistry is returned by ids when nothing could be loaded.
var ErrNoRegistry = errors.New("no type registry stored")

func listIDs(ctx context.Context, out io.Writer, cfg *config.Config) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := registry.New()
	loaded, err := reg.Load(ctx, store)
	if err != nil {
		return err
	}
	if !loaded {
		yellow.Fprintf(out, "⚠️  Nothing loaded from %s\n", store)
		return fmt.Errorf("%w: %s", ErrNoRegistry, store)
	}

	cyan.Fprintf(out, "🔖 %d identities in %s\n", reg.Len(), store)
	fmt.Fprintf(out, "  %5s  %-10s %s\n", "ID", "CATEGORY", "NAME")
	for _, id := range reg.All() {
		fmt.Fprintf(out, "  %5d  %-10s %s\n", id.Value(), id.Category(), id.Name())
	}
	return nil
}
