package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencranium/cranium/internal/agent"
	"github.com/opencranium/cranium/internal/config"
	"github.com/opencranium/cranium/internal/core"
	"github.com/opencranium/cranium/internal/stats"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <single|multi>")
		os.Exit(1)
	}

	mode := os.Args[1]
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	switch mode {
	case "single":
		cfg.ThreadPool.MultiPool = false
	case "multi":
		cfg.ThreadPool.MultiPool = true
	default:
		log.Fatalf("Unknown mode %q", mode)
	}

	recorder := stats.NewRecorder(true)
	c, err := core.New(cfg.CoreConfig(), core.WithRecorder(recorder))
	if err != nil {
		log.Fatalf("Failed to create core: %v", err)
	}
	a, err := agent.Install(c)
	if err != nil {
		log.Fatalf("Failed to install agent: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedule := cfg.Schedule()
	schedule.OnTick = a.Feed

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, schedule) }()

	fmt.Printf("✓ Core started (mode: %s)\n", mode)
	fmt.Printf("💡 Press Ctrl+C to stop\n\n")

	// Show progress every 500ms until the loop exits
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				log.Fatalf("Tick loop failed: %v", err)
			}
			fmt.Println("\n\nReceived shutdown signal, core stopped")
			printStats(c, a, recorder)
			return
		case <-ticker.C:
			st := c.Status()
			fmt.Printf("📊 Tick=%d Sensor=%d Arbiter=%d Intents=%d\n",
				st.Tick.Number, a.Handled(agent.Sensor), a.Handled(agent.Arbiter), len(a.Intents()))
		}
	}
}

func printStats(c *core.Core, a *agent.Agent, recorder *stats.Recorder) {
	st := c.Status()
	fmt.Printf("\n📊 Final Status:\n")
	fmt.Printf("  Ticks:   %d\n", st.Tick.Number)
	fmt.Printf("  Uptime:  %s\n", st.Uptime.Round(time.Millisecond))
	for _, name := range []string{agent.Sensor, agent.Avoider, agent.Planner, agent.Arbiter} {
		fmt.Printf("  %-8s %d items\n", name+":", a.Handled(name))
	}
	fmt.Printf("  ─────────────────\n")
	for _, s := range recorder.Processors() {
		fmt.Printf("  %s\n", s)
	}
}
