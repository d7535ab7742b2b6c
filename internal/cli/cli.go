// ============================================================================
// Nanokernel CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   nanokernel                     # Root command
//   ├── run                        # Boot the kernel and run the workload mix
//   │   └── --duration, -d        # Maximum wall-clock run time
//   ├── status                     # View configuration and live statistics
//   ├── trace                      # Dump a recorded trace file
//   │   └── --file, -f            # Trace file to read
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml)
//   Configuration items include:
//   - scheduler: ready queue capacity and time-slice tunables
//   - thread: thread table size and default stack size
//   - trace: event trace file and buffering
//   - metrics: Prometheus monitoring configuration
//   - workloads: the simulated task mix to launch
//
// run Command:
//   Boots a live kernel:
//   1. Load config file
//   2. Create the kernel and start the Metrics HTTP server (if enabled)
//   3. Launch the configured workloads and hand the boot CPU to the scheduler
//   4. Wait until the workloads drain, the duration expires, or a signal
//      (SIGINT, SIGTERM) arrives
//   5. Gracefully shut down and print the final statistics
//
// ============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/nanokernel/internal/kernel"
	"github.com/ChuLiYu/nanokernel/internal/metrics"
	"github.com/ChuLiYu/nanokernel/internal/sched"
	"github.com/ChuLiYu/nanokernel/internal/thread"
	"github.com/ChuLiYu/nanokernel/internal/trace"
	"github.com/ChuLiYu/nanokernel/internal/workload"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Scheduler struct {
		QueueCapacity int    `yaml:"queue_capacity"`
		BaseSlice     uint32 `yaml:"base_slice"`
		SliceFactor   uint32 `yaml:"slice_factor"`
		StackSize     int    `yaml:"stack_size"`
	} `yaml:"scheduler"`

	Thread struct {
		TableSize        int `yaml:"table_size"`
		DefaultStackSize int `yaml:"default_stack_size"`
	} `yaml:"thread"`

	Trace struct {
		Enabled         bool   `yaml:"enabled"`
		Path            string `yaml:"path"`
		BufferSize      int    `yaml:"buffer_size"`
		FlushIntervalMs int    `yaml:"flush_interval_ms"`
	} `yaml:"trace"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Workloads []workload.Spec `yaml:"workloads"`
}

var (
	configFile   string
	globalKernel *kernel.Kernel
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nanokernel",
		Short: "Nanokernel: a simulated preemptive kernel core",
		Long: `Nanokernel is a simulated operating-system core with:
- A priority task scheduler with variable time slices
- A thread layer with join/detach semantics
- Cooperative synchronization primitives
- Event tracing and Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildTraceCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the kernel and run the configured workload mix",
		Long:  "Boot a live kernel, launch the workloads from the config file and run until they drain or the duration expires",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem(duration)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "maximum wall-clock run time")

	return cmd
}

func runSystem(duration time.Duration) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	kcfg := kernel.Config{
		Live: true,
		Scheduler: sched.Config{
			QueueCapacity: cfg.Scheduler.QueueCapacity,
			BaseSlice:     cfg.Scheduler.BaseSlice,
			SliceFactor:   cfg.Scheduler.SliceFactor,
			StackSize:     cfg.Scheduler.StackSize,
		},
		Thread: thread.Config{
			TableSize:        cfg.Thread.TableSize,
			DefaultStackSize: cfg.Thread.DefaultStackSize,
		},
		MetricsEnabled: cfg.Metrics.Enabled,
	}
	if cfg.Trace.Enabled {
		kcfg.TracePath = cfg.Trace.Path
		kcfg.TraceBufferSize = cfg.Trace.BufferSize
		kcfg.TraceFlushInterval = time.Duration(cfg.Trace.FlushIntervalMs) * time.Millisecond
	}

	k, err := kernel.New(kcfg)
	if err != nil {
		return fmt.Errorf("failed to create kernel: %w", err)
	}
	globalKernel = k

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("Starting metrics server on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	if err := k.Start(); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	ids, err := workload.Launch(k, cfg.Workloads)
	if err != nil {
		k.Stop()
		return fmt.Errorf("failed to launch workloads: %w", err)
	}
	log.Printf("Launched %d workloads\n", len(ids))

	// Hand this flow of control to the scheduler. It parks in the boot
	// context; the workloads drive everything from here on.
	go k.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

loop:
	for {
		select {
		case <-sigChan:
			log.Println("\nReceived shutdown signal, stopping gracefully...")
			break loop
		case <-deadline.C:
			log.Println("Run duration reached, stopping...")
			break loop
		case <-poll.C:
			// Only the idle task left alive means the mix has drained.
			if k.Stats().Scheduler.TasksLive <= 1 {
				log.Println("All workloads finished")
				break loop
			}
		}
	}

	k.Stop()
	printSnapshot(k.Stats())
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long:  "Display configuration and, when a kernel is running, live scheduler statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║           Nanokernel System Status                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("📋 Configuration:")
	fmt.Printf("  └─ Config File:     %s\n", configFile)
	fmt.Printf("  └─ Queue Capacity:  %d\n", cfg.Scheduler.QueueCapacity)
	fmt.Printf("  └─ Base Slice:      %d ticks\n", cfg.Scheduler.BaseSlice)
	fmt.Printf("  └─ Slice Factor:    %d ticks/level\n", cfg.Scheduler.SliceFactor)
	fmt.Printf("  └─ Thread Table:    %d slots\n", cfg.Thread.TableSize)
	fmt.Println()

	fmt.Println("💾 Trace:")
	if cfg.Trace.Enabled {
		fmt.Printf("  └─ Path:        %s\n", cfg.Trace.Path)
		fmt.Printf("  └─ Buffer Size: %d events\n", cfg.Trace.BufferSize)
	} else {
		fmt.Println("  └─ Status: disabled")
	}
	fmt.Println()

	if globalKernel != nil {
		snap := globalKernel.Stats()
		fmt.Println("📊 Scheduler Statistics:")
		fmt.Printf("  ├─ Ticks:            %d\n", snap.Scheduler.Ticks)
		fmt.Printf("  ├─ Context Switches: %d\n", snap.Scheduler.ContextSwitches)
		fmt.Printf("  ├─ Preemptions:      %d\n", snap.Scheduler.Preemptions)
		fmt.Printf("  ├─ Tasks Live:       %d\n", snap.Scheduler.TasksLive)
		fmt.Printf("  └─ Threads Live:     %d\n", snap.Threads.ThreadsLive)
		fmt.Println()
	} else {
		fmt.Println("📊 Scheduler Statistics:")
		fmt.Println("  └─ Kernel not running (run 'nanokernel run' to start)")
		fmt.Println()
	}

	fmt.Println("📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  └─ Status: ⚠️  Disabled")
	}
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}

func buildTraceCommand() *cobra.Command {
	var traceFile string

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Dump a recorded trace file",
		Long:  "Read a kernel trace file and print its events in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if traceFile == "" {
				return fmt.Errorf("trace file is required (use --file or -f)")
			}
			return dumpTrace(traceFile)
		},
	}

	cmd.Flags().StringVarP(&traceFile, "file", "f", "", "trace file to read")
	cmd.MarkFlagRequired("file")

	return cmd
}

func dumpTrace(path string) error {
	events, err := trace.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read trace file: %w", err)
	}

	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
		}
		fmt.Println(string(line))
	}
	log.Printf("%d events\n", len(events))
	return nil
}

func printSnapshot(snap kernel.Snapshot) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Printf("failed to encode final statistics: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}
