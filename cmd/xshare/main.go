// Package main provides the xshare CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/xshare/pkg/config"
	"github.com/orneryd/xshare/pkg/gc"
	"github.com/orneryd/xshare/pkg/interp"
	"github.com/orneryd/xshare/pkg/value"
	"github.com/orneryd/xshare/pkg/xshare"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "xshare",
		Short: "Cross-interpreter shared-object GC for embedded scripting hosts",
		Long: `xshare manages shared tables and script functions that cross
interpreter-instance boundaries, using hybrid reference-counting plus a
tracing collector to reclaim cycles that pure refcounting cannot.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("xshare v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE:  runInit,
	}
	initCmd.Flags().String("config", "./xshare.yaml", "Path to write the configuration file")
	rootCmd.AddCommand(initCmd)

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Collector inspection and tuning",
	}
	gcCmd.PersistentFlags().String("config", "", "Path to a configuration file (env vars still override)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Create a collector and report its live object count",
		RunE:  runGCStats,
	}
	gcCmd.AddCommand(statsCmd)

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "Report the step factor and enabled state a configuration resolves to",
		RunE:  runGCTune,
	}
	gcCmd.AddCommand(tuneCmd)
	rootCmd.AddCommand(gcCmd)

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Round-trip a shared table and a script function between two interpreters",
		RunE:  runDemo,
	}
	rootCmd.AddCommand(demoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) *config.Config {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadFromEnvOrFile(path)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.DefaultConfig()
	if err := config.WriteConfig(path, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runGCStats(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	collector := gc.New()
	collector.SetStep(cfg.GC.Step)
	if !cfg.GC.Enabled {
		collector.Pause()
	}

	fmt.Printf("step:    %v\n", cfg.GC.Step)
	fmt.Printf("enabled: %v\n", collector.Enabled())
	fmt.Printf("count:   %d\n", collector.Count())
	return nil
}

func runGCTune(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Printf("gc.step:      %v\n", cfg.GC.Step)
	fmt.Printf("gc.enabled:   %v\n", cfg.GC.Enabled)
	fmt.Printf("logging.level: %s\n", cfg.Logging.Level)
	return nil
}

// runDemo builds two interpreter instances, hands a shared table and a
// script function between them, and reports whether the migrated
// function resolved its environment upvalue to the receiving
// interpreter's own global table — the central scenario this module
// exists to support.
func runDemo(cmd *cobra.Command, args []string) error {
	collector := gc.New()
	a := interp.NewState()
	b := interp.NewState()

	shared := xshare.NewGC(collector)
	fmt.Printf("collector starts with %d live object(s)\n", shared.Count())

	tbl, err := xshare.New(collector, a, nil)
	if err != nil {
		return fmt.Errorf("creating shared table: %w", err)
	}

	fn := a.NewFunction([]byte("return env"), []interp.Value{a.Global()}, 0)
	if err := tbl.RawSet(interp.String("handler"), fn); err != nil {
		return fmt.Errorf("storing function: %w", err)
	}

	got, err := tbl.RawGet(interp.String("handler"))
	if err != nil {
		return fmt.Errorf("reading function back through interpreter a: %w", err)
	}

	noSharedRefs := func(interp.Value) (value.SharedContainer, bool) { return nil, false }
	rec, err := value.Create(collector, a, got, map[uintptr]*value.Record{}, noSharedRefs)
	if err != nil {
		return fmt.Errorf("marshaling function out of interpreter a: %w", err)
	}
	pushed, err := value.Push(collector, b, rec)
	gc.Release(rec.Object)
	if err != nil {
		return fmt.Errorf("migrating function into interpreter b: %w", err)
	}

	bGlobalAddr, _ := b.Identity(b.Global())
	envAddr, _ := b.Identity(pushed.Fn.Upvalues[0])
	fmt.Printf("migrated function's env upvalue resolves to b's own global: %v\n", envAddr == bGlobalAddr)

	gc.Release(tbl.Header())
	shared.Collect()
	fmt.Printf("collector ends with %d live object(s)\n", shared.Count())
	return nil
}
