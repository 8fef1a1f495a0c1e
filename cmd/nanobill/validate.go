package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nanobill/nanobill/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the nanobill configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Println("Effective settings")
	fmt.Printf("  API:             %s:%d\n", cfg.Server.BindAddress, cfg.Server.APIPort)
	fmt.Printf("  Metrics:         %s:%d\n", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	fmt.Printf("  Storage:         %s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "bolt" {
		fmt.Printf("  Ledger path:     %s\n", cfg.Storage.Path)
	}
	if cfg.Storage.Type == "redis" {
		fmt.Printf("  Redis:           %s:%d\n", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	}
	fmt.Printf("  Tick interval:   %s\n", cfg.TickInterval())
	fmt.Printf("  Auto-stop:       %t\n", cfg.Metering.AutoStop)
	fmt.Printf("  Rates refresh:   %s\n", cfg.RatesRefreshInterval())
	fmt.Printf("  Default unit:    %s\n", cfg.Metering.DefaultUnit)

	return nil
}
