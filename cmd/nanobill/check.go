package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nanobill/nanobill/internal/billing"
	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/rates"
)

var (
	checkRate     string
	checkUnit     string
	checkDuration string
	checkCurrency string
	checkCap      string
	checkAmount   string
	checkSymbol   string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check billing arithmetic interactively",
	Long:  `Check what nanobill would charge for a given rate and duration, or what a settlement converts to.`,
}

var checkCostCmd = &cobra.Command{
	Use:   "cost",
	Short: "Check the cost of a duration at a rate",
	Example: `  nanobill check cost --rate 3600 --unit hour --duration 1s
  nanobill check cost --rate 0.5 --unit minute --duration 90m --cap 25`,
	RunE: runCheckCost,
}

var checkConvertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Check a fiat-to-unit conversion at the built-in rates",
	Example: `  nanobill check convert --amount 100 --currency USD --symbol ETH
  nanobill check convert --amount 250 --currency EUR --symbol USDC`,
	RunE: runCheckConvert,
}

func init() {
	checkCostCmd.Flags().StringVar(&checkRate, "rate", "", "Service cost per time unit (required)")
	checkCostCmd.Flags().StringVar(&checkUnit, "unit", "hour", "Time unit (minute, hour, day)")
	checkCostCmd.Flags().StringVar(&checkDuration, "duration", "", "Elapsed duration, e.g. 90s or 1h30m (required)")
	checkCostCmd.Flags().StringVar(&checkCurrency, "currency", "USD", "Display currency")
	checkCostCmd.Flags().StringVar(&checkCap, "cap", "", "Optional spending cap to project against")
	checkCostCmd.MarkFlagRequired("rate")
	checkCostCmd.MarkFlagRequired("duration")

	checkConvertCmd.Flags().StringVar(&checkAmount, "amount", "", "Fiat amount to convert (required)")
	checkConvertCmd.Flags().StringVar(&checkCurrency, "currency", "USD", "Fiat currency")
	checkConvertCmd.Flags().StringVar(&checkSymbol, "symbol", "ETH", "Settlement unit symbol")
	checkConvertCmd.MarkFlagRequired("amount")

	checkCmd.AddCommand(checkCostCmd)
	checkCmd.AddCommand(checkConvertCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckCost(cmd *cobra.Command, args []string) error {
	serviceCost, err := money.Parse(checkRate)
	if err != nil {
		return fmt.Errorf("invalid rate: %w", err)
	}

	unit, err := billing.ParseTimeUnit(checkUnit)
	if err != nil {
		return err
	}

	elapsed, err := time.ParseDuration(checkDuration)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}

	rate, err := billing.NormalizeRate(serviceCost, unit)
	if err != nil {
		return err
	}

	breakdown := billing.MakeBreakdown(elapsed.Nanoseconds(), rate, checkCurrency)
	printCostResult(elapsed, unit, serviceCost, breakdown, rate)
	return nil
}

func runCheckConvert(cmd *cobra.Command, args []string) error {
	amount, err := money.Parse(checkAmount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	feeder := rates.DefaultStaticFeeder()
	fiat, units, err := feeder.Fetch(cmd.Context())
	if err != nil {
		return err
	}
	snap := rates.NewSnapshot(fiat, units, time.Now())

	unitAmount, err := snap.Convert(amount, checkCurrency, checkSymbol)
	if err != nil {
		return err
	}
	unitPrice, err := snap.UnitPriceIn(checkSymbol, checkCurrency)
	if err != nil {
		return err
	}

	printConvertResult(amount, unitAmount, unitPrice)
	return nil
}

// printCostResult prints the cost check result with colors
func printCostResult(elapsed time.Duration, unit billing.TimeUnit, serviceCost money.Amount, b billing.Breakdown, rate billing.NanoRate) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("COST CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Rate:       %s %s per %s\n", serviceCost, b.Currency, unit)
	fmt.Printf("Duration:   %s (%s)\n", elapsed, b.Duration.Formatted)
	fmt.Printf("Scaled:     %s x10^-10 per ns\n", rate.Scaled().StringFixed(4))
	fmt.Println()

	cyan.Print("Total:      ")
	green.Printf("%s %s\n", b.TotalCost, b.Currency)

	if b.CostPerSecond.Available {
		fmt.Printf("Per second: %s %s\n", b.CostPerSecond.Cost.Round(6), b.Currency)
		fmt.Printf("Per minute: %s %s\n", b.CostPerMinute.Cost.Round(6), b.Currency)
	} else {
		yellow.Println("Per-second and per-minute figures unavailable (less than one whole second)")
	}

	if checkCap != "" {
		if capAmount, err := money.Parse(checkCap); err == nil {
			affordable := rate.MaxAffordable(capAmount)
			fmt.Println()
			fmt.Printf("Cap:        %s %s\n", capAmount, b.Currency)
			yellow.Printf("Affordable: approximately %s of service\n", affordable.Truncate(time.Second))
		}
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// printConvertResult prints the conversion check result with colors
func printConvertResult(amount, unitAmount, unitPrice money.Amount) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("CONVERSION CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Amount:     %s %s\n", amount, checkCurrency)
	fmt.Printf("Unit price: %s %s per %s\n", unitPrice.Round(6), checkCurrency, checkSymbol)
	fmt.Println()

	cyan.Print("Converts:   ")
	green.Printf("%s %s\n", unitAmount.Round(10), checkSymbol)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
