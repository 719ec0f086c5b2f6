package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/strategy"
)

var (
	strategyFile     string
	strategyOntology string
)

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Run declarative mapping strategies",
}

var strategyRunCmd = &cobra.Command{
	Use:   "run <name> <identifier>...",
	Short: "Execute a named strategy over identifiers",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := strategy.NewRegistry()
		strategy.RegisterBuiltins(reg, engine.Dispatcher)
		runner := strategy.NewRunner(reg)
		if err := runner.LoadFile(strategyFile); err != nil {
			return err
		}

		report, err := runner.Run(cmd.Context(), args[0], args[1:], strategyOntology)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("Strategy %s finished in %s\n", report.Strategy, report.Duration.Round(1e6))
		for _, step := range report.Steps {
			fmt.Printf("  %s (%s)", step.Action, step.Duration.Round(1e6))
			if len(step.Details) > 0 {
				var parts []string
				for k, v := range step.Details {
					parts = append(parts, k+"="+v)
				}
				fmt.Printf(" %s", strings.Join(parts, " "))
			}
			fmt.Println()
		}
		fmt.Printf("Result (%s): %s\n", report.OntologyType, strings.Join(report.Identifiers, ", "))
		return nil
	},
}

var strategyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List strategies in the strategies file",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		runner := strategy.NewRunner(strategy.NewRegistry())
		if err := runner.LoadFile(strategyFile); err != nil {
			return err
		}
		for _, name := range runner.Strategies() {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	strategyCmd.PersistentFlags().StringVar(&strategyFile, "file", "strategies.yaml", "strategies YAML file")
	strategyRunCmd.Flags().StringVar(&strategyOntology, "ontology", "", "ontology type of the input identifiers")
	strategyCmd.AddCommand(strategyRunCmd, strategyListCmd)
	rootCmd.AddCommand(strategyCmd)
}
