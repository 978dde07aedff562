package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// finalStatus carries the run outcome to the process exit code. A returned
// error always means fatal.
var finalStatus = StatusOK

var rootCmd = &cobra.Command{
	Use:           "mssqlferry",
	Short:         "SQL Server to PostgreSQL migration tool",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <config.toml>",
	Short: "Run all migration steps in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeSteps(args[0], []int{1, 2, 3, 4})
	},
}

var stepCmd = &cobra.Command{
	Use:   "step <n> <config.toml>",
	Short: "Run a single migration step (1=schema+data, 2=verify, 3=constraints, 4=collations)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > 4 {
			return fmt.Errorf("step must be 1..4, got %q", args[0])
		}
		return executeSteps(args[1], []int{n})
	},
}

var (
	convertSource string
	convertTarget string
)

var convertCmd = &cobra.Command{
	Use:   "convert <config.toml> --source <dir> --target <dir>",
	Short: "Rewrite T-SQL script files for PostgreSQL without touching a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeConvert(args[0], convertSource, convertTarget)
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertSource, "source", "", "directory containing T-SQL scripts")
	convertCmd.Flags().StringVar(&convertTarget, "target", "", "output directory for converted scripts")
	convertCmd.MarkFlagRequired("source")
	convertCmd.MarkFlagRequired("target")

	rootCmd.AddCommand(runCmd, stepCmd, convertCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(StatusFatal.ExitCode())
	}
	os.Exit(finalStatus.ExitCode())
}

func executeSteps(cfgPath string, steps []int) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	status, err := runSteps(context.Background(), cfg, steps)
	if err != nil {
		return err
	}
	finalStatus = status
	return nil
}

func executeConvert(cfgPath, sourceDir, targetDir string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	types, err := LoadTypeMappings(cfg.resolvePath(cfg.TypeMappings))
	if err != nil {
		return err
	}
	colls, err := LoadCollationMappings(cfg.resolvePath(cfg.Collations))
	if err != nil {
		return err
	}

	rules := conversionRules(types.Snapshot(), colls.Snapshot().collationRewritePairs(), cfg.Convert.SkipCollations)

	log.Printf("converting scripts from %s to %s...", sourceDir, targetDir)
	summary, err := convertDir(sourceDir, targetDir, cfg.Workers, rules)
	if err != nil {
		return err
	}
	log.Printf("converted %d files, %d failed, %d total changes",
		summary.Converted, summary.Failed, summary.TotalChanges)

	if summary.Failed > 0 {
		finalStatus = StatusPartial
	}
	return nil
}
