// Package main implements the cvdmirror command-line tool for mirroring
// ClamAV-style signature databases.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cvdmirror/cvdmirror/internal/mirror"
)

const defaultConfigPath = "/etc/cvdmirror/cvdmirror.toml"

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "cvdmirror",
	Short: "Mirror ClamAV signature databases",
	Long: `cvdmirror maintains a local mirror of the ClamAV signature databases,
fetching full databases and incremental diffs from the distribution
network and publishing them atomically.

Find more information at: https://github.com/cvdmirror/cvdmirror`,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the mirror with the distribution network",
	Long: `Synchronizes the local mirror directory with the distribution network.

Usage:
  # Run a synchronization pass
  cvdmirror sync

  # Use a custom configuration file
  cvdmirror sync --config /path/to/cvdmirror.toml

  # Override the log level
  cvdmirror sync --log-level debug

  # Suppress progress output
  cvdmirror sync --quiet

A second concurrent invocation detects the run lock and exits
immediately without doing any work.`,
	Run: runSync,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the published databases structurally",
	Long: `Verifies every published database in the mirror directory using the
configured inspection tool.

Examples:
  cvdmirror check
  cvdmirror check --config /path/to/cvdmirror.toml`,
	Run: runCheck,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the resolved mirror pool and current record",
	Long: `Resolves the mirror pool and fetches the version record, printing both
without touching the mirror directory.  Useful for diagnosing
distribution network issues.`,
	Run: runResolve,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("cvdmirror %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	return err.Error()
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return "configuration contains unknown keys: " + strings.Join(keys, ", ") +
		"\nNote: configuration key names are case-sensitive and must match exactly."
}

// loadConfig decodes and validates the configuration, applying the log setup.
func loadConfig(cmd *cobra.Command) *mirror.Config {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config := mirror.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			slog.Info("create a configuration file at the default location or specify one with the --config flag")
			os.Exit(1)
		}
		slog.Error("failed to decode config file", "error", formatError(err, verboseErrors), "path", configPath)
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Error("configuration validation failed", "error", formatUndecodedError(undecoded), "path", configPath)
		os.Exit(1)
	}

	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	if err := config.Log.Apply(); err != nil {
		slog.Error("failed to apply log config", "error", err)
		os.Exit(1)
	}
	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply command-line log level", "level", logLevel, "error", err)
			os.Exit(1)
		}
	}

	return config
}

func runSync(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	quiet, _ := cmd.Flags().GetBool("quiet")

	if err := mirror.Run(context.Background(), config, quiet); err != nil {
		slog.Error("sync failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(mirror.ExitCode(err))
	}
}

func runCheck(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	if err := mirror.Check(context.Background(), config); err != nil {
		slog.Error("check failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
}

func runResolve(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	ctx := context.Background()

	resolver := mirror.NewResolver(config.DNSDomain)
	pool, err := resolver.ResolvePool(ctx, config.MirrorHost)
	if err != nil {
		slog.Error("resolution failed", "error", formatError(err, verboseErrors))
		os.Exit(mirror.ExitCode(err))
	}
	for _, addr := range pool {
		fmt.Println(addr)
	}

	rec, err := mirror.FetchRecord(ctx, resolver, config.TXTHost)
	if err != nil {
		slog.Error("record fetch failed", "error", formatError(err, verboseErrors))
		os.Exit(mirror.ExitCode(err))
	}
	fmt.Println(rec.Raw)
}

func runValidate(cmd *cobra.Command, _ []string) {
	_ = loadConfig(cmd)
	fmt.Println("configuration is valid")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
