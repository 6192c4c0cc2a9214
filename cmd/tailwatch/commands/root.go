package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/moolen/tailwatch/internal/config"
	"github.com/moolen/tailwatch/internal/logging"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var (
	logLevelFlags []string
	configPath    string
)

var rootCmd = &cobra.Command{
	Use:   "tailwatch",
	Short: "tailwatch - streaming tail anomaly detection for host metrics",
	Long: `tailwatch calibrates SPOT detectors on Prometheus metrics, persists the
extreme values they flag and raises leveled alarms when the anomaly counts of
a scenario cross its thresholds.`,
	Version:       Version,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// --log-level debug --log-level pipeline=warn
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'level' or 'default=level' for the default, 'package.name=level' per package.\n"+
			"Examples: --log-level debug, --log-level pipeline=debug --log-level scenario=warn")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the YAML configuration file (built-in defaults when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(scenariosCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// loadConfig sets up logging and loads the configuration file.
func loadConfig() (*config.Config, error) {
	if err := setupLog(logLevelFlags); err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return config.Load(configPath)
}

func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags, os.Environ())
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags merges LOG_LEVEL_<PACKAGE> variables from env with the
// --log-level flags; flags win. LOG_LEVEL_SCENARIO_WATCHER=debug sets the
// level of scenario.watcher.
func parseLogLevelFlags(flags, env []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, pair := range env {
		key, level, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(key, "LOG_LEVEL_") {
			continue
		}
		result[envKeyToPackage(key)] = level
	}

	for _, flag := range flags {
		pkg, level, ok := strings.Cut(flag, "=")
		if !ok {
			result["default"] = flag
			continue
		}
		result[pkg] = level
	}

	defaultLevel := "info"
	if level, ok := result["default"]; ok {
		defaultLevel = level
		delete(result, "default")
	}
	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %w", pkg, err)
		}
	}
	return defaultLevel, result, nil
}

func envKeyToPackage(key string) string {
	name := strings.TrimPrefix(key, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
}
