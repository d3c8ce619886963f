package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kausalhq/kausal/internal/logging"
)

const Version = "0.1.0"

var (
	configPath    string
	logLevelFlags []string
)

var rootCmd = &cobra.Command{
	Use:   "kausal",
	Short: "Kausal - automated root-cause investigation",
	Long: `Kausal investigates production incidents: it resolves what a workspace's
integrations can answer, forms hypotheses about the reported symptom, gathers
evidence with observability and code tools, and synthesizes a root-cause report.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "kausal.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use a bare level for the default, or 'package.name=level' per package.\n"+
			"Examples: --log-level debug (all), --log-level rca=debug --log-level worker=warn")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(enqueueCmd)
}

// setupLog initializes logging from --log-level flags and LOG_LEVEL_*
// environment variables. Flags win over environment.
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := map[string]string{}

	// LOG_LEVEL_RCA=debug → rca
	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "LOG_LEVEL_")
		result[strings.ToLower(strings.ReplaceAll(name, "_", "."))] = parts[1]
	}

	for _, f := range flags {
		if !strings.Contains(f, "=") {
			result["default"] = f
			continue
		}
		parts := strings.SplitN(f, "=", 2)
		result[parts[0]] = parts[1]
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

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
}
