package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serviceName    = "playground"
	serviceVersion = "0.1.0"

	defaultConfigFile = "playground.hcl"
	defaultEnvFile    = ".env"
)

var (
	verbose     bool
	debug       bool
	logLevel    string
	configPaths []string
	envFiles    []string
	serverURL   string
	withOtel    bool
)

var rootCmd = &cobra.Command{
	Use:   "playground",
	Short: "Fixture playground client",
	Long: `Playground connects to a fixture dev server, routes renderer and server
messages, and lets you browse and select fixtures from the terminal.

Settings are read from HCL configuration files (playground.hcl in the
current directory by default). Environment variables are available in
expressions as env.NAME, including those from a .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&debug, "debug", "d", false, "debug output")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error); overrides the config file")
	flags.StringSliceVarP(&configPaths, "config", "c", nil, "config files or directories (default playground.hcl if present)")
	flags.StringSliceVar(&envFiles, "env-file", nil, "dotenv files (default .env if present)")
	flags.StringVar(&serverURL, "url", "", "dev server websocket URL; overrides the config file")
	flags.BoolVar(&withOtel, "otel", false, "report metrics and traces through OpenTelemetry")
}

// setupLogger builds the production logger. The returned level can be
// changed later, once the config file has been read.
func setupLogger() (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(parseLevel(logLevel))
	if debug || verbose {
		level.SetLevel(zap.DebugLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = level
	config.Development = debug
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, level, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// defaultIfExists returns values, or fallback alone when values is empty and
// fallback exists on disk.
func defaultIfExists(values []string, fallback string) []string {
	if len(values) > 0 {
		return values
	}
	if _, err := os.Stat(fallback); err == nil {
		return []string{fallback}
	}
	return nil
}

func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}
