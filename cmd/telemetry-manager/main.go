package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Oualidl290/new-andalus-telemetry/internal/app"
	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
)

const (
	Version = "1.0.0-dev"
)

// CLI represents the command line interface
type CLI struct {
	args []string
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

func main() {
	cli := &CLI{args: os.Args[1:]}

	commands := map[string]*Command{
		"run":            {Name: "run", Description: "Start the telemetry manager", Usage: "run [--config path] [--log-level level]", Run: cli.runCommand},
		"validate":       {Name: "validate", Description: "Validate configuration file", Usage: "validate [--config path]", Run: cli.validateCommand},
		"version":        {Name: "version", Description: "Show version information", Usage: "version", Run: cli.versionCommand},
		"help":           {Name: "help", Description: "Show help information", Usage: "help [command]", Run: cli.helpCommand},
		"example-config": {Name: "example-config", Description: "Generate example configuration file", Usage: "example-config [--output path]", Run: cli.exampleConfigCommand},
	}

	if len(cli.args) == 0 {
		cli.printUsage(commands)
		os.Exit(1)
	}

	commandName := cli.args[0]

	if commandName == "--help" || commandName == "-h" {
		cli.printUsage(commands)
		return
	}

	// Default to run command if the first argument is a flag
	if _, exists := commands[commandName]; !exists {
		if strings.HasPrefix(commandName, "--") {
			commandName = "run"
		} else {
			fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", commandName)
			cli.printUsage(commands)
			os.Exit(1)
		}
	} else {
		cli.args = cli.args[1:]
	}

	cmd := commands[commandName]
	if err := cmd.Run(cli.args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (cli *CLI) printUsage(commands map[string]*Command) {
	fmt.Printf("Telemetry Manager v%s\n", Version)
	fmt.Println("Runtime performance telemetry aggregation for the editorial platform.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Printf("  %s <command> [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("COMMANDS:")

	commandOrder := []string{"run", "validate", "example-config", "version", "help"}
	for _, name := range commandOrder {
		if cmd, exists := commands[name]; exists {
			fmt.Printf("  %-15s %s\n", cmd.Name, cmd.Description)
		}
	}

	fmt.Println()
	fmt.Println("GLOBAL OPTIONS:")
	fmt.Println("  --help, -h       Show help information")
	fmt.Println()
	fmt.Println("Use \"telemetry-manager help <command>\" for more information about a command.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Printf("  %s run --config /etc/telemetry-manager/config.yaml\n", os.Args[0])
	fmt.Printf("  %s validate --config ./config.yaml\n", os.Args[0])
	fmt.Printf("  %s example-config --output ./telemetry-manager.yaml\n", os.Args[0])
}

func (cli *CLI) parseFlags(args []string, flags map[string]*string) []string {
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			// Handle --flag=value format
			if strings.Contains(flagName, "=") {
				parts := strings.SplitN(flagName, "=", 2)
				flagName = parts[0]
				if flagVar, exists := flags[flagName]; exists {
					*flagVar = parts[1]
				}
				continue
			}

			// Handle --flag value format
			if flagVar, exists := flags[flagName]; exists {
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
					*flagVar = args[i+1]
					i++ // Skip the value
				} else {
					// Boolean flag or missing value
					*flagVar = "true"
				}
				continue
			}
		}

		remaining = append(remaining, arg)
	}

	return remaining
}

func (cli *CLI) runCommand(args []string) error {
	var configPath string
	var logLevel = "info"
	var useDefaultConfig = true

	flags := map[string]*string{
		"config":    &configPath,
		"log-level": &logLevel,
	}

	remaining := cli.parseFlags(args, flags)

	for _, arg := range args {
		if strings.HasPrefix(arg, "--config") {
			useDefaultConfig = false
			break
		}
	}

	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printRunHelp()
			return nil
		}
	}

	logger, err := cli.createLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	var cfg *config.Config
	if useDefaultConfig {
		logger.Info("Running in zero-config mode with defaults")
		cfg, err = config.LoadDefault()
		if err != nil {
			return fmt.Errorf("failed to load default configuration: %w", err)
		}
	} else {
		if err := cli.validateConfigPath(configPath); err != nil {
			return err
		}
		fmt.Printf("Loading configuration from: %s\n", configPath)
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	manager, err := app.NewManager(cfg, configPath, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			logger.Info("Received signal", zap.String("signal", sig.String()))

			switch sig {
			case syscall.SIGHUP:
				fmt.Println("Reloading configuration...")
				if err := manager.Reload(ctx); err != nil {
					logger.Error("Failed to reload configuration", zap.Error(err))
					fmt.Printf("Failed to reload configuration: %v\n", err)
				} else {
					fmt.Println("Configuration reloaded successfully")
				}
			default:
				logger.Info("Shutting down gracefully")
				cancel()
				return
			}
		}
	}()

	logger.Info("Starting Telemetry Manager",
		zap.String("version", Version),
		zap.String("server_address", cfg.Server.BindAddress))

	if err := manager.Run(ctx); err != nil {
		logger.Error("Manager stopped with error", zap.Error(err))
		return fmt.Errorf("manager stopped with error: %w", err)
	}

	logger.Info("Telemetry Manager stopped")
	return nil
}

func (cli *CLI) validateCommand(args []string) error {
	var configPath string
	var verboseFlag = "false"

	flags := map[string]*string{
		"config":  &configPath,
		"verbose": &verboseFlag,
	}

	remaining := cli.parseFlags(args, flags)
	verbose := verboseFlag == "true"

	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printValidateHelp()
			return nil
		}
	}

	var cfg *config.Config
	var err error

	if configPath == "" {
		fmt.Println("Validating zero-config mode with defaults")
		cfg, err = config.LoadDefault()
		if err != nil {
			return fmt.Errorf("default configuration validation failed: %w", err)
		}
	} else {
		if err := cli.validateConfigPath(configPath); err != nil {
			return err
		}

		fmt.Printf("Validating configuration file: %s\n", configPath)
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	validationResult := config.GetValidationResult(cfg)
	cli.printValidationResults(validationResult, verbose)

	if !validationResult.Valid {
		fmt.Printf("\nConfiguration validation failed with %d error(s)\n", len(validationResult.Errors))
		return fmt.Errorf("configuration validation failed")
	}

	if len(validationResult.Warnings) > 0 {
		fmt.Printf("\nFound %d warning(s) - configuration is valid but could be improved\n", len(validationResult.Warnings))
	}

	cli.printConfigurationSummary(cfg)

	fmt.Println("\nConfiguration validation completed successfully")
	return nil
}

// printValidationResults prints detailed validation results
func (cli *CLI) printValidationResults(result *config.ValidationResult, verbose bool) {
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("Configuration passes all validation checks")
		return
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nVALIDATION ERRORS (%d):\n", len(result.Errors))
		for i, err := range result.Errors {
			fmt.Printf("  %d. Field: %s\n", i+1, err.Field)
			fmt.Printf("     Error: %s\n", err.Message)
			if err.Suggestion != "" {
				fmt.Printf("     Fix: %s\n", err.Suggestion)
			}
			if verbose && err.Value != nil {
				fmt.Printf("     Current value: %v\n", err.Value)
			}
			fmt.Println()
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nVALIDATION WARNINGS (%d):\n", len(result.Warnings))
		for i, warning := range result.Warnings {
			fmt.Printf("  %d. Field: %s\n", i+1, warning.Field)
			fmt.Printf("     Warning: %s\n", warning.Message)
			if warning.Suggestion != "" {
				fmt.Printf("     Suggestion: %s\n", warning.Suggestion)
			}
			if verbose && warning.Value != nil {
				fmt.Printf("     Current value: %v\n", warning.Value)
			}
			fmt.Println()
		}
	}
}

// printConfigurationSummary prints a summary of valid configuration
func (cli *CLI) printConfigurationSummary(cfg *config.Config) {
	fmt.Println("\nCONFIGURATION SUMMARY:")

	fmt.Printf("Server:\n")
	fmt.Printf("   Bind Address: %s\n", cfg.Server.BindAddress)
	fmt.Printf("   Metrics Path: %s\n", cfg.Server.MetricsPath)
	fmt.Printf("   Health Path: %s\n", cfg.Server.HealthPath)
	if cfg.Server.API.Enabled {
		fmt.Printf("   REST API: enabled at %s\n", cfg.Server.API.BasePath)
	} else {
		fmt.Printf("   REST API: disabled\n")
	}

	fmt.Printf("\nCollectors:\n")
	fmt.Printf("   Queries: capacity=%d slow_threshold=%.0fms enabled=%v\n",
		cfg.Collectors.Queries.Capacity, cfg.Collectors.Queries.SlowThresholdMs, cfg.Collectors.Queries.Enabled)
	fmt.Printf("   Vitals: capacity=%d\n", cfg.Collectors.Vitals.Capacity)
	fmt.Printf("   Events: capacity=%d\n", cfg.Collectors.Events.Capacity)
	fmt.Printf("   Images: capacity=%d\n", cfg.Collectors.Images.Capacity)
	fmt.Printf("   Errors: error_capacity=%d issue_capacity=%d\n",
		cfg.Collectors.Errors.ErrorCapacity, cfg.Collectors.Errors.IssueCapacity)

	fmt.Printf("\nBrowser monitor:\n")
	if cfg.Monitor.Enabled {
		fmt.Printf("   Sample Rate: %.0f%%\n", cfg.Monitor.SampleRate*100)
		fmt.Printf("   Long Task Threshold: %.0fms\n", cfg.Monitor.LongTaskThresholdMs)
		fmt.Printf("   Layout Shift Threshold: %.2f\n", cfg.Monitor.LayoutShiftThreshold)
		fmt.Printf("   Slow Resource Threshold: %.0fms\n", cfg.Monitor.SlowResourceThresholdMs)
	} else {
		fmt.Printf("   Disabled\n")
	}

	fmt.Printf("\nStorage:\n")
	if cfg.Database.DatabasePath != "" {
		fmt.Printf("   Content Database: %s\n", cfg.Database.DatabasePath)
	} else {
		fmt.Printf("   Content Database: not configured (database optimization disabled)\n")
	}

	fmt.Printf("\nRate Limiting:\n")
	if cfg.RateLimit.Enabled {
		fmt.Printf("   %.0f requests/second per client, burst %d\n",
			cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	} else {
		fmt.Printf("   Disabled\n")
	}

	if cfg.Telemetry.Enabled {
		fmt.Printf("\nTracing: enabled (%s exporter)\n", cfg.Telemetry.Exporter.Type)
		fmt.Printf("   Service: %s v%s (%s)\n", cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
		fmt.Printf("   Sampling Rate: %.1f%%\n", cfg.Telemetry.Sampling.Rate*100)
	} else {
		fmt.Printf("\nTracing: disabled\n")
	}
}

func (cli *CLI) versionCommand(args []string) error {
	fmt.Printf("Telemetry Manager version %s\n", Version)
	fmt.Println("Built with Go")
	return nil
}

func (cli *CLI) helpCommand(args []string) error {
	commands := map[string]*Command{
		"run":            {Name: "run", Description: "Start the telemetry manager", Usage: "run [--config path] [--log-level level]", Run: cli.runCommand},
		"validate":       {Name: "validate", Description: "Validate configuration file", Usage: "validate [--config path]", Run: cli.validateCommand},
		"version":        {Name: "version", Description: "Show version information", Usage: "version", Run: cli.versionCommand},
		"help":           {Name: "help", Description: "Show help information", Usage: "help [command]", Run: cli.helpCommand},
		"example-config": {Name: "example-config", Description: "Generate example configuration file", Usage: "example-config [--output path]", Run: cli.exampleConfigCommand},
	}

	if len(args) == 0 {
		cli.printUsage(commands)
		return nil
	}

	commandName := args[0]
	switch commandName {
	case "run":
		cli.printRunHelp()
	case "validate":
		cli.printValidateHelp()
	case "example-config":
		cli.printExampleConfigHelp()
	case "version":
		fmt.Println("USAGE: telemetry-manager version")
		fmt.Println("Show version information and build details.")
	default:
		fmt.Printf("Unknown command: %s\n\n", commandName)
		cli.printUsage(commands)
	}

	return nil
}

func (cli *CLI) exampleConfigCommand(args []string) error {
	var outputPath = "telemetry-manager.yaml"

	flags := map[string]*string{
		"output": &outputPath,
	}

	remaining := cli.parseFlags(args, flags)

	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printExampleConfigHelp()
			return nil
		}
	}

	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("file already exists: %s (use a different path or remove the existing file)", outputPath)
	}

	sourceConfig := filepath.Join("configs", "example.yaml")

	data, err := os.ReadFile(sourceConfig)
	if err != nil {
		return fmt.Errorf("failed to read example config: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Example configuration written to: %s\n", outputPath)
	fmt.Println("Edit the file to match your environment and use:")
	fmt.Printf("  telemetry-manager validate --config %s\n", outputPath)
	return nil
}

func (cli *CLI) validateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	return nil
}

func (cli *CLI) createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	return config.Build()
}

func (cli *CLI) printRunHelp() {
	fmt.Println("USAGE: telemetry-manager run [options]")
	fmt.Println("Start the telemetry manager: collectors, REST API and metrics endpoint.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path          Configuration file path (default: zero-config mode)")
	fmt.Println("  --log-level level      Log level: debug, info, warn, error (default: info)")
	fmt.Println("  --help, -h             Show this help message")
	fmt.Println()
	fmt.Println("SIGNALS:")
	fmt.Println("  SIGINT/SIGTERM    Graceful shutdown")
	fmt.Println("  SIGHUP            Reload configuration")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  telemetry-manager run")
	fmt.Println("  telemetry-manager run --config /etc/telemetry-manager/config.yaml")
	fmt.Println("  telemetry-manager run --log-level debug")
}

func (cli *CLI) printValidateHelp() {
	fmt.Println("USAGE: telemetry-manager validate [options]")
	fmt.Println("Validate configuration file without starting the service.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path  Configuration file path (default: zero-config mode)")
	fmt.Println("  --verbose      Show detailed validation output including current values")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  telemetry-manager validate")
	fmt.Println("  telemetry-manager validate --config ./config.yaml")
	fmt.Println("  telemetry-manager validate --config ./config.yaml --verbose")
}

func (cli *CLI) printExampleConfigHelp() {
	fmt.Println("USAGE: telemetry-manager example-config [options]")
	fmt.Println("Generate an example configuration file.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --output path  Output file path (default: telemetry-manager.yaml)")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  telemetry-manager example-config")
	fmt.Println("  telemetry-manager example-config --output /etc/telemetry-manager/config.yaml")
}
