package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	ListenHosts string
	ListenPorts string
	ReplayFile  string
	FollowFile  string
	DestHosts   string
	WriteFile   string
	Transport   string

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	MetricsPort     int
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Rule flags: either a config file or a single command-line rule.
	flag.StringVar(&cfg.ConfigPath, "F",
		getEnv("RELOGGER_CONFIG", ""),
		"Path to rule file (env: RELOGGER_CONFIG)")
	flag.StringVar(&cfg.ListenHosts, "s", "",
		"Comma-separated host[:port] list to listen on")
	flag.StringVar(&cfg.ListenPorts, "p", "",
		"Comma-separated local ports to listen on (localhost shorthand)")
	flag.StringVar(&cfg.ReplayFile, "r", "",
		"File to replay once, line by line")
	flag.StringVar(&cfg.FollowFile, "f", "",
		"File to follow (tail), relaying appended lines")
	flag.StringVar(&cfg.DestHosts, "d", "",
		"Comma-separated host[:port] destination list")
	flag.StringVar(&cfg.WriteFile, "w", "",
		"File to append relayed records to")
	flag.StringVar(&cfg.Transport, "proto", "udp",
		"Socket transport for command-line rules: udp or tcp")

	// Process flags with environment variable fallback.
	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RELOGGER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RELOGGER_LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RELOGGER_LOG_FORMAT", "text"),
		"Log format: json, text (env: RELOGGER_LOG_FORMAT)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("RELOGGER_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: RELOGGER_SHUTDOWN_TIMEOUT)")
	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("RELOGGER_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: RELOGGER_METRICS_PORT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate rules and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	hasCLIRule := cfg.ListenHosts != "" || cfg.ListenPorts != "" ||
		cfg.ReplayFile != "" || cfg.FollowFile != "" ||
		cfg.DestHosts != "" || cfg.WriteFile != ""

	if cfg.ConfigPath == "" && !hasCLIRule {
		return fmt.Errorf("no rules: give a rule file (-F) or rule flags (-s/-p/-r/-f with -d/-w)")
	}
	if cfg.ConfigPath != "" && hasCLIRule {
		return fmt.Errorf("rule file and rule flags are mutually exclusive")
	}
	if cfg.ReplayFile != "" && cfg.FollowFile != "" {
		return fmt.Errorf("-r and -f are mutually exclusive")
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("rule file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - syslog record relay

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Relay local UDP port 1514 to two collectors
  %s -p 1514 -d collector-a,collector-b:2514

  # Replay a log file to a collector
  %s -r /var/log/app.log -d collector-a

  # Follow a log file and append a copy locally
  %s -f /var/log/app.log -w /var/log/copy.log

  # Run a rule file
  %s -F /etc/relogger.conf

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var parsed int
		if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
