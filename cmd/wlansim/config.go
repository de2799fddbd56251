package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	taskFile        string
	outDir          string
	ifsDefault      time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	statusAddr      string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	bridgeSerialDev string
	bridgeSerialBaud int
	bridgeCANIf     string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	taskFile := flag.String("tasks", "-", "Task script path ('-' reads stdin)")
	outDir := flag.String("out-dir", "./out", "Output directory for per-station and AP log files")
	ifsDefault := flag.Duration("ifs", 200*time.Millisecond, "Default inter-frame space; validated but not applied to any station, since node() in a task script always takes an explicit ifs")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	statusAddr := flag.String("status-addr", "", "Admin/status TCP listen address (e.g., :9000); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the admin/status endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default wlansim-<hostname>)")
	bridgeSerialDev := flag.String("bridge-serial", "", "Serial device to mirror traffic onto; empty disables")
	bridgeSerialBaud := flag.Int("bridge-serial-baud", 115200, "Serial bridge baud rate")
	bridgeCANIf := flag.String("bridge-can-if", "", "SocketCAN interface to mirror RTS/CTS/DATA/ACK frames onto; empty disables")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.taskFile = *taskFile
	cfg.outDir = *outDir
	cfg.ifsDefault = *ifsDefault
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.statusAddr = *statusAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.bridgeSerialDev = *bridgeSerialDev
	cfg.bridgeSerialBaud = *bridgeSerialBaud
	cfg.bridgeCANIf = *bridgeCANIf

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners -- only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.ifsDefault <= 0 {
		return fmt.Errorf("ifs must be > 0")
	}
	if c.bridgeSerialDev != "" && c.bridgeSerialBaud <= 0 {
		return fmt.Errorf("bridge-serial-baud must be > 0 (got %d)", c.bridgeSerialBaud)
	}
	if c.outDir == "" {
		return fmt.Errorf("out-dir must not be empty")
	}
	return nil
}

// applyEnvOverrides maps WLANSIM_* environment variables to config fields
// unless a corresponding flag was explicitly set. Flag wins over env.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["tasks"]; !ok {
		if v, ok := get("WLANSIM_TASKS"); ok && v != "" {
			c.taskFile = v
		}
	}
	if _, ok := set["out-dir"]; !ok {
		if v, ok := get("WLANSIM_OUT_DIR"); ok && v != "" {
			c.outDir = v
		}
	}
	if _, ok := set["ifs"]; !ok {
		if v, ok := get("WLANSIM_IFS"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.ifsDefault = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid WLANSIM_IFS: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("WLANSIM_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("WLANSIM_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("WLANSIM_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["status-addr"]; !ok {
		if v, ok := get("WLANSIM_STATUS"); ok {
			c.statusAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("WLANSIM_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid WLANSIM_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("WLANSIM_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("WLANSIM_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["bridge-serial"]; !ok {
		if v, ok := get("WLANSIM_BRIDGE_SERIAL"); ok {
			c.bridgeSerialDev = v
		}
	}
	if _, ok := set["bridge-serial-baud"]; !ok {
		if v, ok := get("WLANSIM_BRIDGE_SERIAL_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.bridgeSerialBaud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid WLANSIM_BRIDGE_SERIAL_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["bridge-can-if"]; !ok {
		if v, ok := get("WLANSIM_BRIDGE_CAN_IF"); ok {
			c.bridgeCANIf = v
		}
	}
	return firstErr
}
