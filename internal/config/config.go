// Package config loads node configuration from the environment (spec
// §6.3), with an optional SENSORS_CONFIG_FILE YAML supplement for sensor
// descriptors. It follows the teacher's config package in format (YAML via
// gopkg.in/yaml.v3) while sourcing values primarily from the environment,
// since this system is a long-running daemon rather than a CLI context
// store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error reports a config_error per the taxonomy in spec §7: bad or missing
// configuration at startup, always fatal.
type Error struct {
	Field  string
	Detail string
}

func (e *Error) Error() string { return fmt.Sprintf("config_error: %s: %s", e.Field, e.Detail) }

func errf(field, format string, args ...any) error {
	return &Error{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// SensorSpec describes one configured sensor producer (spec §6.3 producer
// contract).
type SensorSpec struct {
	Type      string  `yaml:"type"`
	Name      string  `yaml:"name"`
	PeriodMs  int     `yaml:"period_ms"`
	Start     int64   `yaml:"start,omitempty"` // counter
	Min       float64 `yaml:"min,omitempty"`   // gauge
	Max       float64 `yaml:"max,omitempty"`   // gauge
	Step      float64 `yaml:"step,omitempty"`  // gauge
}

// sensorsFile is the shape of an optional SENSORS_CONFIG_FILE document.
type sensorsFile struct {
	Sensors []SensorSpec `yaml:"sensors"`
}

// Config is the fully resolved node configuration.
type Config struct {
	NodeID          string
	Host            string
	Port            int
	BootstrapPeers  []string // host:port
	WebAPIPort      int
	LogLevel        string
	LogFile         string
	ClearLog        bool
	Sensors         []SensorSpec
}

// Load resolves configuration from the process environment, optionally
// supplemented by a YAML file named in SENSORS_CONFIG_FILE. Environment
// wins on collision for any field present in both.
func Load() (*Config, error) {
	return load(os.Getenv, os.ReadFile)
}

// load is Load's implementation, parameterised for tests.
func load(getenv func(string) string, readFile func(string) ([]byte, error)) (*Config, error) {
	cfg := &Config{}

	cfg.NodeID = strings.TrimSpace(getenv("NODE_ID"))
	if cfg.NodeID == "" {
		return nil, errf("NODE_ID", "required and must be non-empty")
	}

	cfg.Host = getenv("HOST")
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}

	port, err := parseIntEnv(getenv, "PORT", 0)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, errf("PORT", "required")
	}
	cfg.Port = port

	cfg.WebAPIPort, err = parseIntEnv(getenv, "WEB_API_PORT", cfg.Port+1000)
	if err != nil {
		return nil, err
	}

	if raw := getenv("BOOTSTRAP_PEERS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if !strings.Contains(part, ":") {
				return nil, errf("BOOTSTRAP_PEERS", "entry %q must be host:port", part)
			}
			cfg.BootstrapPeers = append(cfg.BootstrapPeers, part)
		}
	}

	cfg.LogLevel = getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFile = getenv("LOG_FILE")
	cfg.ClearLog = parseBoolEnv(getenv, "CLEAR_LOG")

	sensors, err := parseSensorsFromEnv(getenv)
	if err != nil {
		return nil, err
	}
	cfg.Sensors = sensors

	if path := getenv("SENSORS_CONFIG_FILE"); path != "" {
		extra, err := loadSensorsFile(readFile, path)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(cfg.Sensors))
		for _, s := range cfg.Sensors {
			seen[s.Name] = true
		}
		for _, s := range extra {
			if !seen[s.Name] {
				cfg.Sensors = append(cfg.Sensors, s)
			}
		}
	}

	return cfg, nil
}

func loadSensorsFile(readFile func(string) ([]byte, error), path string) ([]SensorSpec, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, errf("SENSORS_CONFIG_FILE", "read %s: %v", path, err)
	}
	var doc sensorsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errf("SENSORS_CONFIG_FILE", "parse %s: %v", path, err)
	}
	for _, s := range doc.Sensors {
		if s.Name == "" || s.Type == "" {
			return nil, errf("SENSORS_CONFIG_FILE", "every sensor needs a type and name")
		}
	}
	return doc.Sensors, nil
}

func parseSensorsFromEnv(getenv func(string) string) ([]SensorSpec, error) {
	n, err := parseIntEnv(getenv, "SENSORS", 0)
	if err != nil {
		return nil, err
	}
	specs := make([]SensorSpec, 0, n)
	for i := 0; i < n; i++ {
		prefix := fmt.Sprintf("SENSOR_%d_", i)
		typ := getenv(prefix + "TYPE")
		name := getenv(prefix + "NAME")
		if typ == "" || name == "" {
			return nil, errf(prefix+"TYPE/NAME", "both required when SENSORS=%d", n)
		}
		period, err := parseIntEnv(getenv, prefix+"PERIOD_MS", 1000)
		if err != nil {
			return nil, err
		}
		spec := SensorSpec{Type: typ, Name: name, PeriodMs: period}
		switch typ {
		case "counter":
			start, err := parseIntEnv(getenv, prefix+"START", 0)
			if err != nil {
				return nil, err
			}
			spec.Start = int64(start)
		case "gauge":
			spec.Min, err = parseFloatEnv(getenv, prefix+"MIN", 0)
			if err != nil {
				return nil, err
			}
			spec.Max, err = parseFloatEnv(getenv, prefix+"MAX", 100)
			if err != nil {
				return nil, err
			}
			spec.Step, err = parseFloatEnv(getenv, prefix+"STEP", 1)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errf(prefix+"TYPE", "unrecognised sensor type %q", typ)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseIntEnv(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errf(key, "must be an integer, got %q", raw)
	}
	return v, nil
}

func parseFloatEnv(getenv func(string) string, key string, def float64) (float64, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errf(key, "must be a number, got %q", raw)
	}
	return v, nil
}

func parseBoolEnv(getenv func(string) string, key string) bool {
	v, _ := strconv.ParseBool(getenv(key))
	return v
}
