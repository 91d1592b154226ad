package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/hlw8032_meter/pkg/hlw8032"
	"github.com/NotCoffee418/hlw8032_meter/pkg/pathing"
	"gopkg.in/yaml.v3"
)

var ActiveMeterConfig *MeterConfig

func DefaultMeterConfig() *MeterConfig {
	return &MeterConfig{
		SerialDevice:            "/dev/ttyUSB0",
		Baudrate:                4800,
		SettleDelayMs:           int(hlw8032.DefaultSettleDelay / time.Millisecond),
		PollIntervalMs:          10,
		ReportIntervalMs:        1000,
		TrailingBytes:           "leave",
		UpstreamResistanceOhm:   hlw8032.DefaultUpstreamResistance,
		DownstreamResistanceOhm: hlw8032.DefaultDownstreamResistance,
		ShuntResistanceOhm:      hlw8032.DefaultShuntResistance,
		LogLevel:                "info",
		LogFormat:               "console",
	}
}

// LoadMeterConfig loads the config from the default location into ActiveMeterConfig.
func LoadMeterConfig() error {
	cfg, err := Load(pathing.GetConfigPath())
	if err != nil {
		return err
	}
	ActiveMeterConfig = cfg
	return nil
}

// Load reads a toml or yaml config, chosen by extension.
// A missing file is created with defaults (always toml).
func Load(configPath string) (*MeterConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultMeterConfig()
		if err := writeDefault(configPath, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Fields absent from the file keep their defaults.
	cfg := DefaultMeterConfig()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

func writeDefault(configPath string, cfg *MeterConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfgFile, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer cfgFile.Close()
	if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *MeterConfig) error {
	if cfg.SerialDevice == "" {
		return fmt.Errorf("serial_device is required")
	}
	if cfg.Baudrate == 0 {
		return fmt.Errorf("baudrate must be > 0")
	}
	if cfg.SettleDelayMs < 0 {
		return fmt.Errorf("settle_delay_ms must be >= 0, got %d", cfg.SettleDelayMs)
	}
	if cfg.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be > 0, got %d", cfg.PollIntervalMs)
	}
	if cfg.ReportIntervalMs <= 0 {
		return fmt.Errorf("report_interval_ms must be > 0, got %d", cfg.ReportIntervalMs)
	}
	if _, err := hlw8032.ParseTrailingPolicy(cfg.TrailingBytes); err != nil {
		return fmt.Errorf("trailing_bytes: %w", err)
	}
	if cfg.VoltageCoefficient < 0 {
		return fmt.Errorf("voltage_coefficient must be >= 0, got %v", cfg.VoltageCoefficient)
	}
	if cfg.CurrentCoefficient < 0 {
		return fmt.Errorf("current_coefficient must be >= 0, got %v", cfg.CurrentCoefficient)
	}
	if _, err := cfg.Calibration(); err != nil {
		return err
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", cfg.LogFormat)
	}
	return nil
}

// Calibration derives the coefficients from the resistors. Explicit
// coefficients win over the derived ones.
func (c *MeterConfig) Calibration() (hlw8032.Calibration, error) {
	cal := hlw8032.Calibration{
		VoltageCoeff: c.VoltageCoefficient,
		CurrentCoeff: c.CurrentCoefficient,
	}
	if cal.VoltageCoeff > 0 && cal.CurrentCoeff > 0 {
		return cal, cal.Validate()
	}

	derived, err := hlw8032.CalibrationFromResistors(c.UpstreamResistanceOhm, c.DownstreamResistanceOhm, c.ShuntResistanceOhm)
	if err != nil {
		return hlw8032.Calibration{}, err
	}
	if cal.VoltageCoeff <= 0 {
		cal.VoltageCoeff = derived.VoltageCoeff
	}
	if cal.CurrentCoeff <= 0 {
		cal.CurrentCoeff = derived.CurrentCoeff
	}
	return cal, cal.Validate()
}

func (c *MeterConfig) TrailingPolicy() hlw8032.TrailingPolicy {
	p, _ := hlw8032.ParseTrailingPolicy(c.TrailingBytes)
	return p
}

func (c *MeterConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

func (c *MeterConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *MeterConfig) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalMs) * time.Millisecond
}
