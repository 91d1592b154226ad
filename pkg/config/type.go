package config

type MeterConfig struct {
	SerialDevice string `toml:"serial_device" yaml:"serial_device"`
	Baudrate     uint   `toml:"baudrate" yaml:"baudrate"`

	// Wait after the first byte before reading a frame.
	SettleDelayMs int `toml:"settle_delay_ms" yaml:"settle_delay_ms"`
	// How often the receive buffer is checked.
	PollIntervalMs int `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	// How often a reading is printed.
	ReportIntervalMs int `toml:"report_interval_ms" yaml:"report_interval_ms"`
	// "leave" keeps bytes after a frame for the next poll, "drain" discards them.
	TrailingBytes string `toml:"trailing_bytes" yaml:"trailing_bytes"`

	UpstreamResistanceOhm   float64 `toml:"upstream_resistance_ohm" yaml:"upstream_resistance_ohm"`
	DownstreamResistanceOhm float64 `toml:"downstream_resistance_ohm" yaml:"downstream_resistance_ohm"`
	ShuntResistanceOhm      float64 `toml:"shunt_resistance_ohm" yaml:"shunt_resistance_ohm"`
	// Zero means derive from the resistors above.
	VoltageCoefficient float64 `toml:"voltage_coefficient" yaml:"voltage_coefficient"`
	CurrentCoefficient float64 `toml:"current_coefficient" yaml:"current_coefficient"`

	LogLevel  string `toml:"log_level" yaml:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format"`
}
