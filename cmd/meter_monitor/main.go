// Meter monitor reads an HLW8032 over a serial port and prints one JSON reading per report interval.
//
//	meter_monitor [config.toml|config.yaml]
//	meter_monitor list-ports
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/hlw8032_meter/pkg/config"
	"github.com/NotCoffee418/hlw8032_meter/pkg/hlw8032"
	"github.com/NotCoffee418/hlw8032_meter/pkg/logging"
	"github.com/NotCoffee418/hlw8032_meter/pkg/monitor"
	"github.com/NotCoffee418/hlw8032_meter/pkg/port_reader"
	"github.com/NotCoffee418/hlw8032_meter/pkg/types"
	"github.com/rs/zerolog/log"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "list-ports" {
		listPorts()
		return
	}

	// Load config
	var err error
	cfg := config.DefaultMeterConfig()
	if len(os.Args) > 1 {
		cfg, err = config.Load(os.Args[1])
	} else if err = config.LoadMeterConfig(); err == nil {
		cfg = config.ActiveMeterConfig
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load meter config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logging.SetDefault(logger)

	calibration, err := cfg.Calibration()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid calibration")
	}
	log.Info().
		Str("device", cfg.SerialDevice).
		Uint("baudrate", cfg.Baudrate).
		Float64("voltage_coefficient", calibration.VoltageCoeff).
		Float64("current_coefficient", calibration.CurrentCoeff).
		Str("trailing_bytes", cfg.TrailingPolicy().String()).
		Msg("starting meter monitor")

	monCfg := monitor.DefaultConfig()
	monCfg.PollInterval = cfg.PollInterval()
	monCfg.ReportInterval = cfg.ReportInterval()
	monCfg.MeterOptions = []hlw8032.Option{
		hlw8032.WithCalibration(calibration),
		hlw8032.WithSettleDelay(cfg.SettleDelay()),
		hlw8032.WithTrailingPolicy(cfg.TrailingPolicy()),
		hlw8032.WithDiagnostics(logging.Diagnostics(logger)),
	}

	mon := monitor.New(func() (monitor.Port, error) {
		port, err := port_reader.Open(cfg.SerialDevice, cfg.Baudrate)
		if err != nil {
			return nil, err
		}
		return port, nil
	}, monCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mon.Run(ctx, handleMeterReading); err != nil {
		log.Fatal().Err(err).Msg("meter monitor stopped")
	}
}

// Handle meter reading data
func handleMeterReading(reading *types.MeterReading) {
	fmt.Println(string(reading.ToJsonBytes()))
}

func listPorts() {
	ports, err := port_reader.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list serial ports: %v\n", err)
		os.Exit(1)
	}
	if len(ports) == 0 {
		fmt.Fprintln(os.Stderr, "No serial ports found")
		return
	}
	enc := json.NewEncoder(os.Stdout)
	for _, p := range ports {
		if err := enc.Encode(p); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode port: %v\n", err)
			os.Exit(1)
		}
	}
}
