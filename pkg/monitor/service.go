package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/NotCoffee418/hlw8032_meter/pkg/hlw8032"
	"github.com/NotCoffee418/hlw8032_meter/pkg/meterutils"
	"github.com/NotCoffee418/hlw8032_meter/pkg/types"
	"github.com/rs/zerolog"
)

// New creates a monitor. Zero fields in cfg take their DefaultConfig values.
func New(open Opener, cfg Config, logger zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = def.ReportInterval
	}
	if cfg.MaxFrameErrors <= 0 {
		cfg.MaxFrameErrors = def.MaxFrameErrors
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = def.BaseRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}

	transport := &portTransport{}
	return &Monitor{
		open:      open,
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		meter:     hlw8032.New(transport, cfg.MeterOptions...),
	}
}

func (t *portTransport) Available() int {
	if t.port == nil {
		return 0
	}
	return t.port.Available()
}

func (t *portTransport) ReadByte() (byte, error) {
	if t.port == nil {
		return 0, io.EOF
	}
	return t.port.ReadByte()
}

// Meter gives access to calibration setters and raw diagnostics.
func (m *Monitor) Meter() *hlw8032.Meter {
	return m.meter
}

func (m *Monitor) GetLatestReading() *types.MeterReading {
	m.readingMutex.RLock()
	defer m.readingMutex.RUnlock()
	return m.latestReading
}

// Run polls the meter until ctx is cancelled. handleReading is called from
// the Run goroutine once per report interval.
// It only returns an error when the port could not be opened MaxRetries times in a row.
func (m *Monitor) Run(ctx context.Context, handleReading func(reading *types.MeterReading)) error {
	pollTicker := time.NewTicker(m.cfg.PollInterval)
	defer pollTicker.Stop()
	reportTicker := time.NewTicker(m.cfg.ReportInterval)
	defer reportTicker.Stop()
	defer m.disconnect()

	for {
		if err := m.ensureConnected(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			m.logger.Info().Msg("stop signal received, disconnecting")
			return nil

		case <-pollTicker.C:
			m.pollOnce()

		case <-reportTicker.C:
			reading := m.Reading()
			m.readingMutex.Lock()
			m.latestReading = reading
			m.readingMutex.Unlock()

			if handleReading != nil {
				handleReading(reading)
			}
		}
	}
}

// Reading computes every quantity from one snapshot of the meter.
func (m *Monitor) Reading() *types.MeterReading {
	return BuildReading(m.meter.Calculator(), time.Now())
}

func (m *Monitor) ensureConnected() error {
	if m.transport.port != nil || time.Now().Before(m.nextAttempt) {
		return nil
	}

	port, err := m.open()
	if err != nil {
		m.retryCount++
		if m.cfg.MaxRetries > 0 && m.retryCount >= m.cfg.MaxRetries {
			m.logger.Error().Err(err).Int("attempts", m.retryCount).Msg("max retries reached, giving up")
			return fmt.Errorf("open serial port: %d attempts failed: %w", m.retryCount, err)
		}

		delay := m.retryDelay()
		m.nextAttempt = time.Now().Add(delay)
		m.logger.Warn().Err(err).
			Int("attempt", m.retryCount).
			Int("max_retries", m.cfg.MaxRetries).
			Dur("retry_in", delay).
			Msg("connection failed")
		return nil
	}

	m.transport.port = port
	m.retryCount = 0
	m.frameErrors = 0
	m.logger.Info().Msg("accepting HLW8032 frames")
	return nil
}

// retryDelay doubles from BaseRetryDelay up to MaxRetryDelay.
func (m *Monitor) retryDelay() time.Duration {
	shift := m.retryCount - 1
	if shift > 16 {
		shift = 16
	}
	delay := time.Duration(1<<shift) * m.cfg.BaseRetryDelay
	if delay > m.cfg.MaxRetryDelay || delay <= 0 {
		delay = m.cfg.MaxRetryDelay
	}
	return delay
}

func (m *Monitor) pollOnce() {
	port := m.transport.port
	if port == nil {
		return
	}

	if port.Available() > 0 {
		if err := m.meter.Poll(); err != nil {
			m.frameErrors++
			m.logger.Debug().Err(err).Int("consecutive", m.frameErrors).Msg("frame rejected")
			if m.frameErrors == m.cfg.MaxFrameErrors {
				m.logger.Warn().
					Int("consecutive", m.frameErrors).
					Msg("no valid HLW8032 frame in a while, check wiring and baudrate")
			}
		} else {
			m.frameErrors = 0
		}
	}

	if err := port.Err(); err != nil {
		m.logger.Warn().Err(err).Msg("connection lost, will retry")
		m.disconnect()
		m.nextAttempt = time.Now().Add(m.cfg.BaseRetryDelay)
	}
}

func (m *Monitor) disconnect() {
	if m.transport.port == nil {
		return
	}
	if err := m.transport.port.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("close serial port")
	}
	m.transport.port = nil
}

// BuildReading turns a calculator snapshot into a report. Before the first
// valid frame every derived quantity is left at hlw8032.Invalid.
func BuildReading(calc hlw8032.Calculator, at time.Time) *types.MeterReading {
	reading := &types.MeterReading{
		Timestamp:              at.Format(time.RFC3339),
		Valid:                  calc.Registers.ReadSuccess,
		VoltageV:               hlw8032.Invalid,
		DividerVoltageV:        hlw8032.Invalid,
		CurrentA:               hlw8032.Invalid,
		ShuntVoltageV:          hlw8032.Invalid,
		ActivePowerW:           hlw8032.Invalid,
		ApparentPowerVA:        hlw8032.Invalid,
		PowerFactor:            hlw8032.Invalid,
		PowerFactorRaw:         calc.PowerFactorRaw(),
		PowerFactorAccumulated: calc.PowerFactorAccumulated(),
		EnergyKWh:              hlw8032.Invalid,
	}
	if !reading.Valid {
		return reading
	}

	reading.VoltageV = rounded(3)(calc.EffectiveVoltage())
	reading.DividerVoltageV = rounded(6)(calc.DividerVoltage())
	reading.CurrentA = rounded(3)(calc.EffectiveCurrent())
	reading.ShuntVoltageV = rounded(6)(calc.ShuntVoltage())
	reading.ActivePowerW = rounded(3)(calc.ActivePower())
	reading.ApparentPowerVA = rounded(3)(calc.ApparentPower())
	reading.PowerFactor = rounded(3)(calc.PowerFactor())
	reading.EnergyKWh = rounded(6)(calc.EnergyKWh())
	reading.EnergyWh = meterutils.KWhToWh(reading.EnergyKWh)
	return reading
}

func rounded(decimals int) func(float64, error) float64 {
	return func(v float64, err error) float64 {
		if err != nil {
			return hlw8032.Invalid
		}
		return meterutils.Round(v, decimals)
	}
}
