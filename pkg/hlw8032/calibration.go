package hlw8032

import (
	"fmt"
	"math"
)

// Reference board resistor values.
const (
	DefaultUpstreamResistance   = 1880000.0 // Ohm
	DefaultDownstreamResistance = 1000.0    // Ohm
	DefaultShuntResistance      = 0.001     // Ohm
)

// Calibration holds the coefficients applied on top of the raw register ratios.
type Calibration struct {
	// Voltage divider ratio V_in/V_out.
	VoltageCoeff float64
	// Current shunt coefficient.
	CurrentCoeff float64
}

// CalibrationFromResistors derives both coefficients from the divider network
// and the shunt resistor. The divider ratio is (R2 + R1)/R1.
func CalibrationFromResistors(upstream, downstream, shunt float64) (Calibration, error) {
	if err := checkCoefficient(upstream); err != nil {
		return Calibration{}, fmt.Errorf("upstream resistance: %w", err)
	}
	if err := checkCoefficient(downstream); err != nil {
		return Calibration{}, fmt.Errorf("downstream resistance: %w", err)
	}
	if err := checkCoefficient(shunt); err != nil {
		return Calibration{}, fmt.Errorf("shunt resistance: %w", err)
	}
	return Calibration{
		VoltageCoeff: (upstream + downstream) / downstream,
		CurrentCoeff: 1.0 / (shunt * 1000.0),
	}, nil
}

// DefaultCalibration returns coefficients for the default resistor values.
func DefaultCalibration() Calibration {
	c, _ := CalibrationFromResistors(DefaultUpstreamResistance, DefaultDownstreamResistance, DefaultShuntResistance)
	return c
}

func (c Calibration) Validate() error {
	if err := checkCoefficient(c.VoltageCoeff); err != nil {
		return fmt.Errorf("voltage coefficient: %w", err)
	}
	if err := checkCoefficient(c.CurrentCoeff); err != nil {
		return fmt.Errorf("current coefficient: %w", err)
	}
	return nil
}

func checkCoefficient(v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidCoefficient, v)
	}
	return nil
}
