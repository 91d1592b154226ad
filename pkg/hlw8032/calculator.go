package hlw8032

import (
	"fmt"
	"math"
)

// Invalid is returned by every getter that could not be computed.
const Invalid = -1.0

// Pulse count for one kWh is (1/PowerParam) * (1/(Vk*Ck)) * 1e9 * 3600.
const pulseScale = 1e9 * 3600

// Calculator derives physical quantities from one register snapshot.
// It never returns NaN or Inf: a zero denominator yields Invalid together
// with an error wrapping ErrDivisionByZero.
type Calculator struct {
	Registers   Registers
	Calibration Calibration

	diag Diagnostics
}

func NewCalculator(r Registers, c Calibration, d Diagnostics) Calculator {
	return Calculator{Registers: r, Calibration: c, diag: d}
}

// EffectiveVoltage is the supply voltage in volts.
func (c Calculator) EffectiveVoltage() (float64, error) {
	v, err := c.DividerVoltage()
	if err != nil {
		return Invalid, err
	}
	return v * c.Calibration.VoltageCoeff, nil
}

// DividerVoltage is the output of the divider network, before the coefficient.
func (c Calculator) DividerVoltage() (float64, error) {
	return c.divide("voltage", float64(c.Registers.VoltageParam), float64(c.Registers.VoltageReg))
}

// EffectiveCurrent is the load current in amperes.
func (c Calculator) EffectiveCurrent() (float64, error) {
	v, err := c.ShuntVoltage()
	if err != nil {
		return Invalid, err
	}
	return v * c.Calibration.CurrentCoeff, nil
}

// ShuntVoltage is the voltage across the shunt, before the coefficient.
func (c Calculator) ShuntVoltage() (float64, error) {
	return c.divide("current", float64(c.Registers.CurrentParam), float64(c.Registers.CurrentReg))
}

// ActivePower is the real power dissipated in the load, in watts.
func (c Calculator) ActivePower() (float64, error) {
	ratio, err := c.divide("active power", float64(c.Registers.PowerParam), float64(c.Registers.PowerReg))
	if err != nil {
		return Invalid, err
	}
	return ratio * c.Calibration.VoltageCoeff * c.Calibration.CurrentCoeff, nil
}

// ApparentPower is Veff * Ieff, in VA.
func (c Calculator) ApparentPower() (float64, error) {
	v, err := c.EffectiveVoltage()
	if err != nil {
		return Invalid, fmt.Errorf("apparent power: %w", err)
	}
	i, err := c.EffectiveCurrent()
	if err != nil {
		return Invalid, fmt.Errorf("apparent power: %w", err)
	}
	return v * i, nil
}

// PowerFactor is the share of apparent power that is real.
func (c Calculator) PowerFactor() (float64, error) {
	active, err := c.ActivePower()
	if err != nil {
		return Invalid, fmt.Errorf("power factor: %w", err)
	}
	apparent, err := c.ApparentPower()
	if err != nil {
		return Invalid, fmt.Errorf("power factor: %w", err)
	}
	return c.divide("power factor", active, apparent)
}

// PowerFactorRaw is the PF pulse register as transmitted.
func (c Calculator) PowerFactorRaw() uint16 {
	return c.Registers.PowerFactorReg
}

// PowerFactorAccumulated is overflow count times the PF register.
func (c Calculator) PowerFactorAccumulated() uint64 {
	return uint64(c.Registers.PowerFactorOverflows) * uint64(c.Registers.PowerFactorReg)
}

// EnergyKWh is the energy consumed by the load.
// The pulse count is a chain of reciprocals and is tiny-in, huge-out, so
// every step is guarded on its own.
func (c Calculator) EnergyKWh() (float64, error) {
	perParam, err := c.divide("energy: power parameter", 1, float64(c.Registers.PowerParam))
	if err != nil {
		return Invalid, err
	}
	perCoeff, err := c.divide("energy: coefficients", 1, c.Calibration.VoltageCoeff*c.Calibration.CurrentCoeff)
	if err != nil {
		return Invalid, err
	}
	pulsesPerKWh := perParam * perCoeff * pulseScale
	return c.divide("energy: pulses per kWh", float64(c.PowerFactorAccumulated()), pulsesPerKWh)
}

func (c Calculator) divide(quantity string, num, den float64) (float64, error) {
	if den == 0 || math.IsNaN(den) {
		err := fmt.Errorf("%s: %w", quantity, ErrDivisionByZero)
		c.report(err)
		return Invalid, err
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		err := fmt.Errorf("%s: %w: %v / %v is not finite", quantity, ErrDivisionByZero, num, den)
		c.report(err)
		return Invalid, err
	}
	return v, nil
}

func (c Calculator) report(err error) {
	if c.diag != nil {
		c.diag.Report(err)
	}
}
