package types

import "encoding/json"

// MeterReading is one report of every derived quantity.
// Quantities that could not be computed hold -1.
type MeterReading struct {
	Timestamp string `json:"timestamp"`
	// False until the first valid frame was received.
	Valid bool `json:"valid"`

	// Voltage
	VoltageV        float64 `json:"voltage_v"`
	DividerVoltageV float64 `json:"divider_voltage_v"`

	// Current
	CurrentA      float64 `json:"current_a"`
	ShuntVoltageV float64 `json:"shunt_voltage_v"`

	// Power
	ActivePowerW    float64 `json:"active_power_w"`
	ApparentPowerVA float64 `json:"apparent_power_va"`
	PowerFactor     float64 `json:"power_factor"`

	// Energy
	PowerFactorRaw         uint16  `json:"pf_raw"`
	PowerFactorAccumulated uint64  `json:"pf_accumulated"`
	EnergyKWh              float64 `json:"energy_kwh"`
	EnergyWh               uint32  `json:"energy_wh"`
}

func (r *MeterReading) ToJsonBytes() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}
