package meterutils

import "math"

// No negative values
func KWhToWh(kwh float64) uint32 {
	if kwh < 0 || math.IsNaN(kwh) {
		return 0
	}
	wh := math.Round(kwh * 1000)
	if wh > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(wh)
}

// Round to a fixed number of decimals for reporting.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
