package merge

import "math"

// Constants for the barometric formula and ideal-gas air density.
const (
	specificGasAir = 287.058  // J/(kg·K), dry air
	gravity        = 9.80665  // m/s²
	molarMassAir   = 0.0289644 // kg/mol
	universalGas   = 8.31432  // J/(mol·K)
	lapseRate      = 0.0065   // K/m

	// Reference air density used upstream when converting observed ozone
	// from ppm-equivalent to µg/m³.
	o3ReferenceDensity = 0.816
)

// surfacePressure derives surface pressure from mean-sea-level pressure,
// 2 m temperature and the location's elevation via the barometric formula.
func surfacePressure(msl, t2m, elevation float64) float64 {
	exponent := (gravity * molarMassAir) / (universalGas * lapseRate)
	factor := math.Pow(1+(-lapseRate/t2m)*elevation, exponent)
	return msl * factor
}

// airDensity in kg/m³ from surface pressure (Pa) and temperature (K).
func airDensity(sp, t2m float64) float64 {
	return sp / (t2m * specificGasAir)
}

// forecastToMicrograms converts a kg/kg mass mixing ratio to µg/m³.
func forecastToMicrograms(value, density float64) float64 {
	return value * density * 1e9
}

// observedOzoneToMicrograms converts the network's ppm-equivalent ozone
// readings to µg/m³ using the fixed reference density.
func observedOzoneToMicrograms(value float64) float64 {
	return value * 1e3 / o3ReferenceDensity
}
