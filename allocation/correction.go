// Package allocation implements the API MPMS 11.1 volumetric correction and
// terminal allocation math. Everything here is pure and stateless; callers
// own persistence and orchestration.
package allocation

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks measurement values outside their physical range.
var ErrInvalidInput = errors.New("invalid measurement input")

// Simplified volume correction coefficients approximating the ASTM D1250
// tables. Crudes below 50 API use the heavier-grade pair.
const (
	alphaHeavy = 0.000347
	alphaLight = 0.000400
	betaCommon = 0.000002

	// sgObservedTempCoefficient approximates the density shift per °F away
	// from standard conditions.
	sgObservedTempCoefficient = 0.0004
)

// SpecificGravity converts API gravity to specific gravity,
// SG = 141.5 / (API + 131.5). API MPMS Chapter 11.1, Section 11.1.6.2.
func SpecificGravity(apiGravity float64) (float64, error) {
	if apiGravity <= 0 {
		return 0, fmt.Errorf("%w: api gravity must be greater than 0, got %v", ErrInvalidInput, apiGravity)
	}
	return 141.5 / (apiGravity + 131.5), nil
}

// WaterCutFactor returns the oil fraction of the mixture,
// 1 - (BSW% / 100).
func WaterCutFactor(bswPercent float64) (float64, error) {
	if bswPercent < 0 || bswPercent > 100 {
		return 0, fmt.Errorf("%w: bsw percent must be between 0 and 100, got %v", ErrInvalidInput, bswPercent)
	}
	return 1.0 - bswPercent/100.0, nil
}

// NetObservedVolume strips water and sediment from the gross measurement.
func NetObservedVolume(grossVolume, waterCutFactor float64) float64 {
	return grossVolume * waterCutFactor
}

// TemperatureCorrectionFactor returns CTL = 1 - α·ΔT - β·ΔT² where ΔT is the
// departure from standard temperature. API MPMS Chapter 11.1, Table 6A/6B.
func TemperatureCorrectionFactor(observedTemp, standardTemp, apiGravity float64) float64 {
	deltaT := observedTemp - standardTemp
	alpha := alphaHeavy
	if apiGravity >= 50 {
		alpha = alphaLight
	}
	return 1.0 - alpha*deltaT - betaCommon*deltaT*deltaT
}

// ApiCorrectionFactor returns CPL = SG_standard / SG_observed, adjusting for
// density change with temperature.
func ApiCorrectionFactor(observedTemp, standardTemp, apiGravity float64) (float64, error) {
	sgStandard, err := SpecificGravity(apiGravity)
	if err != nil {
		return 0, err
	}
	tempEffect := 1.0 + sgObservedTempCoefficient*(observedTemp-standardTemp)
	sgObserved := sgStandard / tempEffect
	return sgStandard / sgObserved, nil
}

// NetStandardVolume corrects the observed volume to standard conditions,
// NSV = net observed × CTL × CPL.
func NetStandardVolume(netObserved, ctl, cpl float64) float64 {
	return netObserved * ctl * cpl
}
