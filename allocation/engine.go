package allocation

import "fmt"

// Default standard conditions when a tenant has no override.
const (
	DefaultStandardTemperature = 60.0   // °F
	DefaultStandardPressure    = 14.696 // psia
)

// ProductionData is one partner's aggregated measurement for a period.
type ProductionData struct {
	PartnerId   string
	PartnerName string
	GrossVolume float64 // barrels
	BswPercent  float64
	Temperature float64 // °F
	ApiGravity  float64
	Pressure    float64
	MeterFactor float64
}

// Result is the full correction trail and allocated share for one partner.
type Result struct {
	PartnerId   string
	PartnerName string
	GrossVolume float64
	BswPercent  float64

	WaterCutFactor    float64
	NetVolumeObserved float64

	ObservedTemperature         float64
	StandardTemperature         float64
	TemperatureCorrectionFactor float64

	ApiGravity              float64
	ObservedSpecificGravity float64
	StandardSpecificGravity float64
	ApiCorrectionFactor     float64

	NetVolumeStandard float64

	OwnershipPercent float64
	AllocatedVolume  float64

	IntermediateCalculations map[string]float64
}

// Engine performs the allocation at configured standard conditions.
type Engine struct {
	StandardTemperature float64
	StandardPressure    float64
}

// NewEngine builds an engine, falling back to API standard conditions for
// zero values.
func NewEngine(standardTemp, standardPressure float64) *Engine {
	if standardTemp == 0 {
		standardTemp = DefaultStandardTemperature
	}
	if standardPressure == 0 {
		standardPressure = DefaultStandardPressure
	}
	return &Engine{StandardTemperature: standardTemp, StandardPressure: standardPressure}
}

// Allocate corrects every partner's production to standard conditions, then
// splits the terminal volume by each partner's share of the corrected pool.
// Partners keep their input order. A zero corrected pool yields zero ownership
// for everyone.
func (e *Engine) Allocate(productionData []ProductionData, terminalVolume float64) ([]Result, error) {
	if terminalVolume <= 0 {
		return nil, fmt.Errorf("%w: terminal volume must be greater than 0, got %v", ErrInvalidInput, terminalVolume)
	}
	if len(productionData) == 0 {
		return nil, fmt.Errorf("%w: no production data to allocate", ErrInvalidInput)
	}

	results := make([]Result, 0, len(productionData))
	totalNetStandard := 0.0

	for _, data := range productionData {
		waterCut, err := WaterCutFactor(data.BswPercent)
		if err != nil {
			return nil, fmt.Errorf("partner %s: %w", data.PartnerId, err)
		}
		netObserved := NetObservedVolume(data.GrossVolume, waterCut)

		ctl := TemperatureCorrectionFactor(data.Temperature, e.StandardTemperature, data.ApiGravity)

		cpl, err := ApiCorrectionFactor(data.Temperature, e.StandardTemperature, data.ApiGravity)
		if err != nil {
			return nil, fmt.Errorf("partner %s: %w", data.PartnerId, err)
		}

		netStandard := NetStandardVolume(netObserved, ctl, cpl)
		totalNetStandard += netStandard

		sg, err := SpecificGravity(data.ApiGravity)
		if err != nil {
			return nil, fmt.Errorf("partner %s: %w", data.PartnerId, err)
		}

		results = append(results, Result{
			PartnerId:                   data.PartnerId,
			PartnerName:                 data.PartnerName,
			GrossVolume:                 data.GrossVolume,
			BswPercent:                  data.BswPercent,
			WaterCutFactor:              waterCut,
			NetVolumeObserved:           netObserved,
			ObservedTemperature:         data.Temperature,
			StandardTemperature:         e.StandardTemperature,
			TemperatureCorrectionFactor: ctl,
			ApiGravity:                  data.ApiGravity,
			ObservedSpecificGravity:     sg,
			StandardSpecificGravity:     sg,
			ApiCorrectionFactor:         cpl,
			NetVolumeStandard:           netStandard,
		})
	}

	for i := range results {
		ownership := 0.0
		if totalNetStandard > 0 {
			ownership = results[i].NetVolumeStandard / totalNetStandard * 100.0
		}
		results[i].OwnershipPercent = ownership
		results[i].AllocatedVolume = terminalVolume * ownership / 100.0
		results[i].IntermediateCalculations = map[string]float64{
			"water_volume":              results[i].GrossVolume - results[i].NetVolumeObserved,
			"total_net_standard_volume": totalNetStandard,
			"terminal_volume":           terminalVolume,
		}
	}

	return results, nil
}
