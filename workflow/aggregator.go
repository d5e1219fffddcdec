package workflow

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"bitbucket.org/flowshare/allocation_backend/models"
)

// PartnerAggregate is one averaged production reading per partner for a
// period. Built fresh for every run, never persisted.
type PartnerAggregate struct {
	PartnerId    string
	DisplayName  string
	GrossVolume  decimal.Decimal
	BswPercent   float64
	Temperature  float64
	ApiGravity   float64
	ReadingCount int
}

// AggregateProduction groups approved readings by partner: gross volume is
// summed in decimal, BSW/temperature/API gravity are simple arithmetic means
// (the source methodology's documented simplification, not volume-weighted).
// Display names come from the partnerNames map with a truncated-id fallback.
// Output is sorted by partner id so repeated runs produce identical results.
func AggregateProduction(readings []models.PartnerReading, partnerNames map[string]string) ([]PartnerAggregate, error) {
	type bucket struct {
		gross decimal.Decimal
		bsw   float64
		temp  float64
		api   float64
		count int
	}
	buckets := map[string]*bucket{}

	for _, r := range readings {
		if r.Status != models.ReviewStatusApproved {
			continue
		}
		b, ok := buckets[r.PartnerId]
		if !ok {
			b = &bucket{}
			buckets[r.PartnerId] = b
		}
		b.gross = b.gross.Add(r.GrossVolume)
		b.bsw += r.BswPercent
		b.temp += r.Temperature
		b.api += r.ApiGravity
		b.count++
	}

	if len(buckets) == 0 {
		return nil, ErrNoData
	}

	partnerIds := make([]string, 0, len(buckets))
	for id := range buckets {
		partnerIds = append(partnerIds, id)
	}
	sort.Strings(partnerIds)

	aggregates := make([]PartnerAggregate, 0, len(partnerIds))
	for _, id := range partnerIds {
		b := buckets[id]
		n := float64(b.count)
		aggregates = append(aggregates, PartnerAggregate{
			PartnerId:    id,
			DisplayName:  displayNameFor(id, partnerNames),
			GrossVolume:  b.gross,
			BswPercent:   b.bsw / n,
			Temperature:  b.temp / n,
			ApiGravity:   b.api / n,
			ReadingCount: b.count,
		})
	}
	return aggregates, nil
}

func displayNameFor(partnerId string, partnerNames map[string]string) string {
	if name, ok := partnerNames[partnerId]; ok && name != "" {
		return name
	}
	short := partnerId
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("Partner %s", short)
}
