// Package accounting converts instantaneous power-draw samples into cumulative
// energy and cost.
package accounting

// Accountant holds the constants used to turn one power sample into energy and
// cost increments.
type Accountant struct {
	// SampleIntervalSeconds is the averaging interval of one plug sample.
	SampleIntervalSeconds float64
	// KilowattCostDollars is the tariff per kWh.
	KilowattCostDollars float64
}

// New creates an accountant.
func New(sampleIntervalSeconds, kilowattCostDollars float64) Accountant {
	return Accountant{
		SampleIntervalSeconds: sampleIntervalSeconds,
		KilowattCostDollars:   kilowattCostDollars,
	}
}

// Totals is a pair of cumulative accumulators.
type Totals struct {
	EnergyKWh   float64
	CostDollars float64
}

// EnergyIncrement returns the kWh attributed to one sample of watts.
//
// E(kWh) = P(W) * (1/60) * interval / 1000. The 1/60 factor is kept as-is;
// its unit is unconfirmed.
func (a Accountant) EnergyIncrement(watts float64) float64 {
	if watts <= 0 {
		return 0
	}
	return watts * (1.0 / 60.0) * a.SampleIntervalSeconds / 1000.0
}

// CostIncrement returns the dollars attributed to kwh.
func (a Accountant) CostIncrement(kwh float64) float64 {
	return kwh * a.KilowattCostDollars
}

// Apply adds the increments implied by one sample to current and returns the
// new totals together with the energy increment.
func (a Accountant) Apply(current Totals, watts float64) (Totals, float64) {
	kwh := a.EnergyIncrement(watts)
	return Totals{
		EnergyKWh:   current.EnergyKWh + kwh,
		CostDollars: current.CostDollars + a.CostIncrement(kwh),
	}, kwh
}
