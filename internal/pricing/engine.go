package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/northgate/transfer-bookings/internal/domain"
	"github.com/northgate/transfer-bookings/pkg/config"
)

// Surcharge names as they appear in price breakdowns.
const (
	SurchargeCrossBorder  = "cross_border"
	SurchargePeakHour     = "peak_hour"
	SurchargeLongDistance = "long_distance"
	SurchargeTime         = "time_surcharge"
)

// Engine computes distances, durations and price breakdowns. All methods
// are pure functions of their inputs and the rate card, so a single
// Engine is safe for unsynchronized concurrent use.
type Engine struct {
	cfg config.PricingConfig
}

func NewEngine(cfg config.PricingConfig) *Engine {
	return &Engine{cfg: cfg}
}

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance between two locations in
// kilometers, via the haversine formula. Symmetric, non-negative, zero
// iff the coordinates are equal.
func (e *Engine) Distance(a, b domain.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	dlat := (b.Latitude - a.Latitude) * math.Pi / 180.0
	dlng := (b.Longitude - a.Longitude) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// EstimatedDuration converts distance to travel minutes at the configured
// average speed, plus a fixed overhead when the trip crosses a border.
func (e *Engine) EstimatedDuration(distanceKm float64, crossBorder bool) int {
	minutes := int(math.Round(distanceKm / e.cfg.AverageSpeedKmh * 60))
	if crossBorder {
		minutes += e.cfg.BorderCrossingMins
	}
	return minutes
}

// Quote computes the full price breakdown for a trip. Surcharges are
// evaluated independently and all applied additively when their condition
// holds; night and weekend fees share one time-surcharge entry.
func (e *Engine) Quote(pickup, dropoff domain.Location, class domain.VehicleClass, scheduledAt time.Time) domain.PriceBreakdown {
	crossBorder := domain.CrossBorder(pickup, dropoff)

	distanceKm := roundTo(e.Distance(pickup, dropoff), 1)
	basePrice := distanceKm * e.ratePerKm(class)

	var surcharges []domain.Surcharge

	if crossBorder {
		surcharges = append(surcharges, domain.Surcharge{
			Name:        SurchargeCrossBorder,
			Description: fmt.Sprintf("Border crossing %s to %s", pickup.Jurisdiction, dropoff.Jurisdiction),
			Amount:      e.cfg.BorderFee,
		})
	}

	if isPeakHour(scheduledAt) {
		surcharges = append(surcharges, domain.Surcharge{
			Name:        SurchargePeakHour,
			Description: "Peak hour traffic",
			Amount:      basePrice * e.cfg.PeakSurchargePct,
		})
	}

	if distanceKm > e.cfg.LongDistanceKm {
		surcharges = append(surcharges, domain.Surcharge{
			Name:        SurchargeLongDistance,
			Description: fmt.Sprintf("Long distance discount over %.0f km", e.cfg.LongDistanceKm),
			Amount:      -basePrice * e.cfg.LongDistancePct,
		})
	}

	if s, ok := e.timeSurcharge(scheduledAt); ok {
		surcharges = append(surcharges, s)
	}

	total := basePrice
	for _, s := range surcharges {
		total += s.Amount
	}

	return domain.PriceBreakdown{
		BasePrice:       basePrice,
		Surcharges:      surcharges,
		TotalPrice:      math.Round(total),
		Currency:        e.cfg.Currency,
		DistanceKm:      distanceKm,
		DurationMinutes: e.EstimatedDuration(distanceKm, crossBorder),
	}
}

// EstimateRange is the cheap pre-booking quote: a [base, base*1.5]
// envelope independent of the surcharge computation, display only.
func (e *Engine) EstimateRange(pickup, dropoff domain.Location, class domain.VehicleClass) (min, max float64) {
	distanceKm := roundTo(e.Distance(pickup, dropoff), 1)
	base := distanceKm * e.ratePerKm(class)
	return math.Round(base), math.Round(base * 1.5)
}

// timeSurcharge merges the night and weekend fixed fees into a single
// entry so the two never show up as separate line items.
func (e *Engine) timeSurcharge(t time.Time) (domain.Surcharge, bool) {
	var amount float64
	var desc string

	if isNight(t) {
		amount += e.cfg.NightFee
		desc = "Night service"
	}
	if isWeekend(t) {
		amount += e.cfg.WeekendFee
		if desc == "" {
			desc = "Weekend service"
		} else {
			desc = "Night and weekend service"
		}
	}
	if amount == 0 {
		return domain.Surcharge{}, false
	}
	return domain.Surcharge{Name: SurchargeTime, Description: desc, Amount: amount}, true
}

func (e *Engine) ratePerKm(class domain.VehicleClass) float64 {
	if rate, ok := e.cfg.RatesPerKm[string(class)]; ok {
		return rate
	}
	return e.cfg.DefaultRatePerKm
}

func isPeakHour(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := t.Hour()
	return (h >= 7 && h <= 9) || (h >= 17 && h <= 19)
}

func isNight(t time.Time) bool {
	h := t.Hour()
	return h >= 22 || h <= 6
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
