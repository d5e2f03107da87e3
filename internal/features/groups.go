package features

import (
	"math"
	"time"

	"github.com/stwalsh4118/churn/internal/models"
)

// Kind distinguishes numeric columns from categorical ones.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// Feature groups, in output order.
const (
	GroupBehavioral = "behavioral"
	GroupProperty   = "property"
	GroupFinancial  = "financial"
	GroupMarket     = "market"
	GroupTemporal   = "temporal"
)

// DefaultRentToIncome is used when a tenant's income is unknown.
const DefaultRentToIncome = 0.30

// raw is one derived cell before imputation.
type raw struct {
	num     float64
	cat     string
	present bool
}

func number(v float64) raw { return raw{num: v, present: !math.IsNaN(v) && !math.IsInf(v, 0)} }
func category(v string) raw { return raw{cat: v, present: v != ""} }
func flag(b bool) raw { return number(boolToFloat(b)) }
func missing() raw { return raw{} }
func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type deriveFunc func(r *models.JoinedRow, now time.Time) raw

type columnSpec struct {
	name   string
	group  string
	kind   Kind
	derive deriveFunc
}

func numeric(group, name string, fn deriveFunc) columnSpec {
	return columnSpec{name: name, group: group, kind: KindNumeric, derive: fn}
}

func categorical(group, name string, fn deriveFunc) columnSpec {
	return columnSpec{name: name, group: group, kind: KindCategorical, derive: fn}
}

// columnsFor returns the column layout for a table; market columns are
// included only when market data took part in the join.
func columnsFor(hasMarket bool) []columnSpec {
	cols := make([]columnSpec, 0, 48)
	cols = append(cols, behavioralColumns()...)
	cols = append(cols, propertyColumns()...)
	cols = append(cols, financialColumns()...)
	if hasMarket {
		cols = append(cols, marketColumns()...)
	}
	cols = append(cols, temporalColumns()...)
	return cols
}

// FeatureNames returns the ordered feature names produced for a table layout.
func FeatureNames(hasMarket bool) []string {
	cols := columnsFor(hasMarket)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

func behavioralColumns() []columnSpec {
	g := GroupBehavioral
	return []columnSpec{
		numeric(g, "avg_days_late", func(r *models.JoinedRow, _ time.Time) raw {
			return number(derefOr(r.Payments.AvgDaysLate, 0))
		}),
		numeric(g, "max_days_late", func(r *models.JoinedRow, _ time.Time) raw {
			return number(derefOr(r.Payments.MaxDaysLate, 0))
		}),
		numeric(g, "late_payment_rate", func(r *models.JoinedRow, _ time.Time) raw {
			if r.Payments.Count == 0 {
				return number(0)
			}
			return number(r.Payments.TotalDaysLate / float64(r.Payments.Count))
		}),
		numeric(g, "payment_consistency", func(r *models.JoinedRow, _ time.Time) raw {
			return number(1 / (1 + derefOr(r.Payments.AmountStd, 0)))
		}),
		numeric(g, "days_since_last_payment", func(r *models.JoinedRow, now time.Time) raw {
			if r.Payments.LastPaymentDate == nil {
				return missing()
			}
			return number(daysBetween(*r.Payments.LastPaymentDate, now))
		}),
		numeric(g, "has_autopay", tenantField(func(t *models.Tenant) raw { return flag(t.AutopayEnabled) })),
		numeric(g, "portal_logins_per_month", tenantField(func(t *models.Tenant) raw {
			if t.TenureMonths == nil {
				return missing()
			}
			return number(float64(t.PortalLoginCount) / math.Max(float64(*t.TenureMonths), 1))
		})),
		numeric(g, "maintenance_requests_per_year", func(r *models.JoinedRow, _ time.Time) raw {
			if r.Tenant == nil || r.Tenant.TenureMonths == nil {
				return missing()
			}
			years := math.Max(float64(*r.Tenant.TenureMonths)/12, 1)
			return number(float64(r.Maintenance.Count) / years)
		}),
		numeric(g, "high_priority_requests", func(r *models.JoinedRow, _ time.Time) raw {
			return number(float64(r.Maintenance.HighPriorityCount))
		}),
		numeric(g, "avg_response_time_hours", tenantField(func(t *models.Tenant) raw {
			if t.AvgResponseTimeHours == nil {
				return missing()
			}
			return number(*t.AvgResponseTimeHours)
		})),
		numeric(g, "missed_communication_count", tenantField(func(t *models.Tenant) raw {
			return number(float64(t.MissedCommunicationCount))
		})),
		numeric(g, "complaint_count", tenantField(func(t *models.Tenant) raw { return number(float64(t.ComplaintCount)) })),
		numeric(g, "escalation_count", tenantField(func(t *models.Tenant) raw { return number(float64(t.EscalationCount)) })),
		numeric(g, "previous_renewals", tenantField(func(t *models.Tenant) raw { return number(float64(t.RenewalCount)) })),
	}
}

func propertyColumns() []columnSpec {
	g := GroupProperty
	return []columnSpec{
		numeric(g, "square_feet", propertyField(func(p *models.Property, _ time.Time) raw { return intPtr(p.SquareFeet) })),
		numeric(g, "bedrooms", propertyField(func(p *models.Property, _ time.Time) raw { return intPtr(p.Bedrooms) })),
		numeric(g, "bathrooms", propertyField(func(p *models.Property, _ time.Time) raw { return floatPtr(p.Bathrooms) })),
		numeric(g, "property_age", propertyField(func(p *models.Property, now time.Time) raw {
			if p.YearBuilt == nil {
				return missing()
			}
			return number(float64(now.Year() - *p.YearBuilt))
		})),
		numeric(g, "location_score", propertyField(func(p *models.Property, _ time.Time) raw {
			return clamped(p.LocationScore, 1, 10)
		})),
		numeric(g, "school_rating", propertyField(func(p *models.Property, _ time.Time) raw {
			return clamped(p.SchoolRating, 1, 10)
		})),
		numeric(g, "has_garage", propertyField(func(p *models.Property, _ time.Time) raw { return flag(p.Garage) })),
		numeric(g, "has_yard", propertyField(func(p *models.Property, _ time.Time) raw { return flag(p.Yard) })),
		numeric(g, "has_ac", propertyField(func(p *models.Property, _ time.Time) raw { return flag(p.AirConditioning) })),
		numeric(g, "property_condition", propertyField(func(p *models.Property, _ time.Time) raw {
			return clamped(p.ConditionRating, 1, 5)
		})),
		numeric(g, "years_since_renovation", propertyField(func(p *models.Property, _ time.Time) raw {
			return floatPtr(p.YearsSinceRenovation)
		})),
		categorical(g, "neighborhood_type", propertyField(func(p *models.Property, _ time.Time) raw {
			return stringPtr(p.NeighborhoodType)
		})),
	}
}

func financialColumns() []columnSpec {
	g := GroupFinancial
	return []columnSpec{
		numeric(g, "monthly_rent", func(r *models.JoinedRow, _ time.Time) raw {
			return number(r.Lease.MonthlyRent.InexactFloat64())
		}),
		numeric(g, "rent_per_sqft", func(r *models.JoinedRow, _ time.Time) raw {
			if r.Property == nil || r.Property.SquareFeet == nil || *r.Property.SquareFeet <= 0 {
				return missing()
			}
			return number(r.Lease.MonthlyRent.InexactFloat64() / float64(*r.Property.SquareFeet))
		}),
		numeric(g, "rent_to_income_ratio", func(r *models.JoinedRow, _ time.Time) raw {
			if r.Tenant == nil || !r.Tenant.AnnualIncome.Valid || !r.Tenant.AnnualIncome.Decimal.IsPositive() {
				return number(DefaultRentToIncome)
			}
			ratio := r.Lease.MonthlyRent.InexactFloat64() * 12 / r.Tenant.AnnualIncome.Decimal.InexactFloat64()
			return number(math.Min(ratio, 1.0))
		}),
		numeric(g, "rent_increase_pct", func(r *models.JoinedRow, _ time.Time) raw {
			return number(derefOr(r.Lease.LastRentIncreasePct, 0))
		}),
		numeric(g, "total_rent_increases", func(r *models.JoinedRow, _ time.Time) raw {
			return number(float64(r.Lease.RentIncreaseCount))
		}),
		categorical(g, "payment_method", tenantField(func(t *models.Tenant) raw {
			return stringPtr(t.PrimaryPaymentMethod)
		})),
		numeric(g, "security_deposit_months", func(r *models.JoinedRow, _ time.Time) raw {
			rent := r.Lease.MonthlyRent.InexactFloat64()
			if !r.Lease.SecurityDeposit.Valid || rent <= 0 {
				return missing()
			}
			return number(r.Lease.SecurityDeposit.Decimal.InexactFloat64() / rent)
		}),
		numeric(g, "total_late_fees", tenantField(func(t *models.Tenant) raw {
			return number(t.TotalLateFees.InexactFloat64())
		})),
	}
}

func marketColumns() []columnSpec {
	g := GroupMarket
	return []columnSpec{
		numeric(g, "market_rent_median", marketField(func(m *models.MarketSnapshot) raw { return floatPtr(m.MarketRentMedian) })),
		numeric(g, "rent_vs_market", func(r *models.JoinedRow, _ time.Time) raw {
			if r.Market == nil || r.Market.MarketRentMedian == nil || *r.Market.MarketRentMedian <= 0 {
				return missing()
			}
			return number(r.Lease.MonthlyRent.InexactFloat64() / *r.Market.MarketRentMedian)
		}),
		numeric(g, "neighborhood_vacancy_rate", marketField(func(m *models.MarketSnapshot) raw { return floatPtr(m.VacancyRate) })),
		numeric(g, "market_rent_growth_1yr", marketField(func(m *models.MarketSnapshot) raw { return floatPtr(m.RentGrowth1yrPct) })),
		numeric(g, "market_rent_growth_3yr", marketField(func(m *models.MarketSnapshot) raw { return floatPtr(m.RentGrowth3yrPct) })),
		numeric(g, "new_listings_count", marketField(func(m *models.MarketSnapshot) raw { return intPtr(m.NewListings30d) })),
		numeric(g, "avg_days_on_market", marketField(func(m *models.MarketSnapshot) raw { return floatPtr(m.AvgDaysOnMarket) })),
		numeric(g, "median_household_income", marketField(func(m *models.MarketSnapshot) raw { return floatPtr(m.MedianHHIncome) })),
		numeric(g, "population_growth_rate", marketField(func(m *models.MarketSnapshot) raw {
			return floatPtr(m.PopulationGrowthRate)
		})),
		numeric(g, "competitor_properties_1mi", marketField(func(m *models.MarketSnapshot) raw {
			return intPtr(m.CompetitorCount1mi)
		})),
	}
}

func temporalColumns() []columnSpec {
	g := GroupTemporal
	return []columnSpec{
		// Expired leases keep their negative sign.
		numeric(g, "days_to_expiration", func(r *models.JoinedRow, now time.Time) raw {
			if r.Lease.EndDate == nil {
				return missing()
			}
			return number(daysBetween(now, *r.Lease.EndDate))
		}),
		numeric(g, "lease_term_months", func(r *models.JoinedRow, _ time.Time) raw {
			return intPtr(r.Lease.TermMonths)
		}),
		numeric(g, "lease_end_month", func(r *models.JoinedRow, _ time.Time) raw {
			if r.Lease.EndDate == nil {
				return missing()
			}
			return number(float64(r.Lease.EndDate.Month()))
		}),
		numeric(g, "is_summer_expiration", func(r *models.JoinedRow, _ time.Time) raw {
			if r.Lease.EndDate == nil {
				return missing()
			}
			m := r.Lease.EndDate.Month()
			return flag(m == time.June || m == time.July || m == time.August)
		}),
		numeric(g, "tenure_months", tenantField(func(t *models.Tenant) raw { return intPtr(t.TenureMonths) })),
	}
}

func tenantField(fn func(t *models.Tenant) raw) deriveFunc {
	return func(r *models.JoinedRow, _ time.Time) raw {
		if r.Tenant == nil {
			return missing()
		}
		return fn(r.Tenant)
	}
}

func propertyField(fn func(p *models.Property, now time.Time) raw) deriveFunc {
	return func(r *models.JoinedRow, now time.Time) raw {
		if r.Property == nil {
			return missing()
		}
		return fn(r.Property, now)
	}
}

func marketField(fn func(m *models.MarketSnapshot) raw) deriveFunc {
	return func(r *models.JoinedRow, _ time.Time) raw {
		if r.Market == nil {
			return missing()
		}
		return fn(r.Market)
	}
}

// daysBetween returns whole days from a to b, floored like a calendar difference.
func daysBetween(a, b time.Time) float64 {
	return math.Floor(b.Sub(a).Hours() / 24)
}

func derefOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intPtr(v *int) raw {
	if v == nil {
		return missing()
	}
	return number(float64(*v))
}

func floatPtr(v *float64) raw {
	if v == nil {
		return missing()
	}
	return number(*v)
}

func stringPtr(v *string) raw {
	if v == nil {
		return missing()
	}
	return category(*v)
}

func clamped(v *float64, lo, hi float64) raw {
	if v == nil {
		return missing()
	}
	return number(math.Min(math.Max(*v, lo), hi))
}
