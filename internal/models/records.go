package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lease status values.
const (
	LeaseStatusActive = "ACTIVE"
	LeaseStatusEnded  = "ENDED"
)

// PriorityHigh marks a maintenance request that counts toward the high-priority aggregate.
const PriorityHigh = "HIGH"

// Tenant represents a tenant profile and engagement counters.
// All nullable fields use pointers to distinguish between zero values and NULL.
type Tenant struct {
	TenantID                 string              `db:"tenant_id" json:"tenant_id" validate:"required"`
	AnnualIncome             decimal.NullDecimal `db:"annual_income" json:"annual_income"`
	AutopayEnabled           bool                `db:"autopay_enabled" json:"autopay_enabled"`
	PortalLoginCount         int                 `db:"portal_login_count" json:"portal_login_count" validate:"gte=0"`
	AvgResponseTimeHours     *float64            `db:"avg_response_time_hours" json:"avg_response_time_hours,omitempty"`
	MissedCommunicationCount int                 `db:"missed_communication_count" json:"missed_communication_count" validate:"gte=0"`
	ComplaintCount           int                 `db:"complaint_count" json:"complaint_count" validate:"gte=0"`
	EscalationCount          int                 `db:"escalation_count" json:"escalation_count" validate:"gte=0"`
	RenewalCount             int                 `db:"renewal_count" json:"renewal_count" validate:"gte=0"`
	TenureMonths             *int                `db:"tenure_months" json:"tenure_months,omitempty"`
	PrimaryPaymentMethod     *string             `db:"primary_payment_method" json:"primary_payment_method,omitempty"`
	TotalLateFees            decimal.Decimal     `db:"total_late_fees" json:"total_late_fees"`
}

// Lease is the anchor table of the join: one prediction per lease.
type Lease struct {
	LeaseID             string              `db:"lease_id" json:"lease_id" validate:"required"`
	TenantID            string              `db:"tenant_id" json:"tenant_id"`
	PropertyID          string              `db:"property_id" json:"property_id"`
	StartDate           time.Time           `db:"start_date" json:"start_date"`
	EndDate             *time.Time          `db:"end_date" json:"end_date,omitempty"`
	TermMonths          *int                `db:"term_months" json:"term_months,omitempty"`
	MonthlyRent         decimal.Decimal     `db:"monthly_rent" json:"monthly_rent"`
	SecurityDeposit     decimal.NullDecimal `db:"security_deposit" json:"security_deposit"`
	LastRentIncreasePct *float64            `db:"last_rent_increase_pct" json:"last_rent_increase_pct,omitempty"`
	RentIncreaseCount   int                 `db:"rent_increase_count" json:"rent_increase_count"`
	Status              string              `db:"status" json:"status"`
	// Churned is the training label; nil for leases that have not resolved.
	Churned *bool `db:"churned" json:"churned,omitempty"`
}

// IsActive reports whether the lease is still running.
func (l Lease) IsActive() bool {
	return l.Status == "" || l.Status == LeaseStatusActive
}

// Property holds physical and location attributes of a rental unit.
type Property struct {
	PropertyID           string   `db:"property_id" json:"property_id" validate:"required"`
	ZipCode              string   `db:"zip_code" json:"zip_code"`
	SquareFeet           *int     `db:"square_feet" json:"square_feet,omitempty"`
	Bedrooms             *int     `db:"bedrooms" json:"bedrooms,omitempty"`
	Bathrooms            *float64 `db:"bathrooms" json:"bathrooms,omitempty"`
	YearBuilt            *int     `db:"year_built" json:"year_built,omitempty"`
	LocationScore        *float64 `db:"location_score" json:"location_score,omitempty"`
	SchoolRating         *float64 `db:"school_rating" json:"school_rating,omitempty"`
	Garage               bool     `db:"garage" json:"garage"`
	Yard                 bool     `db:"yard" json:"yard"`
	AirConditioning      bool     `db:"air_conditioning" json:"air_conditioning"`
	ConditionRating      *float64 `db:"condition_rating" json:"condition_rating,omitempty"`
	YearsSinceRenovation *float64 `db:"years_since_renovation" json:"years_since_renovation,omitempty"`
	NeighborhoodType     *string  `db:"neighborhood_type" json:"neighborhood_type,omitempty"`
}

// Payment is a single rent payment against a lease.
type Payment struct {
	PaymentID   string          `db:"payment_id" json:"payment_id"`
	LeaseID     string          `db:"lease_id" json:"lease_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	PaymentDate time.Time       `db:"payment_date" json:"payment_date"`
	DaysLate    int             `db:"days_late" json:"days_late"`
}

// MaintenanceRequest is a work order raised against a property.
type MaintenanceRequest struct {
	RequestID      string    `db:"request_id" json:"request_id"`
	PropertyID     string    `db:"property_id" json:"property_id"`
	Priority       string    `db:"priority" json:"priority"`
	ResolutionDays *float64  `db:"resolution_days" json:"resolution_days,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MarketSnapshot describes rental market conditions for a zip code.
type MarketSnapshot struct {
	ZipCode              string   `db:"zip_code" json:"zip_code"`
	MarketRentMedian     *float64 `db:"market_rent_median" json:"market_rent_median,omitempty"`
	VacancyRate          *float64 `db:"vacancy_rate" json:"vacancy_rate,omitempty"`
	RentGrowth1yrPct     *float64 `db:"rent_growth_1yr_pct" json:"rent_growth_1yr_pct,omitempty"`
	RentGrowth3yrPct     *float64 `db:"rent_growth_3yr_pct" json:"rent_growth_3yr_pct,omitempty"`
	NewListings30d       *int     `db:"new_listings_30d" json:"new_listings_30d,omitempty"`
	AvgDaysOnMarket      *float64 `db:"avg_days_on_market" json:"avg_days_on_market,omitempty"`
	MedianHHIncome       *float64 `db:"median_hh_income" json:"median_hh_income,omitempty"`
	PopulationGrowthRate *float64 `db:"population_growth_rate" json:"population_growth_rate,omitempty"`
	CompetitorCount1mi   *int     `db:"competitor_count_1mi" json:"competitor_count_1mi,omitempty"`
}

// RecordSet bundles the raw tables supplied by a record source.
// MarketSnapshots is optional; an empty slice means no market data.
type RecordSet struct {
	Tenants             []Tenant             `json:"tenants" validate:"dive"`
	Leases              []Lease              `json:"leases" validate:"required,min=1,dive"`
	Properties          []Property           `json:"properties" validate:"dive"`
	Payments            []Payment            `json:"payments"`
	MaintenanceRequests []MaintenanceRequest `json:"maintenance_requests"`
	MarketSnapshots     []MarketSnapshot     `json:"market_snapshots,omitempty"`
}

// HasMarket reports whether market data was supplied.
func (r RecordSet) HasMarket() bool {
	return len(r.MarketSnapshots) > 0
}
