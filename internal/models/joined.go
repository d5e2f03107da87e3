package models

import "time"

// PaymentStats aggregates the payment history of one lease.
// Count and TotalDaysLate default to zero; the remaining stats stay nil
// when there is nothing to aggregate.
type PaymentStats struct {
	Count int `json:"payment_count"`
	// TotalPaid and AvgAmount are reported to callers; no feature reads them.
	TotalPaid       float64    `json:"total_paid"`
	AvgAmount       *float64   `json:"avg_payment,omitempty"`
	AmountStd       *float64   `json:"payment_std,omitempty"`
	AvgDaysLate     *float64   `json:"avg_days_late,omitempty"`
	MaxDaysLate     *float64   `json:"max_days_late,omitempty"`
	TotalDaysLate   float64    `json:"total_days_late"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
}

// MaintenanceStats aggregates the maintenance history of one property.
type MaintenanceStats struct {
	Count             int      `json:"maintenance_count"`
	HighPriorityCount int      `json:"high_priority_count"`
	// Reported to callers; no feature reads it.
	AvgResolutionDays *float64 `json:"avg_resolution_days,omitempty"`
}

// JoinedRow is the unit of prediction: one lease with everything known about it.
// Tenant, Property and Market are nil when the corresponding record is missing.
type JoinedRow struct {
	Lease       Lease            `json:"lease"`
	Tenant      *Tenant          `json:"tenant,omitempty"`
	Property    *Property        `json:"property,omitempty"`
	Payments    PaymentStats     `json:"payments"`
	Maintenance MaintenanceStats `json:"maintenance"`
	Market      *MarketSnapshot  `json:"market,omitempty"`
}

// Label returns the training label and whether the lease has one.
func (r JoinedRow) Label() (int, bool) {
	if r.Lease.Churned == nil {
		return 0, false
	}
	if *r.Lease.Churned {
		return 1, true
	}
	return 0, true
}

// JoinedTable is the output of the join layer.
type JoinedTable struct {
	Rows []JoinedRow `json:"rows"`
	// HasMarket is true when market data took part in the join.
	HasMarket bool `json:"has_market"`
}
