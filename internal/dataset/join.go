// Package dataset merges the raw record tables into one row per lease.
package dataset

import (
	"fmt"
	"time"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/models"
	"gonum.org/v1/gonum/stat"
)

// JoinOptions controls which leases survive the join.
type JoinOptions struct {
	// ActiveOnly drops leases whose status is not ACTIVE.
	ActiveOnly bool
	// AsOf, when set, ignores payments and maintenance requests dated after
	// it so a historical join sees only what was known at that time.
	AsOf time.Time
}

// Join left-joins tenants, properties, payment aggregates, maintenance
// aggregates and (optionally) market data onto the lease table.
// Every lease produces exactly one row regardless of missing child data.
func Join(records models.RecordSet, opts JoinOptions) (*models.JoinedTable, error) {
	if err := validateKeys(records); err != nil {
		return nil, err
	}

	tenants := make(map[string]*models.Tenant, len(records.Tenants))
	for i := range records.Tenants {
		t := &records.Tenants[i]
		if _, seen := tenants[t.TenantID]; !seen {
			tenants[t.TenantID] = t
		}
	}

	properties := make(map[string]*models.Property, len(records.Properties))
	for i := range records.Properties {
		p := &records.Properties[i]
		if _, seen := properties[p.PropertyID]; !seen {
			properties[p.PropertyID] = p
		}
	}

	var markets map[string]*models.MarketSnapshot
	if records.HasMarket() {
		markets = make(map[string]*models.MarketSnapshot, len(records.MarketSnapshots))
		for i := range records.MarketSnapshots {
			m := &records.MarketSnapshots[i]
			if _, seen := markets[m.ZipCode]; !seen {
				markets[m.ZipCode] = m
			}
		}
	}

	paymentRows, requestRows := records.Payments, records.MaintenanceRequests
	if !opts.AsOf.IsZero() {
		paymentRows, requestRows = asOf(paymentRows, requestRows, opts.AsOf)
	}
	payments := AggregatePayments(paymentRows)
	maintenance := AggregateMaintenance(requestRows)

	table := &models.JoinedTable{
		Rows:      make([]models.JoinedRow, 0, len(records.Leases)),
		HasMarket: records.HasMarket(),
	}
	seen := make(map[string]struct{}, len(records.Leases))

	for _, lease := range records.Leases {
		if _, dup := seen[lease.LeaseID]; dup {
			return nil, &domainerr.SchemaError{
				Table:  "leases",
				Key:    "lease_id",
				Reason: fmt.Sprintf("duplicate lease %q", lease.LeaseID),
			}
		}
		seen[lease.LeaseID] = struct{}{}

		if opts.ActiveOnly && !lease.IsActive() {
			continue
		}

		row := models.JoinedRow{
			Lease:       lease,
			Tenant:      tenants[lease.TenantID],
			Property:    properties[lease.PropertyID],
			Payments:    payments[lease.LeaseID],
			Maintenance: maintenance[lease.PropertyID],
		}
		if markets != nil && row.Property != nil {
			row.Market = markets[row.Property.ZipCode]
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

func asOf(payments []models.Payment, requests []models.MaintenanceRequest, t time.Time) ([]models.Payment, []models.MaintenanceRequest) {
	var p []models.Payment
	for _, row := range payments {
		if !row.PaymentDate.After(t) {
			p = append(p, row)
		}
	}
	var r []models.MaintenanceRequest
	for _, row := range requests {
		if !row.CreatedAt.After(t) {
			r = append(r, row)
		}
	}
	return p, r
}

// AggregatePayments groups payments by lease.
func AggregatePayments(payments []models.Payment) map[string]models.PaymentStats {
	type acc struct {
		amounts  []float64
		daysLate []float64
		stats    models.PaymentStats
	}
	groups := make(map[string]*acc)

	for _, p := range payments {
		a, ok := groups[p.LeaseID]
		if !ok {
			a = &acc{}
			groups[p.LeaseID] = a
		}
		amount := p.Amount.InexactFloat64()
		a.amounts = append(a.amounts, amount)
		a.daysLate = append(a.daysLate, float64(p.DaysLate))
		a.stats.TotalPaid += amount
		a.stats.TotalDaysLate += float64(p.DaysLate)
		if a.stats.LastPaymentDate == nil || p.PaymentDate.After(*a.stats.LastPaymentDate) {
			d := p.PaymentDate
			a.stats.LastPaymentDate = &d
		}
	}

	out := make(map[string]models.PaymentStats, len(groups))
	for leaseID, a := range groups {
		s := a.stats
		s.Count = len(a.amounts)

		avg := stat.Mean(a.amounts, nil)
		s.AvgAmount = &avg
		// Sample standard deviation is undefined for a single payment.
		if s.Count > 1 {
			std := stat.StdDev(a.amounts, nil)
			s.AmountStd = &std
		}

		avgLate := stat.Mean(a.daysLate, nil)
		s.AvgDaysLate = &avgLate
		maxLate := a.daysLate[0]
		for _, d := range a.daysLate[1:] {
			if d > maxLate {
				maxLate = d
			}
		}
		s.MaxDaysLate = &maxLate

		out[leaseID] = s
	}
	return out
}

// AggregateMaintenance groups maintenance requests by property.
func AggregateMaintenance(requests []models.MaintenanceRequest) map[string]models.MaintenanceStats {
	type acc struct {
		resolution []float64
		stats      models.MaintenanceStats
	}
	groups := make(map[string]*acc)

	for _, r := range requests {
		a, ok := groups[r.PropertyID]
		if !ok {
			a = &acc{}
			groups[r.PropertyID] = a
		}
		a.stats.Count++
		if r.Priority == models.PriorityHigh {
			a.stats.HighPriorityCount++
		}
		if r.ResolutionDays != nil {
			a.resolution = append(a.resolution, *r.ResolutionDays)
		}
	}

	out := make(map[string]models.MaintenanceStats, len(groups))
	for propertyID, a := range groups {
		s := a.stats
		if len(a.resolution) > 0 {
			avg := stat.Mean(a.resolution, nil)
			s.AvgResolutionDays = &avg
		}
		out[propertyID] = s
	}
	return out
}

// validateKeys rejects non-empty tables whose join key is never populated.
func validateKeys(records models.RecordSet) error {
	checks := []struct {
		table string
		key   string
		rows  int
		has   func(i int) bool
	}{
		{"leases", "lease_id", len(records.Leases), func(i int) bool { return records.Leases[i].LeaseID != "" }},
		{"leases", "tenant_id", len(records.Leases), func(i int) bool { return records.Leases[i].TenantID != "" }},
		{"leases", "property_id", len(records.Leases), func(i int) bool { return records.Leases[i].PropertyID != "" }},
		{"tenants", "tenant_id", len(records.Tenants), func(i int) bool { return records.Tenants[i].TenantID != "" }},
		{"properties", "property_id", len(records.Properties), func(i int) bool { return records.Properties[i].PropertyID != "" }},
		{"payments", "lease_id", len(records.Payments), func(i int) bool { return records.Payments[i].LeaseID != "" }},
		{"maintenance_requests", "property_id", len(records.MaintenanceRequests), func(i int) bool {
			return records.MaintenanceRequests[i].PropertyID != ""
		}},
		{"market_snapshots", "zip_code", len(records.MarketSnapshots), func(i int) bool {
			return records.MarketSnapshots[i].ZipCode != ""
		}},
	}

	for _, c := range checks {
		if c.rows == 0 {
			continue
		}
		populated := false
		for i := 0; i < c.rows; i++ {
			if c.has(i) {
				populated = true
				break
			}
		}
		if !populated {
			return &domainerr.SchemaError{Table: c.table, Key: c.key, Reason: "join key absent from every row"}
		}
	}

	// Individual leases without an id cannot be addressed by callers.
	for i, lease := range records.Leases {
		if lease.LeaseID == "" {
			return &domainerr.SchemaError{Table: "leases", Key: "lease_id", Reason: fmt.Sprintf("row %d has no lease id", i)}
		}
	}
	return nil
}
